package service

import (
	"fmt"

	"feedback-service/internal/imagestore"
	"feedback-service/internal/models"
	"feedback-service/internal/repository"

	"go.uber.org/zap"
)

// FeedbackService handles feedback ingestion and aggregation.
type FeedbackService struct {
	repo   *repository.FeedbackRepository
	images *imagestore.Store
	logger *zap.Logger
}

// NewFeedbackService creates a new feedback service.
func NewFeedbackService(
	repo *repository.FeedbackRepository,
	images *imagestore.Store,
	logger *zap.Logger,
) *FeedbackService {
	return &FeedbackService{
		repo:   repo,
		images: images,
		logger: logger,
	}
}

// Submit validates a submission and persists it. When image bytes are
// supplied the hash is derived from them and the image is stored under
// its content address; otherwise the caller-supplied hash is required.
// Validation failures leave the store untouched.
func (s *FeedbackService) Submit(sub models.FeedbackSubmission, imageBytes []byte) (*models.Feedback, error) {
	if len(imageBytes) > 0 {
		sub.ImageHash = imagestore.Hash(imageBytes)
	}

	fb, err := models.NewFeedback(sub)
	if err != nil {
		return nil, err
	}

	if len(imageBytes) > 0 {
		path, err := s.images.Save(imageBytes, fb.ImageHash)
		if err != nil {
			return nil, fmt.Errorf("failed to store feedback image: %w", err)
		}
		fb.ImagePath = path
	}

	id, err := s.repo.Append(fb)
	if err != nil {
		return nil, fmt.Errorf("failed to save feedback: %w", err)
	}

	s.logger.Info("Feedback submitted",
		zap.Int64("id", id),
		zap.String("feedback_type", string(fb.FeedbackType)),
		zap.String("predicted_plant_id", fb.PredictedPlantID))

	return fb, nil
}

// Get retrieves one feedback record.
func (s *FeedbackService) Get(id int64) (*models.Feedback, error) {
	return s.repo.Get(id)
}

// List returns the filtered page and the total matching count.
func (s *FeedbackService) List(q models.FeedbackQuery) ([]*models.Feedback, int, error) {
	q.Normalize()
	feedbacks, err := s.repo.Query(q)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.Count(q)
	if err != nil {
		return nil, 0, err
	}
	return feedbacks, total, nil
}

// lowConfidenceThreshold marks predictions worth reviewing first.
const lowConfidenceThreshold = 70.0

// Stats aggregates metrics over the full store. Empty divisors yield
// sentinels (nil average, zero rate), never an error.
func (s *FeedbackService) Stats() (*models.FeedbackStats, error) {
	feedbacks, err := s.repo.All()
	if err != nil {
		return nil, err
	}

	stats := &models.FeedbackStats{
		Total:           len(feedbacks),
		AccuracyByPlant: make(map[string]float64),
	}

	var ratingSum, ratingCount int
	var corrections int
	correctByPlant := make(map[string][2]int) // [correct, total] per plant

	for _, fb := range feedbacks {
		switch fb.Status {
		case models.StatusPending:
			stats.PendingCount++
		case models.StatusApproved:
			stats.ApprovedCount++
		case models.StatusRejected:
			stats.RejectedCount++
		case models.StatusUsed:
			stats.UsedCount++
		}

		if fb.Rating != nil {
			ratingSum += *fb.Rating
			ratingCount++
		}
		if fb.FeedbackType == models.FeedbackCorrection {
			corrections++
		}
		if fb.IsCorrect != nil && fb.PredictedPlantID != "" {
			counts := correctByPlant[fb.PredictedPlantID]
			if *fb.IsCorrect {
				counts[0]++
			}
			counts[1]++
			correctByPlant[fb.PredictedPlantID] = counts
		}
		if fb.PredictedConfidence < lowConfidenceThreshold {
			stats.LowConfidenceCount++
		}
	}

	if ratingCount > 0 {
		avg := float64(ratingSum) / float64(ratingCount)
		stats.AverageRating = &avg
	}
	if stats.Total > 0 {
		stats.CorrectionRate = float64(corrections) / float64(stats.Total) * 100
	}
	for plantID, counts := range correctByPlant {
		stats.AccuracyByPlant[plantID] = float64(counts[0]) / float64(counts[1]) * 100
	}

	return stats, nil
}
