package service

import (
	"errors"
	"path/filepath"
	"testing"

	"feedback-service/internal/imagestore"
	"feedback-service/internal/models"
	"feedback-service/internal/repository"

	"go.uber.org/zap"
)

func newTestService(t *testing.T) *FeedbackService {
	t.Helper()
	dir := t.TempDir()
	repo, err := repository.NewFeedbackRepository(filepath.Join(dir, "feedbacks.db"), repository.Options{}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	images, err := imagestore.NewStore(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create image store: %v", err)
	}
	return NewFeedbackService(repo, images, zap.NewNop())
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestSubmitRejectsInvalidAndLeavesStoreUnchanged(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Submit(models.FeedbackSubmission{
		ImageHash:           "abc",
		PredictedPlantID:    "aloe_vera",
		PredictedConfidence: floatPtr(92.3),
		// feedback_type missing
	}, nil)
	var vErr *models.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	_, total, err := svc.List(models.FeedbackQuery{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 0 {
		t.Fatalf("rejected submission was stored")
	}
}

func TestSubmitConfirmation(t *testing.T) {
	svc := newTestService(t)

	fb, err := svc.Submit(models.FeedbackSubmission{
		ImageHash:           "abc",
		PredictedPlantID:    "aloe_vera",
		PredictedConfidence: floatPtr(92.3),
		FeedbackType:        "confirmation",
	}, nil)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if fb.Status != models.StatusPending {
		t.Fatalf("expected pending, got %s", fb.Status)
	}
	if fb.IsCorrect == nil || !*fb.IsCorrect {
		t.Fatalf("confirmation must store is_correct=true")
	}
	if fb.ID == 0 {
		t.Fatalf("expected assigned id")
	}
}

func TestSubmitWithImageBytes(t *testing.T) {
	svc := newTestService(t)

	image := []byte{0xFF, 0xD8, 0xFF, 0xE0, 9, 9, 9}
	fb, err := svc.Submit(models.FeedbackSubmission{
		PredictedPlantID:    "neem",
		PredictedConfidence: floatPtr(70),
		FeedbackType:        "correction",
		CorrectPlantID:      "moringa",
	}, image)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if fb.ImageHash != imagestore.Hash(image) {
		t.Fatalf("hash not derived from image bytes")
	}
	if fb.ImagePath == "" {
		t.Fatalf("image path not recorded")
	}
	if fb.IsCorrect == nil || *fb.IsCorrect {
		t.Fatalf("correction must store is_correct=false")
	}
}

func TestSubmitWithoutHashOrImage(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Submit(models.FeedbackSubmission{
		PredictedPlantID:    "neem",
		PredictedConfidence: floatPtr(70),
		FeedbackType:        "comment",
		Comment:             "nice app",
	}, nil)
	var vErr *models.ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "image_hash" {
		t.Fatalf("expected image_hash validation error, got %v", err)
	}
}

func TestStatsEmptyStore(t *testing.T) {
	svc := newTestService(t)

	stats, err := svc.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 0 {
		t.Fatalf("expected empty store")
	}
	if stats.AverageRating != nil {
		t.Fatalf("average rating must be undefined with no ratings")
	}
	if stats.CorrectionRate != 0 {
		t.Fatalf("correction rate must be 0 on an empty store")
	}
}

func TestStatsAggregation(t *testing.T) {
	svc := newTestService(t)

	submissions := []models.FeedbackSubmission{
		{ImageHash: "h1", PredictedPlantID: "aloe_vera", PredictedConfidence: floatPtr(92), FeedbackType: "confirmation"},
		{ImageHash: "h2", PredictedPlantID: "aloe_vera", PredictedConfidence: floatPtr(60), FeedbackType: "correction", CorrectPlantID: "neem"},
		{ImageHash: "h3", PredictedPlantID: "baobab", PredictedConfidence: floatPtr(88), FeedbackType: "rating", Rating: intPtr(5)},
		{ImageHash: "h4", PredictedPlantID: "baobab", PredictedConfidence: floatPtr(40), FeedbackType: "rating", Rating: intPtr(3)},
	}
	for _, sub := range submissions {
		if _, err := svc.Submit(sub, nil); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	stats, err := svc.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 4 || stats.PendingCount != 4 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.AverageRating == nil || *stats.AverageRating != 4 {
		t.Fatalf("expected average rating 4, got %v", stats.AverageRating)
	}
	if stats.CorrectionRate != 25 {
		t.Fatalf("expected correction rate 25, got %f", stats.CorrectionRate)
	}
	if stats.LowConfidenceCount != 2 {
		t.Fatalf("expected 2 low-confidence records, got %d", stats.LowConfidenceCount)
	}

	// Only aloe_vera has is_correct values: one true, one false.
	acc, ok := stats.AccuracyByPlant["aloe_vera"]
	if !ok {
		t.Fatalf("missing accuracy for aloe_vera")
	}
	if acc != 50 {
		t.Fatalf("expected 50%% accuracy, got %f", acc)
	}
	if _, ok := stats.AccuracyByPlant["baobab"]; ok {
		t.Fatalf("plants without is_correct must not appear in accuracy map")
	}
	for plant, v := range stats.AccuracyByPlant {
		if v < 0 || v > 100 {
			t.Fatalf("accuracy for %s out of range: %f", plant, v)
		}
	}
}
