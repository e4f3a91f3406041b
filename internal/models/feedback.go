package models

import (
	"fmt"
	"time"
)

// FeedbackType classifies what kind of judgment a user submitted about
// a prediction.
type FeedbackType string

const (
	FeedbackRating       FeedbackType = "rating"       // 1-5 star rating
	FeedbackCorrection   FeedbackType = "correction"   // prediction was wrong, correct class supplied
	FeedbackComment      FeedbackType = "comment"      // free-text comment
	FeedbackConfirmation FeedbackType = "confirmation" // prediction confirmed correct
)

// ParseFeedbackType validates a raw feedback type string.
func ParseFeedbackType(s string) (FeedbackType, error) {
	switch FeedbackType(s) {
	case FeedbackRating, FeedbackCorrection, FeedbackComment, FeedbackConfirmation:
		return FeedbackType(s), nil
	}
	return "", &ValidationError{Field: "feedback_type", Reason: fmt.Sprintf("unknown feedback type %q", s)}
}

// FeedbackStatus is the curation lifecycle state of a feedback record.
type FeedbackStatus string

const (
	StatusPending  FeedbackStatus = "pending"  // awaiting curation
	StatusApproved FeedbackStatus = "approved" // approved for training
	StatusRejected FeedbackStatus = "rejected" // spam, inconsistent, unusable
	StatusUsed     FeedbackStatus = "used"     // consumed by a training run
)

// ParseFeedbackStatus validates a raw status string.
func ParseFeedbackStatus(s string) (FeedbackStatus, error) {
	switch FeedbackStatus(s) {
	case StatusPending, StatusApproved, StatusRejected, StatusUsed:
		return FeedbackStatus(s), nil
	}
	return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
}

// Candidate is one ranked (plant, confidence) pair from an identification.
// Confidence is a percentage in [0,100].
type Candidate struct {
	PlantID    string  `json:"plant_id"`
	Confidence float64 `json:"confidence"`
}

// Feedback is a single user judgment about one prior prediction.
// All fields except the curation fields are write-once at creation.
type Feedback struct {
	ID int64 `json:"id" db:"id"`

	// Original prediction this feedback refers to
	ImageHash           string      `json:"image_hash" db:"image_hash"`
	ImagePath           string      `json:"image_path,omitempty" db:"image_path"`
	PredictedPlantID    string      `json:"predicted_plant_id" db:"predicted_plant_id"`
	PredictedConfidence float64     `json:"predicted_confidence" db:"predicted_confidence"`
	Alternatives        []Candidate `json:"alternatives,omitempty" db:"-"`

	// User judgment
	FeedbackType   FeedbackType `json:"feedback_type" db:"feedback_type"`
	Rating         *int         `json:"rating,omitempty" db:"rating"`
	CorrectPlantID string       `json:"correct_plant_id,omitempty" db:"correct_plant_id"`
	Comment        string       `json:"comment,omitempty" db:"comment"`
	IsCorrect      *bool        `json:"is_correct,omitempty" db:"is_correct"`

	// Lifecycle
	Status    FeedbackStatus `json:"status" db:"status"`
	Timestamp time.Time      `json:"timestamp" db:"created_at"`

	// Curation trail, set only on status changes
	CuratorNotes string     `json:"curator_notes,omitempty" db:"curator_notes"`
	CuratedBy    string     `json:"curated_by,omitempty" db:"curated_by"`
	CuratedAt    *time.Time `json:"curated_at,omitempty" db:"curated_at"`
}

// FeedbackSubmission is the ingestion payload for a new feedback record.
// ImageHash may be omitted when raw image bytes accompany the submission.
type FeedbackSubmission struct {
	ImageHash           string      `json:"image_hash"`
	PredictedPlantID    string      `json:"predicted_plant_id"`
	PredictedConfidence *float64    `json:"predicted_confidence"`
	Alternatives        []Candidate `json:"alternatives,omitempty"`
	FeedbackType        string      `json:"feedback_type"`
	Rating              *int        `json:"rating,omitempty"`
	CorrectPlantID      string      `json:"correct_plant_id,omitempty"`
	Comment             string      `json:"comment,omitempty"`
	ImageBase64         string      `json:"image_base64,omitempty"`
}

// NewFeedback validates a submission and builds the record stored for it.
// Required fields are never defaulted; IsCorrect is derived from the
// feedback type at write time.
func NewFeedback(sub FeedbackSubmission) (*Feedback, error) {
	if sub.ImageHash == "" {
		return nil, &ValidationError{Field: "image_hash", Reason: "image hash or image bytes required"}
	}
	if sub.PredictedPlantID == "" {
		return nil, &ValidationError{Field: "predicted_plant_id", Reason: "required"}
	}
	if sub.PredictedConfidence == nil {
		return nil, &ValidationError{Field: "predicted_confidence", Reason: "required"}
	}
	if *sub.PredictedConfidence < 0 || *sub.PredictedConfidence > 100 {
		return nil, &ValidationError{Field: "predicted_confidence", Reason: "must be in [0,100]"}
	}
	if sub.FeedbackType == "" {
		return nil, &ValidationError{Field: "feedback_type", Reason: "required"}
	}
	ft, err := ParseFeedbackType(sub.FeedbackType)
	if err != nil {
		return nil, err
	}
	if sub.Rating != nil && (*sub.Rating < 1 || *sub.Rating > 5) {
		return nil, &ValidationError{Field: "rating", Reason: "must be in [1,5]"}
	}

	fb := &Feedback{
		ImageHash:           sub.ImageHash,
		PredictedPlantID:    sub.PredictedPlantID,
		PredictedConfidence: *sub.PredictedConfidence,
		Alternatives:        sub.Alternatives,
		FeedbackType:        ft,
		Rating:              sub.Rating,
		CorrectPlantID:      sub.CorrectPlantID,
		Comment:             sub.Comment,
		Status:              StatusPending,
		Timestamp:           time.Now().UTC(),
	}

	switch ft {
	case FeedbackCorrection:
		if sub.CorrectPlantID == "" {
			return nil, &ValidationError{Field: "correct_plant_id", Reason: "required for corrections"}
		}
		v := false
		fb.IsCorrect = &v
	case FeedbackConfirmation:
		v := true
		fb.IsCorrect = &v
	}

	return fb, nil
}

// FeedbackQuery filters and paginates stored feedback records.
type FeedbackQuery struct {
	Status       *FeedbackStatus `form:"-"`
	PlantID      string          `form:"plant_id"`
	MinRating    *int            `form:"min_rating"`
	MaxRating    *int            `form:"max_rating"`
	FeedbackType *FeedbackType   `form:"-"`
	StartDate    *time.Time      `form:"-"`
	EndDate      *time.Time      `form:"-"`
	Limit        int             `form:"limit"`
	Offset       int             `form:"offset"`
}

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Normalize applies pagination bounds: limit defaults to 100 and is
// clamped to [1,1000], offset to >= 0.
func (q *FeedbackQuery) Normalize() {
	if q.Limit <= 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.Limit > MaxQueryLimit {
		q.Limit = MaxQueryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
}

// FeedbackStats aggregates metrics over the stored records.
type FeedbackStats struct {
	Total         int `json:"total_feedbacks"`
	PendingCount  int `json:"pending_count"`
	ApprovedCount int `json:"approved_count"`
	RejectedCount int `json:"rejected_count"`
	UsedCount     int `json:"used_count"`

	AverageRating      *float64           `json:"average_rating,omitempty"`
	CorrectionRate     float64            `json:"correction_rate"`
	AccuracyByPlant    map[string]float64 `json:"accuracy_by_plant"`
	LowConfidenceCount int                `json:"low_confidence_feedbacks"`
}

// TrainingDatasetEntry is one weighted training example derived from a
// feedback record. Regenerated on demand, never persisted.
type TrainingDatasetEntry struct {
	ImagePath  string  `json:"image_path"`
	PlantID    string  `json:"plant_id"`
	Source     string  `json:"source"`
	Weight     float64 `json:"weight"`
	FeedbackID int64   `json:"feedback_id"`
	Verified   bool    `json:"verified"`
}

// Job tracks an async dataset export.
type Job struct {
	ID             string     `json:"id" db:"id"`
	Status         string     `json:"status" db:"status"` // "pending", "processing", "completed", "failed"
	TotalCount     int        `json:"total_count" db:"total_count"`
	ProcessedCount int        `json:"processed_count" db:"processed_count"`
	FailedCount    int        `json:"failed_count" db:"failed_count"`
	OutputPath     string     `json:"output_path,omitempty" db:"output_path"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMessage   string     `json:"error_message,omitempty" db:"error_message"`
}
