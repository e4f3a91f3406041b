package models

import (
	"errors"
	"testing"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func validSubmission() FeedbackSubmission {
	return FeedbackSubmission{
		ImageHash:           "abc123",
		PredictedPlantID:    "aloe_vera",
		PredictedConfidence: floatPtr(92.3),
		FeedbackType:        "confirmation",
	}
}

func TestNewFeedbackDefaults(t *testing.T) {
	fb, err := NewFeedback(validSubmission())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fb.Status != StatusPending {
		t.Fatalf("new feedback must start pending, got %s", fb.Status)
	}
	if fb.CuratedAt != nil {
		t.Fatalf("curated_at must be unset on creation")
	}
	if fb.Timestamp.IsZero() {
		t.Fatalf("timestamp must be set on creation")
	}
}

func TestNewFeedbackDerivesIsCorrect(t *testing.T) {
	sub := validSubmission()
	fb, err := NewFeedback(sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fb.IsCorrect == nil || !*fb.IsCorrect {
		t.Fatalf("confirmation must derive is_correct=true")
	}

	sub.FeedbackType = "correction"
	sub.CorrectPlantID = "neem"
	fb, err = NewFeedback(sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fb.IsCorrect == nil || *fb.IsCorrect {
		t.Fatalf("correction must derive is_correct=false")
	}

	sub.FeedbackType = "comment"
	sub.CorrectPlantID = ""
	fb, err = NewFeedback(sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fb.IsCorrect != nil {
		t.Fatalf("comment must leave is_correct unset")
	}
}

func TestNewFeedbackValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*FeedbackSubmission)
		field  string
	}{
		{"missing image hash", func(s *FeedbackSubmission) { s.ImageHash = "" }, "image_hash"},
		{"missing plant id", func(s *FeedbackSubmission) { s.PredictedPlantID = "" }, "predicted_plant_id"},
		{"missing confidence", func(s *FeedbackSubmission) { s.PredictedConfidence = nil }, "predicted_confidence"},
		{"confidence too high", func(s *FeedbackSubmission) { s.PredictedConfidence = floatPtr(101) }, "predicted_confidence"},
		{"confidence negative", func(s *FeedbackSubmission) { s.PredictedConfidence = floatPtr(-1) }, "predicted_confidence"},
		{"missing type", func(s *FeedbackSubmission) { s.FeedbackType = "" }, "feedback_type"},
		{"unknown type", func(s *FeedbackSubmission) { s.FeedbackType = "praise" }, "feedback_type"},
		{"rating too low", func(s *FeedbackSubmission) { s.Rating = intPtr(0) }, "rating"},
		{"rating too high", func(s *FeedbackSubmission) { s.Rating = intPtr(6) }, "rating"},
		{"correction without label", func(s *FeedbackSubmission) { s.FeedbackType = "correction" }, "correct_plant_id"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := validSubmission()
			tc.mutate(&sub)
			_, err := NewFeedback(sub)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if vErr.Field != tc.field {
				t.Fatalf("expected error on %s, got %s", tc.field, vErr.Field)
			}
		})
	}
}

func TestParseFeedbackStatus(t *testing.T) {
	for _, s := range []string{"pending", "approved", "rejected", "used"} {
		if _, err := ParseFeedbackStatus(s); err != nil {
			t.Fatalf("valid status %q rejected: %v", s, err)
		}
	}
	if _, err := ParseFeedbackStatus("archived"); err == nil {
		t.Fatalf("unknown status accepted")
	}
	if _, err := ParseFeedbackStatus(""); err == nil {
		t.Fatalf("empty status accepted")
	}
}

func TestQueryNormalize(t *testing.T) {
	q := FeedbackQuery{}
	q.Normalize()
	if q.Limit != DefaultQueryLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultQueryLimit, q.Limit)
	}

	q = FeedbackQuery{Limit: 5000, Offset: -3}
	q.Normalize()
	if q.Limit != MaxQueryLimit {
		t.Fatalf("expected limit clamped to %d, got %d", MaxQueryLimit, q.Limit)
	}
	if q.Offset != 0 {
		t.Fatalf("expected offset clamped to 0, got %d", q.Offset)
	}
}
