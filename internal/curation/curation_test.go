package curation

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"feedback-service/internal/models"
	"feedback-service/internal/repository"

	"go.uber.org/zap"
)

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to models.FeedbackStatus }{
		{models.StatusPending, models.StatusApproved},
		{models.StatusPending, models.StatusRejected},
		{models.StatusApproved, models.StatusUsed},
		{models.StatusApproved, models.StatusPending},
		{models.StatusRejected, models.StatusPending},
		{models.StatusUsed, models.StatusPending},
	}
	for _, tc := range legal {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be legal", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to models.FeedbackStatus }{
		{models.StatusPending, models.StatusUsed},
		{models.StatusRejected, models.StatusApproved},
		{models.StatusRejected, models.StatusUsed},
		{models.StatusUsed, models.StatusApproved},
		{models.StatusUsed, models.StatusRejected},
		{models.StatusApproved, models.StatusRejected},
		{models.StatusPending, models.StatusPending},
	}
	for _, tc := range illegal {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be illegal", tc.from, tc.to)
		}
	}
}

func newTestCurator(t *testing.T) (*Curator, *repository.FeedbackRepository) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "feedbacks.db")
	repo, err := repository.NewFeedbackRepository(dbPath, repository.Options{}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return NewCurator(repo, zap.NewNop()), repo
}

func appendPending(t *testing.T, repo *repository.FeedbackRepository) int64 {
	t.Helper()
	v := true
	id, err := repo.Append(&models.Feedback{
		ImageHash:           "hash1",
		PredictedPlantID:    "aloe_vera",
		PredictedConfidence: 90,
		FeedbackType:        models.FeedbackConfirmation,
		IsCorrect:           &v,
		Timestamp:           time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	return id
}

func TestSetStatusApprove(t *testing.T) {
	curator, repo := newTestCurator(t)
	id := appendPending(t, repo)

	fb, err := curator.SetStatus(id, "approved", "good sample", "curator1")
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if fb.Status != models.StatusApproved {
		t.Fatalf("expected approved, got %s", fb.Status)
	}
	if fb.CuratedAt == nil || fb.CuratedBy != "curator1" {
		t.Fatalf("curation trail missing: %+v", fb)
	}
}

func TestSetStatusRejectsIllegalTransition(t *testing.T) {
	curator, repo := newTestCurator(t)
	id := appendPending(t, repo)

	_, err := curator.SetStatus(id, "used", "", "curator1")
	var tErr *TransitionError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}

	// Store unchanged after the rejected request.
	got, err := repo.Get(id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Fatalf("illegal transition mutated the record: %s", got.Status)
	}
}

func TestSetStatusRejectsUnknownStatus(t *testing.T) {
	curator, repo := newTestCurator(t)
	id := appendPending(t, repo)

	_, err := curator.SetStatus(id, "archived", "", "")
	var vErr *models.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for unknown status, got %v", err)
	}
}

func TestSetStatusNotFound(t *testing.T) {
	curator, _ := newTestCurator(t)
	_, err := curator.SetStatus(424242, "approved", "", "")
	if !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestUsedResetToPending(t *testing.T) {
	curator, repo := newTestCurator(t)
	id := appendPending(t, repo)

	if _, err := curator.SetStatus(id, "approved", "", "curator1"); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if _, err := curator.SetStatus(id, "used", "", "trainer"); err != nil {
		t.Fatalf("use failed: %v", err)
	}

	// Re-curation of a consumed record is explicit and allowed.
	fb, err := curator.SetStatus(id, "pending", "re-reviewing label", "curator2")
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if fb.Status != models.StatusPending {
		t.Fatalf("expected pending after reset, got %s", fb.Status)
	}
}
