// Package curation governs the review lifecycle of feedback records:
// which status transitions are legal and who moved a record when.
// Eligibility for training (has an image, has a usable label) is not
// checked here; the dataset assembler enforces that.
package curation

import (
	"errors"
	"fmt"

	"feedback-service/internal/models"
	"feedback-service/internal/repository"

	"go.uber.org/zap"
)

// TransitionError reports an illegal status transition request.
type TransitionError struct {
	From models.FeedbackStatus
	To   models.FeedbackStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// transitions maps each status to the statuses it may move to.
// Resetting to pending reopens curation; from used it is an audited
// re-curation event, logged by the curator below.
var transitions = map[models.FeedbackStatus][]models.FeedbackStatus{
	models.StatusPending:  {models.StatusApproved, models.StatusRejected},
	models.StatusApproved: {models.StatusUsed, models.StatusPending},
	models.StatusRejected: {models.StatusPending},
	models.StatusUsed:     {models.StatusPending},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to models.FeedbackStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Curator applies status transitions against the repository.
type Curator struct {
	repo   *repository.FeedbackRepository
	logger *zap.Logger
}

// NewCurator creates a curator over the given repository.
func NewCurator(repo *repository.FeedbackRepository, logger *zap.Logger) *Curator {
	return &Curator{repo: repo, logger: logger}
}

// SetStatus moves a feedback record to a new status, recording the
// curator identity and notes. The raw status string is validated here;
// unknown values are rejected before touching the store.
func (c *Curator) SetStatus(id int64, rawStatus, notes, curatedBy string) (*models.Feedback, error) {
	status, err := models.ParseFeedbackStatus(rawStatus)
	if err != nil {
		return nil, err
	}

	fb, err := c.repo.Get(id)
	if err != nil {
		return nil, err
	}

	if !CanTransition(fb.Status, status) {
		return nil, &TransitionError{From: fb.Status, To: status}
	}

	if fb.Status == models.StatusUsed && status == models.StatusPending {
		// Re-curating a record that a training run already consumed.
		c.logger.Warn("Used feedback reset to pending",
			zap.Int64("id", id),
			zap.String("curated_by", curatedBy))
	}

	if err := c.repo.UpdateStatus(id, status, notes, curatedBy); err != nil {
		return nil, err
	}

	c.logger.Info("Feedback curated",
		zap.Int64("id", id),
		zap.String("from", string(fb.Status)),
		zap.String("to", string(status)),
		zap.String("curated_by", curatedBy))

	return c.repo.Get(id)
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
