// Package dataset turns curated feedback into weighted training
// examples. Corrections carry the curator-verified label at a boosted
// weight; confirmations reinforce the predicted label at weight 1.
package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"feedback-service/internal/imagestore"
	"feedback-service/internal/models"
	"feedback-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultCorrectionWeight is the training weight given to corrected
// labels relative to confirmations.
const DefaultCorrectionWeight = 2.0

// Options filter and weight the assembled dataset.
type Options struct {
	MinConfidence    float64
	OnlyApproved     bool
	CorrectionWeight float64
}

func (o *Options) normalize() {
	if o.CorrectionWeight <= 0 {
		o.CorrectionWeight = DefaultCorrectionWeight
	}
}

// Assembler builds training dataset entries from stored feedback.
type Assembler struct {
	repo      *repository.FeedbackRepository
	images    *imagestore.Store
	batchSize int
	logger    *zap.Logger
}

// NewAssembler creates an assembler. batchSize bounds how many records
// are materialized at once while streaming.
func NewAssembler(
	repo *repository.FeedbackRepository,
	images *imagestore.Store,
	batchSize int,
	logger *zap.Logger,
) *Assembler {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Assembler{
		repo:      repo,
		images:    images,
		batchSize: batchSize,
		logger:    logger,
	}
}

// entryFor converts one record, or returns false when the record has no
// usable ground truth.
func (a *Assembler) entryFor(fb *models.Feedback, opts Options) (models.TrainingDatasetEntry, bool) {
	var plantID string
	var weight float64

	switch {
	case fb.FeedbackType == models.FeedbackCorrection:
		plantID = fb.CorrectPlantID
		weight = opts.CorrectionWeight
	case fb.IsCorrect != nil && *fb.IsCorrect:
		plantID = fb.PredictedPlantID
		weight = 1.0
	default:
		return models.TrainingDatasetEntry{}, false
	}
	if plantID == "" {
		return models.TrainingDatasetEntry{}, false
	}

	return models.TrainingDatasetEntry{
		ImagePath:  a.images.Resolve(fb.ImagePath),
		PlantID:    plantID,
		Source:     "feedback",
		Weight:     weight,
		FeedbackID: fb.ID,
		Verified:   true,
	}, true
}

func (a *Assembler) keep(fb *models.Feedback, opts Options) bool {
	if opts.OnlyApproved && fb.Status != models.StatusApproved {
		return false
	}
	if fb.PredictedConfidence < opts.MinConfidence {
		return false
	}
	return fb.ImagePath != ""
}

// Stream walks the store page by page and hands bounded batches of
// entries to fn, so memory stays independent of corpus size. Iteration
// stops on the first error from fn.
func (a *Assembler) Stream(opts Options, fn func(batch []models.TrainingDatasetEntry) error) error {
	opts.normalize()

	batch := make([]models.TrainingDatasetEntry, 0, a.batchSize)
	offset := 0
	for {
		q := models.FeedbackQuery{Limit: a.batchSize, Offset: offset}
		if opts.OnlyApproved {
			status := models.StatusApproved
			q.Status = &status
		}
		page, err := a.repo.Query(q)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		offset += len(page)

		for _, fb := range page {
			if !a.keep(fb, opts) {
				continue
			}
			entry, ok := a.entryFor(fb, opts)
			if !ok {
				continue
			}
			batch = append(batch, entry)
			if len(batch) == a.batchSize {
				if err := fn(batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		}
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// Prepare materializes the full entry list in filter-preserved order.
func (a *Assembler) Prepare(opts Options) ([]models.TrainingDatasetEntry, error) {
	entries := []models.TrainingDatasetEntry{}
	err := a.Stream(opts, func(batch []models.TrainingDatasetEntry) error {
		entries = append(entries, batch...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("Training dataset prepared", zap.Int("entries", len(entries)))
	return entries, nil
}

// MarkUsed flips the source records of consumed entries to the used
// status. Called by the training routine once a run completes.
func (a *Assembler) MarkUsed(entries []models.TrainingDatasetEntry) error {
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		if e.FeedbackID != 0 {
			ids = append(ids, e.FeedbackID)
		}
	}
	if err := a.repo.MarkUsed(ids); err != nil {
		return err
	}
	a.logger.Info("Feedbacks marked as used", zap.Int("count", len(ids)))
	return nil
}

// ExportOptions configure an async export run.
type ExportOptions struct {
	Options
	MarkUsed bool
}

// Export starts an async job that streams the assembled dataset to a
// JSONL manifest under exportDir and optionally marks the consumed
// records used. Returns the job id immediately.
func (a *Assembler) Export(exportDir string, opts ExportOptions) (string, error) {
	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	jobID := uuid.New().String()
	outPath := filepath.Join(exportDir, fmt.Sprintf("dataset-%s.jsonl", jobID))

	job := &models.Job{
		ID:         jobID,
		Status:     "pending",
		OutputPath: outPath,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.repo.CreateJob(job); err != nil {
		return "", fmt.Errorf("failed to create export job: %w", err)
	}

	go a.runExport(job, opts)

	return jobID, nil
}

func (a *Assembler) runExport(job *models.Job, opts ExportOptions) {
	job.Status = "processing"
	a.repo.UpdateJob(job)

	fail := func(err error) {
		a.logger.Error("Dataset export failed", zap.String("job_id", job.ID), zap.Error(err))
		job.Status = "failed"
		job.ErrorMessage = err.Error()
		now := time.Now().UTC()
		job.CompletedAt = &now
		a.repo.UpdateJob(job)
	}

	out, err := os.Create(job.OutputPath)
	if err != nil {
		fail(fmt.Errorf("failed to create manifest: %w", err))
		return
	}
	defer out.Close()
	w := bufio.NewWriter(out)

	var exported []models.TrainingDatasetEntry
	err = a.Stream(opts.Options, func(batch []models.TrainingDatasetEntry) error {
		for _, entry := range batch {
			line, err := json.Marshal(entry)
			if err != nil {
				job.FailedCount++
				continue
			}
			if _, err := w.Write(append(line, '\n')); err != nil {
				return fmt.Errorf("failed to write manifest: %w", err)
			}
			job.ProcessedCount++
		}
		job.TotalCount = job.ProcessedCount + job.FailedCount
		a.repo.UpdateJob(job)
		if opts.MarkUsed {
			exported = append(exported, batch...)
		}
		return nil
	})
	if err != nil {
		fail(err)
		return
	}
	if err := w.Flush(); err != nil {
		fail(fmt.Errorf("failed to flush manifest: %w", err))
		return
	}

	if opts.MarkUsed {
		if err := a.MarkUsed(exported); err != nil {
			fail(err)
			return
		}
	}

	job.Status = "completed"
	job.TotalCount = job.ProcessedCount + job.FailedCount
	now := time.Now().UTC()
	job.CompletedAt = &now
	a.repo.UpdateJob(job)

	a.logger.Info("Dataset export completed",
		zap.String("job_id", job.ID),
		zap.Int("entries", job.ProcessedCount),
		zap.String("output", job.OutputPath))
}

// JobStatus returns the state of an export job.
func (a *Assembler) JobStatus(jobID string) (*models.Job, error) {
	return a.repo.GetJob(jobID)
}
