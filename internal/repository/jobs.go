package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"feedback-service/internal/models"
)

// ErrJobNotFound is returned when no export job exists for an id.
var ErrJobNotFound = errors.New("job not found")

// CreateJob inserts a new export job.
func (r *FeedbackRepository) CreateJob(job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := `
		INSERT INTO export_jobs (id, status, total_count, output_path, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, job.ID, job.Status, job.TotalCount, job.OutputPath, job.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create export job: %w", err)
	}
	return nil
}

// UpdateJob updates export job progress.
func (r *FeedbackRepository) UpdateJob(job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := `
		UPDATE export_jobs
		SET status = ?, total_count = ?, processed_count = ?, failed_count = ?,
		    output_path = ?, completed_at = ?, error_message = ?
		WHERE id = ?
	`
	_, err := r.db.Exec(query, job.Status, job.TotalCount, job.ProcessedCount,
		job.FailedCount, job.OutputPath, job.CompletedAt, job.ErrorMessage, job.ID)
	if err != nil {
		return fmt.Errorf("failed to update export job: %w", err)
	}
	return nil
}

// GetJob retrieves an export job by id.
func (r *FeedbackRepository) GetJob(jobID string) (*models.Job, error) {
	job := &models.Job{}
	query := `
		SELECT id, status, total_count, processed_count, failed_count,
		       output_path, created_at, completed_at, error_message
		FROM export_jobs
		WHERE id = ?
	`
	if err := r.db.Get(job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get export job: %w", err)
	}
	return job, nil
}
