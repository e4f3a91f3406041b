package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"feedback-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no feedback record exists for an id.
var ErrNotFound = errors.New("feedback not found")

// FeedbackRepository stores feedback records and export jobs in sqlite.
// Records are keyed by id and updated in place; there is no whole-file
// rewrite. Mutations are serialized through a single writer lock, reads
// go straight to the last committed snapshot.
type FeedbackRepository struct {
	db     *sqlx.DB
	mu     sync.Mutex // serializes writers
	logger *zap.Logger
}

// Options control how the repository handles an unreadable database at
// startup.
type Options struct {
	// RecoverOnCorruption moves an unreadable database aside and starts
	// with an empty store instead of failing. The damaged file is kept
	// for inspection.
	RecoverOnCorruption bool
}

// NewFeedbackRepository opens (or creates) the database at dbPath.
func NewFeedbackRepository(dbPath string, opts Options, logger *zap.Logger) (*FeedbackRepository, error) {
	db, err := open(dbPath)
	if err != nil {
		if !opts.RecoverOnCorruption {
			return nil, fmt.Errorf("failed to open feedback database: %w", err)
		}
		quarantine := fmt.Sprintf("%s.corrupt-%d", dbPath, time.Now().Unix())
		logger.Error("Feedback database unreadable, starting with an empty store",
			zap.String("db_path", dbPath),
			zap.String("moved_to", quarantine),
			zap.Error(err))
		if mvErr := os.Rename(dbPath, quarantine); mvErr != nil {
			return nil, fmt.Errorf("failed to quarantine corrupt database: %w", mvErr)
		}
		db, err = open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to recreate feedback database: %w", err)
		}
	}

	repo := &FeedbackRepository{db: db, logger: logger}
	logger.Info("Feedback repository initialized", zap.String("db_path", dbPath))
	return repo, nil
}

func open(dbPath string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", dbPath)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	// Probe the main table so an unreadable file fails here, not on the
	// first request.
	var n int
	if err := db.Get(&n, "SELECT COUNT(*) FROM feedbacks"); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS feedbacks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		image_hash TEXT NOT NULL,
		image_path TEXT NOT NULL DEFAULT '',
		predicted_plant_id TEXT NOT NULL,
		predicted_confidence REAL NOT NULL,
		alternatives TEXT NOT NULL DEFAULT '',
		feedback_type TEXT NOT NULL,
		rating INTEGER,
		correct_plant_id TEXT NOT NULL DEFAULT '',
		comment TEXT NOT NULL DEFAULT '',
		is_correct BOOLEAN,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME NOT NULL,
		curator_notes TEXT NOT NULL DEFAULT '',
		curated_by TEXT NOT NULL DEFAULT '',
		curated_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_feedbacks_status ON feedbacks(status);
	CREATE INDEX IF NOT EXISTS idx_feedbacks_plant ON feedbacks(predicted_plant_id);
	CREATE INDEX IF NOT EXISTS idx_feedbacks_created_at ON feedbacks(created_at);
	CREATE INDEX IF NOT EXISTS idx_feedbacks_type ON feedbacks(feedback_type);

	CREATE TABLE IF NOT EXISTS export_jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		total_count INTEGER NOT NULL,
		processed_count INTEGER DEFAULT 0,
		failed_count INTEGER DEFAULT 0,
		output_path TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		completed_at DATETIME,
		error_message TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_export_jobs_status ON export_jobs(status);
	`
	_, err := db.Exec(schema)
	return err
}

// feedbackRow is the storage shape; alternatives are serialized JSON.
type feedbackRow struct {
	ID                  int64      `db:"id"`
	ImageHash           string     `db:"image_hash"`
	ImagePath           string     `db:"image_path"`
	PredictedPlantID    string     `db:"predicted_plant_id"`
	PredictedConfidence float64    `db:"predicted_confidence"`
	Alternatives        string     `db:"alternatives"`
	FeedbackType        string     `db:"feedback_type"`
	Rating              *int       `db:"rating"`
	CorrectPlantID      string     `db:"correct_plant_id"`
	Comment             string     `db:"comment"`
	IsCorrect           *bool      `db:"is_correct"`
	Status              string     `db:"status"`
	CreatedAt           time.Time  `db:"created_at"`
	CuratorNotes        string     `db:"curator_notes"`
	CuratedBy           string     `db:"curated_by"`
	CuratedAt           *time.Time `db:"curated_at"`
}

const feedbackColumns = `id, image_hash, image_path, predicted_plant_id, predicted_confidence,
	alternatives, feedback_type, rating, correct_plant_id, comment, is_correct,
	status, created_at, curator_notes, curated_by, curated_at`

func (row *feedbackRow) toModel() (*models.Feedback, error) {
	fb := &models.Feedback{
		ID:                  row.ID,
		ImageHash:           row.ImageHash,
		ImagePath:           row.ImagePath,
		PredictedPlantID:    row.PredictedPlantID,
		PredictedConfidence: row.PredictedConfidence,
		FeedbackType:        models.FeedbackType(row.FeedbackType),
		Rating:              row.Rating,
		CorrectPlantID:      row.CorrectPlantID,
		Comment:             row.Comment,
		IsCorrect:           row.IsCorrect,
		Status:              models.FeedbackStatus(row.Status),
		Timestamp:           row.CreatedAt,
		CuratorNotes:        row.CuratorNotes,
		CuratedBy:           row.CuratedBy,
		CuratedAt:           row.CuratedAt,
	}
	if row.Alternatives != "" {
		if err := json.Unmarshal([]byte(row.Alternatives), &fb.Alternatives); err != nil {
			return nil, fmt.Errorf("failed to decode alternatives for feedback %d: %w", row.ID, err)
		}
	}
	return fb, nil
}

// Append persists a new record and assigns its id. Status is forced to
// pending and the curation fields stay unset regardless of input.
func (r *FeedbackRepository) Append(fb *models.Feedback) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	alternatives := ""
	if len(fb.Alternatives) > 0 {
		raw, err := json.Marshal(fb.Alternatives)
		if err != nil {
			return 0, fmt.Errorf("failed to encode alternatives: %w", err)
		}
		alternatives = string(raw)
	}
	if fb.Timestamp.IsZero() {
		fb.Timestamp = time.Now().UTC()
	}
	fb.Status = models.StatusPending
	fb.CuratedAt = nil

	query := `
		INSERT INTO feedbacks (
			image_hash, image_path, predicted_plant_id, predicted_confidence,
			alternatives, feedback_type, rating, correct_plant_id, comment,
			is_correct, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		fb.ImageHash,
		fb.ImagePath,
		fb.PredictedPlantID,
		fb.PredictedConfidence,
		alternatives,
		string(fb.FeedbackType),
		fb.Rating,
		fb.CorrectPlantID,
		fb.Comment,
		fb.IsCorrect,
		string(fb.Status),
		fb.Timestamp.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save feedback: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	fb.ID = id
	return id, nil
}

// Get retrieves one record by id.
func (r *FeedbackRepository) Get(id int64) (*models.Feedback, error) {
	var row feedbackRow
	query := "SELECT " + feedbackColumns + " FROM feedbacks WHERE id = ?"
	if err := r.db.Get(&row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get feedback %d: %w", id, err)
	}
	return row.toModel()
}

func buildFilter(q models.FeedbackQuery) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if q.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*q.Status))
	}
	if q.PlantID != "" {
		conds = append(conds, "predicted_plant_id = ?")
		args = append(args, q.PlantID)
	}
	if q.MinRating != nil {
		conds = append(conds, "rating >= ?")
		args = append(args, *q.MinRating)
	}
	if q.MaxRating != nil {
		conds = append(conds, "rating <= ?")
		args = append(args, *q.MaxRating)
	}
	if q.FeedbackType != nil {
		conds = append(conds, "feedback_type = ?")
		args = append(args, string(*q.FeedbackType))
	}
	if q.StartDate != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, q.StartDate.UTC())
	}
	if q.EndDate != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, q.EndDate.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query returns the filtered page, newest first.
func (r *FeedbackRepository) Query(q models.FeedbackQuery) ([]*models.Feedback, error) {
	q.Normalize()
	where, args := buildFilter(q)

	query := "SELECT " + feedbackColumns + " FROM feedbacks" + where +
		" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	var rows []feedbackRow
	if err := r.db.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query feedbacks: %w", err)
	}

	feedbacks := make([]*models.Feedback, 0, len(rows))
	for i := range rows {
		fb, err := rows[i].toModel()
		if err != nil {
			r.logger.Error("Failed to decode feedback row", zap.Int64("id", rows[i].ID), zap.Error(err))
			continue
		}
		feedbacks = append(feedbacks, fb)
	}
	return feedbacks, nil
}

// Count returns the total number of records matching the filter,
// ignoring pagination.
func (r *FeedbackRepository) Count(q models.FeedbackQuery) (int, error) {
	where, args := buildFilter(q)
	var total int
	if err := r.db.Get(&total, "SELECT COUNT(*) FROM feedbacks"+where, args...); err != nil {
		return 0, fmt.Errorf("failed to count feedbacks: %w", err)
	}
	return total, nil
}

// All returns every stored record, newest first. Used by the stats
// aggregation, which needs the whole collection.
func (r *FeedbackRepository) All() ([]*models.Feedback, error) {
	query := "SELECT " + feedbackColumns + " FROM feedbacks ORDER BY created_at DESC, id DESC"
	var rows []feedbackRow
	if err := r.db.Select(&rows, query); err != nil {
		return nil, fmt.Errorf("failed to load feedbacks: %w", err)
	}
	feedbacks := make([]*models.Feedback, 0, len(rows))
	for i := range rows {
		fb, err := rows[i].toModel()
		if err != nil {
			r.logger.Error("Failed to decode feedback row", zap.Int64("id", rows[i].ID), zap.Error(err))
			continue
		}
		feedbacks = append(feedbacks, fb)
	}
	return feedbacks, nil
}

// UpdateStatus transitions a record and stamps the curation trail.
// Notes and curator are only overwritten when provided.
func (r *FeedbackRepository) UpdateStatus(id int64, status models.FeedbackStatus, notes, curatedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := `
		UPDATE feedbacks
		SET status = ?,
		    curator_notes = CASE WHEN ? != '' THEN ? ELSE curator_notes END,
		    curated_by = CASE WHEN ? != '' THEN ? ELSE curated_by END,
		    curated_at = ?
		WHERE id = ?
	`
	result, err := r.db.Exec(query, string(status), notes, notes, curatedBy, curatedBy, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update feedback %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of feedback %d: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkUsed flips a set of records to the used status in one statement,
// typically after a training run consumed them.
func (r *FeedbackRepository) MarkUsed(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	query, args, err := sqlx.In(
		"UPDATE feedbacks SET status = ?, curated_at = ? WHERE id IN (?)",
		string(models.StatusUsed), time.Now().UTC(), ids)
	if err != nil {
		return fmt.Errorf("failed to build mark-used query: %w", err)
	}
	if _, err := r.db.Exec(r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to mark feedbacks used: %w", err)
	}
	return nil
}

// CountByStatus returns record counts grouped by status.
func (r *FeedbackRepository) CountByStatus() (map[models.FeedbackStatus]int, error) {
	rows, err := r.db.Query("SELECT status, COUNT(*) FROM feedbacks GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.FeedbackStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[models.FeedbackStatus(status)] = n
	}
	return counts, rows.Err()
}

// Close closes the database connection.
func (r *FeedbackRepository) Close() error {
	return r.db.Close()
}
