package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/doc-analyzer/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `id, source_reference, filename, query_text, status, result, created_at, completed_at`

// Storage is the lifecycle store for analysis jobs
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// timestamp truncates to microseconds, the finest precision PostgreSQL keeps
func (s *Storage) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// CreateJob inserts a new job in processing status
func (s *Storage) CreateJob(ctx context.Context, sourceRef, filename, queryText string) (*domain.Job, error) {
	job := &domain.Job{
		ID:              uuid.New().String(),
		SourceReference: sourceRef,
		Filename:        filename,
		Query:           queryText,
		Status:          domain.JobStatusProcessing,
		CreatedAt:       s.timestamp(),
	}

	query := s.db.Rebind(`
		INSERT INTO analysis_jobs (
			id, source_reference, filename, query_text, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.SourceReference,
		job.Filename,
		job.Query,
		job.Status,
		job.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Debug("Job created",
		slog.String("job_id", job.ID),
		slog.String("source_reference", job.SourceReference),
	)

	return job, nil
}

// GetJobByID retrieves a job from the database by its ID
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM analysis_jobs WHERE id = ?`)

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// JobFilter narrows a history listing
type JobFilter struct {
	Status   string
	PageSize int // 0 returns the full history
	Cursor   *JobCursor
}

// JobCursor is the keyset position of the last job on a page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns jobs newest first. With a page size it fetches one extra
// row so the caller can tell whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE 1=1`
	args := []interface{}{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}

	if filter.Cursor != nil {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.JobID)
	}

	query += ` ORDER BY created_at DESC, id DESC`

	if filter.PageSize > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.PageSize+1)
	}

	jobs := []domain.Job{}
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// CompleteJob moves a processing job to completed with its report
func (s *Storage) CompleteJob(ctx context.Context, jobID, result string) error {
	return s.finishJob(ctx, jobID, domain.JobStatusCompleted, result)
}

// FailJob moves a processing job to failed with an error description
func (s *Storage) FailJob(ctx context.Context, jobID, errorText string) error {
	return s.finishJob(ctx, jobID, domain.JobStatusFailed, errorText)
}

// finishJob performs the single terminal transition. The status predicate in
// the UPDATE makes the first committed writer win; later writers match no row.
func (s *Storage) finishJob(ctx context.Context, jobID, status, result string) error {
	query := s.db.Rebind(`
		UPDATE analysis_jobs
		SET status = ?,
			result = ?,
			completed_at = ?
		WHERE id = ?
		  AND status = ?
	`)

	res, err := s.db.ExecContext(ctx, query, status, result, s.timestamp(), jobID, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 1 {
		s.logger.Info("Job status updated",
			slog.String("job_id", jobID),
			slog.String("status", status),
		)
		return nil
	}

	var current string
	err = s.db.GetContext(ctx, &current, s.db.Rebind(`SELECT status FROM analysis_jobs WHERE id = ?`), jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrJobNotFound
		}
		return fmt.Errorf("failed to read job status: %w", err)
	}

	return fmt.Errorf("%w: job %s is already %s", domain.ErrInvalidTransition, jobID, current)
}
