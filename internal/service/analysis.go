// Package service is the submission gateway and status API of the analysis
// lifecycle, shared by the HTTP handlers and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/doc-analyzer/internal/documents"
	"github.com/cuongbtq/doc-analyzer/internal/domain"
	"github.com/cuongbtq/doc-analyzer/internal/metrics"
	"github.com/cuongbtq/doc-analyzer/internal/queue"
	"github.com/cuongbtq/doc-analyzer/internal/storage"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100

	// compensateTimeout bounds the write that fails a job the queue rejected
	compensateTimeout = 5 * time.Second
)

// JobStore is the part of the lifecycle store the gateway uses
type JobStore interface {
	CreateJob(ctx context.Context, sourceRef, filename, queryText string) (*domain.Job, error)
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	FailJob(ctx context.Context, jobID, errorText string) error
}

// SubmitRequest describes a document already reachable by reference
type SubmitRequest struct {
	SourceReference string
	Filename        string
	Query           string
}

// HistoryRequest selects a page of the job history. PageSize 0 returns everything.
type HistoryRequest struct {
	Status   string
	PageSize int
	Cursor   *storage.JobCursor
}

// HistoryPage is one page of jobs, newest first
type HistoryPage struct {
	Jobs []domain.Job
	Next *storage.JobCursor
}

// Service validates submissions, records jobs and answers status queries
type Service struct {
	store  JobStore
	queue  queue.Queue
	docs   documents.Store
	logger *slog.Logger
}

// New creates the analysis service
func New(store JobStore, q queue.Queue, docs documents.Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		queue:  q,
		docs:   docs,
		logger: logger,
	}
}

// NormalizeQuery trims the query and substitutes the default when nothing is left
func NormalizeQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.DefaultQuery
	}
	return query
}

// Submit creates a processing job and enqueues its task. When the queue
// rejects the task the job is marked failed and ErrQueueUnavailable is returned.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (domain.Handle, error) {
	sourceRef := strings.TrimSpace(req.SourceReference)
	if sourceRef == "" {
		metrics.SubmissionsRejected.WithLabelValues("validation").Inc()
		return domain.Handle{}, domain.NewValidationError("source_reference", "is required")
	}

	query := NormalizeQuery(req.Query)

	ok, err := s.docs.Exists(ctx, sourceRef)
	if err != nil {
		metrics.SubmissionsRejected.WithLabelValues("validation").Inc()
		if errors.Is(err, documents.ErrOutsideStore) {
			return domain.Handle{}, domain.NewValidationError("source_reference", "must point inside the document store")
		}
		return domain.Handle{}, domain.NewValidationError("source_reference", fmt.Sprintf("cannot be checked: %v", err))
	}
	if !ok {
		metrics.SubmissionsRejected.WithLabelValues("validation").Inc()
		return domain.Handle{}, domain.NewValidationError("source_reference", fmt.Sprintf("%s is not reachable", sourceRef))
	}

	filename := req.Filename
	if filename == "" {
		filename = filepath.Base(sourceRef)
	}

	job, err := s.store.CreateJob(ctx, sourceRef, filename, query)
	if err != nil {
		return domain.Handle{}, err
	}

	taskID, err := s.queue.Enqueue(ctx, job.ID, job.SourceReference, job.Query)
	if err != nil {
		metrics.SubmissionsRejected.WithLabelValues("queue").Inc()
		s.logger.Error("Failed to enqueue job, marking it failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)

		// The caller may be gone already; the job must still leave processing
		failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
		failErr := s.store.FailJob(failCtx, job.ID, "enqueue failed: "+err.Error())
		cancel()
		if failErr != nil {
			s.logger.Error("Failed to mark unqueued job as failed",
				slog.String("job_id", job.ID),
				slog.String("error", failErr.Error()),
			)
		}

		if errors.Is(err, domain.ErrQueueUnavailable) {
			return domain.Handle{JobID: job.ID}, err
		}
		return domain.Handle{JobID: job.ID}, fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}

	metrics.JobsSubmitted.Inc()
	s.logger.Info("Job submitted",
		slog.String("job_id", job.ID),
		slog.String("task_id", taskID),
		slog.String("source_reference", job.SourceReference),
	)

	return domain.Handle{JobID: job.ID, TaskToken: taskID}, nil
}

// SubmitUpload stores an uploaded document under a generated name, then submits it
func (s *Service) SubmitUpload(ctx context.Context, filename string, body io.Reader, size int64, query string) (domain.Handle, error) {
	if filename == "" {
		return domain.Handle{}, domain.NewValidationError("file", "filename is required")
	}

	ref, err := s.docs.Save(ctx, filename, body, size)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("failed to store upload: %w", err)
	}

	return s.Submit(ctx, SubmitRequest{
		SourceReference: ref,
		Filename:        filename,
		Query:           query,
	})
}

// Get returns the current snapshot of a job
func (s *Service) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.store.GetJobByID(ctx, jobID)
}

// History lists jobs newest first
func (s *Service) History(ctx context.Context, req HistoryRequest) (HistoryPage, error) {
	switch req.Status {
	case "", domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobStatusFailed:
	default:
		return HistoryPage{}, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", req.Status))
	}

	pageSize := req.PageSize
	if pageSize < 0 {
		return HistoryPage{}, domain.NewValidationError("page_size", "must not be negative")
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	jobs, err := s.store.ListJobs(ctx, storage.JobFilter{
		Status:   req.Status,
		PageSize: pageSize,
		Cursor:   req.Cursor,
	})
	if err != nil {
		return HistoryPage{}, err
	}

	page := HistoryPage{Jobs: jobs}
	if pageSize > 0 && len(jobs) > pageSize {
		page.Jobs = jobs[:pageSize]
		last := page.Jobs[pageSize-1]
		page.Next = &storage.JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID}
	}
	return page, nil
}

// Probe reports the state of a delivery attempt. It is advisory; Get is authoritative.
func (s *Service) Probe(ctx context.Context, taskID string) (queue.TaskStatus, error) {
	if strings.TrimSpace(taskID) == "" {
		return queue.TaskStatus{}, domain.NewValidationError("task_id", "is required")
	}
	return s.queue.Poll(ctx, taskID)
}
