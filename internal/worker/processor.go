package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/doc-analyzer/internal/domain"
	"github.com/cuongbtq/doc-analyzer/internal/metrics"
	"github.com/cuongbtq/doc-analyzer/internal/queue"
)

// processDelivery runs extract and analyze for one task, records exactly one
// terminal outcome and publishes the task result. A nil return means the
// delivery can be acknowledged.
func (w *Worker) processDelivery(ctx context.Context, d *queue.Delivery) error {
	msg := d.Message
	start := time.Now()

	logger := w.logger.With(
		slog.String("job_id", msg.JobID),
		slog.String("task_id", msg.TaskID),
	)

	job, err := w.store.GetJobByID(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			logger.Warn("Task references an unknown job")
			return err
		}
		return domain.NewRetryableError(fmt.Errorf("failed to load job: %w", err))
	}

	if job.IsTerminal() {
		logger.Info("Job already finished, skipping duplicate delivery",
			slog.String("status", job.Status),
		)
		metrics.DuplicateDeliveries.Inc()
		w.publishResult(ctx, logger, msg, job.Status, job)
		return nil
	}

	report, pipelineErr := w.runPipeline(ctx, msg)

	status := domain.JobStatusCompleted
	if pipelineErr != nil {
		status = domain.JobStatusFailed
		err = w.store.FailJob(ctx, msg.JobID, pipelineErr.Error())
	} else {
		err = w.store.CompleteJob(ctx, msg.JobID, report)
	}

	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		// Another delivery of the same job won the terminal write
		logger.Info("Job finished by another delivery, discarding outcome",
			slog.String("discarded_status", status),
		)
		metrics.DuplicateDeliveries.Inc()
		w.publishResult(ctx, logger, msg, "", nil)
		return nil

	case errors.Is(err, domain.ErrJobNotFound):
		logger.Warn("Job disappeared before its outcome was recorded")
		return err

	case err != nil:
		return domain.NewRetryableError(fmt.Errorf("failed to record %s outcome: %w", status, err))
	}

	metrics.JobsFinished.WithLabelValues(status).Inc()
	metrics.ProcessingDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	logger.Info("Job finished",
		slog.String("status", status),
		slog.Duration("duration", time.Since(start)),
	)

	var fallback *domain.Job
	if pipelineErr != nil {
		fallback = finishedJob(msg.JobID, status, pipelineErr.Error())
	} else {
		fallback = finishedJob(msg.JobID, status, report)
	}
	w.publishResult(ctx, logger, msg, status, fallback)

	return nil
}

// runPipeline returns the report or the typed error of the failing stage
func (w *Worker) runPipeline(ctx context.Context, msg queue.TaskMessage) (string, error) {
	text, err := w.extractor.Extract(ctx, msg.SourceReference)
	if err != nil {
		metrics.PipelineFailures.WithLabelValues("extract").Inc()
		w.logger.Warn("Text extraction failed",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		return "", ensureTyped(err, func(e error) error {
			return &domain.ExtractionError{Source: msg.SourceReference, Err: e}
		})
	}

	report, err := w.analyzer.Analyze(ctx, msg.Query, text)
	if err != nil {
		metrics.PipelineFailures.WithLabelValues("analyze").Inc()
		w.logger.Warn("Analysis failed",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		return "", ensureTyped(err, func(e error) error {
			return &domain.AnalysisError{Err: e}
		})
	}

	return report, nil
}

func ensureTyped(err error, wrap func(error) error) error {
	var extractionErr *domain.ExtractionError
	var analysisErr *domain.AnalysisError
	if errors.As(err, &extractionErr) || errors.As(err, &analysisErr) {
		return err
	}
	return wrap(err)
}

func finishedJob(jobID, status, result string) *domain.Job {
	return &domain.Job{ID: jobID, Status: status, Result: &result}
}

// publishResult records the task payload from the stored job, falling back to
// the locally known outcome when the job cannot be re-read. The probe record
// is advisory, so failures are logged and the delivery is still acknowledged.
func (w *Worker) publishResult(ctx context.Context, logger *slog.Logger, msg queue.TaskMessage, status string, fallback *domain.Job) {
	job, err := w.store.GetJobByID(ctx, msg.JobID)
	if err != nil || !job.IsTerminal() {
		if fallback == nil {
			logger.Warn("Cannot build task result",
				slog.Any("error", err),
			)
			return
		}
		job = fallback
	}

	result := domain.TaskResult{
		AnalysisID: job.ID,
		Status:     job.Status,
	}
	if job.Result != nil {
		result.Result = *job.Result
	}

	payload, err := json.Marshal(result)
	if err != nil {
		logger.Error("Failed to encode task result", slog.String("error", err.Error()))
		return
	}

	if err := w.queue.MarkDone(ctx, msg.TaskID, msg.JobID, payload); err != nil {
		logger.Error("Failed to record task result",
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
	}
}
