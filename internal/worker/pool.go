package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/doc-analyzer/internal/domain"
	"github.com/cuongbtq/doc-analyzer/internal/metrics"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop processes one delivery at a time until jobsChan is closed
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for delivery := range w.jobsChan {
		msg := delivery.Message

		w.logger.Info("Worker received job",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.JobID),
			slog.String("task_id", msg.TaskID),
			slog.Bool("redelivered", delivery.Redelivered),
		)

		metrics.WorkersBusy.Inc()
		err := w.processDelivery(ctx, delivery)
		metrics.WorkersBusy.Dec()

		if err != nil {
			requeue := w.shouldRequeueJob(err)

			w.logger.Error("Job processing failed",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.JobID),
				slog.Bool("requeue", requeue),
				slog.String("error", err.Error()),
			)

			if requeue {
				metrics.DeliveriesRequeued.Inc()
			}
			if nackErr := delivery.Nack(requeue); nackErr != nil {
				w.logger.Error("Failed to NACK message",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.JobID),
					slog.String("error", nackErr.Error()),
				)
			}
			continue
		}

		if ackErr := delivery.Ack(); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.JobID),
				slog.String("error", ackErr.Error()),
			)
		}
	}

	w.logger.Debug("Worker goroutine stopping - jobsChan closed",
		slog.String("worker_name", workerName),
	)
}

// shouldRequeueJob determines if a delivery should be requeued based on the error type
func (w *Worker) shouldRequeueJob(err error) bool {
	// A job that does not exist will never exist
	if errors.Is(err, domain.ErrJobNotFound) {
		return false
	}

	if errors.Is(err, domain.ErrInvalidPayload) {
		return false
	}

	// Requeue for transient store errors
	var retryableErr *domain.RetryableError
	if errors.As(err, &retryableErr) {
		return true
	}

	return false
}
