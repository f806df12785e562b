package worker

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/doc-analyzer/internal/queue"
)

// startMessageDispatcher hands deliveries to the worker pool, one delivery per worker slot
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan *queue.Delivery) {
	w.logger.Info("Message dispatcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("Delivery channel closed")
				return
			}

			select {
			case w.jobsChan <- delivery:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", delivery.Message.JobID),
					slog.String("task_id", delivery.Message.TaskID),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				// Hand the task back so it can be reprocessed
				if nackErr := delivery.Nack(true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.String("job_id", delivery.Message.JobID),
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}
