package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// TaskState is the queue-side view of one delivery attempt
type TaskState string

const (
	TaskStatePending TaskState = "pending"
	TaskStateDone    TaskState = "done"
	TaskStateUnknown TaskState = "unknown"
)

// TaskStatus is the answer to a probe. It is not authoritative for the job:
// records are transient and may be evicted.
type TaskStatus struct {
	TaskID    string          `json:"task_id"`
	JobID     string          `json:"job_id,omitempty"`
	State     TaskState       `json:"state"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Delivery is one received task together with its acknowledgement handles
type Delivery struct {
	Message     TaskMessage
	Redelivered bool

	ack  func() error
	nack func(requeue bool) error
}

// Ack confirms the task has been fully handled
func (d *Delivery) Ack() error {
	return d.ack()
}

// Nack rejects the task; requeue=false routes it to the dead letter path
func (d *Delivery) Nack(requeue bool) error {
	return d.nack(requeue)
}

// Queue decouples submission from execution with at-least-once delivery
type Queue interface {
	// Enqueue publishes a task and returns its token
	Enqueue(ctx context.Context, jobID, sourceRef, query string) (string, error)
	// Poll reports whether the delivery attempt behind a token has finished
	Poll(ctx context.Context, taskID string) (TaskStatus, error)
	// Consume streams deliveries until ctx is canceled or the transport closes
	Consume(ctx context.Context, consumerTag string) (<-chan *Delivery, error)
	// MarkDone records the attempt outcome that Poll will return
	MarkDone(ctx context.Context, taskID, jobID string, payload []byte) error
}

// ResultBackend stores probe records for delivery attempts
type ResultBackend interface {
	SetPending(ctx context.Context, taskID, jobID string) error
	SetDone(ctx context.Context, taskID, jobID string, payload []byte) error
	Get(ctx context.Context, taskID string) (TaskStatus, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// Delete drops the record of an attempt that never reached the queue
	Delete(ctx context.Context, taskID string) error
}

// dropPending removes the pending record of a task that was not queued
func dropPending(ctx context.Context, results ResultBackend, msg TaskMessage, logger *slog.Logger) {
	if err := results.Delete(context.WithoutCancel(ctx), msg.TaskID); err != nil {
		logger.Warn("Failed to drop pending record of unqueued task",
			slog.String("task_id", msg.TaskID),
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
	}
}
