package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/doc-analyzer/internal/domain"
	"github.com/google/uuid"
)

type memoryItem struct {
	msg         TaskMessage
	redelivered bool
}

// MemoryQueue is an in-process queue for single binary deployments. Tasks
// that are nacked with requeue, or left unacked on shutdown, are delivered again.
type MemoryQueue struct {
	items   chan memoryItem
	results ResultBackend
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue creates an in-process queue holding up to capacity waiting tasks
func NewMemoryQueue(capacity int, results ResultBackend, logger *slog.Logger) *MemoryQueue {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryQueue{
		items:   make(chan memoryItem, capacity),
		results: results,
		logger:  logger,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobID, sourceRef, query string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", fmt.Errorf("%w: queue closed", domain.ErrQueueUnavailable)
	}

	msg := TaskMessage{
		TaskID:          uuid.New().String(),
		JobID:           jobID,
		SourceReference: sourceRef,
		Query:           query,
		EnqueuedAt:      time.Now().UTC(),
	}

	if err := q.results.SetPending(ctx, msg.TaskID, jobID); err != nil {
		return "", err
	}

	select {
	case q.items <- memoryItem{msg: msg}:
	default:
		dropPending(ctx, q.results, msg, q.logger)
		return "", fmt.Errorf("%w: queue full (%d tasks waiting)", domain.ErrQueueUnavailable, cap(q.items))
	}

	q.logger.Info("Task enqueued",
		slog.String("job_id", jobID),
		slog.String("task_id", msg.TaskID),
	)

	return msg.TaskID, nil
}

func (q *MemoryQueue) Poll(ctx context.Context, taskID string) (TaskStatus, error) {
	return q.results.Get(ctx, taskID)
}

func (q *MemoryQueue) MarkDone(ctx context.Context, taskID, jobID string, payload []byte) error {
	return q.results.SetDone(ctx, taskID, jobID, payload)
}

// Consume hands out waiting tasks until ctx is canceled or the queue is closed
func (q *MemoryQueue) Consume(ctx context.Context, consumerTag string) (<-chan *Delivery, error) {
	out := make(chan *Delivery)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return

			case item, ok := <-q.items:
				if !ok {
					return
				}

				select {
				case out <- q.newDelivery(item):
				case <-ctx.Done():
					q.requeue(item)
					return
				}
			}
		}
	}()

	q.logger.Info("Started consuming in-memory tasks",
		slog.String("consumer_tag", consumerTag),
	)

	return out, nil
}

func (q *MemoryQueue) newDelivery(item memoryItem) *Delivery {
	var once sync.Once
	settled := func(fn func()) error {
		ran := false
		once.Do(func() {
			ran = true
			fn()
		})
		if !ran {
			return fmt.Errorf("delivery for task %s already settled", item.msg.TaskID)
		}
		return nil
	}

	return &Delivery{
		Message:     item.msg,
		Redelivered: item.redelivered,
		ack: func() error {
			return settled(func() {})
		},
		nack: func(requeue bool) error {
			return settled(func() {
				if requeue {
					q.requeue(item)
					return
				}
				q.logger.Warn("Task rejected without requeue",
					slog.String("task_id", item.msg.TaskID),
					slog.String("job_id", item.msg.JobID),
				)
			})
		},
	}
}

// requeue puts a task back without blocking the caller on a full buffer
func (q *MemoryQueue) requeue(item memoryItem) {
	item.redelivered = true

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	select {
	case q.items <- item:
	default:
		go func() {
			defer func() { _ = recover() }() // queue closed while waiting
			q.items <- item
		}()
	}
}

// Redeliver pushes a copy of an already delivered task back onto the queue.
// It models a broker that lost an ack, which at-least-once delivery permits.
func (q *MemoryQueue) Redeliver(msg TaskMessage) {
	q.requeue(memoryItem{msg: msg})
}

// Len returns the number of waiting tasks
func (q *MemoryQueue) Len() int {
	return len(q.items)
}

// Close stops accepting tasks and ends every consumer once the buffer drains
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.items)
	}
	return nil
}
