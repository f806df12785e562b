package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/doc-analyzer/internal/domain"
	"github.com/cuongbtq/doc-analyzer/shared/rabbitmq"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the subset of the RabbitMQ client the queue needs
type Broker interface {
	Publish(ctx context.Context, msg rabbitmq.Message) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// AMQPQueue publishes tasks to RabbitMQ and tracks attempts in a ResultBackend
type AMQPQueue struct {
	broker  Broker
	results ResultBackend
	logger  *slog.Logger
}

// NewAMQPQueue creates a RabbitMQ backed queue
func NewAMQPQueue(broker Broker, results ResultBackend, logger *slog.Logger) *AMQPQueue {
	return &AMQPQueue{
		broker:  broker,
		results: results,
		logger:  logger,
	}
}

// Enqueue records the pending attempt, then publishes a persistent message whose id is the task token
func (q *AMQPQueue) Enqueue(ctx context.Context, jobID, sourceRef, query string) (string, error) {
	msg := TaskMessage{
		TaskID:          uuid.New().String(),
		JobID:           jobID,
		SourceReference: sourceRef,
		Query:           query,
		EnqueuedAt:      time.Now().UTC(),
	}

	body, err := EncodeMessage(msg)
	if err != nil {
		return "", err
	}

	if err := q.results.SetPending(ctx, msg.TaskID, jobID); err != nil {
		return "", err
	}

	err = q.broker.Publish(ctx, rabbitmq.Message{
		MessageID:   msg.TaskID,
		ContentType: ContentType,
		Body:        body,
	})
	if err != nil {
		dropPending(ctx, q.results, msg, q.logger)
		return "", fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}

	q.logger.Info("Task enqueued",
		slog.String("job_id", jobID),
		slog.String("task_id", msg.TaskID),
	)

	return msg.TaskID, nil
}

func (q *AMQPQueue) Poll(ctx context.Context, taskID string) (TaskStatus, error) {
	return q.results.Get(ctx, taskID)
}

func (q *AMQPQueue) MarkDone(ctx context.Context, taskID, jobID string, payload []byte) error {
	return q.results.SetDone(ctx, taskID, jobID, payload)
}

// Consume decodes RabbitMQ deliveries. Malformed messages are rejected
// without requeue so the broker dead-letters them.
func (q *AMQPQueue) Consume(ctx context.Context, consumerTag string) (<-chan *Delivery, error) {
	deliveries, err := q.broker.Consume(consumerTag)
	if err != nil {
		return nil, err
	}

	out := make(chan *Delivery)
	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return

			case d, ok := <-deliveries:
				if !ok {
					q.logger.Warn("RabbitMQ delivery channel closed")
					return
				}

				msg, err := DecodeMessage(d.Body)
				if err != nil {
					q.logger.Error("Rejecting malformed task message",
						slog.String("error", err.Error()),
						slog.String("message_id", d.MessageId),
						slog.String("body", string(d.Body)),
					)
					if nackErr := d.Nack(false, false); nackErr != nil {
						q.logger.Error("Failed to NACK malformed message",
							slog.String("error", nackErr.Error()),
						)
					}
					continue
				}

				delivery := wrapAMQPDelivery(d, msg)

				select {
				case out <- delivery:
				case <-ctx.Done():
					// Hand the message back so another consumer picks it up
					if nackErr := d.Nack(false, true); nackErr != nil && !errors.Is(nackErr, amqp.ErrClosed) {
						q.logger.Error("Failed to NACK message on shutdown",
							slog.String("error", nackErr.Error()),
						)
					}
					return
				}
			}
		}
	}()

	return out, nil
}

func wrapAMQPDelivery(d amqp.Delivery, msg TaskMessage) *Delivery {
	return &Delivery{
		Message:     msg,
		Redelivered: d.Redelivered,
		ack: func() error {
			return d.Ack(false)
		},
		nack: func(requeue bool) error {
			return d.Nack(false, requeue)
		},
	}
}
