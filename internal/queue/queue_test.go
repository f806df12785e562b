package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/doc-analyzer/internal/domain"
	"github.com/cuongbtq/doc-analyzer/shared/database"
	"github.com/cuongbtq/doc-analyzer/shared/rabbitmq"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, ch <-chan *Delivery) *Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func TestDecodeMessage(t *testing.T) {
	jobID := uuid.New().String()
	taskID := uuid.New().String()

	valid, err := EncodeMessage(TaskMessage{
		TaskID:          taskID,
		JobID:           jobID,
		SourceReference: "data/report.pdf",
		Query:           "summarize",
		EnqueuedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid message", body: string(valid)},
		{name: "not json", body: "not-json", wantErr: true},
		{name: "missing job id", body: `{"task_id":"` + taskID + `","source_reference":"a.pdf","query":"q"}`, wantErr: true},
		{name: "job id not a uuid", body: `{"task_id":"` + taskID + `","job_id":"42","source_reference":"a.pdf","query":"q"}`, wantErr: true},
		{name: "empty source", body: `{"task_id":"` + taskID + `","job_id":"` + jobID + `","source_reference":"","query":"q"}`, wantErr: true},
		{name: "empty query", body: `{"task_id":"` + taskID + `","job_id":"` + jobID + `","source_reference":"a.pdf","query":""}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, taskID, msg.TaskID)
			assert.Equal(t, jobID, msg.JobID)
			assert.Equal(t, "data/report.pdf", msg.SourceReference)
			assert.Equal(t, "summarize", msg.Query)
		})
	}
}

func TestMemoryQueue_EnqueueConsumeAck(t *testing.T) {
	q := NewMemoryQueue(4, NewMemoryResultBackend(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobID := uuid.New().String()
	taskID, err := q.Enqueue(ctx, jobID, "data/a.pdf", "summarize")
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	status, err := q.Poll(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatePending, status.State)
	assert.Equal(t, jobID, status.JobID)

	deliveries, err := q.Consume(ctx, "test")
	require.NoError(t, err)

	d := receive(t, deliveries)
	assert.Equal(t, taskID, d.Message.TaskID)
	assert.Equal(t, jobID, d.Message.JobID)
	assert.Equal(t, "data/a.pdf", d.Message.SourceReference)
	assert.False(t, d.Redelivered)

	require.NoError(t, q.MarkDone(ctx, taskID, jobID, []byte(`{"status":"completed"}`)))
	require.NoError(t, d.Ack())
	assert.Error(t, d.Ack(), "second settle must be rejected")

	status, err = q.Poll(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, TaskStateDone, status.State)
	assert.JSONEq(t, `{"status":"completed"}`, string(status.Payload))
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueue_NackRequeueRedelivers(t *testing.T) {
	q := NewMemoryQueue(4, NewMemoryResultBackend(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskID, err := q.Enqueue(ctx, uuid.New().String(), "data/a.pdf", "summarize")
	require.NoError(t, err)

	deliveries, err := q.Consume(ctx, "test")
	require.NoError(t, err)

	first := receive(t, deliveries)
	require.NoError(t, first.Nack(true))

	second := receive(t, deliveries)
	assert.Equal(t, taskID, second.Message.TaskID)
	assert.True(t, second.Redelivered)
	require.NoError(t, second.Ack())
}

func TestMemoryQueue_NackWithoutRequeueDrops(t *testing.T) {
	q := NewMemoryQueue(4, NewMemoryResultBackend(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := q.Enqueue(ctx, uuid.New().String(), "data/a.pdf", "summarize")
	require.NoError(t, err)

	deliveries, err := q.Consume(ctx, "test")
	require.NoError(t, err)

	require.NoError(t, receive(t, deliveries).Nack(false))

	select {
	case d := <-deliveries:
		t.Fatalf("unexpected redelivery of %s", d.Message.TaskID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryQueue_FullIsUnavailable(t *testing.T) {
	q := NewMemoryQueue(1, NewMemoryResultBackend(), discardLogger())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, uuid.New().String(), "a.pdf", "q")
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, uuid.New().String(), "b.pdf", "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrQueueUnavailable)

	// Only the queued task keeps a record
	purged, err := q.results.PurgeBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestMemoryQueue_ClosedIsUnavailable(t *testing.T) {
	q := NewMemoryQueue(1, NewMemoryResultBackend(), discardLogger())
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	_, err := q.Enqueue(context.Background(), uuid.New().String(), "a.pdf", "q")
	assert.ErrorIs(t, err, domain.ErrQueueUnavailable)
}

func TestMemoryQueue_RedeliverDuplicate(t *testing.T) {
	q := NewMemoryQueue(4, NewMemoryResultBackend(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taskID, err := q.Enqueue(ctx, uuid.New().String(), "a.pdf", "q")
	require.NoError(t, err)

	deliveries, err := q.Consume(ctx, "test")
	require.NoError(t, err)

	first := receive(t, deliveries)
	require.NoError(t, first.Ack())

	q.Redeliver(first.Message)
	dup := receive(t, deliveries)
	assert.Equal(t, taskID, dup.Message.TaskID)
	assert.True(t, dup.Redelivered)
}

func TestMemoryQueue_RedeliverWhileClosing(t *testing.T) {
	for i := 0; i < 50; i++ {
		q := NewMemoryQueue(1, NewMemoryResultBackend(), discardLogger())
		msg := TaskMessage{TaskID: uuid.New().String(), JobID: uuid.New().String()}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 4; j++ {
				assert.NotPanics(t, func() { q.Redeliver(msg) })
			}
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Close())
		}()
		wg.Wait()
	}
}

func TestPoll_UnknownToken(t *testing.T) {
	q := NewMemoryQueue(1, NewMemoryResultBackend(), discardLogger())

	status, err := q.Poll(context.Background(), "no-such-task")
	require.NoError(t, err)
	assert.Equal(t, TaskStateUnknown, status.State)
	assert.Equal(t, "no-such-task", status.TaskID)
}

func newSQLBackend(t *testing.T) *SQLResultBackend {
	t.Helper()

	client, err := database.NewClient(&database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "results.db"),
	}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Migrate(context.Background()))

	return NewSQLResultBackend(client.GetDB())
}

func TestResultBackends(t *testing.T) {
	backends := map[string]func(t *testing.T) (ResultBackend, func(func() time.Time)){
		"memory": func(t *testing.T) (ResultBackend, func(func() time.Time)) {
			b := NewMemoryResultBackend()
			return b, func(now func() time.Time) { b.now = now }
		},
		"sql": func(t *testing.T) (ResultBackend, func(func() time.Time)) {
			b := newSQLBackend(t)
			return b, func(now func() time.Time) { b.now = now }
		},
	}

	for name, newBackend := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b, setNow := newBackend(t)

			old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			recent := old.Add(48 * time.Hour)

			setNow(func() time.Time { return old })
			require.NoError(t, b.SetPending(ctx, "task-old", "job-1"))

			setNow(func() time.Time { return recent })
			require.NoError(t, b.SetPending(ctx, "task-new", "job-2"))
			require.NoError(t, b.SetDone(ctx, "task-new", "job-2", []byte(`{"analysis_id":"job-2"}`)))

			got, err := b.Get(ctx, "task-old")
			require.NoError(t, err)
			assert.Equal(t, TaskStatePending, got.State)
			assert.Equal(t, "job-1", got.JobID)
			assert.Empty(t, got.Payload)

			got, err = b.Get(ctx, "task-new")
			require.NoError(t, err)
			assert.Equal(t, TaskStateDone, got.State)
			assert.JSONEq(t, `{"analysis_id":"job-2"}`, string(got.Payload))

			purged, err := b.PurgeBefore(ctx, old.Add(24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(1), purged)

			got, err = b.Get(ctx, "task-old")
			require.NoError(t, err)
			assert.Equal(t, TaskStateUnknown, got.State, "evicted record reads as unknown")

			got, err = b.Get(ctx, "task-new")
			require.NoError(t, err)
			assert.Equal(t, TaskStateDone, got.State)

			require.NoError(t, b.Delete(ctx, "task-new"))
			require.NoError(t, b.Delete(ctx, "never-issued"))

			got, err = b.Get(ctx, "task-new")
			require.NoError(t, err)
			assert.Equal(t, TaskStateUnknown, got.State)
		})
	}
}

// fakeBroker records publishings and feeds deliveries from a channel
type fakeBroker struct {
	mu         sync.Mutex
	published  []rabbitmq.Message
	publishErr error
	deliveries chan amqp.Delivery
}

func (b *fakeBroker) Publish(_ context.Context, msg rabbitmq.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, msg)
	return nil
}

func (b *fakeBroker) Consume(string) (<-chan amqp.Delivery, error) {
	return b.deliveries, nil
}

type ackRecord struct {
	acked   bool
	nacked  bool
	requeue bool
}

// fakeAcknowledger implements amqp.Acknowledger
type fakeAcknowledger struct {
	mu      sync.Mutex
	records map[uint64]*ackRecord
}

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{records: make(map[uint64]*ackRecord)}
}

func (a *fakeAcknowledger) record(tag uint64) *ackRecord {
	r, ok := a.records[tag]
	if !ok {
		r = &ackRecord{}
		a.records[tag] = r
	}
	return r
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record(tag).acked = true
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.record(tag)
	r.nacked = true
	r.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) get(tag uint64) ackRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *a.record(tag)
}

func TestAMQPQueue_Enqueue(t *testing.T) {
	broker := &fakeBroker{}
	results := NewMemoryResultBackend()
	q := NewAMQPQueue(broker, results, discardLogger())
	ctx := context.Background()

	jobID := uuid.New().String()
	taskID, err := q.Enqueue(ctx, jobID, "data/a.pdf", "summarize")
	require.NoError(t, err)

	require.Len(t, broker.published, 1)
	published := broker.published[0]
	assert.Equal(t, taskID, published.MessageID)
	assert.Equal(t, ContentType, published.ContentType)

	msg, err := DecodeMessage(published.Body)
	require.NoError(t, err)
	assert.Equal(t, jobID, msg.JobID)
	assert.Equal(t, taskID, msg.TaskID)

	status, err := q.Poll(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatePending, status.State)
}

func TestAMQPQueue_EnqueuePublishFailure(t *testing.T) {
	broker := &fakeBroker{publishErr: errors.New("connection refused")}
	results := NewMemoryResultBackend()
	q := NewAMQPQueue(broker, results, discardLogger())

	_, err := q.Enqueue(context.Background(), uuid.New().String(), "a.pdf", "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrQueueUnavailable)
	assert.Contains(t, err.Error(), "connection refused")

	purged, err := results.PurgeBefore(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, purged, "failed publish leaves no pending record")
}

func TestAMQPQueue_Consume(t *testing.T) {
	broker := &fakeBroker{deliveries: make(chan amqp.Delivery, 2)}
	q := NewAMQPQueue(broker, NewMemoryResultBackend(), discardLogger())
	acks := newFakeAcknowledger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobID := uuid.New().String()
	taskID := uuid.New().String()
	body, err := EncodeMessage(TaskMessage{TaskID: taskID, JobID: jobID, SourceReference: "a.pdf", Query: "q"})
	require.NoError(t, err)

	broker.deliveries <- amqp.Delivery{Acknowledger: acks, DeliveryTag: 1, Body: []byte(`{"job_id":"broken"}`)}
	broker.deliveries <- amqp.Delivery{Acknowledger: acks, DeliveryTag: 2, Body: body, Redelivered: true}

	deliveries, err := q.Consume(ctx, "test")
	require.NoError(t, err)

	d := receive(t, deliveries)
	assert.Equal(t, taskID, d.Message.TaskID)
	assert.Equal(t, jobID, d.Message.JobID)
	assert.True(t, d.Redelivered)

	malformed := acks.get(1)
	assert.True(t, malformed.nacked, "malformed message must be rejected")
	assert.False(t, malformed.requeue, "malformed message must be dead-lettered")

	require.NoError(t, d.Nack(true))
	valid := acks.get(2)
	assert.True(t, valid.nacked)
	assert.True(t, valid.requeue)
}
