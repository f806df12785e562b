package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/doc-analyzer/internal/domain"
	"github.com/cuongbtq/doc-analyzer/internal/queue"
	"github.com/cuongbtq/doc-analyzer/internal/storage"
	"github.com/cuongbtq/doc-analyzer/shared/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeExtractor struct {
	text string
	err  error
}

func (e *fakeExtractor) Extract(_ context.Context, _ string) (string, error) {
	return e.text, e.err
}

type fakeAnalyzer struct {
	calls  atomic.Int32
	report string
	err    error
	hook   func()
}

func (a *fakeAnalyzer) Analyze(_ context.Context, query, text string) (string, error) {
	a.calls.Add(1)
	if a.hook != nil {
		a.hook()
	}
	if a.err != nil {
		return "", a.err
	}
	return a.report + " | " + query + " | " + text, nil
}

type harness struct {
	store    *storage.Storage
	queue    *queue.MemoryQueue
	analyzer *fakeAnalyzer
	worker   *Worker
}

func newHarness(t *testing.T, extractor *fakeExtractor, analyzer *fakeAnalyzer, concurrency int) *harness {
	t.Helper()

	logger := discardLogger()
	client, err := database.NewClient(&database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "worker.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Migrate(context.Background()))

	store := storage.NewStorage(client.GetDB(), logger)
	q := queue.NewMemoryQueue(16, queue.NewMemoryResultBackend(), logger)

	w, err := NewWorker(&Config{
		Logger:      logger,
		Store:       store,
		Queue:       q,
		Extractor:   extractor,
		Analyzer:    analyzer,
		Concurrency: concurrency,
		WorkerID:    "test-worker",
	})
	require.NoError(t, err)

	return &harness{store: store, queue: q, analyzer: analyzer, worker: w}
}

func (h *harness) submit(t *testing.T, query string) (jobID, taskID string) {
	t.Helper()
	ctx := context.Background()

	job, err := h.store.CreateJob(ctx, "data/report.pdf", "report.pdf", query)
	require.NoError(t, err)
	taskID, err = h.queue.Enqueue(ctx, job.ID, job.SourceReference, job.Query)
	require.NoError(t, err)
	return job.ID, taskID
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.worker.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("worker did not stop")
		}
	})
}

func (h *harness) waitTerminal(t *testing.T, jobID string) *domain.Job {
	t.Helper()
	var job *domain.Job
	require.Eventually(t, func() bool {
		got, err := h.store.GetJobByID(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = got
		return got.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func (h *harness) waitTaskDone(t *testing.T, taskID string) domain.TaskResult {
	t.Helper()
	var status queue.TaskStatus
	require.Eventually(t, func() bool {
		got, err := h.queue.Poll(context.Background(), taskID)
		if err != nil {
			return false
		}
		status = got
		return got.State == queue.TaskStateDone
	}, 5*time.Second, 10*time.Millisecond)

	var result domain.TaskResult
	require.NoError(t, json.Unmarshal(status.Payload, &result))
	return result
}

func TestWorker_CompletesJob(t *testing.T) {
	h := newHarness(t, &fakeExtractor{text: "Revenue up"}, &fakeAnalyzer{report: "Healthy"}, 2)
	jobID, taskID := h.submit(t, "Summarize risks")

	status, err := h.queue.Poll(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatePending, status.State)

	h.run(t)

	job := h.waitTerminal(t, jobID)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, "Healthy | Summarize risks | Revenue up", *job.Result)
	require.NotNil(t, job.CompletedAt)
	assert.False(t, job.CompletedAt.Before(job.CreatedAt))

	result := h.waitTaskDone(t, taskID)
	assert.Equal(t, jobID, result.AnalysisID)
	assert.Equal(t, domain.JobStatusCompleted, result.Status)
	assert.Equal(t, *job.Result, result.Result)
}

func TestWorker_RecordsPipelineFailures(t *testing.T) {
	tests := []struct {
		name      string
		extractor *fakeExtractor
		analyzer  *fakeAnalyzer
		wantMsg   string
	}{
		{
			name:      "extraction error",
			extractor: &fakeExtractor{err: &domain.ExtractionError{Source: "data/report.pdf", Err: errors.New("file not found")}},
			analyzer:  &fakeAnalyzer{},
			wantMsg:   "text extraction failed for data/report.pdf: file not found",
		},
		{
			name:      "untyped extraction error",
			extractor: &fakeExtractor{err: errors.New("disk on fire")},
			analyzer:  &fakeAnalyzer{},
			wantMsg:   "disk on fire",
		},
		{
			name:      "analysis error",
			extractor: &fakeExtractor{text: "text"},
			analyzer:  &fakeAnalyzer{err: &domain.AnalysisError{Err: errors.New("API returned status 503")}},
			wantMsg:   "analysis failed: API returned status 503",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.extractor, tt.analyzer, 1)
			jobID, taskID := h.submit(t, "q")
			h.run(t)

			job := h.waitTerminal(t, jobID)
			assert.Equal(t, domain.JobStatusFailed, job.Status)
			require.NotNil(t, job.Result)
			assert.Contains(t, *job.Result, tt.wantMsg)
			assert.NotNil(t, job.CompletedAt)

			result := h.waitTaskDone(t, taskID)
			assert.Equal(t, domain.JobStatusFailed, result.Status)
			assert.Equal(t, *job.Result, result.Result)
			assert.Equal(t, 0, h.queue.Len(), "pipeline failures must not be requeued")
		})
	}

	t.Run("analysis skipped after extraction failure", func(t *testing.T) {
		analyzer := &fakeAnalyzer{}
		h := newHarness(t, &fakeExtractor{err: errors.New("boom")}, analyzer, 1)
		jobID, _ := h.submit(t, "q")
		h.run(t)

		h.waitTerminal(t, jobID)
		assert.Equal(t, int32(0), analyzer.calls.Load())
	})
}

func TestWorker_RedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t, &fakeExtractor{text: "text"}, &fakeAnalyzer{report: "first"}, 1)
	jobID, taskID := h.submit(t, "q")
	h.run(t)

	first := h.waitTerminal(t, jobID)
	h.waitTaskDone(t, taskID)

	// The broker delivers the same task again
	h.queue.Redeliver(queue.TaskMessage{TaskID: taskID, JobID: jobID, SourceReference: "data/report.pdf", Query: "q"})

	require.Eventually(t, func() bool { return h.queue.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	again, err := h.store.GetJobByID(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, first.Status, again.Status)
	assert.Equal(t, *first.Result, *again.Result)
	assert.True(t, first.CompletedAt.Equal(*again.CompletedAt))
	assert.Equal(t, int32(1), h.analyzer.calls.Load(), "terminal jobs are not analyzed again")
}

func TestProcessDelivery_ConcurrentDuplicates(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	release := make(chan struct{})

	analyzer := &fakeAnalyzer{report: "report"}
	analyzer.hook = func() {
		arrived.Done()
		<-release
	}

	h := newHarness(t, &fakeExtractor{text: "text"}, analyzer, 1)
	jobID, taskID := h.submit(t, "q")
	msg := queue.TaskMessage{TaskID: taskID, JobID: jobID, SourceReference: "data/report.pdf", Query: "q"}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- h.worker.processDelivery(context.Background(), &queue.Delivery{Message: msg})
		}()
	}

	arrived.Wait()
	close(release)

	for i := 0; i < 2; i++ {
		assert.NoError(t, <-errs, "the losing duplicate must not surface an error")
	}

	job, err := h.store.GetJobByID(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, int32(2), analyzer.calls.Load())

	status, err := h.queue.Poll(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStateDone, status.State)
}

func TestProcessDelivery_UnknownJob(t *testing.T) {
	h := newHarness(t, &fakeExtractor{text: "text"}, &fakeAnalyzer{}, 1)

	err := h.worker.processDelivery(context.Background(), &queue.Delivery{Message: queue.TaskMessage{
		TaskID: "5f0c9d7e-3a43-4f8e-9c39-6f3f7d6b2a11",
		JobID:  "0d6f1c3e-8b7a-4f2e-9a1d-2c3b4a5d6e7f",
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.False(t, h.worker.shouldRequeueJob(err))
	assert.Equal(t, int32(0), h.analyzer.calls.Load())
}

// flakyStore fails terminal writes with a transport error
type flakyStore struct {
	JobStore
	err error
}

func (s *flakyStore) CompleteJob(context.Context, string, string) error { return s.err }
func (s *flakyStore) FailJob(context.Context, string, string) error     { return s.err }

func TestProcessDelivery_StoreErrorIsRetryable(t *testing.T) {
	h := newHarness(t, &fakeExtractor{text: "text"}, &fakeAnalyzer{report: "r"}, 1)
	jobID, taskID := h.submit(t, "q")

	h.worker.store = &flakyStore{JobStore: h.store, err: errors.New("connection reset by peer")}

	err := h.worker.processDelivery(context.Background(), &queue.Delivery{Message: queue.TaskMessage{
		TaskID: taskID, JobID: jobID, SourceReference: "data/report.pdf", Query: "q",
	}})
	require.Error(t, err)

	var retryable *domain.RetryableError
	assert.ErrorAs(t, err, &retryable)
	assert.True(t, h.worker.shouldRequeueJob(err))

	job, err := h.store.GetJobByID(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, job.Status)
}

func TestShouldRequeueJob(t *testing.T) {
	w := &Worker{}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "not found", err: domain.ErrJobNotFound, want: false},
		{name: "invalid payload", err: domain.ErrInvalidPayload, want: false},
		{name: "retryable", err: domain.NewRetryableError(errors.New("timeout")), want: true},
		{name: "wrapped retryable", err: errors.Join(errors.New("ctx"), domain.NewRetryableError(errors.New("timeout"))), want: true},
		{name: "unknown", err: errors.New("mystery"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.shouldRequeueJob(tt.err))
		})
	}
}

func TestWorker_Stop(t *testing.T) {
	h := newHarness(t, &fakeExtractor{text: "text"}, &fakeAnalyzer{report: "r"}, 2)

	done := make(chan error, 1)
	go func() { done <- h.worker.Start(context.Background()) }()

	jobID, _ := h.submit(t, "q")
	h.waitTerminal(t, jobID)

	h.worker.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestNewWorker_RequiresCollaborators(t *testing.T) {
	_, err := NewWorker(&Config{Logger: discardLogger()})
	assert.Error(t, err)
}
