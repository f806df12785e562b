package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/cuongbtq/doc-analyzer/internal/domain"
	"github.com/cuongbtq/doc-analyzer/internal/pipeline"
	"github.com/cuongbtq/doc-analyzer/internal/queue"
	"github.com/google/uuid"
)

// JobStore is the part of the lifecycle store a worker writes to
type JobStore interface {
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	CompleteJob(ctx context.Context, jobID, result string) error
	FailJob(ctx context.Context, jobID, errorText string) error
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Store       JobStore
	Queue       queue.Queue
	Extractor   pipeline.Extractor
	Analyzer    pipeline.Analyzer
	Concurrency int
	WorkerID    string
}

// Worker consumes analysis tasks and drives each job to a terminal state
type Worker struct {
	logger      *slog.Logger
	store       JobStore
	queue       queue.Queue
	extractor   pipeline.Extractor
	analyzer    pipeline.Analyzer
	concurrency int
	workerID    string

	jobsChan chan *queue.Delivery
	wg       sync.WaitGroup

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	if cfg.Store == nil || cfg.Queue == nil || cfg.Extractor == nil || cfg.Analyzer == nil {
		return nil, errors.New("worker requires a store, queue, extractor and analyzer")
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	workerID := cfg.WorkerID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("worker-%s-%s", host, uuid.New().String()[:8])
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		logger:      logger.With(slog.String("worker_id", workerID)),
		store:       cfg.Store,
		queue:       cfg.Queue,
		extractor:   cfg.Extractor,
		analyzer:    cfg.Analyzer,
		concurrency: concurrency,
		workerID:    workerID,
		jobsChan:    make(chan *queue.Delivery),
		stopped:     make(chan struct{}),
	}, nil
}

// ID returns the consumer identity of this worker
func (w *Worker) ID() string {
	return w.workerID
}

// Start consumes tasks until ctx is canceled or Stop is called. In-flight
// jobs run to completion before Start returns.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	defer close(w.stopped)
	defer cancel()

	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
	)

	deliveries, err := w.queue.Consume(ctx, w.workerID)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	// Jobs are not canceled by shutdown; the collaborators' own timeouts bound them
	w.spawnWorkerPool(context.WithoutCancel(ctx))

	w.startMessageDispatcher(ctx, deliveries)

	close(w.jobsChan)
	w.wg.Wait()

	w.logger.Info("Worker stopped")
	return nil
}

// Stop signals the worker to stop and waits for Start to return
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")

	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-w.stopped
}
