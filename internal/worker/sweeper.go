package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/doc-analyzer/internal/metrics"
	"github.com/cuongbtq/doc-analyzer/internal/queue"
	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the retention sweep at the top of every hour
const DefaultSweepSchedule = "@hourly"

// Sweeper evicts task result records older than the retention window.
// Evicted tokens probe as unknown; the job record is unaffected.
type Sweeper struct {
	cron      *cron.Cron
	results   queue.ResultBackend
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
}

// NewSweeper schedules the sweep with a standard cron expression or descriptor (@every 10m)
func NewSweeper(results queue.ResultBackend, schedule string, retention time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("result retention must be positive, got %s", retention)
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	s := &Sweeper{
		cron:      cron.New(),
		results:   results,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}

	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return s, nil
}

// Start begins the schedule
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("Task result sweeper started",
		slog.Duration("retention", s.retention),
	)
}

// Stop halts the schedule and waits for a running sweep, bounded by ctx
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("Task result sweeper stopped")
	case <-ctx.Done():
		s.logger.Warn("Task result sweeper stop timeout")
	}
	s.running = false
}

// Sweep deletes records last updated before now minus retention
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)

	purged, err := s.results.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	metrics.TaskResultsPurged.Add(float64(purged))
	if purged > 0 {
		s.logger.Info("Purged expired task results",
			slog.Int64("count", purged),
			slog.Time("cutoff", cutoff),
		)
	}
	return purged, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("Task result sweep failed",
			slog.String("error", err.Error()),
		)
	}
}
