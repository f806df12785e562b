package worker

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/doc-analyzer/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSweeper_Validation(t *testing.T) {
	results := queue.NewMemoryResultBackend()

	_, err := NewSweeper(results, "@hourly", 0, discardLogger())
	assert.Error(t, err)

	_, err = NewSweeper(results, "every now and then", time.Hour, discardLogger())
	assert.Error(t, err)

	s, err := NewSweeper(results, "", time.Hour, discardLogger())
	require.NoError(t, err)
	s.Start()
	s.Start()
	s.Stop(context.Background())
	s.Stop(context.Background())
}

func TestSweeper_Sweep(t *testing.T) {
	ctx := context.Background()
	results := queue.NewMemoryResultBackend()
	require.NoError(t, results.SetPending(ctx, "task-1", "job-1"))
	require.NoError(t, results.SetDone(ctx, "task-2", "job-2", []byte(`{}`)))

	s, err := NewSweeper(results, "@every 1h", time.Hour, discardLogger())
	require.NoError(t, err)

	purged, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), purged, "fresh records are kept")

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	purged, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	status, err := results.Get(ctx, "task-2")
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStateUnknown, status.State)
}
