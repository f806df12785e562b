package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLResultBackend keeps probe records in the task_results table
type SQLResultBackend struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLResultBackend creates a result backend on top of an open database
func NewSQLResultBackend(db *sqlx.DB) *SQLResultBackend {
	return &SQLResultBackend{db: db, now: time.Now}
}

func (b *SQLResultBackend) SetPending(ctx context.Context, taskID, jobID string) error {
	query := b.db.Rebind(`
		INSERT INTO task_results (task_id, job_id, state, updated_at)
		VALUES (?, ?, ?, ?)
	`)

	if _, err := b.db.ExecContext(ctx, query, taskID, jobID, string(TaskStatePending), b.now().UTC()); err != nil {
		return fmt.Errorf("failed to record pending task: %w", err)
	}
	return nil
}

func (b *SQLResultBackend) SetDone(ctx context.Context, taskID, jobID string, payload []byte) error {
	query := b.db.Rebind(`
		INSERT INTO task_results (task_id, job_id, state, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE
		SET state = excluded.state,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`)

	if _, err := b.db.ExecContext(ctx, query, taskID, jobID, string(TaskStateDone), string(payload), b.now().UTC()); err != nil {
		return fmt.Errorf("failed to record task result: %w", err)
	}
	return nil
}

func (b *SQLResultBackend) Get(ctx context.Context, taskID string) (TaskStatus, error) {
	var row struct {
		TaskID    string         `db:"task_id"`
		JobID     string         `db:"job_id"`
		State     string         `db:"state"`
		Payload   sql.NullString `db:"payload"`
		UpdatedAt time.Time      `db:"updated_at"`
	}

	query := b.db.Rebind(`SELECT task_id, job_id, state, payload, updated_at FROM task_results WHERE task_id = ?`)
	if err := b.db.GetContext(ctx, &row, query, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TaskStatus{TaskID: taskID, State: TaskStateUnknown}, nil
		}
		return TaskStatus{}, fmt.Errorf("failed to get task result: %w", err)
	}

	status := TaskStatus{
		TaskID:    row.TaskID,
		JobID:     row.JobID,
		State:     TaskState(row.State),
		UpdatedAt: row.UpdatedAt,
	}
	if row.Payload.Valid && row.Payload.String != "" {
		status.Payload = []byte(row.Payload.String)
	}
	return status, nil
}

func (b *SQLResultBackend) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := b.db.Rebind(`DELETE FROM task_results WHERE updated_at < ?`)

	res, err := b.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge task results: %w", err)
	}
	return res.RowsAffected()
}

func (b *SQLResultBackend) Delete(ctx context.Context, taskID string) error {
	query := b.db.Rebind(`DELETE FROM task_results WHERE task_id = ?`)

	if _, err := b.db.ExecContext(ctx, query, taskID); err != nil {
		return fmt.Errorf("failed to delete task result: %w", err)
	}
	return nil
}

// MemoryResultBackend keeps probe records in process memory
type MemoryResultBackend struct {
	mu    sync.RWMutex
	tasks map[string]TaskStatus
	now   func() time.Time
}

// NewMemoryResultBackend creates an empty in-memory result backend
func NewMemoryResultBackend() *MemoryResultBackend {
	return &MemoryResultBackend{
		tasks: make(map[string]TaskStatus),
		now:   time.Now,
	}
}

func (b *MemoryResultBackend) SetPending(_ context.Context, taskID, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks[taskID] = TaskStatus{TaskID: taskID, JobID: jobID, State: TaskStatePending, UpdatedAt: b.now()}
	return nil
}

func (b *MemoryResultBackend) SetDone(_ context.Context, taskID, jobID string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks[taskID] = TaskStatus{
		TaskID:    taskID,
		JobID:     jobID,
		State:     TaskStateDone,
		Payload:   append([]byte(nil), payload...),
		UpdatedAt: b.now(),
	}
	return nil
}

func (b *MemoryResultBackend) Get(_ context.Context, taskID string) (TaskStatus, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	status, ok := b.tasks[taskID]
	if !ok {
		return TaskStatus{TaskID: taskID, State: TaskStateUnknown}, nil
	}
	return status, nil
}

func (b *MemoryResultBackend) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var purged int64
	for id, status := range b.tasks {
		if status.UpdatedAt.Before(cutoff) {
			delete(b.tasks, id)
			purged++
		}
	}
	return purged, nil
}

func (b *MemoryResultBackend) Delete(_ context.Context, taskID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.tasks, taskID)
	return nil
}
