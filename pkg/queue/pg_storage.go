package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dmitrymomot/sagakit/pkg/pg"
)

// DB is the subset of *pgxpool.Pool used by PostgresStorage.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStorage implements all queue repository interfaces on PostgreSQL.
// Claims use FOR UPDATE SKIP LOCKED so any number of workers can share the table,
// and pending timers survive process restarts.
// Schema: migrations/00002_tasks.sql.
type PostgresStorage struct {
	db  DB
	now func() time.Time
}

// NewPostgresStorage creates a storage backed by the tasks and tasks_dlq tables.
func NewPostgresStorage(db DB) *PostgresStorage {
	return &PostgresStorage{db: db, now: time.Now}
}

const taskColumns = `id, queue, task_type, task_name, payload, status, retry_count, max_retries,
	scheduled_at, locked_until, locked_by, processed_at, error, created_at`

// CreateTask implements EnqueuerRepository and SchedulerRepository
func (s *PostgresStorage) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}

	_, err := s.db.Exec(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL, NULL, NULL, NULL, $10)`,
		task.ID, task.Queue, string(task.TaskType), task.TaskName, task.Payload, string(task.Status),
		int16(task.RetryCount), int16(task.MaxRetries), task.ScheduledAt, task.CreatedAt,
	)
	if pg.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", ErrTaskAlreadyExists, task.ID)
	}
	return err
}

// CancelTask implements EnqueuerRepository
func (s *PostgresStorage) CancelTask(ctx context.Context, taskID uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE tasks SET status = 'cancelled', processed_at = $2 WHERE id = $1 AND status = 'pending'`,
		taskID, s.now(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// GetTask returns the task with the given ID
func (s *PostgresStorage) GetTask(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	task, err := scanTask(s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID))
	if pg.IsNotFoundError(err) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return task, err
}

// GetPendingTaskByName implements SchedulerRepository
func (s *PostgresStorage) GetPendingTaskByName(ctx context.Context, taskName string) (*Task, error) {
	task, err := scanTask(s.db.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_name = $1 AND status = 'pending' ORDER BY scheduled_at LIMIT 1`,
		taskName,
	))
	if pg.IsNotFoundError(err) {
		return nil, nil
	}
	return task, err
}

// ClaimTask implements WorkerRepository
func (s *PostgresStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	now := s.now()
	task, err := scanTask(s.db.QueryRow(ctx, `UPDATE tasks
		SET status = 'processing', locked_by = $2, locked_until = $3
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = 'pending' AND queue = ANY($1) AND scheduled_at <= $4
			ORDER BY scheduled_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+taskColumns,
		queues, workerID, now.Add(lockDuration), now,
	))
	if pg.IsNotFoundError(err) {
		return nil, ErrNoTaskToClaim
	}
	return task, err
}

// CompleteTask implements WorkerRepository
func (s *PostgresStorage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `UPDATE tasks
		SET status = 'completed', processed_at = $2, locked_until = NULL, locked_by = NULL
		WHERE id = $1 AND status = 'processing'`,
		taskID, s.now(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotProcessing, taskID)
	}
	return nil
}

// FailTask implements WorkerRepository
func (s *PostgresStorage) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	tag, err := s.db.Exec(ctx, `UPDATE tasks SET
			retry_count = retry_count + 1,
			error = $2,
			locked_until = NULL,
			locked_by = NULL,
			status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
			scheduled_at = CASE WHEN retry_count + 1 >= max_retries THEN scheduled_at
				ELSE $3::timestamptz + (retry_count + 1) * interval '30 seconds' END
		WHERE id = $1 AND status = 'processing'`,
		taskID, errorMsg, s.now(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotProcessing, taskID)
	}
	return nil
}

// MoveToDLQ implements WorkerRepository
func (s *PostgresStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `WITH moved AS (
			DELETE FROM tasks WHERE id = $1 RETURNING *
		)
		INSERT INTO tasks_dlq (id, task_id, queue, task_type, task_name, payload, error, retry_count, failed_at, created_at)
		SELECT $2, id, queue, task_type, task_name, payload, COALESCE(error, ''), retry_count, $3, $3 FROM moved`,
		taskID, uuid.New(), s.now(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return nil
}

// ExtendLock implements WorkerRepository
func (s *PostgresStorage) ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE tasks SET locked_until = $2 WHERE id = $1 AND status = 'processing'`,
		taskID, s.now().Add(duration),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotProcessing, taskID)
	}
	return nil
}

// ReleaseExpiredLocks returns tasks held by crashed workers to pending.
// Run it periodically, e.g. as a periodic task.
func (s *PostgresStorage) ReleaseExpiredLocks(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE tasks
		SET status = 'pending', locked_until = NULL, locked_by = NULL
		WHERE status = 'processing' AND locked_until < $1`,
		s.now(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanTask(row pgx.Row) (*Task, error) {
	var (
		t                    Task
		taskType, status     string
		retryCount, maxRetry int16
		lockedBy             pgtype.UUID
	)
	err := row.Scan(
		&t.ID, &t.Queue, &taskType, &t.TaskName, &t.Payload, &status, &retryCount, &maxRetry,
		&t.ScheduledAt, &t.LockedUntil, &lockedBy, &t.ProcessedAt, &t.Error, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.TaskType = TaskType(taskType)
	t.Status = TaskStatus(status)
	t.RetryCount = int8(retryCount)
	t.MaxRetries = int8(maxRetry)
	if lockedBy.Valid {
		id := uuid.UUID(lockedBy.Bytes)
		t.LockedBy = &id
	}

	return &t, nil
}
