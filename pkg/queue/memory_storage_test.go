package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sagakit/pkg/queue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTask(clock *fakeClock, delay time.Duration, maxRetries int8) *queue.Task {
	return &queue.Task{
		ID:          uuid.New(),
		Queue:       queue.DefaultQueueName,
		TaskType:    queue.TaskTypeOneTime,
		TaskName:    "test",
		Payload:     []byte(`{}`),
		Status:      queue.TaskStatusPending,
		MaxRetries:  maxRetries,
		ScheduledAt: clock.Now().Add(delay),
		CreatedAt:   clock.Now(),
	}
}

func TestMemoryStorage_ClaimRespectsSchedule(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	ms := queue.NewMemoryStorage(queue.WithMemoryClock(clock.Now))
	t.Cleanup(func() { _ = ms.Close() })
	ctx := context.Background()
	workerID := uuid.New()

	task := newTask(clock, 10*time.Second, 3)
	require.NoError(t, ms.CreateTask(ctx, task))

	_, err := ms.ClaimTask(ctx, workerID, []string{queue.DefaultQueueName}, time.Minute)
	require.ErrorIs(t, err, queue.ErrNoTaskToClaim)

	clock.Advance(10 * time.Second)

	claimed, err := ms.ClaimTask(ctx, workerID, []string{queue.DefaultQueueName}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, task.ID, claimed.ID)
	assert.Equal(t, queue.TaskStatusProcessing, claimed.Status)
	require.NotNil(t, claimed.LockedBy)
	assert.Equal(t, workerID, *claimed.LockedBy)

	_, err = ms.ClaimTask(ctx, workerID, []string{queue.DefaultQueueName}, time.Minute)
	assert.ErrorIs(t, err, queue.ErrNoTaskToClaim)
}

func TestMemoryStorage_ClaimEarliestFirst(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	ms := queue.NewMemoryStorage(queue.WithMemoryClock(clock.Now))
	t.Cleanup(func() { _ = ms.Close() })
	ctx := context.Background()

	late := newTask(clock, 5*time.Second, 0)
	early := newTask(clock, time.Second, 0)
	require.NoError(t, ms.CreateTask(ctx, late))
	require.NoError(t, ms.CreateTask(ctx, early))

	clock.Advance(time.Minute)

	first, err := ms.ClaimTask(ctx, uuid.New(), []string{queue.DefaultQueueName}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, early.ID, first.ID)
}

func TestMemoryStorage_ClaimFiltersQueues(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	ms := queue.NewMemoryStorage(queue.WithMemoryClock(clock.Now))
	t.Cleanup(func() { _ = ms.Close() })
	ctx := context.Background()

	task := newTask(clock, 0, 0)
	task.Queue = "timeouts"
	require.NoError(t, ms.CreateTask(ctx, task))

	_, err := ms.ClaimTask(ctx, uuid.New(), []string{queue.DefaultQueueName}, time.Minute)
	require.ErrorIs(t, err, queue.ErrNoTaskToClaim)

	claimed, err := ms.ClaimTask(ctx, uuid.New(), []string{"timeouts"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, task.ID, claimed.ID)
}

func TestMemoryStorage_DuplicateID(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	ms := queue.NewMemoryStorage(queue.WithMemoryClock(clock.Now))
	t.Cleanup(func() { _ = ms.Close() })

	task := newTask(clock, 0, 0)
	require.NoError(t, ms.CreateTask(context.Background(), task))
	assert.ErrorIs(t, ms.CreateTask(context.Background(), task), queue.ErrTaskAlreadyExists)
}

func TestMemoryStorage_CancelTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("pending task is never claimed", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		ms := queue.NewMemoryStorage(queue.WithMemoryClock(clock.Now))
		t.Cleanup(func() { _ = ms.Close() })

		task := newTask(clock, time.Second, 0)
		require.NoError(t, ms.CreateTask(ctx, task))

		cancelled, err := ms.CancelTask(ctx, task.ID)
		require.NoError(t, err)
		assert.True(t, cancelled)

		clock.Advance(time.Hour)
		_, err = ms.ClaimTask(ctx, uuid.New(), []string{queue.DefaultQueueName}, time.Minute)
		assert.ErrorIs(t, err, queue.ErrNoTaskToClaim)

		stored, err := ms.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.TaskStatusCancelled, stored.Status)
	})

	t.Run("claimed task cannot be cancelled", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		ms := queue.NewMemoryStorage(queue.WithMemoryClock(clock.Now))
		t.Cleanup(func() { _ = ms.Close() })

		task := newTask(clock, 0, 0)
		require.NoError(t, ms.CreateTask(ctx, task))
		_, err := ms.ClaimTask(ctx, uuid.New(), []string{queue.DefaultQueueName}, time.Minute)
		require.NoError(t, err)

		cancelled, err := ms.CancelTask(ctx, task.ID)
		require.NoError(t, err)
		assert.False(t, cancelled)
	})

	t.Run("unknown task", func(t *testing.T) {
		t.Parallel()

		ms := queue.NewMemoryStorage()
		t.Cleanup(func() { _ = ms.Close() })

		cancelled, err := ms.CancelTask(ctx, uuid.New())
		require.NoError(t, err)
		assert.False(t, cancelled)
	})
}

func TestMemoryStorage_FailTask(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	ms := queue.NewMemoryStorage(queue.WithMemoryClock(clock.Now))
	t.Cleanup(func() { _ = ms.Close() })
	ctx := context.Background()
	queues := []string{queue.DefaultQueueName}

	task := newTask(clock, 0, 2)
	require.NoError(t, ms.CreateTask(ctx, task))

	_, err := ms.ClaimTask(ctx, uuid.New(), queues, time.Minute)
	require.NoError(t, err)
	require.NoError(t, ms.FailTask(ctx, task.ID, "boom"))

	stored, err := ms.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusPending, stored.Status)
	assert.Equal(t, int8(1), stored.RetryCount)
	assert.Equal(t, clock.Now().Add(30*time.Second), stored.ScheduledAt)
	require.NotNil(t, stored.Error)
	assert.Equal(t, "boom", *stored.Error)

	clock.Advance(30 * time.Second)
	_, err = ms.ClaimTask(ctx, uuid.New(), queues, time.Minute)
	require.NoError(t, err)
	require.NoError(t, ms.FailTask(ctx, task.ID, "boom again"))

	stored, err = ms.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusFailed, stored.Status)

	assert.ErrorIs(t, ms.FailTask(ctx, task.ID, "not processing"), queue.ErrTaskNotProcessing)
}

func TestMemoryStorage_MoveToDLQ(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	ms := queue.NewMemoryStorage(queue.WithMemoryClock(clock.Now))
	t.Cleanup(func() { _ = ms.Close() })
	ctx := context.Background()

	task := newTask(clock, 0, 0)
	require.NoError(t, ms.CreateTask(ctx, task))
	require.NoError(t, ms.MoveToDLQ(ctx, task.ID))

	_, err := ms.GetTask(ctx, task.ID)
	require.ErrorIs(t, err, queue.ErrTaskNotFound)

	dlq := ms.DLQ()
	require.Len(t, dlq, 1)
	assert.Equal(t, task.ID, dlq[0].TaskID)
	assert.Equal(t, task.TaskName, dlq[0].TaskName)

	assert.ErrorIs(t, ms.MoveToDLQ(ctx, task.ID), queue.ErrTaskNotFound)
}

func TestMemoryStorage_GetPendingTaskByName(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	ms := queue.NewMemoryStorage(queue.WithMemoryClock(clock.Now))
	t.Cleanup(func() { _ = ms.Close() })
	ctx := context.Background()

	got, err := ms.GetPendingTaskByName(ctx, "test")
	require.NoError(t, err)
	assert.Nil(t, got)

	task := newTask(clock, time.Minute, 0)
	require.NoError(t, ms.CreateTask(ctx, task))

	got, err = ms.GetPendingTaskByName(ctx, "test")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
}

func TestMemoryStorage_ExpiredLockIsReleased(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	ms := queue.NewMemoryStorage(queue.WithMemoryClock(clock.Now))
	t.Cleanup(func() { _ = ms.Close() })
	ctx := context.Background()
	queues := []string{queue.DefaultQueueName}

	task := newTask(clock, 0, 0)
	require.NoError(t, ms.CreateTask(ctx, task))
	_, err := ms.ClaimTask(ctx, uuid.New(), queues, time.Second)
	require.NoError(t, err)

	clock.Advance(time.Minute)

	require.Eventually(t, func() bool {
		claimed, err := ms.ClaimTask(ctx, uuid.New(), queues, time.Minute)
		return err == nil && claimed.ID == task.ID
	}, 3*time.Second, 50*time.Millisecond)
}
