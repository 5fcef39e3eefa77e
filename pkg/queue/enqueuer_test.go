package queue_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sagakit/pkg/queue"
)

type reminder struct {
	OrderID string `json:"order_id"`
}

func TestNewEnqueuer_NilRepository(t *testing.T) {
	t.Parallel()

	_, err := queue.NewEnqueuer(nil)
	assert.ErrorIs(t, err, queue.ErrRepositoryNil)
}

func TestEnqueuer_Enqueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("delayed task with caller-allocated id", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		ms := queue.NewMemoryStorage(queue.WithMemoryClock(clock.Now))
		t.Cleanup(func() { _ = ms.Close() })
		enq, err := queue.NewEnqueuer(ms, queue.WithEnqueuerClock(clock.Now))
		require.NoError(t, err)

		want := uuid.New()
		id, err := enq.Enqueue(ctx, reminder{OrderID: "o-1"},
			queue.WithTaskID(want),
			queue.WithDelay(10*time.Second),
			queue.WithTaskName("reminder"),
			queue.WithQueue("timeouts"),
			queue.WithMaxRetries(5),
		)
		require.NoError(t, err)
		assert.Equal(t, want, id)

		task, err := ms.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "reminder", task.TaskName)
		assert.Equal(t, "timeouts", task.Queue)
		assert.Equal(t, int8(5), task.MaxRetries)
		assert.Equal(t, queue.TaskTypeOneTime, task.TaskType)
		assert.Equal(t, clock.Now().Add(10*time.Second), task.ScheduledAt)

		var payload reminder
		require.NoError(t, json.Unmarshal(task.Payload, &payload))
		assert.Equal(t, "o-1", payload.OrderID)
	})

	t.Run("default task name is the payload type", func(t *testing.T) {
		t.Parallel()

		ms := queue.NewMemoryStorage()
		t.Cleanup(func() { _ = ms.Close() })
		enq, err := queue.NewEnqueuer(ms)
		require.NoError(t, err)

		id, err := enq.Enqueue(ctx, reminder{})
		require.NoError(t, err)

		task, err := ms.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.NewTaskHandler(func(context.Context, reminder) error { return nil }).Name(), task.TaskName)
	})

	t.Run("explicit schedule wins over delay", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		ms := queue.NewMemoryStorage()
		t.Cleanup(func() { _ = ms.Close() })
		enq, err := queue.NewEnqueuer(ms, queue.WithEnqueuerClock(clock.Now))
		require.NoError(t, err)

		at := clock.Now().Add(time.Hour)
		id, err := enq.Enqueue(ctx, reminder{}, queue.WithDelay(time.Second), queue.WithScheduledAt(at))
		require.NoError(t, err)

		task, err := ms.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, at, task.ScheduledAt)
	})

	t.Run("nil payload", func(t *testing.T) {
		t.Parallel()

		ms := queue.NewMemoryStorage()
		t.Cleanup(func() { _ = ms.Close() })
		enq, err := queue.NewEnqueuer(ms)
		require.NoError(t, err)

		_, err = enq.Enqueue(ctx, nil)
		assert.ErrorIs(t, err, queue.ErrPayloadNil)
	})

	t.Run("duplicate id", func(t *testing.T) {
		t.Parallel()

		ms := queue.NewMemoryStorage()
		t.Cleanup(func() { _ = ms.Close() })
		enq, err := queue.NewEnqueuer(ms)
		require.NoError(t, err)

		id := uuid.New()
		_, err = enq.Enqueue(ctx, reminder{}, queue.WithTaskID(id))
		require.NoError(t, err)
		_, err = enq.Enqueue(ctx, reminder{}, queue.WithTaskID(id))
		assert.ErrorIs(t, err, queue.ErrTaskAlreadyExists)
	})
}

func TestEnqueuer_Cancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ms := queue.NewMemoryStorage()
	t.Cleanup(func() { _ = ms.Close() })
	enq, err := queue.NewEnqueuer(ms)
	require.NoError(t, err)

	id, err := enq.Enqueue(ctx, reminder{}, queue.WithDelay(time.Hour))
	require.NoError(t, err)

	cancelled, err := enq.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, cancelled)

	cancelled, err = enq.Cancel(ctx, id)
	require.NoError(t, err)
	assert.False(t, cancelled)
}
