package saga_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/sagakit/pkg/queue"
	"github.com/dmitrymomot/sagakit/pkg/saga"
	"github.com/dmitrymomot/sagakit/pkg/saga/order"
	"github.com/dmitrymomot/sagakit/pkg/timeout"
)

// TestOrchestrator_QueueTimers runs the order saga on the durable timer path:
// QueueScheduler enqueues, the queue worker claims the due task and the
// dispatcher fires it back into the orchestrator.
func TestOrchestrator_QueueTimers(t *testing.T) {
	t.Parallel()

	const paymentTimeout = 150 * time.Millisecond

	storage := queue.NewMemoryStorage()
	t.Cleanup(func() { _ = storage.Close() })

	enq, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	m := order.Machine(paymentTimeout)
	store := saga.NewMemoryStore(nil)
	orch := saga.NewOrchestrator(store, saga.NewResolver(m), saga.NewEngine(m), timeout.NewQueueScheduler(enq))

	worker, err := queue.NewWorker(storage, queue.WithPullInterval(10*time.Millisecond))
	require.NoError(t, err)
	worker.RegisterHandlers(timeout.NewDispatcher(orch.FireTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(worker.Run(gctx))
	t.Cleanup(func() {
		cancel()
		_ = g.Wait()
	})

	unpaid, paid := uuid.NewString(), uuid.NewString()

	env, err := order.NewEvent(order.OrderCreated, unpaid)
	require.NoError(t, err)
	_, err = orch.Handle(ctx, env)
	require.NoError(t, err)

	env, err = order.NewEvent(order.OrderCreated, paid)
	require.NoError(t, err)
	created, err := orch.Handle(ctx, env)
	require.NoError(t, err)
	paidToken := *created.Instance.PendingTimeout

	env, err = order.NewEvent(order.PaymentReceived, paid)
	require.NoError(t, err)
	_, err = orch.Handle(ctx, env)
	require.NoError(t, err)

	// The unpaid order is cancelled by its timer.
	require.Eventually(t, func() bool {
		inst, err := store.Get(ctx, unpaid)
		return err == nil && inst.State == order.Finalized
	}, 3*time.Second, 10*time.Millisecond)

	inst := mustGet(t, store, unpaid)
	assert.Equal(t, int64(2), inst.Version)
	assert.Nil(t, inst.PendingTimeout)

	// The paid order's timer was cancelled and never fires.
	time.Sleep(2 * paymentTimeout)
	inst = mustGet(t, store, paid)
	assert.Equal(t, order.WaitingForShipping, inst.State)
	assert.Equal(t, int64(2), inst.Version)

	task, err := storage.GetTask(ctx, paidToken)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusCancelled, task.Status)
}
