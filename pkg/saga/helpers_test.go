package saga_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sagakit/pkg/saga"
	"github.com/dmitrymomot/sagakit/pkg/saga/order"
	"github.com/dmitrymomot/sagakit/pkg/statemachine"
	"github.com/dmitrymomot/sagakit/pkg/timeout"
)

var (
	errSchedulerDown = errors.New("scheduler down")
	errStoreDown     = errors.New("store down")
)

// fakeScheduler records tickets and lets tests fire them by hand.
type fakeScheduler struct {
	mu        sync.Mutex
	pending   map[uuid.UUID]timeout.Ticket
	delays    map[uuid.UUID]time.Duration
	cancelled []uuid.UUID
	fail      bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		pending: make(map[uuid.UUID]timeout.Ticket),
		delays:  make(map[uuid.UUID]time.Duration),
	}
}

func (f *fakeScheduler) Schedule(_ context.Context, correlationID string, delay time.Duration, opts ...timeout.ScheduleOption) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return uuid.Nil, errSchedulerDown
	}
	o := timeout.ResolveOptions(opts...)
	f.pending[o.Token] = timeout.Ticket{Token: o.Token, CorrelationID: correlationID, FireAt: time.Now().Add(delay)}
	f.delays[o.Token] = delay
	return o.Token, nil
}

func (f *fakeScheduler) Cancel(_ context.Context, token uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.pending, token)
	f.cancelled = append(f.cancelled, token)
	return nil
}

func (f *fakeScheduler) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

// take removes and returns the ticket for token, as a delivery would.
func (f *fakeScheduler) take(token uuid.UUID) (timeout.Ticket, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.pending[token]
	delete(f.pending, token)
	return t, ok
}

func (f *fakeScheduler) pendingFor(correlationID string) []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uuid.UUID
	for token, t := range f.pending {
		if t.CorrelationID == correlationID {
			out = append(out, token)
		}
	}
	return out
}

func (f *fakeScheduler) delay(token uuid.UUID) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delays[token]
}

// ctxScheduler fails once the caller's context is done, like a networked scheduler.
type ctxScheduler struct {
	*fakeScheduler
}

func (c ctxScheduler) Schedule(ctx context.Context, correlationID string, delay time.Duration, opts ...timeout.ScheduleOption) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	return c.fakeScheduler.Schedule(ctx, correlationID, delay, opts...)
}

func (c ctxScheduler) Cancel(ctx context.Context, token uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.fakeScheduler.Cancel(ctx, token)
}

// flakyStore honours the caller's context and fails the updates picked by
// failUpdate, counted from 1.
type flakyStore struct {
	*saga.MemoryStore
	afterCreate func()
	failUpdate  func(n int32) bool
	updates     atomic.Int32
}

func (s *flakyStore) Create(ctx context.Context, inst *saga.Instance) (*saga.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := s.MemoryStore.Create(ctx, inst)
	if err == nil && s.afterCreate != nil {
		s.afterCreate()
	}
	return out, err
}

func (s *flakyStore) Update(ctx context.Context, inst *saga.Instance, expectedVersion int64) (*saga.Instance, error) {
	n := s.updates.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.failUpdate != nil && s.failUpdate(n) {
		return nil, errStoreDown
	}
	return s.MemoryStore.Update(ctx, inst, expectedVersion)
}

type harness struct {
	store *saga.MemoryStore
	sched *fakeScheduler
	eng   *saga.Engine
	orch  *saga.Orchestrator
}

func newHarness(t *testing.T, opts ...saga.OrchestratorOption) *harness {
	t.Helper()

	m := order.Machine(order.DefaultPaymentTimeout)
	h := &harness{
		store: saga.NewMemoryStore(nil),
		sched: newFakeScheduler(),
		eng:   saga.NewEngine(m),
	}
	h.orch = saga.NewOrchestrator(h.store, saga.NewResolver(m), h.eng, h.sched, opts...)
	return h
}

func (h *harness) send(t *testing.T, event statemachine.Event, id string) *saga.Result {
	t.Helper()

	env, err := order.NewEvent(event, id)
	require.NoError(t, err)
	res, err := h.orch.Handle(context.Background(), env)
	require.NoError(t, err)
	return res
}

func (h *harness) get(t *testing.T, id string) *saga.Instance {
	t.Helper()

	inst, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return inst
}
