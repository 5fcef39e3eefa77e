package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dmitrymomot/sagakit/pkg/logger"
	"github.com/dmitrymomot/sagakit/pkg/queue"
	"github.com/dmitrymomot/sagakit/pkg/statemachine"
	"github.com/dmitrymomot/sagakit/pkg/timeout"
)

// ReconcileTaskName is the periodic queue task that runs the reconciler.
const ReconcileTaskName = "saga.reconcile"

// minRemaining is the delay used for timeouts whose deadline already passed.
const minRemaining = time.Millisecond

// DefaultOverdueGrace is how long past its deadline a timeout may stay
// undelivered before the reconciler replaces it.
const DefaultOverdueGrace = 30 * time.Second

// Reconciler repairs instances in a timed state whose timeout will never fire:
// those without a pending token, left behind when scheduling failed after the
// commit, and those whose token is overdue by more than the grace period,
// left behind when clearing an unscheduled token failed as well. It gives each
// one a new token and schedules the remaining delay, measured from the
// instance's last update. A replaced token that fires later is stale.
type Reconciler struct {
	store     Store
	lister    StalledLister
	engine    *Engine
	scheduler timeout.Scheduler
	batch     int
	grace     time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithBatchSize limits how many instances one pass repairs.
func WithBatchSize(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.batch = n
		}
	}
}

// WithOverdueGrace sets how long a pending timeout may be overdue before it is
// replaced. Keep it above the timer worker's expected delivery lag.
func WithOverdueGrace(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.grace = d
		}
	}
}

func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

func NewReconciler(store Store, lister StalledLister, engine *Engine, scheduler timeout.Scheduler, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:     store,
		lister:    lister,
		engine:    engine,
		scheduler: scheduler,
		batch:     100,
		grace:     DefaultOverdueGrace,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logger.Component("saga.reconciler"))
	return r
}

// Reconcile runs one pass and returns how many instances got a timeout.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	stalled, err := r.listStalled(ctx)
	if err != nil {
		return 0, err
	}

	var (
		repaired int
		errs     []error
	)
	for _, inst := range stalled {
		ok, err := r.repair(ctx, inst)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			repaired++
		}
	}

	if repaired > 0 || len(errs) > 0 {
		r.logger.InfoContext(ctx, "reconciliation pass finished",
			slog.Int("stalled", len(stalled)),
			slog.Int("repaired", repaired),
			logger.Errors(errs...))
	}

	return repaired, errors.Join(errs...)
}

// listStalled queries each timed state with its own overdue cutoff and keeps
// the oldest batch across all of them.
func (r *Reconciler) listStalled(ctx context.Context) ([]*Instance, error) {
	m := r.engine.Machine()
	now := r.now()

	var out []*Instance
	for _, st := range m.TimedStates() {
		delay, _ := m.TimeoutFor(st)
		cutoff := now.Add(-delay - r.grace)
		found, err := r.lister.ListStalled(ctx, []statemachine.State{st}, cutoff, r.batch)
		if err != nil {
			return nil, fmt.Errorf("list stalled sagas in %s: %w", st, err)
		}
		out = append(out, found...)
	}

	slices.SortFunc(out, func(a, b *Instance) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})
	if len(out) > r.batch {
		out = out[:r.batch]
	}
	return out, nil
}

func (r *Reconciler) repair(ctx context.Context, inst *Instance) (bool, error) {
	delay, ok := r.engine.Machine().TimeoutFor(inst.State)
	if !ok {
		return false, nil
	}

	remaining := inst.UpdatedAt.Add(delay).Sub(r.now())
	if remaining < minRemaining {
		remaining = minRemaining
	}

	replaced := inst.PendingTimeout
	token := r.engine.NewToken()
	next := inst.Clone()
	next.PendingTimeout = &token

	saved, err := r.store.Update(ctx, next, inst.Version)
	if errors.Is(err, ErrVersionConflict) {
		// Someone else moved the instance since it was listed.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("persist token for %s: %w", inst.CorrelationID, err)
	}

	if replaced != nil {
		if err := r.scheduler.Cancel(ctx, *replaced); err != nil {
			r.logger.WarnContext(ctx, "failed to cancel overdue timeout",
				logger.CorrelationID(inst.CorrelationID),
				logger.Token(*replaced),
				logger.Error(err))
		}
	}

	if _, err := r.scheduler.Schedule(ctx, saved.CorrelationID, remaining, timeout.WithToken(token)); err != nil {
		err = fmt.Errorf("schedule timeout for %s: %w", saved.CorrelationID, err)
		cleared := saved.Clone()
		cleared.PendingTimeout = nil
		if _, cerr := r.store.Update(ctx, cleared, saved.Version); cerr != nil && !errors.Is(cerr, ErrVersionConflict) {
			// The token stays; the instance comes back once it is overdue.
			err = errors.Join(err, fmt.Errorf("clear token for %s: %w", saved.CorrelationID, cerr))
		}
		return false, err
	}

	r.logger.InfoContext(ctx, "timeout rescheduled",
		logger.CorrelationID(saved.CorrelationID),
		logger.State(saved.State.Name()),
		logger.Token(token),
		slog.Duration("remaining", remaining),
		slog.Bool("overdue", replaced != nil))

	return true, nil
}

// Handler returns the periodic queue handler that runs Reconcile.
// Register ReconcileTaskName on a queue.Scheduler to drive it.
func (r *Reconciler) Handler() queue.Handler {
	return queue.NewPeriodicTaskHandler(ReconcileTaskName, func(ctx context.Context) error {
		_, err := r.Reconcile(ctx)
		return err
	})
}
