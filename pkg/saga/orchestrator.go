package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/sagakit/pkg/feed"
	"github.com/dmitrymomot/sagakit/pkg/logger"
	"github.com/dmitrymomot/sagakit/pkg/statemachine"
	"github.com/dmitrymomot/sagakit/pkg/timeout"
)

// Orchestrator handles one envelope at a time per call: resolve, load or
// create, apply, persist under a version check, then perform effects.
// Calls for different correlation ids run fully in parallel; calls for the
// same id are serialized only by the store's version check.
type Orchestrator struct {
	store       Store
	resolver    *Resolver
	engine      *Engine
	scheduler   timeout.Scheduler
	feed        feed.Publisher[Transitioned]
	maxAttempts int
	effectsWait time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewOrchestrator wires the orchestrator's collaborators explicitly.
func NewOrchestrator(store Store, resolver *Resolver, engine *Engine, scheduler timeout.Scheduler, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		resolver:    resolver,
		engine:      engine,
		scheduler:   scheduler,
		maxAttempts: 3,
		effectsWait: 5 * time.Second,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(logger.Component("saga.orchestrator"))
	return o
}

// Handle processes env.
//
// A rejected event (invalid for the current state, a duplicate, a stale
// timeout) returns a Result with Accepted false and a nil error. Errors are
// returned for malformed envelopes, ErrNotFound, ErrConflictRetriesExhausted
// and store failures; the transport should redeliver those.
func (o *Orchestrator) Handle(ctx context.Context, env Envelope) (*Result, error) {
	corr, err := o.resolver.Resolve(ctx, env)
	if err != nil {
		o.logger.WarnContext(ctx, "envelope rejected",
			logger.CorrelationID(env.CorrelationID),
			logger.EventType(env.Type.Name()),
			logger.MessageID(env.MessageID),
			logger.Error(err))
		return nil, err
	}
	env.CorrelationID = corr.ID

	ctx = logger.ContextWithAttrs(ctx,
		logger.CorrelationID(corr.ID),
		logger.EventType(env.Type.Name()))

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		res, err := o.handleOnce(ctx, env, corr)
		if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrAlreadyExists) {
			o.logger.DebugContext(ctx, "lost version race, retrying",
				logger.Attempt(attempt),
				logger.Error(err))
			continue
		}
		if err != nil {
			o.logger.ErrorContext(ctx, "failed to handle event", logger.Error(err))
		}
		return res, err
	}

	err = fmt.Errorf("%w: %d attempts for %s", ErrConflictRetriesExhausted, o.maxAttempts, corr.ID)
	o.logger.ErrorContext(ctx, "giving up on event", logger.Error(err))
	return nil, err
}

func (o *Orchestrator) handleOnce(ctx context.Context, env Envelope, corr Correlation) (*Result, error) {
	inst, err := o.store.Get(ctx, corr.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		if !corr.Initiating {
			return nil, fmt.Errorf("%w: %s cannot start saga %s", ErrNotFound, env.Type, corr.ID)
		}
		inst = nil
	case err != nil:
		return nil, fmt.Errorf("load saga %s: %w", corr.ID, err)
	}

	plan, err := o.engine.Apply(inst, env)
	if errors.Is(err, ErrInvalidTransition) {
		res := &Result{Accepted: false, Instance: inst, Reason: err}
		if inst != nil {
			res.From, res.To = inst.State, inst.State
		}
		o.logger.WarnContext(ctx, "event ignored", logger.Error(err))
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	var saved *Instance
	if plan.Create {
		saved, err = o.store.Create(ctx, plan.Instance)
	} else {
		saved, err = o.store.Update(ctx, plan.Instance, inst.Version)
	}
	if err != nil {
		return nil, err
	}

	saved = o.afterCommit(ctx, env, plan, saved)

	return &Result{
		Accepted: true,
		From:     plan.Outcome.From,
		To:       plan.Outcome.To,
		Instance: saved,
	}, nil
}

// afterCommit performs the plan's effects. Failures here never undo the
// committed transition. The effects run even if the caller's context is done,
// bounded by their own timeout.
func (o *Orchestrator) afterCommit(ctx context.Context, env Envelope, plan Plan, saved *Instance) *Instance {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.effectsWait)
	defer cancel()

	for _, token := range plan.Cancel {
		if err := o.scheduler.Cancel(ctx, token); err != nil {
			// A timeout that still fires carries a token that no longer matches and is rejected.
			o.logger.ErrorContext(ctx, "failed to cancel timeout", logger.Token(token), logger.Error(err))
		}
	}

	if req := plan.Schedule; req != nil {
		if _, err := o.scheduler.Schedule(ctx, saved.CorrelationID, req.Delay, timeout.WithToken(req.Token)); err != nil {
			o.logger.ErrorContext(ctx, "failed to schedule timeout, instance left for reconciliation",
				logger.State(saved.State.Name()),
				logger.Token(req.Token),
				logger.Error(err))
			saved = o.clearToken(ctx, saved)
		}
	}

	for _, msg := range plan.Logs {
		o.logger.InfoContext(ctx, msg,
			logger.Transition(plan.Outcome.From.Name(), plan.Outcome.To.Name()),
			logger.Version(saved.Version))
	}

	if o.feed != nil {
		o.feed.Publish(ctx, Transitioned{
			CorrelationID: saved.CorrelationID,
			Event:         env.Type,
			From:          plan.Outcome.From,
			To:            plan.Outcome.To,
			Version:       saved.Version,
			Terminal:      plan.Outcome.Terminal,
			At:            o.now().UTC(),
		})
	}

	return saved
}

// clearToken drops a token that was never scheduled so the reconciler can see
// the instance at once. Losing the race to a newer writer is fine: that writer
// owns the token bookkeeping now. If the clear fails too, the reconciler still
// picks the instance up once its timeout is overdue.
func (o *Orchestrator) clearToken(ctx context.Context, saved *Instance) *Instance {
	cleared := saved.Clone()
	cleared.PendingTimeout = nil

	updated, err := o.store.Update(ctx, cleared, saved.Version)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to clear unscheduled timeout token",
			logger.Token(saved.PendingTimeout),
			logger.Error(err))
		return saved
	}
	return updated
}

// FireTimeout delivers a fired ticket as a timeout event. It is the FireFunc
// for timeout.NewDispatcher. Only errors worth a redelivery are returned.
func (o *Orchestrator) FireTimeout(ctx context.Context, t timeout.Ticket) error {
	token := t.Token
	env := Envelope{
		Type:          o.engine.TimeoutEvent(),
		CorrelationID: t.CorrelationID,
		MessageID:     token,
		TimeoutToken:  &token,
		OccurredAt:    o.now().UTC(),
	}

	_, err := o.Handle(ctx, env)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidCorrelationID) {
		return nil
	}
	return err
}

// TimeoutEvent is the event only the timer may deliver.
func (o *Orchestrator) TimeoutEvent() statemachine.Event {
	return o.engine.TimeoutEvent()
}

// Get returns the stored instance for correlationID, in any spelling the
// resolver accepts.
func (o *Orchestrator) Get(ctx context.Context, correlationID string) (*Instance, error) {
	id, err := o.resolver.Canonical(correlationID)
	if err != nil {
		return nil, err
	}
	return o.store.Get(ctx, id)
}
