package saga

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/sagakit/pkg/statemachine"
)

// DefaultTimeoutEvent is the event delivered when a scheduled timeout fires.
const DefaultTimeoutEvent statemachine.Event = "TimeoutExpired"

// TimeoutRequest asks for a timeout under a pre-allocated token.
type TimeoutRequest struct {
	Token uuid.UUID
	Delay time.Duration
}

// Plan is the result of applying an envelope to an instance. Nothing in it has
// happened yet: the orchestrator persists Instance first and only then carries
// out Cancel, Schedule and Logs.
type Plan struct {
	// Instance is the next value to persist. Version is the loaded one.
	Instance *Instance
	Outcome  statemachine.Outcome
	// Create is true when the instance does not exist yet.
	Create   bool
	Cancel   []uuid.UUID
	Schedule *TimeoutRequest
	Logs     []string
}

// Engine applies envelopes to instances using a state machine and keeps the
// instance's timeout bookkeeping consistent: at most one pending token, no
// token on a terminal instance, and fired tokens that no longer match are stale.
type Engine struct {
	machine      *statemachine.Machine
	timeoutEvent statemachine.Event
	newToken     func() uuid.UUID
	tokenless    bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTimeoutEvent sets the event that scheduled timeouts deliver.
func WithTimeoutEvent(e statemachine.Event) EngineOption {
	return func(en *Engine) {
		if e != "" {
			en.timeoutEvent = e
		}
	}
}

// WithTokenSource replaces uuid.New as the source of timeout tokens.
func WithTokenSource(f func() uuid.UUID) EngineOption {
	return func(en *Engine) {
		if f != nil {
			en.newToken = f
		}
	}
}

// WithTokenlessTimeouts accepts timeout events that carry no token, such as
// ones injected by an operator. By default only the timer may time a saga out.
func WithTokenlessTimeouts() EngineOption {
	return func(en *Engine) {
		en.tokenless = true
	}
}

func NewEngine(machine *statemachine.Machine, opts ...EngineOption) *Engine {
	e := &Engine{
		machine:      machine,
		timeoutEvent: DefaultTimeoutEvent,
		newToken:     uuid.New,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Machine() *statemachine.Machine {
	return e.machine
}

func (e *Engine) TimeoutEvent() statemachine.Event {
	return e.timeoutEvent
}

// NewToken allocates a timeout token from the engine's token source.
func (e *Engine) NewToken() uuid.UUID {
	return e.newToken()
}

// Apply computes the plan for env. inst is nil when no instance exists.
// The result depends only on inst, env and the token source; inst is not modified.
// Rejections wrap ErrInvalidTransition.
func (e *Engine) Apply(inst *Instance, env Envelope) (Plan, error) {
	current := e.machine.Initial()
	if inst != nil {
		current = inst.State
	}

	if env.Type == e.timeoutEvent {
		if env.TimeoutToken == nil && !e.tokenless {
			return Plan{}, fmt.Errorf("%w: %w", ErrInvalidTransition, ErrMissingTimeoutToken)
		}
		if inst != nil && env.TimeoutToken != nil && !inst.HasPendingTimeout(*env.TimeoutToken) {
			return Plan{}, fmt.Errorf("%w: stale timeout token %s in state %s", ErrInvalidTransition, env.TimeoutToken, current)
		}
	}

	out, err := e.machine.Apply(current, env.Type)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	}

	next := inst.Clone()
	if next == nil {
		next = &Instance{CorrelationID: env.CorrelationID}
	}
	next.State = out.To

	plan := Plan{
		Instance: next,
		Outcome:  out,
		Create:   inst == nil,
	}

	schedule := out.HasEffect(statemachine.EffectScheduleTimeout)
	if next.PendingTimeout != nil && (schedule || out.Terminal || out.From != out.To || out.HasEffect(statemachine.EffectCancelTimeout)) {
		// The token that just fired needs no cancel.
		if env.TimeoutToken == nil || *env.TimeoutToken != *next.PendingTimeout {
			plan.Cancel = append(plan.Cancel, *next.PendingTimeout)
		}
		next.PendingTimeout = nil
	}

	for _, eff := range out.Effects {
		switch eff.Kind {
		case statemachine.EffectScheduleTimeout:
			if out.Terminal {
				continue
			}
			token := e.newToken()
			next.PendingTimeout = &token
			plan.Schedule = &TimeoutRequest{Token: token, Delay: eff.Delay}
		case statemachine.EffectLog:
			plan.Logs = append(plan.Logs, eff.Message)
		}
	}

	return plan, nil
}
