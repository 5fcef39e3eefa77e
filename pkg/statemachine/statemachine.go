package statemachine

import "time"

// State is a named state of a saga definition.
type State string

func (s State) Name() string {
	return string(s)
}

// Event is a named trigger that may move an instance between states.
type Event string

func (e Event) Name() string {
	return string(e)
}

// EffectKind identifies a side effect declared on a transition.
type EffectKind string

const (
	EffectScheduleTimeout EffectKind = "schedule_timeout"
	EffectCancelTimeout   EffectKind = "cancel_timeout"
	EffectLog             EffectKind = "log"
)

// Effect is a side effect the caller must perform once the transition is committed.
// The machine never performs effects itself.
type Effect struct {
	Kind    EffectKind
	Delay   time.Duration // schedule_timeout only
	Message string        // log only
}

// ScheduleTimeout declares a delayed timeout event for the instance.
func ScheduleTimeout(delay time.Duration) Effect {
	return Effect{Kind: EffectScheduleTimeout, Delay: delay}
}

// CancelTimeout declares that the instance's pending timeout must be cancelled.
func CancelTimeout() Effect {
	return Effect{Kind: EffectCancelTimeout}
}

// Log declares a human-readable log line for the transition.
func Log(message string) Effect {
	return Effect{Kind: EffectLog, Message: message}
}

// Transition is a single row of the transition table.
type Transition struct {
	From    State
	Event   Event
	To      State
	Effects []Effect // Performed in order after the state change is persisted
}

// Outcome is the result of applying an event to a state.
type Outcome struct {
	From     State
	To       State
	Event    Event
	Effects  []Effect
	Terminal bool
}

// HasEffect reports whether the outcome declares an effect of the given kind.
func (o Outcome) HasEffect(kind EffectKind) bool {
	for _, e := range o.Effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}
