package statemachine

import (
	"fmt"
	"slices"
	"time"
)

// Definition is the declarative description of a state machine.
type Definition struct {
	Name        string
	Initial     State // Pseudo-state of an instance that does not exist yet
	Terminal    []State
	Transitions []Transition
}

// Machine interprets a validated Definition.
// It holds no per-instance state, so a single Machine is shared by all instances
// and is safe for concurrent use without locking.
type Machine struct {
	name       string
	initial    State
	table      map[State]map[Event]Transition // [from][event] -> transition
	states     []State
	terminal   map[State]struct{}
	initiating map[Event]struct{}
	timed      map[State]time.Duration
}

// New validates the definition and builds a machine from it.
func New(def Definition) (*Machine, error) {
	if def.Initial == "" {
		return nil, ErrMissingInitialState
	}

	m := &Machine{
		name:       def.Name,
		initial:    def.Initial,
		table:      make(map[State]map[Event]Transition),
		terminal:   make(map[State]struct{}),
		initiating: make(map[Event]struct{}),
		timed:      make(map[State]time.Duration),
	}
	m.addState(def.Initial)

	for _, s := range def.Terminal {
		if s == "" {
			return nil, fmt.Errorf("terminal state: %w", ErrInvalidTransition)
		}
		m.terminal[s] = struct{}{}
		m.addState(s)
	}

	for i, t := range def.Transitions {
		if err := m.addTransition(t); err != nil {
			return nil, fmt.Errorf("failed to add transition[%d] %s->%s on %s: %w",
				i, nameOr(t.From.Name()), nameOr(t.To.Name()), nameOr(t.Event.Name()), err)
		}
	}

	return m, nil
}

// MustNew is like New but panics on an invalid definition.
// Definitions are static program data, so a bad one should prevent startup.
func MustNew(def Definition) *Machine {
	m, err := New(def)
	if err != nil {
		panic(fmt.Sprintf("failed to create state machine: %v", err))
	}
	return m
}

func (m *Machine) addTransition(t Transition) error {
	if t.From == "" || t.To == "" || t.Event == "" {
		return ErrInvalidTransition
	}
	if m.IsTerminal(t.From) {
		return ErrTerminalTransition
	}
	if _, ok := m.table[t.From][t.Event]; ok {
		return ErrDuplicateTransition
	}

	for _, e := range t.Effects {
		if err := validateEffect(e); err != nil {
			return err
		}
		if e.Kind == EffectScheduleTimeout {
			m.timed[t.To] = e.Delay
		}
	}

	if _, ok := m.table[t.From]; !ok {
		m.table[t.From] = make(map[Event]Transition)
	}
	t.Effects = slices.Clone(t.Effects)
	m.table[t.From][t.Event] = t

	if t.From == m.initial {
		m.initiating[t.Event] = struct{}{}
	}
	m.addState(t.From)
	m.addState(t.To)

	return nil
}

func (m *Machine) addState(s State) {
	if !slices.Contains(m.states, s) {
		m.states = append(m.states, s)
	}
}

func validateEffect(e Effect) error {
	switch e.Kind {
	case EffectScheduleTimeout:
		if e.Delay <= 0 {
			return fmt.Errorf("%w: timeout delay must be positive", ErrInvalidEffect)
		}
	case EffectCancelTimeout, EffectLog:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEffect, e.Kind)
	}
	return nil
}

// Apply computes the outcome of event in the current state.
// It is a pure function of its arguments: no hidden state is read or written.
func (m *Machine) Apply(current State, event Event) (Outcome, error) {
	if event == "" {
		return Outcome{}, ErrInvalidEvent
	}
	if !m.Valid(current) {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownState, current)
	}

	t, ok := m.table[current][event]
	if !ok {
		return Outcome{}, NewErrNoTransitionAvailable(current.Name(), event.Name(), m.IsTerminal(current))
	}

	return Outcome{
		From:     t.From,
		To:       t.To,
		Event:    event,
		Effects:  slices.Clone(t.Effects),
		Terminal: m.IsTerminal(t.To),
	}, nil
}

// CanApply reports whether event is defined for the current state.
func (m *Machine) CanApply(current State, event Event) bool {
	_, ok := m.table[current][event]
	return ok
}

// Fold replays events from the initial state, skipping the ones that are not
// accepted, and returns the resulting state.
func (m *Machine) Fold(events ...Event) State {
	state := m.initial
	for _, e := range events {
		if out, err := m.Apply(state, e); err == nil {
			state = out.To
		}
	}
	return state
}

func (m *Machine) Name() string {
	return m.name
}

// Initial returns the pseudo-state of instances that do not exist yet.
func (m *Machine) Initial() State {
	return m.initial
}

// States returns all states known to the machine in declaration order.
func (m *Machine) States() []State {
	return slices.Clone(m.states)
}

func (m *Machine) Valid(s State) bool {
	return slices.Contains(m.states, s)
}

func (m *Machine) IsTerminal(s State) bool {
	_, ok := m.terminal[s]
	return ok
}

// IsInitiating reports whether event can create a new instance.
func (m *Machine) IsInitiating(event Event) bool {
	_, ok := m.initiating[event]
	return ok
}

// TimeoutFor returns the timeout scheduled on entry to state, if any.
func (m *Machine) TimeoutFor(s State) (time.Duration, bool) {
	d, ok := m.timed[s]
	return d, ok
}

// TimedStates returns the states that are entered with a scheduled timeout.
func (m *Machine) TimedStates() []State {
	out := make([]State, 0, len(m.timed))
	for _, s := range m.states {
		if _, ok := m.timed[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func nameOr(s string) string {
	if s == "" {
		return "<empty>"
	}
	return s
}
