// Package statemachine provides a data-driven finite-state-machine interpreter
// for saga definitions.
//
// A machine is built from a Definition: an explicit transition table of
// (from state, event) -> (to state, effects) rows plus the initial
// pseudo-state and the set of terminal states. The interpreter answers one
// question, "what happens if this event arrives in this state", and never
// mutates anything itself:
//  1. Apply is a pure function of (state, event), which makes replay and
//     testing deterministic
//  2. Undefined pairs are reported as *ErrNoTransitionAvailable instead of
//     being ignored
//  3. Terminal states cannot declare outgoing transitions, so a finalized
//     instance rejects every event
//  4. Side effects (timeouts, log lines) are returned as data for the caller
//     to perform after the new state has been persisted
//
// # Usage
//
//	const (
//	    Initial   = statemachine.State("Initial")
//	    Waiting   = statemachine.State("Waiting")
//	    Done      = statemachine.State("Done")
//	    Created   = statemachine.Event("Created")
//	    Completed = statemachine.Event("Completed")
//	)
//
//	m := statemachine.MustNew(statemachine.Definition{
//	    Name:     "job",
//	    Initial:  Initial,
//	    Terminal: []statemachine.State{Done},
//	    Transitions: []statemachine.Transition{
//	        {From: Initial, Event: Created, To: Waiting,
//	            Effects: []statemachine.Effect{statemachine.ScheduleTimeout(time.Minute)}},
//	        {From: Waiting, Event: Completed, To: Done},
//	    },
//	})
//
//	out, err := m.Apply(Initial, Created)
//
// Definitions can also be loaded from YAML with LoadDefinition.
//
// # Error Handling
//
//	if statemachine.IsNoTransitionAvailableError(err) { /* reject the event */ }
//
// Construction errors (ErrDuplicateTransition, ErrTerminalTransition, ...)
// are sentinels checked with errors.Is.
package statemachine
