package statemachine

import (
	"errors"
	"fmt"
)

var (
	ErrMissingInitialState = errors.New("invalid definition: initial state cannot be empty")
	ErrInvalidTransition   = errors.New("invalid transition: from, to, or event cannot be empty")
	ErrDuplicateTransition = errors.New("invalid definition: duplicate transition for state and event")
	ErrTerminalTransition  = errors.New("invalid definition: terminal state cannot have outgoing transitions")
	ErrInvalidEffect       = errors.New("invalid effect")
	ErrInvalidEvent        = errors.New("invalid event: event cannot be empty")
	ErrUnknownState        = errors.New("unknown state")
	ErrDecodeDefinition    = errors.New("failed to decode state machine definition")
)

// ErrNoTransitionAvailable indicates no transition exists for the given state/event combination.
type ErrNoTransitionAvailable struct {
	StateName string
	EventName string
	Terminal  bool
}

func (e *ErrNoTransitionAvailable) Error() string {
	if e.Terminal {
		return fmt.Sprintf("no transition available from terminal state '%s' for event '%s'", e.StateName, e.EventName)
	}
	return fmt.Sprintf("no transition available from state '%s' for event '%s'", e.StateName, e.EventName)
}

func NewErrNoTransitionAvailable(stateName, eventName string, terminal bool) *ErrNoTransitionAvailable {
	return &ErrNoTransitionAvailable{
		StateName: stateName,
		EventName: eventName,
		Terminal:  terminal,
	}
}

func IsNoTransitionAvailableError(err error) bool {
	var e *ErrNoTransitionAvailable
	return errors.As(err, &e)
}
