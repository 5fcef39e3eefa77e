package saga

import "errors"

var (
	// ErrNotFound: no instance exists for the correlation id and the event cannot create one.
	ErrNotFound = errors.New("saga instance not found")

	// ErrAlreadyExists: Create raced with another creator of the same correlation id.
	ErrAlreadyExists = errors.New("saga instance already exists")

	// ErrVersionConflict: Update presented a stale expected version.
	ErrVersionConflict = errors.New("saga instance version conflict")

	// ErrInvalidTransition: the event is not accepted in the instance's current state.
	// The instance is left unchanged.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConflictRetriesExhausted: every attempt lost a version race.
	ErrConflictRetriesExhausted = errors.New("saga version conflict retries exhausted")

	// ErrMissingTimeoutToken: a timeout event arrived without the token only the
	// timer sets. Wrapped with ErrInvalidTransition.
	ErrMissingTimeoutToken = errors.New("timeout event has no token")

	ErrMissingCorrelationID = errors.New("event has no correlation id")
	ErrInvalidCorrelationID = errors.New("invalid correlation id")
	ErrMissingEventType     = errors.New("event has no type")
	ErrNilInstance          = errors.New("saga instance is nil")
)
