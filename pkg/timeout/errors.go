package timeout

import "errors"

var (
	// ErrSchedulerUnavailable wraps every failure of the underlying timer storage.
	ErrSchedulerUnavailable = errors.New("timeout scheduler unavailable")

	ErrInvalidDelay         = errors.New("timeout delay must be positive")
	ErrMissingCorrelationID = errors.New("timeout requires a correlation id")
)
