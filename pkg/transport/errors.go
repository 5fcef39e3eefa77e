package transport

import "errors"

var (
	ErrHandlerPanic   = errors.New("envelope handler panicked")
	ErrNilHandler     = errors.New("envelope handler is nil")
	ErrInvalidMessage = errors.New("invalid stream message")
	ErrAlreadyRunning = errors.New("bus already running")
	ErrUnknownBackend = errors.New("unknown transport backend")
	ErrPublishFailed  = errors.New("failed to publish envelope")
)
