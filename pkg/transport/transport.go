package transport

import (
	"context"

	"github.com/dmitrymomot/sagakit/pkg/saga"
)

// Publisher hands an envelope to the bus.
type Publisher interface {
	Publish(ctx context.Context, env saga.Envelope) error
}

// HandlerFunc consumes one envelope. A non-nil error means the envelope
// should be delivered again.
type HandlerFunc func(ctx context.Context, env saga.Envelope) error

// EnvelopeHandler is satisfied by *saga.Orchestrator.
type EnvelopeHandler interface {
	Handle(ctx context.Context, env saga.Envelope) (*saga.Result, error)
}

// Handle adapts an orchestrator to a HandlerFunc. Rejected events are not
// errors: redelivering them cannot change the outcome.
func Handle(h EnvelopeHandler) HandlerFunc {
	return func(ctx context.Context, env saga.Envelope) error {
		_, err := h.Handle(ctx, env)
		return err
	}
}
