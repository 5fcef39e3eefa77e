package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/sagakit/pkg/logger"
	"github.com/dmitrymomot/sagakit/pkg/saga"
)

// LocalBus delivers envelopes synchronously to a single handler.
type LocalBus struct {
	handler HandlerFunc
	logger  *slog.Logger
}

// LocalOption configures a LocalBus.
type LocalOption func(*LocalBus)

func WithLocalLogger(l *slog.Logger) LocalOption {
	return func(b *LocalBus) {
		if l != nil {
			b.logger = l
		}
	}
}

func NewLocalBus(h HandlerFunc, opts ...LocalOption) *LocalBus {
	b := &LocalBus{handler: h, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(logger.Component("transport.local"))
	return b
}

// Publish runs the handler and returns its error. A panic in the handler is
// returned as ErrHandlerPanic.
func (b *LocalBus) Publish(ctx context.Context, env saga.Envelope) (err error) {
	if b.handler == nil {
		return ErrNilHandler
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			b.logger.ErrorContext(ctx, "handler panicked",
				logger.CorrelationID(env.CorrelationID),
				logger.EventType(env.Type.Name()),
				slog.Any("panic", r))
		}
	}()

	return b.handler(ctx, env)
}
