package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Bus is a publisher with a consumer lifecycle.
type Bus interface {
	Publisher
	Run(ctx context.Context) func() error
}

// Run blocks until ctx is cancelled. The local bus has nothing to consume.
func (b *LocalBus) Run(ctx context.Context) func() error {
	return func() error {
		<-ctx.Done()
		return nil
	}
}

// New builds the bus named by cfg.Backend. client is only used by the redis backend.
func New(cfg Config, client redis.UniversalClient, h HandlerFunc, log *slog.Logger) (Bus, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		return NewLocalBus(h, WithLocalLogger(log)), nil
	case BackendRedis:
		if client == nil {
			return nil, fmt.Errorf("%w: redis backend needs a client", ErrUnknownBackend)
		}
		return NewRedisStreamBus(client, h, WithStreamConfig(cfg), WithStreamLogger(log)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
