package main

import (
	"fmt"
	"slices"

	"github.com/dmitrymomot/sagakit/pkg/httpserver"
	"github.com/dmitrymomot/sagakit/pkg/logger"
	"github.com/dmitrymomot/sagakit/pkg/queue"
	"github.com/dmitrymomot/sagakit/pkg/ratelimiter"
	"github.com/dmitrymomot/sagakit/pkg/saga"
	"github.com/dmitrymomot/sagakit/pkg/transport"
	"github.com/dmitrymomot/sagakit/pkg/webhook"
)

const (
	driverMemory   = "memory"
	driverPostgres = "postgres"
	driverRedis    = "redis"
	driverMongo    = "mongo"
)

type appConfig struct {
	Env         string `env:"APP_ENV" envDefault:"development"`
	Service     string `env:"APP_NAME" envDefault:"sagakit"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"` // memory, postgres, redis or mongo
	TimerDriver string `env:"TIMER_DRIVER" envDefault:"memory"` // memory or postgres
	TrustProxy  bool   `env:"HTTP_TRUST_PROXY" envDefault:"false"`

	Log       logger.Config
	Saga      saga.Config
	Queue     queue.Config
	Transport transport.Config
	HTTP      httpserver.Config
	Webhook   webhook.Config
	RateLimit ratelimiter.Config
}

func (c appConfig) validate() error {
	if !slices.Contains([]string{driverMemory, driverPostgres, driverRedis, driverMongo}, c.StoreDriver) {
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if !slices.Contains([]string{driverMemory, driverPostgres}, c.TimerDriver) {
		return fmt.Errorf("unknown TIMER_DRIVER %q", c.TimerDriver)
	}
	if !slices.Contains([]string{transport.BackendLocal, transport.BackendRedis}, c.Transport.Backend) {
		return fmt.Errorf("%w: %q", transport.ErrUnknownBackend, c.Transport.Backend)
	}
	if !slices.Contains([]string{ratelimiter.StoreMemory, ratelimiter.StoreRedis}, c.RateLimit.Store) {
		return fmt.Errorf("%w: %q", ratelimiter.ErrUnknownStore, c.RateLimit.Store)
	}
	return nil
}

func (c appConfig) needsPostgres() bool {
	return c.StoreDriver == driverPostgres || c.TimerDriver == driverPostgres
}

func (c appConfig) needsRedis() bool {
	return c.StoreDriver == driverRedis ||
		c.Transport.Backend == transport.BackendRedis ||
		(c.RateLimit.Enabled() && c.RateLimit.Store == ratelimiter.StoreRedis)
}
