package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/sagakit/pkg/config"
	"github.com/dmitrymomot/sagakit/pkg/feed"
	"github.com/dmitrymomot/sagakit/pkg/httpserver"
	"github.com/dmitrymomot/sagakit/pkg/logger"
	"github.com/dmitrymomot/sagakit/pkg/mongo"
	"github.com/dmitrymomot/sagakit/pkg/pg"
	"github.com/dmitrymomot/sagakit/pkg/queue"
	"github.com/dmitrymomot/sagakit/pkg/ratelimiter"
	"github.com/dmitrymomot/sagakit/pkg/redis"
	"github.com/dmitrymomot/sagakit/pkg/saga"
	"github.com/dmitrymomot/sagakit/pkg/saga/mongostore"
	"github.com/dmitrymomot/sagakit/pkg/saga/order"
	"github.com/dmitrymomot/sagakit/pkg/saga/pgstore"
	"github.com/dmitrymomot/sagakit/pkg/saga/redisstore"
	"github.com/dmitrymomot/sagakit/pkg/statemachine"
	"github.com/dmitrymomot/sagakit/pkg/timeout"
	"github.com/dmitrymomot/sagakit/pkg/transport"
	"github.com/dmitrymomot/sagakit/pkg/webhook"
)

// releaseLocksTaskName returns timers held by crashed workers to the queue.
const releaseLocksTaskName = "queue.release_locks"

type queueStorage interface {
	queue.EnqueuerRepository
	queue.WorkerRepository
	queue.SchedulerRepository
}

type store interface {
	saga.Store
	saga.StalledLister
}

// app is the fully wired process: store, timers, orchestrator and transport.
type app struct {
	cfg    appConfig
	log    *slog.Logger
	orch   *saga.Orchestrator
	bus    transport.Bus
	feed   *feed.Feed[saga.Transitioned]
	worker *queue.Worker
	sched  *queue.Scheduler
	notify *webhook.Notifier   // nil unless WEBHOOK_URL is set
	limit  *ratelimiter.Bucket // nil unless RATE_LIMIT_CAPACITY > 0
	checks []httpserver.Check

	closers []func()
}

func newApp(ctx context.Context, cfg appConfig, log *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log, feed: feed.New[saga.Transitioned](64)}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	var (
		pool        *pgxpool.Pool
		redisClient *goredis.Client
	)

	if cfg.needsPostgres() {
		pgCfg, err := config.Load[pg.Config]()
		if err != nil {
			return nil, err
		}
		if pool, err = pg.Connect(ctx, pgCfg); err != nil {
			return nil, err
		}
		a.onClose(pool.Close)
		a.checks = append(a.checks, httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)})
	}

	if cfg.needsRedis() {
		redisCfg, err := config.Load[redis.Config]()
		if err != nil {
			return nil, err
		}
		if redisClient, err = redis.Connect(ctx, redisCfg); err != nil {
			return nil, err
		}
		a.onClose(func() { _ = redisClient.Close() })
		a.checks = append(a.checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(redisClient)})
	}

	machine, err := loadMachine(cfg.Saga)
	if err != nil {
		return nil, err
	}
	engine := saga.NewEngine(machine)

	st, err := a.newStore(ctx, pool, redisClient, machine)
	if err != nil {
		return nil, err
	}

	qs := a.newQueueStorage(pool)

	enq, err := queue.NewEnqueuer(qs)
	if err != nil {
		return nil, err
	}
	scheduler := timeout.NewQueueScheduler(enq, timeout.WithLogger(log))

	a.orch = saga.NewOrchestrator(st, saga.NewResolver(machine), engine, scheduler,
		saga.WithMaxAttempts(cfg.Saga.MaxAttempts),
		saga.WithEffectsTimeout(cfg.Saga.EffectsTimeout),
		saga.WithLogger(log),
		saga.WithFeed(a.feed),
	)

	reconciler := saga.NewReconciler(st, st, engine, scheduler,
		saga.WithBatchSize(cfg.Saga.ReconcileBatch),
		saga.WithOverdueGrace(cfg.Saga.OverdueGrace),
		saga.WithReconcilerLogger(log),
	)

	if a.worker, err = queue.NewWorker(qs, queue.WithConfig(cfg.Queue), queue.WithWorkerLogger(log)); err != nil {
		return nil, err
	}
	a.worker.RegisterHandlers(
		timeout.NewDispatcher(a.orch.FireTimeout),
		reconciler.Handler(),
	)

	if a.sched, err = queue.NewScheduler(qs,
		queue.WithCheckInterval(cfg.Queue.CheckInterval),
		queue.WithSchedulerLogger(log),
	); err != nil {
		return nil, err
	}
	if err := a.sched.AddTask(saga.ReconcileTaskName, cfg.Saga.ReconcileInterval); err != nil {
		return nil, err
	}

	if pgQueue, ok := qs.(*queue.PostgresStorage); ok {
		a.worker.RegisterHandlers(queue.NewPeriodicTaskHandler(releaseLocksTaskName, func(ctx context.Context) error {
			n, err := pgQueue.ReleaseExpiredLocks(ctx)
			if n > 0 {
				log.InfoContext(ctx, "released expired timer locks", slog.Int64("count", n))
			}
			return err
		}))
		if err := a.sched.AddTask(releaseLocksTaskName, cfg.Queue.LockTimeout); err != nil {
			return nil, err
		}
	}

	if a.bus, err = transport.New(cfg.Transport, redisClient, transport.Handle(a.orch), log); err != nil {
		return nil, err
	}

	if cfg.RateLimit.Enabled() {
		if a.limit, err = a.newLimiter(redisClient); err != nil {
			return nil, err
		}
	}

	if cfg.Webhook.Enabled() {
		if a.notify, err = webhook.NewNotifier(cfg.Webhook, webhook.WithLogger(log)); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// loadMachine reads the saga definition from SAGA_DEFINITION_FILE, or falls
// back to the built-in order saga.
func loadMachine(cfg saga.Config) (*statemachine.Machine, error) {
	if cfg.DefinitionFile == "" {
		return order.Machine(cfg.PaymentTimeout), nil
	}

	f, err := os.Open(cfg.DefinitionFile)
	if err != nil {
		return nil, fmt.Errorf("open saga definition: %w", err)
	}
	defer f.Close()

	m, err := statemachine.LoadDefinition(f)
	if err != nil {
		return nil, fmt.Errorf("load saga definition %s: %w", cfg.DefinitionFile, err)
	}
	return m, nil
}

func (a *app) newStore(ctx context.Context, pool *pgxpool.Pool, redisClient *goredis.Client, machine *statemachine.Machine) (store, error) {
	switch a.cfg.StoreDriver {
	case driverPostgres:
		return pgstore.New(pool), nil
	case driverRedis:
		redisCfg, err := config.Load[redis.Config]()
		if err != nil {
			return nil, err
		}
		return redisstore.New(redisClient,
			redisstore.WithKeyPrefix(redisCfg.KeyPrefix),
			redisstore.WithTimedStates(machine.TimedStates()...),
		), nil
	case driverMongo:
		mongoCfg, err := config.Load[mongo.Config]()
		if err != nil {
			return nil, err
		}
		client, err := mongo.Connect(ctx, mongoCfg)
		if err != nil {
			return nil, err
		}
		a.onClose(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(ctx)
		})
		a.checks = append(a.checks, httpserver.Check{Name: "mongo", Fn: mongo.Healthcheck(client)})

		s := mongostore.New(client.Database(mongoCfg.Database))
		if err := s.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return saga.NewMemoryStore(nil), nil
	}
}

func (a *app) newLimiter(redisClient *goredis.Client) (*ratelimiter.Bucket, error) {
	if a.cfg.RateLimit.Store == ratelimiter.StoreRedis {
		redisCfg, err := config.Load[redis.Config]()
		if err != nil {
			return nil, err
		}
		return ratelimiter.NewBucket(
			ratelimiter.NewRedisStore(redisClient, ratelimiter.WithRedisKeyPrefix(redisCfg.KeyPrefix)),
			a.cfg.RateLimit)
	}
	ms := ratelimiter.NewMemoryStore()
	a.onClose(ms.Close)
	return ratelimiter.NewBucket(ms, a.cfg.RateLimit)
}

func (a *app) newQueueStorage(pool *pgxpool.Pool) queueStorage {
	if a.cfg.TimerDriver == driverPostgres {
		return queue.NewPostgresStorage(pool)
	}
	ms := queue.NewMemoryStorage()
	a.onClose(func() { _ = ms.Close() })
	return ms
}

// start runs the background machinery in g: timer worker, periodic
// scheduler, transport consumer and the optional webhook notifier.
func (a *app) start(ctx context.Context, g *errgroup.Group) {
	g.Go(a.worker.Run(ctx))
	g.Go(a.sched.Run(ctx))
	g.Go(a.bus.Run(ctx))
	if a.notify != nil {
		g.Go(a.notify.Run(ctx, a.feed))
	}

	a.log.InfoContext(ctx, "saga engine started",
		slog.String("store", a.cfg.StoreDriver),
		slog.String("timers", a.cfg.TimerDriver),
		slog.String("transport", a.cfg.Transport.Backend),
		slog.Duration("payment_timeout", a.cfg.Saga.PaymentTimeout))
}

func (a *app) onClose(f func()) {
	a.closers = append(a.closers, f)
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	_ = a.feed.Close()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// wait returns the group's error, treating a cancelled context as a clean stop.
func wait(g *errgroup.Group, log *slog.Logger) error {
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("shutdown with error", logger.Error(err))
		return fmt.Errorf("sagakit: %w", err)
	}
	return nil
}
