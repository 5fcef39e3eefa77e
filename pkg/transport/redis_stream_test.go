package transport_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/sagakit/pkg/redis"
	"github.com/dmitrymomot/sagakit/pkg/saga"
	"github.com/dmitrymomot/sagakit/pkg/saga/order"
	"github.com/dmitrymomot/sagakit/pkg/transport"
)

func redisClient(t *testing.T) *goredis.Client {
	t.Helper()

	url := os.Getenv("SAGAKIT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SAGAKIT_TEST_REDIS_URL not set")
	}
	client, err := redis.Connect(context.Background(), redis.Config{ConnectionURL: url, RetryAttempts: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func startBus(t *testing.T, client *goredis.Client, stream string, h transport.HandlerFunc, tune ...func(*transport.Config)) *transport.RedisStreamBus {
	t.Helper()

	cfg := transport.Config{
		Stream:        stream,
		Group:         "test",
		Block:         100 * time.Millisecond,
		ClaimMinIdle:  50 * time.Millisecond,
		ClaimInterval: 50 * time.Millisecond,
	}
	for _, f := range tune {
		f(&cfg)
	}
	bus := transport.NewRedisStreamBus(client, h, transport.WithStreamConfig(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(bus.Run(ctx))
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, g.Wait())
		_ = client.Del(context.Background(), stream, bus.DeadLetterStream()).Err()
	})
	return bus
}

func TestRedisStreamBus_Delivers(t *testing.T) {
	t.Parallel()

	client := redisClient(t)
	got := make(chan saga.Envelope, 1)
	bus := startBus(t, client, "sagakit-test:"+uuid.NewString(), func(_ context.Context, env saga.Envelope) error {
		got <- env
		return nil
	})

	env, err := order.NewEvent(order.OrderCreated, uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), env))

	select {
	case e := <-got:
		assert.Equal(t, env.MessageID, e.MessageID)
		assert.Equal(t, env.CorrelationID, e.CorrelationID)
	case <-time.After(5 * time.Second):
		t.Fatal("envelope never delivered")
	}
}

func TestRedisStreamBus_RedeliversAfterFailure(t *testing.T) {
	t.Parallel()

	client := redisClient(t)
	var (
		calls atomic.Int32
		once  sync.Once
		done  = make(chan struct{})
	)
	bus := startBus(t, client, "sagakit-test:"+uuid.NewString(), func(context.Context, saga.Envelope) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		once.Do(func() { close(done) })
		return nil
	})

	env, err := order.NewEvent(order.PaymentReceived, uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), env))

	select {
	case <-done:
		assert.GreaterOrEqual(t, calls.Load(), int32(2))
	case <-time.After(5 * time.Second):
		t.Fatal("failed envelope was never redelivered")
	}
}

func TestRedisStreamBus_DeadLettersAfterMaxDeliveries(t *testing.T) {
	t.Parallel()

	client := redisClient(t)
	stream := "sagakit-test:" + uuid.NewString()
	var calls atomic.Int32
	bus := startBus(t, client, stream, func(context.Context, saga.Envelope) error {
		calls.Add(1)
		return saga.ErrNotFound
	}, func(cfg *transport.Config) {
		cfg.MaxDeliveries = 2
	})
	assert.Equal(t, stream+":dlq", bus.DeadLetterStream())

	env, err := order.NewEvent(order.PaymentReceived, uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), env))

	ctx := context.Background()
	require.Eventually(t, func() bool {
		n, err := client.XLen(ctx, bus.DeadLetterStream()).Result()
		return err == nil && n == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, int32(2), calls.Load())

	pending, err := client.XPending(ctx, stream, "test").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count, "the dead-lettered message is acked")

	msgs, err := client.XRange(ctx, bus.DeadLetterStream(), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	dead, err := transport.DecodeMessage(msgs[0].Values)
	require.NoError(t, err)
	assert.Equal(t, env.MessageID, dead.MessageID)
	assert.Equal(t, "3", msgs[0].Values["deliveries"])
}
