package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/sagakit/pkg/logger"
	"github.com/dmitrymomot/sagakit/pkg/saga"
)

const envelopeField = "envelope"

// RedisStreamBus publishes envelopes to a Redis stream and consumes them
// through a consumer group.
type RedisStreamBus struct {
	client  redis.UniversalClient
	handler HandlerFunc
	cfg     Config
	logger  *slog.Logger

	sem     chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
}

// StreamOption configures a RedisStreamBus.
type StreamOption func(*RedisStreamBus)

// WithStreamConfig replaces the defaults with cfg; zero fields keep their default.
func WithStreamConfig(cfg Config) StreamOption {
	return func(b *RedisStreamBus) {
		if cfg.Stream != "" {
			b.cfg.Stream = cfg.Stream
		}
		if cfg.Group != "" {
			b.cfg.Group = cfg.Group
		}
		if cfg.Consumer != "" {
			b.cfg.Consumer = cfg.Consumer
		}
		if cfg.BatchSize > 0 {
			b.cfg.BatchSize = cfg.BatchSize
		}
		if cfg.Block > 0 {
			b.cfg.Block = cfg.Block
		}
		if cfg.ClaimMinIdle > 0 {
			b.cfg.ClaimMinIdle = cfg.ClaimMinIdle
		}
		if cfg.ClaimInterval > 0 {
			b.cfg.ClaimInterval = cfg.ClaimInterval
		}
		if cfg.MaxConcurrent > 0 {
			b.cfg.MaxConcurrent = cfg.MaxConcurrent
		}
		if cfg.HandleTimeout > 0 {
			b.cfg.HandleTimeout = cfg.HandleTimeout
		}
		if cfg.MaxDeliveries > 0 {
			b.cfg.MaxDeliveries = cfg.MaxDeliveries
		}
		if cfg.DeadLetterStream != "" {
			b.cfg.DeadLetterStream = cfg.DeadLetterStream
		}
		b.cfg.MaxLen = cfg.MaxLen
	}
}

func WithStreamLogger(l *slog.Logger) StreamOption {
	return func(b *RedisStreamBus) {
		if l != nil {
			b.logger = l
		}
	}
}

func NewRedisStreamBus(client redis.UniversalClient, h HandlerFunc, opts ...StreamOption) *RedisStreamBus {
	b := &RedisStreamBus{
		client:  client,
		handler: h,
		cfg: Config{
			Backend:       BackendRedis,
			Stream:        "saga:events",
			Group:         "orchestrator",
			Consumer:      "consumer-" + uuid.NewString(),
			BatchSize:     32,
			Block:         2 * time.Second,
			ClaimMinIdle:  30 * time.Second,
			ClaimInterval: 10 * time.Second,
			MaxConcurrent: 16,
			HandleTimeout: 30 * time.Second,
			MaxLen:        100000,
			MaxDeliveries: 10,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.cfg.DeadLetterStream == "" {
		b.cfg.DeadLetterStream = b.cfg.Stream + ":dlq"
	}
	b.sem = make(chan struct{}, b.cfg.MaxConcurrent)
	b.logger = b.logger.With(
		logger.Component("transport.redis"),
		slog.String("stream", b.cfg.Stream),
		slog.String("consumer", b.cfg.Consumer))
	return b
}

// Publish appends env to the stream.
func (b *RedisStreamBus) Publish(ctx context.Context, env saga.Envelope) error {
	if env.MessageID == uuid.Nil {
		env.MessageID = uuid.New()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Join(ErrPublishFailed, err)
	}

	args := &redis.XAddArgs{
		Stream: b.cfg.Stream,
		Values: map[string]any{envelopeField: string(data)},
	}
	if b.cfg.MaxLen > 0 {
		args.MaxLen = b.cfg.MaxLen
		args.Approx = true
	}

	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return errors.Join(ErrPublishFailed, err)
	}
	return nil
}

// Run consumes the stream until ctx is cancelled, then waits for in-flight
// handlers. It returns a function suitable for errgroup.
func (b *RedisStreamBus) Run(ctx context.Context) func() error {
	return func() error {
		if b.handler == nil {
			return ErrNilHandler
		}
		if !b.running.CompareAndSwap(false, true) {
			return ErrAlreadyRunning
		}
		defer b.running.Store(false)

		if err := b.ensureGroup(ctx); err != nil {
			return err
		}

		b.logger.InfoContext(ctx, "stream consumer started",
			slog.String("group", b.cfg.Group),
			slog.Int("max_concurrent", b.cfg.MaxConcurrent))

		var loops sync.WaitGroup
		loops.Add(1)
		go func() {
			defer loops.Done()
			b.claimLoop(ctx)
		}()

		b.readLoop(ctx)
		loops.Wait()
		b.wg.Wait()

		b.logger.Info("stream consumer stopped")
		return nil
	}
}

func (b *RedisStreamBus) ensureGroup(ctx context.Context) error {
	err := b.client.XGroupCreateMkStream(ctx, b.cfg.Stream, b.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", b.cfg.Group, err)
	}
	return nil
}

func (b *RedisStreamBus) readLoop(ctx context.Context) {
	for ctx.Err() == nil {
		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			Streams:  []string{b.cfg.Stream, ">"},
			Count:    b.cfg.BatchSize,
			Block:    b.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.ErrorContext(ctx, "failed to read stream", logger.Error(err))
			b.pause(ctx, time.Second)
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				if !b.dispatch(ctx, msg) {
					return
				}
			}
		}
	}
}

// claimLoop takes over messages that stayed pending past ClaimMinIdle, left by
// a failed handler or a consumer that died.
func (b *RedisStreamBus) claimLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.claimPending(ctx)
		}
	}
}

func (b *RedisStreamBus) claimPending(ctx context.Context) {
	start := "0-0"
	for {
		msgs, next, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   b.cfg.Stream,
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			MinIdle:  b.cfg.ClaimMinIdle,
			Start:    start,
			Count:    b.cfg.BatchSize,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				b.logger.ErrorContext(ctx, "failed to claim pending messages", logger.Error(err))
			}
			return
		}

		if len(msgs) > 0 {
			b.logger.InfoContext(ctx, "reclaimed pending messages", slog.Int("count", len(msgs)))
		}
		for _, msg := range b.deadLetter(ctx, msgs) {
			if !b.dispatch(ctx, msg) {
				return
			}
		}

		if next == "0-0" || next == "" {
			return
		}
		start = next
	}
}

// deadLetter moves reclaimed messages that already reached MaxDeliveries to
// the dead letter stream and returns the ones still worth handling.
// XAUTOCLAIM counts as a delivery, so a count above the cap means the handler
// has seen the message MaxDeliveries times.
func (b *RedisStreamBus) deadLetter(ctx context.Context, msgs []redis.XMessage) []redis.XMessage {
	if b.cfg.MaxDeliveries <= 0 {
		return msgs
	}

	keep := make([]redis.XMessage, 0, len(msgs))
	for _, msg := range msgs {
		deliveries, err := b.deliveries(ctx, msg.ID)
		if err != nil {
			b.logger.ErrorContext(ctx, "failed to read delivery count",
				logger.MessageID(msg.ID),
				logger.Error(err))
			keep = append(keep, msg)
			continue
		}
		if deliveries <= b.cfg.MaxDeliveries {
			keep = append(keep, msg)
			continue
		}

		if err := b.moveToDeadLetter(ctx, msg, deliveries); err != nil {
			b.logger.ErrorContext(ctx, "failed to dead-letter message",
				logger.MessageID(msg.ID),
				logger.Error(err))
			continue
		}
		b.logger.ErrorContext(ctx, "message moved to dead letter stream",
			logger.MessageID(msg.ID),
			slog.Int64("deliveries", deliveries),
			slog.String("dead_letter_stream", b.cfg.DeadLetterStream))
	}
	return keep
}

func (b *RedisStreamBus) deliveries(ctx context.Context, id string) (int64, error) {
	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   b.cfg.Stream,
		Group:    b.cfg.Group,
		Start:    id,
		End:      id,
		Count:    1,
		Consumer: b.cfg.Consumer,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		// Acked meanwhile; handling it again is harmless.
		return 0, nil
	}
	return pending[0].RetryCount, nil
}

// moveToDeadLetter copies msg with its original fields, so DecodeMessage still
// reads it, then acks it. A failed ack leaves it pending, and a later claim may
// copy it again.
func (b *RedisStreamBus) moveToDeadLetter(ctx context.Context, msg redis.XMessage, deliveries int64) error {
	values := make(map[string]any, len(msg.Values)+2)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["source_id"] = msg.ID
	values["deliveries"] = deliveries

	if err := b.client.XAdd(ctx, &redis.XAddArgs{Stream: b.cfg.DeadLetterStream, Values: values}).Err(); err != nil {
		return err
	}
	return b.client.XAck(ctx, b.cfg.Stream, b.cfg.Group, msg.ID).Err()
}

// DeadLetterStream is the stream that receives envelopes past MaxDeliveries.
func (b *RedisStreamBus) DeadLetterStream() string {
	return b.cfg.DeadLetterStream
}

// dispatch runs msg on a free slot. It reports false when ctx ended first.
func (b *RedisStreamBus) dispatch(ctx context.Context, msg redis.XMessage) bool {
	select {
	case b.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() { <-b.sem }()
		b.process(msg)
	}()
	return true
}

func (b *RedisStreamBus) process(msg redis.XMessage) {
	// Detached so shutdown lets the handler finish and ack.
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.HandleTimeout)
	defer cancel()

	env, err := DecodeMessage(msg.Values)
	if err != nil {
		// Redelivery cannot fix a malformed message.
		b.logger.ErrorContext(ctx, "dropping malformed message",
			logger.MessageID(msg.ID),
			logger.Error(err))
		b.ack(ctx, msg.ID)
		return
	}

	if err := b.handle(ctx, env); err != nil {
		b.logger.WarnContext(ctx, "envelope handling failed, left pending for redelivery",
			logger.MessageID(msg.ID),
			logger.CorrelationID(env.CorrelationID),
			logger.EventType(env.Type.Name()),
			logger.Error(err))
		return
	}

	b.ack(ctx, msg.ID)
}

func (b *RedisStreamBus) handle(ctx context.Context, env saga.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return b.handler(ctx, env)
}

func (b *RedisStreamBus) ack(ctx context.Context, id string) {
	if err := b.client.XAck(ctx, b.cfg.Stream, b.cfg.Group, id).Err(); err != nil {
		b.logger.ErrorContext(ctx, "failed to ack message", logger.MessageID(id), logger.Error(err))
	}
}

func (b *RedisStreamBus) pause(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// DecodeMessage extracts the envelope from a stream entry's fields.
func DecodeMessage(values map[string]any) (saga.Envelope, error) {
	raw, ok := values[envelopeField].(string)
	if !ok {
		return saga.Envelope{}, fmt.Errorf("%w: missing %q field", ErrInvalidMessage, envelopeField)
	}

	var env saga.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return saga.Envelope{}, errors.Join(ErrInvalidMessage, err)
	}
	return env, nil
}
