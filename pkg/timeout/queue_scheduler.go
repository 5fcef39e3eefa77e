package timeout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/sagakit/pkg/logger"
	"github.com/dmitrymomot/sagakit/pkg/queue"
)

// Enqueuer is the part of *queue.Enqueuer the scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) (uuid.UUID, error)
	Cancel(ctx context.Context, taskID uuid.UUID) (bool, error)
}

// QueueScheduler stores tickets as one-time tasks in the durable queue, so
// pending timeouts survive process restarts.
type QueueScheduler struct {
	enq        Enqueuer
	queue      string
	maxRetries int8
	now        func() time.Time
	logger     *slog.Logger
}

// QueueSchedulerOption configures a QueueScheduler.
type QueueSchedulerOption func(*QueueScheduler)

// WithQueueName routes tickets to a dedicated queue.
func WithQueueName(name string) QueueSchedulerOption {
	return func(s *QueueScheduler) {
		if name != "" {
			s.queue = name
		}
	}
}

// WithMaxRetries sets how often a failed delivery is retried before the ticket
// moves to the dead letter queue.
func WithMaxRetries(n int8) QueueSchedulerOption {
	return func(s *QueueScheduler) {
		s.maxRetries = n
	}
}

func WithClock(now func() time.Time) QueueSchedulerOption {
	return func(s *QueueScheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *slog.Logger) QueueSchedulerOption {
	return func(s *QueueScheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewQueueScheduler creates a scheduler on top of enq.
func NewQueueScheduler(enq Enqueuer, opts ...QueueSchedulerOption) *QueueScheduler {
	s := &QueueScheduler{
		enq:        enq,
		queue:      queue.DefaultQueueName,
		maxRetries: 3,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("timeout.scheduler"))
	return s
}

// Schedule implements Scheduler.
func (s *QueueScheduler) Schedule(ctx context.Context, correlationID string, delay time.Duration, opts ...ScheduleOption) (uuid.UUID, error) {
	if correlationID == "" {
		return uuid.Nil, ErrMissingCorrelationID
	}
	if delay <= 0 {
		return uuid.Nil, ErrInvalidDelay
	}

	o := ResolveOptions(opts...)

	fireAt := s.now().Add(delay)
	ticket := Ticket{Token: o.Token, CorrelationID: correlationID, FireAt: fireAt}

	if _, err := s.enq.Enqueue(ctx, ticket,
		queue.WithTaskID(o.Token),
		queue.WithTaskName(TaskName),
		queue.WithQueue(s.queue),
		queue.WithScheduledAt(fireAt),
		queue.WithMaxRetries(s.maxRetries),
	); err != nil {
		return uuid.Nil, errors.Join(ErrSchedulerUnavailable, err)
	}

	s.logger.DebugContext(ctx, "timeout scheduled",
		logger.CorrelationID(correlationID),
		logger.Token(o.Token),
		slog.Time("fire_at", fireAt))

	return o.Token, nil
}

// Cancel implements Scheduler.
func (s *QueueScheduler) Cancel(ctx context.Context, token uuid.UUID) error {
	cancelled, err := s.enq.Cancel(ctx, token)
	if err != nil {
		return errors.Join(ErrSchedulerUnavailable, fmt.Errorf("cancel %s: %w", token, err))
	}

	s.logger.DebugContext(ctx, "timeout cancelled",
		logger.Token(token),
		slog.Bool("was_pending", cancelled))

	return nil
}
