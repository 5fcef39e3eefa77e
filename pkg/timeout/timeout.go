package timeout

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskName is the queue task name under which tickets are stored.
const TaskName = "saga.timeout"

// Ticket is a scheduled timeout. Its Token is also the queue task ID, so
// cancelling a token cancels exactly the task that would deliver it.
type Ticket struct {
	Token         uuid.UUID `json:"token"`
	CorrelationID string    `json:"correlation_id"`
	FireAt        time.Time `json:"fire_at"`
}

// Scheduler schedules and cancels delayed timeout deliveries.
//
// A scheduled ticket is delivered at most once, no earlier than delay after
// Schedule. Cancel before delivery guarantees the ticket is never delivered;
// Cancel after delivery, or for an unknown token, is a no-op.
type Scheduler interface {
	Schedule(ctx context.Context, correlationID string, delay time.Duration, opts ...ScheduleOption) (uuid.UUID, error)
	Cancel(ctx context.Context, token uuid.UUID) error
}

// ScheduleOption configures a single Schedule call.
type ScheduleOption func(*ScheduleOptions)

// ScheduleOptions is the resolved form of a Schedule call's options.
type ScheduleOptions struct {
	Token uuid.UUID
}

// WithToken schedules under a caller-allocated token. The orchestrator uses it
// to persist the token together with the transition before scheduling.
func WithToken(token uuid.UUID) ScheduleOption {
	return func(o *ScheduleOptions) {
		o.Token = token
	}
}

// ResolveOptions applies opts and allocates a token when none was given.
// Scheduler implementations call it at the start of Schedule.
func ResolveOptions(opts ...ScheduleOption) ScheduleOptions {
	var o ScheduleOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.Token == uuid.Nil {
		o.Token = uuid.New()
	}
	return o
}
