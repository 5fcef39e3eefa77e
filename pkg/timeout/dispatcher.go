package timeout

import (
	"context"

	"github.com/dmitrymomot/sagakit/pkg/queue"
)

// FireFunc receives a ticket whose delay has elapsed. A returned error makes
// the queue retry the delivery.
type FireFunc func(ctx context.Context, t Ticket) error

// NewDispatcher returns the queue handler that delivers fired tickets to fire.
// Register it on the worker that serves the scheduler's queue.
func NewDispatcher(fire FireFunc) queue.Handler {
	return queue.NewNamedTaskHandler(TaskName, queue.TaskHandlerFunc[Ticket](fire))
}
