package transport_test

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/sagakit/pkg/timeout"
)

type nopScheduler struct{}

func (nopScheduler) Schedule(_ context.Context, _ string, _ time.Duration, opts ...timeout.ScheduleOption) (uuid.UUID, error) {
	return timeout.ResolveOptions(opts...).Token, nil
}

func (nopScheduler) Cancel(context.Context, uuid.UUID) error { return nil }
