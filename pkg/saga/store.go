package saga

import (
	"context"
	"time"

	"github.com/dmitrymomot/sagakit/pkg/statemachine"
)

// Store persists saga instances under optimistic concurrency.
//
// Create stores a new instance with Version 1 and fails with ErrAlreadyExists
// if the correlation id is taken. Update stores inst only if the stored
// version equals expectedVersion, incrementing it; otherwise it fails with
// ErrVersionConflict, or ErrNotFound if nothing is stored. Of two concurrent
// updates with the same expectedVersion exactly one succeeds.
// Implementations never delete instances.
type Store interface {
	Get(ctx context.Context, correlationID string) (*Instance, error)
	Create(ctx context.Context, inst *Instance) (*Instance, error)
	Update(ctx context.Context, inst *Instance, expectedVersion int64) (*Instance, error)
}

// StalledLister finds instances in one of states that either have no pending
// timeout or were last updated before overdueBefore, oldest update first.
// The second group holds tokens whose timeout should have fired already.
type StalledLister interface {
	ListStalled(ctx context.Context, states []statemachine.State, overdueBefore time.Time, limit int) ([]*Instance, error)
}
