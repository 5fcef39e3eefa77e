package saga

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/sagakit/pkg/statemachine"
)

// MemoryStore is a Store kept in process memory, for tests and local runs.
// The lock is held only for the map access itself.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	now       func() time.Time
}

// NewMemoryStore creates an empty store. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		instances: make(map[string]*Instance),
		now:       now,
	}
}

func (s *MemoryStore) Get(_ context.Context, correlationID string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[correlationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, correlationID)
	}
	return inst.Clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, inst *Instance) (*Instance, error) {
	if inst == nil {
		return nil, ErrNilInstance
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.CorrelationID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, inst.CorrelationID)
	}

	stored := inst.Clone()
	stored.Version = 1
	stored.CreatedAt = s.now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	s.instances[stored.CorrelationID] = stored

	return stored.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, inst *Instance, expectedVersion int64) (*Instance, error) {
	if inst == nil {
		return nil, ErrNilInstance
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[inst.CorrelationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, inst.CorrelationID)
	}
	if current.Version != expectedVersion {
		return nil, fmt.Errorf("%w: %s expected version %d, stored %d",
			ErrVersionConflict, inst.CorrelationID, expectedVersion, current.Version)
	}

	stored := inst.Clone()
	stored.Version = expectedVersion + 1
	stored.CreatedAt = current.CreatedAt
	stored.UpdatedAt = s.now().UTC()
	s.instances[stored.CorrelationID] = stored

	return stored.Clone(), nil
}

func (s *MemoryStore) ListStalled(_ context.Context, states []statemachine.State, overdueBefore time.Time, limit int) ([]*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Instance
	for _, inst := range s.instances {
		if !slices.Contains(states, inst.State) {
			continue
		}
		if inst.PendingTimeout == nil || inst.UpdatedAt.Before(overdueBefore) {
			out = append(out, inst.Clone())
		}
	}

	slices.SortFunc(out, func(a, b *Instance) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored instances.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}
