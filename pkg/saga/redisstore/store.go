package redisstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	rediskit "github.com/dmitrymomot/sagakit/pkg/redis"
	"github.com/dmitrymomot/sagakit/pkg/saga"
	"github.com/dmitrymomot/sagakit/pkg/statemachine"
)

var (
	_ saga.Store         = (*Store)(nil)
	_ saga.StalledLister = (*Store)(nil)
)

// ErrUnexpectedReply is returned when a script answers in an unknown shape.
var ErrUnexpectedReply = errors.New("unexpected reply from redis script")

// Store implements saga.Store on Redis hashes.
type Store struct {
	client redis.UniversalClient
	prefix string
	timed  []statemachine.State
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix namespaces every key the store writes. Defaults to "sagakit".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithTimedStates lists the states ListStalled can be asked about. Only
// instances in these states are indexed.
func WithTimedStates(states ...statemachine.State) Option {
	return func(s *Store) {
		s.timed = append(s.timed, states...)
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: "sagakit", now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(correlationID string) string {
	return rediskit.Key(s.prefix, "saga", correlationID)
}

func (s *Store) stalledPrefix() string {
	return rediskit.Key(s.prefix, "saga", "stalled") + ":"
}

func (s *Store) timedPrefix() string {
	return rediskit.Key(s.prefix, "saga", "timed") + ":"
}

func (s *Store) indexKeys(state statemachine.State) (stalled, timed string) {
	return s.stalledPrefix() + string(state), s.timedPrefix() + string(state)
}

func (s *Store) indexed(state statemachine.State) string {
	if slices.Contains(s.timed, state) {
		return "1"
	}
	return "0"
}

func (s *Store) Get(ctx context.Context, correlationID string) (*saga.Instance, error) {
	fields, err := s.client.HGetAll(ctx, s.key(correlationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get saga %s: %w", correlationID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", saga.ErrNotFound, correlationID)
	}
	return decode(correlationID, fields)
}

func (s *Store) Create(ctx context.Context, inst *saga.Instance) (*saga.Instance, error) {
	if inst == nil {
		return nil, saga.ErrNilInstance
	}

	now := s.now().UTC()
	stalled, timed := s.indexKeys(inst.State)
	created, err := createScript.Run(ctx, s.client,
		[]string{s.key(inst.CorrelationID), stalled, timed},
		string(inst.State), encodeToken(inst.PendingTimeout), now.Format(time.RFC3339Nano),
		now.UnixMilli(), inst.CorrelationID, s.indexed(inst.State),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("create saga %s: %w", inst.CorrelationID, err)
	}
	if created == 0 {
		return nil, fmt.Errorf("%w: %s", saga.ErrAlreadyExists, inst.CorrelationID)
	}

	out := inst.Clone()
	out.Version = 1
	out.CreatedAt = now
	out.UpdatedAt = now
	return out, nil
}

func (s *Store) Update(ctx context.Context, inst *saga.Instance, expectedVersion int64) (*saga.Instance, error) {
	if inst == nil {
		return nil, saga.ErrNilInstance
	}

	now := s.now().UTC()
	stalled, timed := s.indexKeys(inst.State)
	reply, err := updateScript.Run(ctx, s.client,
		[]string{s.key(inst.CorrelationID), stalled, timed},
		strconv.FormatInt(expectedVersion, 10), string(inst.State), encodeToken(inst.PendingTimeout),
		now.Format(time.RFC3339Nano), now.UnixMilli(), inst.CorrelationID,
		s.stalledPrefix(), s.timedPrefix(), s.indexed(inst.State),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("update saga %s: %w", inst.CorrelationID, err)
	}
	if len(reply) == 0 {
		return nil, ErrUnexpectedReply
	}

	switch reply[0] {
	case "missing":
		return nil, fmt.Errorf("%w: %s", saga.ErrNotFound, inst.CorrelationID)
	case "conflict":
		return nil, fmt.Errorf("%w: %s expected version %d, stored %s",
			saga.ErrVersionConflict, inst.CorrelationID, expectedVersion, reply[1])
	case "ok":
		if len(reply) != 3 {
			return nil, ErrUnexpectedReply
		}
	default:
		return nil, ErrUnexpectedReply
	}

	version, err := strconv.ParseInt(reply[1], 10, 64)
	if err != nil {
		return nil, errors.Join(ErrUnexpectedReply, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, reply[2])
	if err != nil {
		return nil, errors.Join(ErrUnexpectedReply, err)
	}

	out := inst.Clone()
	out.Version = version
	out.CreatedAt = createdAt
	out.UpdatedAt = now
	return out, nil
}

type indexEntry struct {
	id    string
	score float64
}

// ListStalled only sees states configured with WithTimedStates.
func (s *Store) ListStalled(ctx context.Context, states []statemachine.State, overdueBefore time.Time, limit int) ([]*saga.Instance, error) {
	if limit <= 0 {
		limit = 100
	}

	seen := make(map[string]struct{})
	var entries []indexEntry
	add := func(zs []redis.Z) {
		for _, z := range zs {
			id, ok := z.Member.(string)
			if !ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			entries = append(entries, indexEntry{id: id, score: z.Score})
		}
	}

	for _, st := range states {
		stalled, timed := s.indexKeys(st)

		zs, err := s.client.ZRangeWithScores(ctx, stalled, 0, int64(limit-1)).Result()
		if err != nil {
			return nil, fmt.Errorf("list stalled sagas: %w", err)
		}
		add(zs)

		zs, err = s.client.ZRangeByScoreWithScores(ctx, timed, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   "(" + strconv.FormatInt(overdueBefore.UnixMilli(), 10),
			Count: int64(limit),
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("list overdue sagas: %w", err)
		}
		add(zs)
	}

	slices.SortFunc(entries, func(a, b indexEntry) int {
		switch {
		case a.score < b.score:
			return -1
		case a.score > b.score:
			return 1
		}
		return 0
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	out := make([]*saga.Instance, 0, len(entries))
	for _, e := range entries {
		inst, err := s.Get(ctx, e.id)
		if errors.Is(err, saga.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		// The index may lag a concurrent writer; trust the hash.
		if !slices.Contains(states, inst.State) {
			continue
		}
		if inst.PendingTimeout != nil && !inst.UpdatedAt.Before(overdueBefore) {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

func encodeToken(token *uuid.UUID) string {
	if token == nil {
		return ""
	}
	return token.String()
}

func decode(correlationID string, fields map[string]string) (*saga.Instance, error) {
	inst := &saga.Instance{
		CorrelationID: correlationID,
		State:         statemachine.State(fields["state"]),
	}

	var err error
	if inst.Version, err = strconv.ParseInt(fields["version"], 10, 64); err != nil {
		return nil, fmt.Errorf("decode saga %s version: %w", correlationID, err)
	}
	if tok := fields["token"]; tok != "" {
		t, err := uuid.Parse(tok)
		if err != nil {
			return nil, fmt.Errorf("decode saga %s token: %w", correlationID, err)
		}
		inst.PendingTimeout = &t
	}
	if inst.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("decode saga %s created_at: %w", correlationID, err)
	}
	if inst.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("decode saga %s updated_at: %w", correlationID, err)
	}
	return inst, nil
}
