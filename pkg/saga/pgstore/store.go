package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dmitrymomot/sagakit/pkg/pg"
	"github.com/dmitrymomot/sagakit/pkg/saga"
	"github.com/dmitrymomot/sagakit/pkg/statemachine"
)

// DB is the subset of *pgxpool.Pool used by Store.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var (
	_ saga.Store         = (*Store)(nil)
	_ saga.StalledLister = (*Store)(nil)
)

// Store implements saga.Store on the saga_instances table.
type Store struct {
	db  DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(db DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const columns = `correlation_id, current_state, version, pending_timeout_token, created_at, updated_at`

func (s *Store) Get(ctx context.Context, correlationID string) (*saga.Instance, error) {
	inst, err := scanInstance(s.db.QueryRow(ctx,
		`SELECT `+columns+` FROM saga_instances WHERE correlation_id = $1`,
		correlationID,
	))
	if pg.IsNotFoundError(err) {
		return nil, fmt.Errorf("%w: %s", saga.ErrNotFound, correlationID)
	}
	if err != nil {
		return nil, fmt.Errorf("get saga %s: %w", correlationID, err)
	}
	return inst, nil
}

func (s *Store) Create(ctx context.Context, inst *saga.Instance) (*saga.Instance, error) {
	if inst == nil {
		return nil, saga.ErrNilInstance
	}

	now := s.now().UTC()
	created, err := scanInstance(s.db.QueryRow(ctx,
		`INSERT INTO saga_instances (`+columns+`)
		VALUES ($1, $2, 1, $3, $4, $4)
		RETURNING `+columns,
		inst.CorrelationID, string(inst.State), inst.PendingTimeout, now,
	))
	if pg.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("%w: %s", saga.ErrAlreadyExists, inst.CorrelationID)
	}
	if err != nil {
		return nil, fmt.Errorf("create saga %s: %w", inst.CorrelationID, err)
	}
	return created, nil
}

func (s *Store) Update(ctx context.Context, inst *saga.Instance, expectedVersion int64) (*saga.Instance, error) {
	if inst == nil {
		return nil, saga.ErrNilInstance
	}

	updated, err := scanInstance(s.db.QueryRow(ctx,
		`UPDATE saga_instances
		SET current_state = $2, pending_timeout_token = $3, version = version + 1, updated_at = $4
		WHERE correlation_id = $1 AND version = $5
		RETURNING `+columns,
		inst.CorrelationID, string(inst.State), inst.PendingTimeout, s.now().UTC(), expectedVersion,
	))
	if err == nil {
		return updated, nil
	}
	if !pg.IsNotFoundError(err) {
		return nil, fmt.Errorf("update saga %s: %w", inst.CorrelationID, err)
	}

	// No row matched: either the instance is gone or the version moved on.
	var stored int64
	err = s.db.QueryRow(ctx, `SELECT version FROM saga_instances WHERE correlation_id = $1`, inst.CorrelationID).Scan(&stored)
	if pg.IsNotFoundError(err) {
		return nil, fmt.Errorf("%w: %s", saga.ErrNotFound, inst.CorrelationID)
	}
	if err != nil {
		return nil, fmt.Errorf("update saga %s: %w", inst.CorrelationID, err)
	}
	return nil, fmt.Errorf("%w: %s expected version %d, stored %d",
		saga.ErrVersionConflict, inst.CorrelationID, expectedVersion, stored)
}

func (s *Store) ListStalled(ctx context.Context, states []statemachine.State, overdueBefore time.Time, limit int) ([]*saga.Instance, error) {
	names := make([]string, len(states))
	for i, st := range states {
		names[i] = string(st)
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+columns+` FROM saga_instances
		WHERE current_state = ANY($1) AND (pending_timeout_token IS NULL OR updated_at < $2)
		ORDER BY updated_at
		LIMIT $3`,
		names, overdueBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stalled sagas: %w", err)
	}
	defer rows.Close()

	var out []*saga.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("list stalled sagas: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// Count returns the number of stored instances.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM saga_instances`).Scan(&n)
	return n, err
}

func scanInstance(row pgx.Row) (*saga.Instance, error) {
	var (
		inst  saga.Instance
		state string
		token pgtype.UUID
	)
	if err := row.Scan(&inst.CorrelationID, &state, &inst.Version, &token, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
		return nil, err
	}

	inst.State = statemachine.State(state)
	if token.Valid {
		t := uuid.UUID(token.Bytes)
		inst.PendingTimeout = &t
	}
	return &inst, nil
}
