package pgstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sagakit/pkg/saga"
	"github.com/dmitrymomot/sagakit/pkg/saga/pgstore"
	"github.com/dmitrymomot/sagakit/pkg/statemachine"
)

type rowFunc func(dest ...any) error

func (f rowFunc) Scan(dest ...any) error { return f(dest...) }

type record struct {
	id      string
	state   string
	version int64
	token   *uuid.UUID
	at      time.Time
}

func (r record) row() pgx.Row {
	return rowFunc(func(dest ...any) error { return r.scan(dest...) })
}

func (r record) scan(dest ...any) error {
	*dest[0].(*string) = r.id
	*dest[1].(*string) = r.state
	*dest[2].(*int64) = r.version
	tok := dest[3].(*pgtype.UUID)
	if r.token != nil {
		*tok = pgtype.UUID{Bytes: *r.token, Valid: true}
	}
	*dest[4].(*time.Time) = r.at
	*dest[5].(*time.Time) = r.at
	return nil
}

func versionRow(v int64) pgx.Row {
	return rowFunc(func(dest ...any) error {
		*dest[0].(*int64) = v
		return nil
	})
}

func errRow(err error) pgx.Row {
	return rowFunc(func(...any) error { return err })
}

// fakeDB answers QueryRow calls from rows, in order.
type fakeDB struct {
	rows    []pgx.Row
	list    pgx.Rows
	queries []string
	args    [][]any
}

func (db *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	db.queries = append(db.queries, sql)
	db.args = append(db.args, args)
	row := db.rows[0]
	db.rows = db.rows[1:]
	return row
}

func (db *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	db.queries = append(db.queries, sql)
	db.args = append(db.args, args)
	return db.list, nil
}

// fakeRows iterates over records.
type fakeRows struct {
	pgx.Rows
	records []record
	pos     int
	closed  bool
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.records) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error { return r.records[r.pos-1].scan(dest...) }
func (r *fakeRows) Err() error             { return nil }
func (r *fakeRows) Close()                 { r.closed = true }

var now = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func newStore(db *fakeDB) *pgstore.Store {
	return pgstore.New(db, pgstore.WithClock(func() time.Time { return now }))
}

func TestStore_Get(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	id := uuid.NewString()
	token := uuid.New()

	db := &fakeDB{rows: []pgx.Row{record{id: id, state: "WaitingForPayment", version: 1, token: &token, at: now}.row()}}
	inst, err := newStore(db).Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, statemachine.State("WaitingForPayment"), inst.State)
	assert.Equal(t, int64(1), inst.Version)
	require.NotNil(t, inst.PendingTimeout)
	assert.Equal(t, token, *inst.PendingTimeout)

	db = &fakeDB{rows: []pgx.Row{errRow(pgx.ErrNoRows)}}
	_, err = newStore(db).Get(ctx, id)
	assert.ErrorIs(t, err, saga.ErrNotFound)
}

func TestStore_Create(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	id := uuid.NewString()

	db := &fakeDB{rows: []pgx.Row{record{id: id, state: "WaitingForPayment", version: 1, at: now}.row()}}
	inst, err := newStore(db).Create(ctx, &saga.Instance{CorrelationID: id, State: "WaitingForPayment"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), inst.Version)
	assert.Nil(t, inst.PendingTimeout)
	assert.Contains(t, db.queries[0], "INSERT INTO saga_instances")
	assert.Equal(t, now, db.args[0][3])

	db = &fakeDB{rows: []pgx.Row{errRow(&pgconn.PgError{Code: "23505"})}}
	_, err = newStore(db).Create(ctx, &saga.Instance{CorrelationID: id, State: "WaitingForPayment"})
	assert.ErrorIs(t, err, saga.ErrAlreadyExists)
}

func TestStore_Update(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	id := uuid.NewString()
	inst := &saga.Instance{CorrelationID: id, State: "WaitingForShipping"}

	t.Run("version matches", func(t *testing.T) {
		t.Parallel()

		db := &fakeDB{rows: []pgx.Row{record{id: id, state: "WaitingForShipping", version: 2, at: now}.row()}}
		got, err := newStore(db).Update(ctx, inst, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
		assert.Contains(t, db.queries[0], "version = $5")
		assert.Equal(t, int64(1), db.args[0][4])
	})

	t.Run("version moved on", func(t *testing.T) {
		t.Parallel()

		db := &fakeDB{rows: []pgx.Row{errRow(pgx.ErrNoRows), versionRow(3)}}
		_, err := newStore(db).Update(ctx, inst, 1)
		assert.ErrorIs(t, err, saga.ErrVersionConflict)
		assert.Len(t, db.queries, 2)
	})

	t.Run("instance missing", func(t *testing.T) {
		t.Parallel()

		db := &fakeDB{rows: []pgx.Row{errRow(pgx.ErrNoRows), errRow(pgx.ErrNoRows)}}
		_, err := newStore(db).Update(ctx, inst, 1)
		assert.ErrorIs(t, err, saga.ErrNotFound)
	})

	t.Run("driver error", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("connection reset")
		db := &fakeDB{rows: []pgx.Row{errRow(boom)}}
		_, err := newStore(db).Update(ctx, inst, 1)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, saga.ErrVersionConflict)
	})
}

func TestStore_ListStalled(t *testing.T) {
	t.Parallel()

	rows := &fakeRows{records: []record{
		{id: "a", state: "WaitingForPayment", version: 2, at: now},
		{id: "b", state: "WaitingForPayment", version: 1, at: now},
	}}
	db := &fakeDB{list: rows}

	cutoff := now.Add(-time.Minute)
	got, err := newStore(db).ListStalled(context.Background(), []statemachine.State{"WaitingForPayment"}, cutoff, 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].CorrelationID)
	assert.True(t, rows.closed)
	assert.Equal(t, []string{"WaitingForPayment"}, db.args[0][0])
	assert.Equal(t, cutoff, db.args[0][1])
	assert.Equal(t, 50, db.args[0][2])
	assert.Contains(t, db.queries[0], "pending_timeout_token IS NULL OR updated_at < $2")
}
