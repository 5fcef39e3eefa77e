package pg_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/sagakit/pkg/pg"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	serial := &pgconn.PgError{Code: "40001"}
	deadlock := &pgconn.PgError{Code: "40P01"}
	notFound := fmt.Errorf("select: %w", pgx.ErrNoRows)
	other := errors.New("boom")

	assert.True(t, pg.IsDuplicateKeyError(dup))
	assert.False(t, pg.IsDuplicateKeyError(serial))
	assert.False(t, pg.IsDuplicateKeyError(nil))

	assert.True(t, pg.IsSerializationError(serial))
	assert.True(t, pg.IsSerializationError(deadlock))
	assert.False(t, pg.IsSerializationError(other))

	assert.True(t, pg.IsNotFoundError(notFound))
	assert.False(t, pg.IsNotFoundError(other))
	assert.False(t, pg.IsNotFoundError(nil))
}
