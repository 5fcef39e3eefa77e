package logger_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sagakit/pkg/logger"
)

func TestGroup(t *testing.T) {
	attr := logger.Group("saga", slog.String("id", "1"), slog.Int("n", 2))
	require.Equal(t, "saga", attr.Key)
	require.Equal(t, slog.KindGroup, attr.Value.Kind())
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, "id", g[0].Key)
	assert.Equal(t, "n", g[1].Key)
}

func TestErrors(t *testing.T) {
	err1 := errors.New("first")
	err2 := errors.New("second")

	attr := logger.Errors(err1, nil, err2)
	require.Equal(t, "errors", attr.Key)
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, err1, g[0].Value.Any())
	assert.Equal(t, err2, g[1].Value.Any())

	assert.True(t, logger.Errors(nil).Equal(slog.Attr{}))
}

func TestError(t *testing.T) {
	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())

	assert.True(t, logger.Error(nil).Equal(slog.Attr{}))
}

func TestSagaAttrs(t *testing.T) {
	tests := []struct {
		name string
		attr slog.Attr
		key  string
		want any
	}{
		{"correlation id", logger.CorrelationID("c-1"), "correlation_id", "c-1"},
		{"state", logger.State("Shipped"), "state", "Shipped"},
		{"transition", logger.Transition("A", "B"), "transition", "A -> B"},
		{"version", logger.Version(3), "version", int64(3)},
		{"event type", logger.EventType("OrderCreated"), "event_type", "OrderCreated"},
		{"attempt", logger.Attempt(2), "attempt", int64(2)},
		{"task name", logger.TaskName("saga.timeout"), "task_name", "saga.timeout"},
		{"component", logger.Component("orchestrator"), "component", "orchestrator"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.key, tt.attr.Key)
			assert.Equal(t, tt.want, tt.attr.Value.Any())
		})
	}
}

func TestEmptyAttrs(t *testing.T) {
	assert.True(t, logger.CorrelationID("").Equal(slog.Attr{}))
	assert.True(t, logger.Token(nil).Equal(slog.Attr{}))
	assert.True(t, logger.MessageID(nil).Equal(slog.Attr{}))
	assert.True(t, logger.RequestID(nil).Equal(slog.Attr{}))
}
