package transport_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sagakit/pkg/saga"
	"github.com/dmitrymomot/sagakit/pkg/saga/order"
	"github.com/dmitrymomot/sagakit/pkg/transport"
)

func TestLocalBus_Publish(t *testing.T) {
	t.Parallel()

	var got saga.Envelope
	bus := transport.NewLocalBus(func(_ context.Context, env saga.Envelope) error {
		got = env
		return nil
	})

	env, err := order.NewEvent(order.OrderCreated, uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), env))
	assert.Equal(t, env.MessageID, got.MessageID)
}

func TestLocalBus_ReturnsHandlerError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	bus := transport.NewLocalBus(func(context.Context, saga.Envelope) error { return boom })
	assert.ErrorIs(t, bus.Publish(context.Background(), saga.Envelope{}), boom)
}

func TestLocalBus_RecoversPanic(t *testing.T) {
	t.Parallel()

	bus := transport.NewLocalBus(func(context.Context, saga.Envelope) error { panic("kaboom") })
	assert.ErrorIs(t, bus.Publish(context.Background(), saga.Envelope{}), transport.ErrHandlerPanic)

	assert.ErrorIs(t, transport.NewLocalBus(nil).Publish(context.Background(), saga.Envelope{}), transport.ErrNilHandler)
}

func TestLocalBus_DrivesOrchestrator(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := order.Machine(order.DefaultPaymentTimeout)
	store := saga.NewMemoryStore(nil)
	orch := saga.NewOrchestrator(store, saga.NewResolver(m), saga.NewEngine(m), nopScheduler{})
	bus := transport.NewLocalBus(transport.Handle(orch))

	id := uuid.NewString()
	for _, e := range []string{"create", "pay", "ship"} {
		ev, ok := order.Command(e)
		require.True(t, ok)
		env, err := order.NewEvent(ev, id)
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, env))
	}

	inst, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, order.Finalized, inst.State)

	// Unknown instance surfaces as an error so a durable bus would redeliver.
	env, err := order.NewEvent(order.OrderShipped, uuid.NewString())
	require.NoError(t, err)
	assert.ErrorIs(t, bus.Publish(ctx, env), saga.ErrNotFound)
}

func TestNew(t *testing.T) {
	t.Parallel()

	h := func(context.Context, saga.Envelope) error { return nil }

	bus, err := transport.New(transport.Config{Backend: transport.BackendLocal}, nil, h, nil)
	require.NoError(t, err)
	assert.IsType(t, &transport.LocalBus{}, bus)

	_, err = transport.New(transport.Config{Backend: transport.BackendRedis}, nil, h, nil)
	assert.ErrorIs(t, err, transport.ErrUnknownBackend)

	_, err = transport.New(transport.Config{Backend: "kafka"}, nil, h, nil)
	assert.ErrorIs(t, err, transport.ErrUnknownBackend)
}

func TestDecodeMessage(t *testing.T) {
	t.Parallel()

	_, err := transport.DecodeMessage(map[string]any{})
	assert.ErrorIs(t, err, transport.ErrInvalidMessage)

	_, err = transport.DecodeMessage(map[string]any{"envelope": "{not json"})
	assert.ErrorIs(t, err, transport.ErrInvalidMessage)

	env, err := transport.DecodeMessage(map[string]any{"envelope": `{"type":"OrderCreated","correlation_id":"abc"}`})
	require.NoError(t, err)
	assert.Equal(t, order.OrderCreated, env.Type)
	assert.Equal(t, "abc", env.CorrelationID)
}
