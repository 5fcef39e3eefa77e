package saga_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sagakit/pkg/saga"
	"github.com/dmitrymomot/sagakit/pkg/saga/order"
	"github.com/dmitrymomot/sagakit/pkg/statemachine"
)

func fixedTokens(tokens ...uuid.UUID) func() uuid.UUID {
	i := 0
	return func() uuid.UUID {
		t := tokens[i%len(tokens)]
		i++
		return t
	}
}

func TestEngine_Apply(t *testing.T) {
	t.Parallel()

	id := uuid.NewString()
	tokenA := uuid.New()
	m := order.Machine(5 * time.Second)

	t.Run("initiating event schedules a timeout", func(t *testing.T) {
		t.Parallel()

		eng := saga.NewEngine(m, saga.WithTokenSource(fixedTokens(tokenA)))
		env, err := order.NewEvent(order.OrderCreated, id)
		require.NoError(t, err)

		plan, err := eng.Apply(nil, env)
		require.NoError(t, err)

		assert.True(t, plan.Create)
		assert.Equal(t, order.WaitingForPayment, plan.Instance.State)
		require.NotNil(t, plan.Schedule)
		assert.Equal(t, tokenA, plan.Schedule.Token)
		assert.Equal(t, 5*time.Second, plan.Schedule.Delay)
		require.NotNil(t, plan.Instance.PendingTimeout)
		assert.Equal(t, tokenA, *plan.Instance.PendingTimeout)
		assert.Empty(t, plan.Cancel)
		assert.Equal(t, []string{"Order created"}, plan.Logs)
	})

	t.Run("leaving the timed state cancels the token", func(t *testing.T) {
		t.Parallel()

		eng := saga.NewEngine(m)
		inst := &saga.Instance{CorrelationID: id, State: order.WaitingForPayment, Version: 1, PendingTimeout: &tokenA}
		env, err := order.NewEvent(order.PaymentReceived, id)
		require.NoError(t, err)

		plan, err := eng.Apply(inst, env)
		require.NoError(t, err)

		assert.False(t, plan.Create)
		assert.Equal(t, []uuid.UUID{tokenA}, plan.Cancel)
		assert.Nil(t, plan.Instance.PendingTimeout)
		assert.Nil(t, plan.Schedule)
		// The input is not modified.
		assert.Equal(t, order.WaitingForPayment, inst.State)
		assert.Equal(t, tokenA, *inst.PendingTimeout)
	})

	t.Run("fired token is consumed without cancel", func(t *testing.T) {
		t.Parallel()

		eng := saga.NewEngine(m)
		inst := &saga.Instance{CorrelationID: id, State: order.WaitingForPayment, Version: 1, PendingTimeout: &tokenA}
		token := tokenA
		env := saga.Envelope{Type: order.TimeoutExpired, CorrelationID: id, TimeoutToken: &token}

		plan, err := eng.Apply(inst, env)
		require.NoError(t, err)

		assert.Equal(t, order.Finalized, plan.Instance.State)
		assert.True(t, plan.Outcome.Terminal)
		assert.Empty(t, plan.Cancel)
		assert.Nil(t, plan.Instance.PendingTimeout)
	})

	t.Run("stale token is rejected", func(t *testing.T) {
		t.Parallel()

		eng := saga.NewEngine(m)
		inst := &saga.Instance{CorrelationID: id, State: order.WaitingForPayment, Version: 1, PendingTimeout: &tokenA}
		other := uuid.New()
		env := saga.Envelope{Type: order.TimeoutExpired, CorrelationID: id, TimeoutToken: &other}

		_, err := eng.Apply(inst, env)
		assert.ErrorIs(t, err, saga.ErrInvalidTransition)
	})

	t.Run("timeout without token is rejected", func(t *testing.T) {
		t.Parallel()

		eng := saga.NewEngine(m)
		inst := &saga.Instance{CorrelationID: id, State: order.WaitingForPayment, Version: 1, PendingTimeout: &tokenA}
		env, err := order.NewEvent(order.TimeoutExpired, id)
		require.NoError(t, err)

		_, err = eng.Apply(inst, env)
		assert.ErrorIs(t, err, saga.ErrInvalidTransition)
		assert.ErrorIs(t, err, saga.ErrMissingTimeoutToken)

		plan, err := saga.NewEngine(m, saga.WithTokenlessTimeouts()).Apply(inst, env)
		require.NoError(t, err)
		assert.Equal(t, order.Finalized, plan.Instance.State)
		assert.Equal(t, []uuid.UUID{tokenA}, plan.Cancel)
	})

	t.Run("event not in table is rejected", func(t *testing.T) {
		t.Parallel()

		eng := saga.NewEngine(m)
		inst := &saga.Instance{CorrelationID: id, State: order.Finalized, Version: 3}
		env, err := order.NewEvent(order.OrderShipped, id)
		require.NoError(t, err)

		_, err = eng.Apply(inst, env)
		assert.ErrorIs(t, err, saga.ErrInvalidTransition)
		assert.True(t, statemachine.IsNoTransitionAvailableError(err))
	})
}

func TestEngine_CustomTimeoutEvent(t *testing.T) {
	t.Parallel()

	m := statemachine.MustNew(statemachine.Definition{
		Initial:  "new",
		Terminal: []statemachine.State{"expired"},
		Transitions: []statemachine.Transition{
			{From: "new", Event: "start", To: "waiting", Effects: []statemachine.Effect{statemachine.ScheduleTimeout(time.Minute)}},
			{From: "waiting", Event: "expire", To: "expired"},
		},
	})
	eng := saga.NewEngine(m, saga.WithTimeoutEvent("expire"))
	assert.Equal(t, statemachine.Event("expire"), eng.TimeoutEvent())

	token := uuid.New()
	other := uuid.New()
	inst := &saga.Instance{CorrelationID: "x", State: "waiting", Version: 1, PendingTimeout: &token}

	_, err := eng.Apply(inst, saga.Envelope{Type: "expire", CorrelationID: "x", TimeoutToken: &other})
	assert.ErrorIs(t, err, saga.ErrInvalidTransition)

	plan, err := eng.Apply(inst, saga.Envelope{Type: "expire", CorrelationID: "x", TimeoutToken: &token})
	require.NoError(t, err)
	assert.Equal(t, statemachine.State("expired"), plan.Instance.State)
}
