package statemachine_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sagakit/pkg/statemachine"
)

const (
	Initial   = statemachine.State("Initial")
	Waiting   = statemachine.State("Waiting")
	Shipping  = statemachine.State("Shipping")
	Done      = statemachine.State("Done")
	Created   = statemachine.Event("Created")
	Paid      = statemachine.Event("Paid")
	Expired   = statemachine.Event("Expired")
	Shipped   = statemachine.Event("Shipped")
	Unrelated = statemachine.Event("Unrelated")
)

func testDefinition() statemachine.Definition {
	return statemachine.Definition{
		Name:     "test",
		Initial:  Initial,
		Terminal: []statemachine.State{Done},
		Transitions: []statemachine.Transition{
			{From: Initial, Event: Created, To: Waiting, Effects: []statemachine.Effect{
				statemachine.ScheduleTimeout(10 * time.Second),
				statemachine.Log("created"),
			}},
			{From: Waiting, Event: Paid, To: Shipping, Effects: []statemachine.Effect{
				statemachine.CancelTimeout(),
			}},
			{From: Waiting, Event: Expired, To: Done},
			{From: Shipping, Event: Shipped, To: Done},
		},
	}
}

func TestMachine_Apply(t *testing.T) {
	t.Parallel()

	m := statemachine.MustNew(testDefinition())

	t.Run("defined transition", func(t *testing.T) {
		t.Parallel()

		out, err := m.Apply(Initial, Created)
		require.NoError(t, err)
		assert.Equal(t, Initial, out.From)
		assert.Equal(t, Waiting, out.To)
		assert.Equal(t, Created, out.Event)
		assert.False(t, out.Terminal)
		assert.True(t, out.HasEffect(statemachine.EffectScheduleTimeout))
		assert.True(t, out.HasEffect(statemachine.EffectLog))
		assert.False(t, out.HasEffect(statemachine.EffectCancelTimeout))
	})

	t.Run("terminal outcome", func(t *testing.T) {
		t.Parallel()

		out, err := m.Apply(Shipping, Shipped)
		require.NoError(t, err)
		assert.Equal(t, Done, out.To)
		assert.True(t, out.Terminal)
	})

	t.Run("undefined pair is rejected", func(t *testing.T) {
		t.Parallel()

		_, err := m.Apply(Waiting, Shipped)
		require.Error(t, err)
		assert.True(t, statemachine.IsNoTransitionAvailableError(err))
	})

	t.Run("terminal state rejects everything", func(t *testing.T) {
		t.Parallel()

		for _, e := range []statemachine.Event{Created, Paid, Expired, Shipped} {
			_, err := m.Apply(Done, e)
			require.Error(t, err)

			var nt *statemachine.ErrNoTransitionAvailable
			require.ErrorAs(t, err, &nt)
			assert.True(t, nt.Terminal)
			assert.Equal(t, "Done", nt.StateName)
		}
	})

	t.Run("empty event", func(t *testing.T) {
		t.Parallel()

		_, err := m.Apply(Initial, "")
		assert.ErrorIs(t, err, statemachine.ErrInvalidEvent)
	})

	t.Run("unknown state", func(t *testing.T) {
		t.Parallel()

		_, err := m.Apply("Bogus", Created)
		assert.ErrorIs(t, err, statemachine.ErrUnknownState)
	})

	t.Run("effects are copied", func(t *testing.T) {
		t.Parallel()

		out, err := m.Apply(Initial, Created)
		require.NoError(t, err)
		out.Effects[0] = statemachine.Log("mutated")

		again, err := m.Apply(Initial, Created)
		require.NoError(t, err)
		assert.Equal(t, statemachine.EffectScheduleTimeout, again.Effects[0].Kind)
	})
}

func TestMachine_Introspection(t *testing.T) {
	t.Parallel()

	m := statemachine.MustNew(testDefinition())

	assert.Equal(t, "test", m.Name())
	assert.Equal(t, Initial, m.Initial())
	assert.Equal(t, []statemachine.State{Initial, Done, Waiting, Shipping}, m.States())
	assert.True(t, m.IsInitiating(Created))
	assert.False(t, m.IsInitiating(Paid))
	assert.True(t, m.IsTerminal(Done))
	assert.False(t, m.IsTerminal(Waiting))
	assert.True(t, m.CanApply(Waiting, Paid))
	assert.False(t, m.CanApply(Waiting, Unrelated))

	d, ok := m.TimeoutFor(Waiting)
	assert.True(t, ok)
	assert.Equal(t, 10*time.Second, d)
	_, ok = m.TimeoutFor(Shipping)
	assert.False(t, ok)
	assert.Equal(t, []statemachine.State{Waiting}, m.TimedStates())
}

func TestMachine_Fold(t *testing.T) {
	t.Parallel()

	m := statemachine.MustNew(testDefinition())

	assert.Equal(t, Initial, m.Fold())
	assert.Equal(t, Done, m.Fold(Created, Paid, Shipped))
	assert.Equal(t, Shipping, m.Fold(Created, Paid, Expired))
	assert.Equal(t, Done, m.Fold(Created, Expired, Paid, Shipped))
	assert.Equal(t, Initial, m.Fold(Paid, Shipped))
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		def  statemachine.Definition
		err  error
	}{
		{
			name: "missing initial state",
			def:  statemachine.Definition{},
			err:  statemachine.ErrMissingInitialState,
		},
		{
			name: "empty event",
			def: statemachine.Definition{Initial: Initial, Transitions: []statemachine.Transition{
				{From: Initial, To: Waiting},
			}},
			err: statemachine.ErrInvalidTransition,
		},
		{
			name: "duplicate transition",
			def: statemachine.Definition{Initial: Initial, Transitions: []statemachine.Transition{
				{From: Initial, Event: Created, To: Waiting},
				{From: Initial, Event: Created, To: Done},
			}},
			err: statemachine.ErrDuplicateTransition,
		},
		{
			name: "transition out of terminal state",
			def: statemachine.Definition{Initial: Initial, Terminal: []statemachine.State{Done}, Transitions: []statemachine.Transition{
				{From: Done, Event: Created, To: Waiting},
			}},
			err: statemachine.ErrTerminalTransition,
		},
		{
			name: "non-positive timeout",
			def: statemachine.Definition{Initial: Initial, Transitions: []statemachine.Transition{
				{From: Initial, Event: Created, To: Waiting, Effects: []statemachine.Effect{statemachine.ScheduleTimeout(0)}},
			}},
			err: statemachine.ErrInvalidEffect,
		},
		{
			name: "unknown effect kind",
			def: statemachine.Definition{Initial: Initial, Transitions: []statemachine.Transition{
				{From: Initial, Event: Created, To: Waiting, Effects: []statemachine.Effect{{Kind: "email"}}},
			}},
			err: statemachine.ErrInvalidEffect,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, err := statemachine.New(tt.def)
			assert.ErrorIs(t, err, tt.err)
			assert.Nil(t, m)
		})
	}

	t.Run("MustNew panics", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() {
			statemachine.MustNew(statemachine.Definition{})
		})
	})
}

func TestLoadDefinition(t *testing.T) {
	t.Parallel()

	t.Run("valid document", func(t *testing.T) {
		t.Parallel()

		doc := `
name: test
initial: Initial
terminal: [Done]
transitions:
  - from: Initial
    event: Created
    to: Waiting
    effects:
      - {kind: schedule_timeout, delay: 10s}
      - {kind: log, message: created}
  - from: Waiting
    event: Expired
    to: Done
`
		m, err := statemachine.LoadDefinition(strings.NewReader(doc))
		require.NoError(t, err)

		out, err := m.Apply(Initial, Created)
		require.NoError(t, err)
		require.Len(t, out.Effects, 2)
		assert.Equal(t, 10*time.Second, out.Effects[0].Delay)
		assert.Equal(t, "created", out.Effects[1].Message)
		assert.True(t, m.IsTerminal(Done))
	})

	t.Run("bad delay", func(t *testing.T) {
		t.Parallel()

		doc := `
initial: Initial
transitions:
  - from: Initial
    event: Created
    to: Waiting
    effects:
      - {kind: schedule_timeout, delay: soon}
`
		_, err := statemachine.LoadDefinition(strings.NewReader(doc))
		assert.ErrorIs(t, err, statemachine.ErrDecodeDefinition)
	})

	t.Run("unknown field", func(t *testing.T) {
		t.Parallel()

		_, err := statemachine.LoadDefinition(strings.NewReader("initial: Initial\nguards: []\n"))
		assert.ErrorIs(t, err, statemachine.ErrDecodeDefinition)
	})
}
