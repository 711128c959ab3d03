package statemachine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pinboard/pkg/statemachine"
)

const (
	Pending  = statemachine.StringState("pending")
	Active   = statemachine.StringState("active")
	Canceled = statemachine.StringState("canceled")

	Activate = statemachine.StringEvent("activate")
	Cancel   = statemachine.StringEvent("cancel")
	Renew    = statemachine.StringEvent("renew")
)

func TestTable_Fire(t *testing.T) {
	t.Parallel()

	t.Run("returns target state", func(t *testing.T) {
		t.Parallel()
		table := statemachine.MustNew(
			statemachine.WithTransition(Pending, Active, Activate),
			statemachine.WithTransition(Active, Canceled, Cancel),
		)

		next, err := table.Fire(context.Background(), Pending, Activate, nil)
		require.NoError(t, err)
		assert.Equal(t, Active, next)

		next, err = table.Fire(context.Background(), next, Cancel, nil)
		require.NoError(t, err)
		assert.Equal(t, Canceled, next)
	})

	t.Run("self transition", func(t *testing.T) {
		t.Parallel()
		table := statemachine.MustNew(statemachine.WithTransition(Active, Active, Renew))

		next, err := table.Fire(context.Background(), Active, Renew, nil)
		require.NoError(t, err)
		assert.Equal(t, Active, next)
	})

	t.Run("no transition available", func(t *testing.T) {
		t.Parallel()
		table := statemachine.MustNew(statemachine.WithTransition(Pending, Active, Activate))

		next, err := table.Fire(context.Background(), Canceled, Activate, nil)
		require.Error(t, err)
		assert.True(t, statemachine.IsNoTransitionAvailableError(err))
		assert.Equal(t, Canceled, next)
	})

	t.Run("nil inputs", func(t *testing.T) {
		t.Parallel()
		table := statemachine.MustNew()

		_, err := table.Fire(context.Background(), nil, Activate, nil)
		assert.ErrorIs(t, err, statemachine.ErrInvalidState)

		_, err = table.Fire(context.Background(), Pending, nil, nil)
		assert.ErrorIs(t, err, statemachine.ErrInvalidEvent)
	})
}

func TestTable_Guards(t *testing.T) {
	t.Parallel()

	allowed := func(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
		ok, _ := data.(bool)
		return ok
	}

	table := statemachine.MustNew(
		statemachine.WithTransition(Pending, Active, Activate, statemachine.WithGuard(allowed)),
	)

	ctx := context.Background()
	assert.True(t, table.CanFire(ctx, Pending, Activate, true))
	assert.False(t, table.CanFire(ctx, Pending, Activate, false))

	next, err := table.Fire(ctx, Pending, Activate, false)
	require.Error(t, err)
	assert.True(t, statemachine.IsTransitionRejectedError(err))
	assert.Equal(t, Pending, next)
}

func TestTable_GuardBranching(t *testing.T) {
	t.Parallel()

	isActive := func(_ context.Context, from statemachine.State, _ statemachine.Event, _ any) bool {
		return from == Active
	}
	never := func(context.Context, statemachine.State, statemachine.Event, any) bool { return false }

	table := statemachine.MustNew(
		statemachine.WithTransition(Active, Canceled, Cancel, statemachine.WithGuard(never)),
		statemachine.WithTransition(Active, Active, Cancel, statemachine.WithGuard(isActive)),
	)

	next, err := table.Fire(context.Background(), Active, Cancel, nil)
	require.NoError(t, err)
	assert.Equal(t, Active, next)
}

func TestTable_Actions(t *testing.T) {
	t.Parallel()

	t.Run("run in order with edge", func(t *testing.T) {
		t.Parallel()
		var calls []string
		record := func(tag string) statemachine.Action {
			return func(_ context.Context, from, to statemachine.State, evt statemachine.Event, _ any) error {
				calls = append(calls, tag+":"+from.Name()+"->"+to.Name()+"@"+evt.Name())
				return nil
			}
		}

		table := statemachine.MustNew(
			statemachine.WithTransition(Pending, Active, Activate,
				statemachine.WithActions(record("a"), nil, record("b")),
			),
		)

		_, err := table.Fire(context.Background(), Pending, Activate, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a:pending->active@activate", "b:pending->active@activate"}, calls)
	})

	t.Run("failure aborts", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		secondRan := false

		table := statemachine.MustNew(
			statemachine.WithTransition(Pending, Active, Activate,
				statemachine.WithAction(func(context.Context, statemachine.State, statemachine.State, statemachine.Event, any) error {
					return boom
				}),
				statemachine.WithAction(func(context.Context, statemachine.State, statemachine.State, statemachine.Event, any) error {
					secondRan = true
					return nil
				}),
			),
		)

		next, err := table.Fire(context.Background(), Pending, Activate, nil)
		require.ErrorIs(t, err, boom)
		assert.Equal(t, Pending, next)
		assert.False(t, secondRan)
	})

	t.Run("can fire does not run actions", func(t *testing.T) {
		t.Parallel()
		ran := false
		table := statemachine.MustNew(
			statemachine.WithTransition(Pending, Active, Activate,
				statemachine.WithAction(func(context.Context, statemachine.State, statemachine.State, statemachine.Event, any) error {
					ran = true
					return nil
				}),
			),
		)

		assert.True(t, table.CanFire(context.Background(), Pending, Activate, nil))
		assert.False(t, ran)
	})
}

func TestTable_Events(t *testing.T) {
	t.Parallel()

	table := statemachine.MustNew(statemachine.WithTransitions([]statemachine.TransitionDef{
		{From: Active, To: Canceled, Event: Cancel},
		{From: Active, To: Active, Event: Renew},
		{From: Active, To: Active, Event: Renew},
	}))

	assert.Equal(t, []statemachine.Event{Cancel, Renew}, table.Events(Active))
	assert.Empty(t, table.Events(Pending))
	assert.Nil(t, table.Events(nil))
}

func TestNew_InvalidTransition(t *testing.T) {
	t.Parallel()

	_, err := statemachine.New(statemachine.WithTransitions([]statemachine.TransitionDef{
		{From: Pending, To: Active, Event: Activate},
		{From: nil, To: Active, Event: Activate},
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, statemachine.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "transition[1] <nil>->active on activate")

	assert.Panics(t, func() {
		statemachine.MustNew(statemachine.WithTransition(Pending, nil, Activate))
	})
}

func TestTable_ConcurrentFire(t *testing.T) {
	t.Parallel()

	table := statemachine.MustNew(statemachine.WithTransition(Pending, Active, Activate))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next, err := table.Fire(context.Background(), Pending, Activate, nil)
			assert.NoError(t, err)
			assert.Equal(t, Active, next)
		}()
	}
	wg.Wait()
}
