package statemachine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/statemachine"
)

const (
	Draft     = statemachine.StringState("draft")
	InReview  = statemachine.StringState("in_review")
	Approved  = statemachine.StringState("approved")
	Published = statemachine.StringState("published")
	Rejected  = statemachine.StringState("rejected")

	Submit  = statemachine.StringEvent("submit")
	Approve = statemachine.StringEvent("approve")
	Reject  = statemachine.StringEvent("reject")
	Publish = statemachine.StringEvent("publish")
	Touch   = statemachine.StringEvent("touch")
)

func TestMachineFire(t *testing.T) {
	t.Parallel()

	m := statemachine.MustNew(
		statemachine.WithTransition(Draft, InReview, Submit),
		statemachine.WithTransition(InReview, Approved, Approve),
		statemachine.WithTransition(InReview, Rejected, Reject),
		statemachine.WithTransition(Approved, Published, Publish),
	)
	ctx := context.Background()

	t.Run("moves through the table without holding state", func(t *testing.T) {
		t.Parallel()

		next, err := m.Fire(ctx, Draft, Submit, nil)
		require.NoError(t, err)
		assert.Equal(t, InReview, next)

		next, err = m.Fire(ctx, next, Approve, nil)
		require.NoError(t, err)
		assert.Equal(t, Approved, next)

		// the same machine answers for another entity still in draft
		again, err := m.Fire(ctx, Draft, Submit, nil)
		require.NoError(t, err)
		assert.Equal(t, InReview, again)
	})

	t.Run("undefined transition returns typed error and keeps state", func(t *testing.T) {
		t.Parallel()

		next, err := m.Fire(ctx, Draft, Publish, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, statemachine.ErrNoTransition)
		assert.Equal(t, Draft, next)

		var typed *statemachine.TransitionError
		require.ErrorAs(t, err, &typed)
		assert.Equal(t, "draft", typed.State)
		assert.Equal(t, "publish", typed.Event)
	})

	t.Run("nil inputs", func(t *testing.T) {
		t.Parallel()

		_, err := m.Fire(ctx, nil, Submit, nil)
		assert.ErrorIs(t, err, statemachine.ErrInvalidState)

		_, err = m.Fire(ctx, Draft, nil, nil)
		assert.ErrorIs(t, err, statemachine.ErrInvalidEvent)
	})

	t.Run("final states", func(t *testing.T) {
		t.Parallel()

		assert.True(t, m.IsFinal(Published))
		assert.True(t, m.IsFinal(Rejected))
		assert.False(t, m.IsFinal(InReview))
	})

	t.Run("events are listed sorted", func(t *testing.T) {
		t.Parallel()

		events := m.Events(InReview)
		require.Len(t, events, 2)
		assert.Equal(t, "approve", events[0].Name())
		assert.Equal(t, "reject", events[1].Name())
		assert.Empty(t, m.Events(Published))
	})
}

func TestMachineGuards(t *testing.T) {
	t.Parallel()

	isAuthorized := func(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
		ok, _ := data.(bool)
		return ok
	}

	m := statemachine.MustNew(
		statemachine.WithTransition(Draft, InReview, Submit, statemachine.WithGuard(isAuthorized)),
	)
	ctx := context.Background()

	assert.False(t, m.CanFire(ctx, Draft, Submit, false))
	_, err := m.Fire(ctx, Draft, Submit, false)
	assert.ErrorIs(t, err, statemachine.ErrRejected)

	assert.True(t, m.CanFire(ctx, Draft, Submit, true))
	next, err := m.Fire(ctx, Draft, Submit, true)
	require.NoError(t, err)
	assert.Equal(t, InReview, next)
}

func TestMachineBranching(t *testing.T) {
	t.Parallel()

	wantsApproval := func(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
		return data == "approve"
	}

	m := statemachine.MustNew(
		statemachine.WithTransition(InReview, Approved, Submit, statemachine.WithGuard(wantsApproval)),
		statemachine.WithTransition(InReview, Rejected, Submit),
	)
	ctx := context.Background()

	next, err := m.Fire(ctx, InReview, Submit, "approve")
	require.NoError(t, err)
	assert.Equal(t, Approved, next)

	next, err = m.Fire(ctx, InReview, Submit, "anything")
	require.NoError(t, err)
	assert.Equal(t, Rejected, next)
}

func TestMachineActions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("actions run in order and see the transition", func(t *testing.T) {
		t.Parallel()

		var seen []string
		record := func(label string) statemachine.Action {
			return func(_ context.Context, tr statemachine.Transition, _ any) error {
				seen = append(seen, label+":"+tr.From.Name()+"->"+tr.To.Name())
				return nil
			}
		}

		m := statemachine.MustNew(
			statemachine.WithTransition(Draft, InReview, Submit,
				statemachine.WithAction(record("first")),
				statemachine.WithAction(record("second")),
			),
		)

		_, err := m.Fire(ctx, Draft, Submit, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"first:draft->in_review", "second:draft->in_review"}, seen)
	})

	t.Run("failing action aborts", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		m := statemachine.MustNew(
			statemachine.WithTransition(Draft, InReview, Submit,
				statemachine.WithAction(func(context.Context, statemachine.Transition, any) error { return boom }),
			),
		)

		next, err := m.Fire(ctx, Draft, Submit, nil)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, Draft, next)
	})

	t.Run("resolve does not run actions", func(t *testing.T) {
		t.Parallel()

		called := false
		m := statemachine.MustNew(
			statemachine.WithTransition(Draft, InReview, Submit,
				statemachine.WithAction(func(context.Context, statemachine.Transition, any) error {
					called = true
					return nil
				}),
			),
		)

		tr, err := m.Resolve(ctx, Draft, Submit, nil)
		require.NoError(t, err)
		assert.Equal(t, InReview, tr.To)
		assert.False(t, called)
	})
}

func TestMachineHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	m := statemachine.MustNew(
		statemachine.WithTransitionFrom([]statemachine.State{Draft, InReview, Approved}, Rejected, Reject),
		statemachine.WithSelfLoops([]statemachine.State{Draft, InReview}, Touch),
	)

	for _, from := range []statemachine.State{Draft, InReview, Approved} {
		next, err := m.Fire(ctx, from, Reject, nil)
		require.NoError(t, err)
		assert.Equal(t, Rejected, next)
	}

	tr, err := m.Resolve(ctx, InReview, Touch, nil)
	require.NoError(t, err)
	assert.True(t, tr.IsSelfLoop())

	assert.False(t, m.CanFire(ctx, Approved, Touch, nil))
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("empty table is rejected", func(t *testing.T) {
		t.Parallel()

		_, err := statemachine.New()
		assert.ErrorIs(t, err, statemachine.ErrEmptyTable)
	})

	t.Run("nil states are rejected", func(t *testing.T) {
		t.Parallel()

		_, err := statemachine.New(statemachine.WithTransitions([]statemachine.TransitionDef{
			{From: Draft, To: nil, Event: Submit},
		}))
		assert.ErrorIs(t, err, statemachine.ErrInvalidTransition)
		assert.Contains(t, err.Error(), "draft-><nil>")
	})

	t.Run("must new panics", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() { statemachine.MustNew() })
	})
}
