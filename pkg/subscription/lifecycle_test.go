package subscription_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

func TestTransitionsAreIdempotentAndAudited(t *testing.T) {
	t.Parallel()

	pro := proPlan.Snapshot()

	tests := []struct {
		name   string
		setup  func(f *fixture, s *subscription.Subscription)
		event  subscription.Event
		params subscription.TransitionParams
		want   subscription.Status
	}{
		{
			name: "trial pays",
			setup: func(f *fixture, s *subscription.Subscription) {
				s.Status = subscription.StatusTrial
				s.CurrentPeriodStart, s.CurrentPeriodEnd, s.LastPaymentAt = nil, nil, nil
			},
			event: subscription.EventPaymentSucceeded,
			want:  subscription.StatusActive,
		},
		{
			name:  "active renews",
			event: subscription.EventPaymentSucceeded,
			want:  subscription.StatusActive,
		},
		{
			name:  "past due pays within grace",
			setup: func(f *fixture, s *subscription.Subscription) { s.Status = subscription.StatusPastDue },
			event: subscription.EventPaymentSucceeded,
			want:  subscription.StatusActive,
		},
		{
			name: "suspended pays late",
			setup: func(f *fixture, s *subscription.Subscription) {
				s.Status = subscription.StatusSuspended
				s.SuspendedAt = ptr(f.now().Add(-time.Hour))
			},
			event: subscription.EventPaymentSucceeded,
			want:  subscription.StatusActive,
		},
		{
			name:   "renewal charge fails",
			event:  subscription.EventPaymentFailed,
			params: subscription.TransitionParams{FailureReason: "insufficient_funds"},
			want:   subscription.StatusPastDue,
		},
		{
			name:   "past due fails again",
			setup:  func(f *fixture, s *subscription.Subscription) { s.Status = subscription.StatusPastDue },
			event:  subscription.EventPaymentFailed,
			params: subscription.TransitionParams{FailureReason: "insufficient_funds"},
			want:   subscription.StatusPastDue,
		},
		{
			name:  "period elapses",
			setup: func(f *fixture, s *subscription.Subscription) { s.CurrentPeriodEnd = ptr(f.now().Add(-time.Minute)) },
			event: subscription.EventPeriodElapsed,
			want:  subscription.StatusPastDue,
		},
		{
			name: "trial elapses with grace",
			setup: func(f *fixture, s *subscription.Subscription) {
				s.Status = subscription.StatusTrial
				s.CurrentPeriodStart, s.CurrentPeriodEnd = nil, nil
				s.TrialEndsAt = ptr(f.now().Add(-time.Minute))
			},
			event: subscription.EventTrialElapsed,
			want:  subscription.StatusPastDue,
		},
		{
			name: "trial elapses without grace",
			setup: func(f *fixture, s *subscription.Subscription) {
				s.Status = subscription.StatusTrial
				s.CurrentPeriodStart, s.CurrentPeriodEnd = nil, nil
				s.TrialEndsAt = ptr(f.now().Add(-time.Minute))
				s.GracePeriodDays = 0
			},
			event: subscription.EventTrialElapsed,
			want:  subscription.StatusExpired,
		},
		{
			name: "grace elapses",
			setup: func(f *fixture, s *subscription.Subscription) {
				s.Status = subscription.StatusPastDue
				s.CurrentPeriodEnd = ptr(f.now().AddDate(0, 0, -8))
			},
			event: subscription.EventGraceElapsed,
			want:  subscription.StatusSuspended,
		},
		{
			name:  "operator reactivates",
			setup: func(f *fixture, s *subscription.Subscription) { s.Status = subscription.StatusSuspended },
			event: subscription.EventReactivate,
			want:  subscription.StatusActive,
		},
		{
			name:  "immediate cancel",
			event: subscription.EventCancel,
			want:  subscription.StatusCancelled,
		},
		{
			name:  "deferred cancel",
			event: subscription.EventScheduleCancel,
			want:  subscription.StatusActive,
		},
		{
			name:  "resume deferred cancel",
			setup: func(f *fixture, s *subscription.Subscription) { s.Metadata.CancelAtPeriodEnd = true },
			event: subscription.EventResume,
			want:  subscription.StatusActive,
		},
		{
			name: "deferred cancel comes due",
			setup: func(f *fixture, s *subscription.Subscription) {
				s.Metadata.CancelAtPeriodEnd = true
				s.CurrentPeriodEnd = ptr(f.now().Add(-time.Minute))
			},
			event: subscription.EventCancellationDue,
			want:  subscription.StatusCancelled,
		},
		{
			name:  "hard expiry",
			setup: func(f *fixture, s *subscription.Subscription) { s.Status = subscription.StatusSuspended },
			event: subscription.EventExpire,
			want:  subscription.StatusExpired,
		},
		{
			name:   "plan changes",
			event:  subscription.EventPlanChanged,
			params: subscription.TransitionParams{Plan: &pro},
			want:   subscription.StatusActive,
		},
		{
			name: "usage resets",
			setup: func(f *fixture, s *subscription.Subscription) {
				s.Usage = map[subscription.Resource]int64{subscription.ResourceAppointments: 42}
			},
			event: subscription.EventUsageReset,
			want:  subscription.StatusActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			sub := f.activeSubscription()
			if tt.setup != nil {
				tt.setup(f, sub)
			}
			f.seed(t, sub)

			req := subscription.TransitionRequest{
				SubscriptionID: sub.ID,
				Event:          tt.event,
				Trigger: subscription.Trigger{
					Key:        "test:" + tt.name,
					Source:     audit.SourceAPI,
					Actor:      "tester",
					OccurredAt: f.now(),
				},
				Params: tt.params,
			}
			res, err := f.svc.Transition(context.Background(), req)
			require.NoError(t, err)
			require.True(t, res.Applied)
			assert.Equal(t, tt.want, res.To)
			assert.Equal(t, tt.want, res.Subscription.Status)
			assert.Equal(t, tt.want.AccessAllowed(), f.accessFlag(t))
			assert.Len(t, f.auditFor(t, "subscription", sub.ID.String()), 1)

			stored := f.reload(t, sub.ID)
			assert.Equal(t, res.Subscription, stored)

			f.clock.Advance(time.Minute)
			replay, err := f.svc.Transition(context.Background(), req)
			require.NoError(t, err)
			assert.False(t, replay.Applied)
			assert.Equal(t, subscription.ReasonDuplicateTrigger, replay.Reason)
			assert.Equal(t, stored, f.reload(t, sub.ID))
			assert.Len(t, f.auditFor(t, "subscription", sub.ID.String()), 1)
		})
	}
}

func TestTransitionRejectsIllegalMoves(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sub := f.activeSubscription()
	sub.Status = subscription.StatusCancelled
	f.seed(t, sub)

	_, err := f.svc.Transition(context.Background(), subscription.TransitionRequest{
		SubscriptionID: sub.ID,
		Event:          subscription.EventPaymentSucceeded,
		Trigger:        subscription.WebhookTrigger("simulated", "evt_1", f.now()),
	})
	require.ErrorIs(t, err, subscription.ErrInvalidTransition)

	var invalid *subscription.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, subscription.StatusCancelled, invalid.From)
	assert.Equal(t, subscription.EventPaymentSucceeded, invalid.Event)
	assert.Empty(t, f.auditFor(t, "subscription", sub.ID.String()))

	t.Run("guarded events are not coerced", func(t *testing.T) {
		active := f.activeSubscription()
		active.TenantID = sub.TenantID
		f.seed(t, active)

		// the period is still running
		_, err := f.svc.Transition(context.Background(), subscription.TransitionRequest{
			SubscriptionID: active.ID,
			Event:          subscription.EventPeriodElapsed,
			Trigger:        subscription.JobTrigger("check_period_expiration", active.ID, f.now()),
		})
		assert.ErrorIs(t, err, subscription.ErrInvalidTransition)
		assert.Equal(t, subscription.StatusActive, f.reload(t, active.ID).Status)
	})

	t.Run("trigger key is required", func(t *testing.T) {
		_, err := f.svc.Transition(context.Background(), subscription.TransitionRequest{
			SubscriptionID: sub.ID,
			Event:          subscription.EventExpire,
		})
		assert.ErrorIs(t, err, subscription.ErrValidation)
	})
}

func TestStalePaymentFailureIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sub := f.activeSubscription()
	sub.LastPaymentAt = ptr(f.now())
	f.seed(t, sub)

	res, err := f.svc.Transition(context.Background(), subscription.TransitionRequest{
		SubscriptionID: sub.ID,
		Event:          subscription.EventPaymentFailed,
		Trigger:        subscription.WebhookTrigger("simulated", "evt_late", f.now().Add(-time.Hour)),
		Params:         subscription.TransitionParams{FailureReason: "card_declined"},
	})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, subscription.ReasonStalePayment, res.Reason)
	assert.Equal(t, subscription.StatusActive, f.reload(t, sub.ID).Status)
}

func TestTransitionTimestampEffects(t *testing.T) {
	t.Parallel()

	t.Run("renewal advances from the old period end", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		sub := f.seed(t, f.activeSubscription())
		oldEnd := *sub.CurrentPeriodEnd

		res, err := f.svc.Transition(context.Background(), subscription.TransitionRequest{
			SubscriptionID: sub.ID,
			Event:          subscription.EventPaymentSucceeded,
			Trigger:        subscription.WebhookTrigger("simulated", "evt_renew", f.now()),
			Params:         subscription.TransitionParams{PaidAt: f.now()},
		})
		require.NoError(t, err)
		got := res.Subscription
		assert.Equal(t, oldEnd, *got.CurrentPeriodStart)
		assert.Equal(t, oldEnd.AddDate(0, 1, 0), *got.CurrentPeriodEnd)
		assert.Equal(t, f.now(), *got.LastPaymentAt)
	})

	t.Run("renewals keep the month end anchor", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		sub := f.activeSubscription()
		sub.CurrentPeriodStart = ptr(time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC))
		sub.CurrentPeriodEnd = ptr(time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC))
		f.seed(t, sub)

		var ends []time.Time
		for _, key := range []string{"evt_renew_feb", "evt_renew_mar"} {
			res, err := f.svc.Transition(context.Background(), subscription.TransitionRequest{
				SubscriptionID: sub.ID,
				Event:          subscription.EventPaymentSucceeded,
				Trigger:        subscription.WebhookTrigger("simulated", key, f.now()),
				Params:         subscription.TransitionParams{PaidAt: f.now()},
			})
			require.NoError(t, err)
			require.True(t, res.Applied)
			ends = append(ends, *res.Subscription.CurrentPeriodEnd)
		}
		assert.Equal(t, []time.Time{
			time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC),
		}, ends)
		assert.Equal(t, 31, f.reload(t, sub.ID).Metadata.BillingAnchorDay)
	})

	t.Run("reactivation starts a new period now", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		sub := f.activeSubscription()
		sub.Status = subscription.StatusSuspended
		sub.SuspendedAt = ptr(f.now().AddDate(0, 0, -3))
		f.seed(t, sub)

		res, err := f.svc.Transition(context.Background(), subscription.TransitionRequest{
			SubscriptionID: sub.ID,
			Event:          subscription.EventReactivate,
			Trigger:        subscription.APITrigger("operator", "reactivate-1", f.now()),
		})
		require.NoError(t, err)
		got := res.Subscription
		assert.Equal(t, f.now(), *got.CurrentPeriodStart)
		assert.Equal(t, f.now().AddDate(0, 1, 0), *got.CurrentPeriodEnd)
		assert.Nil(t, got.SuspendedAt)
	})

	t.Run("immediate cancel ends now, deferred ends at period end", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		sub := f.seed(t, f.activeSubscription())

		res, err := f.svc.Transition(context.Background(), subscription.TransitionRequest{
			SubscriptionID: sub.ID,
			Event:          subscription.EventScheduleCancel,
			Trigger:        subscription.APITrigger("owner", "cancel-1", f.now()),
			Params:         subscription.TransitionParams{CancelReason: "closing the salon"},
		})
		require.NoError(t, err)
		assert.True(t, res.Subscription.Metadata.CancelAtPeriodEnd)
		assert.Equal(t, *sub.CurrentPeriodEnd, *res.Subscription.EndsAt)
		assert.Nil(t, res.Subscription.NextBillingAt)

		res, err = f.svc.Transition(context.Background(), subscription.TransitionRequest{
			SubscriptionID: sub.ID,
			Event:          subscription.EventCancel,
			Trigger:        subscription.APITrigger("owner", "cancel-2", f.now()),
		})
		require.NoError(t, err)
		assert.Equal(t, f.now(), *res.Subscription.EndsAt)
		assert.Equal(t, f.now(), *res.Subscription.CancelledAt)
	})
}

func TestTrialExpiryThenGraceSuspends(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.svc.StartTrial(ctx, f.tenantID, basicPlan.ID)
	require.NoError(t, err)
	require.Equal(t, subscription.StatusTrial, sub.Status)
	assert.True(t, f.accessFlag(t))
	require.NoError(t, f.svc.CheckAccess(ctx, f.tenantID))

	f.clock.Advance(14 * 24 * time.Hour)
	res, err := f.svc.Transition(ctx, subscription.TransitionRequest{
		SubscriptionID: sub.ID,
		Event:          subscription.EventTrialElapsed,
		Trigger:        subscription.JobTrigger("check_trial_expiration", sub.ID, f.now()),
	})
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPastDue, res.To)
	assert.True(t, f.accessFlag(t))
	assert.NoError(t, f.svc.CheckAccess(ctx, f.tenantID))
	assert.True(t, subscription.InGracePeriod(res.Subscription, f.now()))

	f.clock.Advance(7 * 24 * time.Hour)
	assert.ErrorIs(t, f.svc.CheckAccess(ctx, f.tenantID), subscription.ErrGracePeriodExpired)

	res, err = f.svc.Transition(ctx, subscription.TransitionRequest{
		SubscriptionID: sub.ID,
		Event:          subscription.EventGraceElapsed,
		Trigger:        subscription.JobTrigger("check_grace_period", sub.ID, f.now()),
	})
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusSuspended, res.To)
	assert.False(t, f.accessFlag(t))
	assert.ErrorIs(t, f.svc.CheckAccess(ctx, f.tenantID), subscription.ErrSubscriptionInactive)
}
