package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/reconcile"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

type mockBilling struct {
	mock.Mock
	reconcile.Billing
}

func (m *mockBilling) FindByGatewaySubscription(ctx context.Context, gatewayID string) (*subscription.Subscription, error) {
	args := m.Called(ctx, gatewayID)
	sub, _ := args.Get(0).(*subscription.Subscription)
	return sub, args.Error(1)
}

func (m *mockBilling) RecordPayment(ctx context.Context, c subscription.PaymentConfirmation) (subscription.Result, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(subscription.Result), args.Error(1)
}

type retryFixture struct {
	clock   *testClock
	billing *mockBilling
	events  *reconcile.MemoryEventStore
	audit   *audit.MemoryStorage
	gw      *gateway.Simulated
	proc    *reconcile.Processor
	sub     *subscription.Subscription
}

func newRetryFixture(t *testing.T, maxAttempts int) *retryFixture {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	billing := &mockBilling{}
	events := reconcile.NewMemoryEventStore()
	auditStorage := audit.NewMemoryStorage()
	gw := gateway.NewSimulated(gateway.SimulatedConfig{}, gateway.WithSimulatedClock(clock.Now))
	proc := reconcile.NewProcessor(billing, events,
		reconcile.WithProvider(gw),
		reconcile.WithClock(clock.Now),
		reconcile.WithAuditLogger(audit.NewLogger(auditStorage, audit.WithClock(clock.Now))),
		reconcile.WithRetryPolicy(webhook.RetryPolicy{
			MaxAttempts: maxAttempts,
			Backoff:     webhook.FixedBackoff{Interval: time.Minute},
		}),
	)

	sub := &subscription.Subscription{ID: uuid.New(), TenantID: uuid.New(), Status: subscription.StatusActive}
	billing.On("FindByGatewaySubscription", mock.Anything, "sub_remote").Return(sub, nil)

	return &retryFixture{clock: clock, billing: billing, events: events, audit: auditStorage, gw: gw, proc: proc, sub: sub}
}

func (f *retryFixture) deliver(t *testing.T) reconcile.Result {
	t.Helper()
	payload, sig, err := f.gw.BuildWebhook("evt_retry", gateway.EventPaymentSucceeded, gateway.EventData{SubscriptionID: "sub_remote"})
	require.NoError(t, err)
	res, err := f.proc.HandleWebhook(context.Background(), gateway.ProviderSimulated, payload, sig)
	require.NoError(t, err)
	return res
}

func TestRetryFailed(t *testing.T) {
	t.Parallel()

	errStore := errors.New("connection reset")

	t.Run("failure is acknowledged then retried from the stored payload", func(t *testing.T) {
		t.Parallel()

		f := newRetryFixture(t, 3)
		ctx := context.Background()
		f.billing.On("RecordPayment", mock.Anything, mock.MatchedBy(func(c subscription.PaymentConfirmation) bool {
			return c.SubscriptionID == f.sub.ID && c.Trigger.Key == "webhook:simulated:evt_retry"
		})).Return(subscription.Result{}, errStore).Once()
		f.billing.On("RecordPayment", mock.Anything, mock.Anything).
			Return(subscription.Result{From: subscription.StatusActive, To: subscription.StatusActive, Applied: true}, nil).Once()

		res := f.deliver(t)
		assert.Equal(t, reconcile.OutcomeFailed, res.Outcome)
		assert.Equal(t, errStore.Error(), res.Reason)
		require.NotNil(t, res.NextAttemptAt)
		assert.Equal(t, f.clock.Now().Add(time.Minute), *res.NextAttemptAt)

		rec, err := f.events.Get(ctx, gateway.ProviderSimulated, "evt_retry")
		require.NoError(t, err)
		assert.Equal(t, reconcile.StatusFailed, rec.Status)
		assert.Equal(t, 1, rec.Attempts)

		results, err := f.proc.RetryFailed(ctx, f.clock.Now(), false)
		require.NoError(t, err)
		assert.Empty(t, results, "not due yet")

		f.clock.Advance(time.Minute)
		results, err = f.proc.RetryFailed(ctx, f.clock.Now(), true)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, reconcile.OutcomeWouldRetry, results[0].Outcome)

		rec, err = f.events.Get(ctx, gateway.ProviderSimulated, "evt_retry")
		require.NoError(t, err)
		assert.Equal(t, reconcile.StatusFailed, rec.Status, "dry run changes nothing")

		results, err = f.proc.RetryFailed(ctx, f.clock.Now(), false)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, reconcile.OutcomeProcessed, results[0].Outcome)
		assert.True(t, results[0].Applied)
		assert.Equal(t, 2, results[0].Attempts)

		rec, err = f.events.Get(ctx, gateway.ProviderSimulated, "evt_retry")
		require.NoError(t, err)
		assert.Equal(t, reconcile.StatusProcessed, rec.Status)
		assert.Empty(t, rec.LastError)
		f.billing.AssertExpectations(t)
	})

	t.Run("exhausted attempts become dead", func(t *testing.T) {
		t.Parallel()

		f := newRetryFixture(t, 2)
		ctx := context.Background()
		f.billing.On("RecordPayment", mock.Anything, mock.Anything).Return(subscription.Result{}, errStore)

		res := f.deliver(t)
		assert.Equal(t, reconcile.OutcomeFailed, res.Outcome)

		f.clock.Advance(time.Minute)
		results, err := f.proc.RetryFailed(ctx, f.clock.Now(), false)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, reconcile.OutcomeFailed, results[0].Outcome)
		assert.Nil(t, results[0].NextAttemptAt)

		rec, err := f.events.Get(ctx, gateway.ProviderSimulated, "evt_retry")
		require.NoError(t, err)
		assert.Equal(t, reconcile.StatusDead, rec.Status)
		assert.Equal(t, 2, rec.Attempts)

		f.clock.Advance(time.Hour)
		results, err = f.proc.RetryFailed(ctx, f.clock.Now(), false)
		require.NoError(t, err)
		assert.Empty(t, results)

		entries, err := f.audit.Query(ctx, audit.Criteria{Action: "webhook.dead"})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, f.sub.TenantID.String(), entries[0].TenantID)
		f.billing.AssertNumberOfCalls(t, "RecordPayment", 2)
	})
}

func TestNewProcessorPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { reconcile.NewProcessor(nil, reconcile.NewMemoryEventStore()) })
	assert.Panics(t, func() { reconcile.NewProcessor(&mockBilling{}, nil) })
}
