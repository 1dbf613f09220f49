package gateway_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
)

func newSimulated(t *testing.T, now time.Time, opts ...gateway.SimulatedOption) *gateway.Simulated {
	t.Helper()
	opts = append([]gateway.SimulatedOption{gateway.WithSimulatedClock(func() time.Time { return now })}, opts...)
	return gateway.NewSimulated(gateway.SimulatedConfig{
		WebhookSecret:      "whsec_test",
		SignatureTolerance: 5 * time.Minute,
	}, opts...)
}

func TestSimulatedSubscriptions(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("create is idempotent by key", func(t *testing.T) {
		t.Parallel()

		sim := newSimulated(t, now)
		cus, err := sim.CreateCustomer(ctx, gateway.CustomerRequest{Email: "owner@salon.test", IdempotencyKey: "cus-1"})
		require.NoError(t, err)

		req := gateway.SubscriptionRequest{
			CustomerID:     cus.ID,
			PlanID:         "pro",
			Amount:         9900,
			Currency:       "BRL",
			Interval:       gateway.IntervalMonth,
			IdempotencyKey: "activate-1",
		}
		first, err := sim.CreateSubscription(ctx, req)
		require.NoError(t, err)
		second, err := sim.CreateSubscription(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 1, sim.Calls("create_subscription"))
		assert.Equal(t, gateway.SubscriptionActive, first.Status)
		require.NotNil(t, first.LatestCharge)
		assert.True(t, first.LatestCharge.Paid)
		require.NotNil(t, first.CurrentPeriodEnd)
		assert.Equal(t, now.AddDate(0, 1, 0), *first.CurrentPeriodEnd)
	})

	t.Run("period end clamps to the end of a short month", func(t *testing.T) {
		t.Parallel()

		monthEnd := time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)
		sim := newSimulated(t, monthEnd)
		cus, err := sim.CreateCustomer(ctx, gateway.CustomerRequest{Email: "owner@salon.test", IdempotencyKey: "cus-jan"})
		require.NoError(t, err)

		sub, err := sim.CreateSubscription(ctx, gateway.SubscriptionRequest{
			CustomerID:     cus.ID,
			PlanID:         "pro",
			Amount:         9900,
			Currency:       "BRL",
			Interval:       gateway.IntervalMonth,
			IdempotencyKey: "activate-jan",
		})
		require.NoError(t, err)
		require.NotNil(t, sub.CurrentPeriodEnd)
		assert.Equal(t, time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC), *sub.CurrentPeriodEnd)
	})

	t.Run("missing idempotency key is rejected", func(t *testing.T) {
		t.Parallel()

		sim := newSimulated(t, now)
		_, err := sim.CreateSubscription(ctx, gateway.SubscriptionRequest{CustomerID: "cus_x"})
		assert.ErrorIs(t, err, gateway.ErrMissingIdempotencyKey)
	})

	t.Run("declined card leaves the subscription incomplete", func(t *testing.T) {
		t.Parallel()

		sim := newSimulated(t, now, gateway.WithDecline("insufficient_funds"))
		cus, err := sim.CreateCustomer(ctx, gateway.CustomerRequest{Email: "owner@salon.test"})
		require.NoError(t, err)

		sub, err := sim.CreateSubscription(ctx, gateway.SubscriptionRequest{
			CustomerID:     cus.ID,
			Amount:         9900,
			Interval:       gateway.IntervalYear,
			IdempotencyKey: "activate-2",
		})
		require.NoError(t, err)
		assert.Equal(t, gateway.SubscriptionIncomplete, sub.Status)
		assert.False(t, sub.LatestCharge.Paid)
		assert.Equal(t, "insufficient_funds", sub.LatestCharge.FailureReason)
		assert.Nil(t, sub.CurrentPeriodEnd)
	})

	t.Run("cancel at period end keeps it active", func(t *testing.T) {
		t.Parallel()

		sim := newSimulated(t, now)
		cus, err := sim.CreateCustomer(ctx, gateway.CustomerRequest{Email: "owner@salon.test"})
		require.NoError(t, err)
		sub, err := sim.CreateSubscription(ctx, gateway.SubscriptionRequest{CustomerID: cus.ID, IdempotencyKey: "k"})
		require.NoError(t, err)

		got, err := sim.CancelSubscription(ctx, sub.ID, gateway.CancelRequest{AtPeriodEnd: true})
		require.NoError(t, err)
		assert.True(t, got.CancelAtPeriodEnd)
		assert.Equal(t, gateway.SubscriptionActive, got.Status)

		got, err = sim.ReactivateSubscription(ctx, sub.ID, "k2")
		require.NoError(t, err)
		assert.False(t, got.CancelAtPeriodEnd)

		_, err = sim.GetSubscription(ctx, "sub_missing")
		assert.ErrorIs(t, err, gateway.ErrRemoteNotFound)
	})
}

func TestSimulatedPix(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := now
	sim := gateway.NewSimulated(gateway.SimulatedConfig{}, gateway.WithSimulatedClock(func() time.Time { return clock }))
	ctx := context.Background()

	ch, err := sim.CreatePixCharge(ctx, gateway.PixChargeRequest{
		Amount:         4990,
		Currency:       "BRL",
		ExpiresIn:      time.Hour,
		IdempotencyKey: "pix-1",
	})
	require.NoError(t, err)
	assert.Equal(t, gateway.PixPending, ch.Status)
	assert.True(t, strings.HasPrefix(ch.QRPayload, "000201"))
	assert.Contains(t, ch.QRPayload, "540549.90")
	assert.True(t, strings.HasPrefix(ch.QRImage, "data:image/png;base64,"))
	assert.Equal(t, now.Add(time.Hour), ch.ExpiresAt)

	again, err := sim.CreatePixCharge(ctx, gateway.PixChargeRequest{Amount: 4990, IdempotencyKey: "pix-1"})
	require.NoError(t, err)
	assert.Equal(t, ch.ID, again.ID)

	paid, err := sim.PayPix(ch.ID)
	require.NoError(t, err)
	assert.Equal(t, gateway.PixPaid, paid.Status)

	other, err := sim.CreatePixCharge(ctx, gateway.PixChargeRequest{Amount: 100, ExpiresIn: time.Minute, IdempotencyKey: "pix-2"})
	require.NoError(t, err)
	clock = now.Add(2 * time.Minute)
	got, err := sim.GetPixCharge(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, gateway.PixExpired, got.Status)
}

func TestSimulatedWebhooks(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	sim := newSimulated(t, now)

	payload, sig, err := sim.BuildWebhook("evt_1", gateway.EventInvoicePaid, gateway.EventData{
		SubscriptionID: "sub_1",
		Amount:         9900,
		Metadata:       map[string]string{gateway.MetaTenantID: "tenant-1"},
	})
	require.NoError(t, err)

	t.Run("valid signature parses", func(t *testing.T) {
		t.Parallel()

		require.NoError(t, sim.VerifyWebhook(payload, sig))
		evt, err := sim.ParseWebhook(payload)
		require.NoError(t, err)
		require.NotNil(t, evt)
		assert.Equal(t, "evt_1", evt.ID)
		assert.Equal(t, gateway.EventInvoicePaid, evt.Type)
		assert.Equal(t, "sub_1", evt.Data.SubscriptionID)
		assert.Equal(t, "tenant-1", evt.TenantHint())
		assert.Equal(t, now, evt.OccurredAt)
	})

	t.Run("tampered payload fails verification", func(t *testing.T) {
		t.Parallel()

		tampered := []byte(strings.Replace(string(payload), "9900", "1", 1))
		err := sim.VerifyWebhook(tampered, sig)
		assert.ErrorIs(t, err, gateway.ErrSignatureVerification)
	})

	t.Run("stale signature fails verification", func(t *testing.T) {
		t.Parallel()

		later := newSimulated(t, now.Add(time.Hour))
		assert.ErrorIs(t, later.VerifyWebhook(payload, sig), gateway.ErrSignatureVerification)
	})

	t.Run("unknown type parses to nil", func(t *testing.T) {
		t.Parallel()

		evt, err := sim.ParseWebhook([]byte(`{"id":"evt_2","type":"customer.created","data":{}}`))
		require.NoError(t, err)
		assert.Nil(t, evt)
	})

	t.Run("garbage is invalid payload", func(t *testing.T) {
		t.Parallel()

		_, err := sim.ParseWebhook([]byte(`{not json`))
		assert.ErrorIs(t, err, gateway.ErrInvalidPayload)
	})
}

func TestIdempotencyKey(t *testing.T) {
	t.Parallel()

	a := gateway.IdempotencyKey("activate", "tenant-1", "pro")
	assert.Len(t, a, 40)
	assert.Equal(t, a, gateway.IdempotencyKey("activate", "tenant-1", "pro"))
	assert.NotEqual(t, a, gateway.IdempotencyKey("activate", "tenant-1pro"))
}
