package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/invoice"
	"github.com/dmitrymomot/billingkit/pkg/reconcile"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

func TestHandleWebhookRejectsBeforeProcessing(t *testing.T) {
	t.Parallel()

	t.Run("unknown provider", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		payload, sig := f.deliver(t, "evt_1", gateway.EventPaymentSucceeded, gateway.EventData{SubscriptionID: "sub_centro"})

		_, err := f.proc.HandleWebhook(context.Background(), "moip", payload, sig)
		assert.ErrorIs(t, err, reconcile.ErrUnknownProvider)
	})

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		sub := f.activeSubscription(t)
		payload, _ := f.deliver(t, "evt_1", gateway.EventPaymentSucceeded, gateway.EventData{SubscriptionID: "sub_centro"})

		res, err := f.proc.HandleWebhook(context.Background(), gateway.ProviderSimulated, payload, "t=1,v1=deadbeef")
		require.Error(t, err)
		assert.ErrorIs(t, err, gateway.ErrSignatureVerification)
		var sigErr *gateway.SignatureVerificationError
		assert.ErrorAs(t, err, &sigErr)
		assert.Equal(t, reconcile.OutcomeRejected, res.Outcome)

		_, err = f.events.Get(context.Background(), gateway.ProviderSimulated, "evt_1")
		assert.ErrorIs(t, err, reconcile.ErrEventNotFound)
		assert.Equal(t, sub.UpdatedAt, f.reload(t, sub.ID).UpdatedAt)
	})

	t.Run("event store unavailable", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		sub := f.activeSubscription(t)
		down := errors.New("connection reset")
		proc := reconcile.NewProcessor(f.svc, unavailableEvents{EventStore: f.events, err: down},
			reconcile.WithProvider(f.gw), reconcile.WithClock(f.clock.Now))
		payload, sig := f.deliver(t, "evt_1", gateway.EventPaymentSucceeded, gateway.EventData{SubscriptionID: "sub_centro", Amount: 5990, Currency: "BRL"})

		_, err := proc.HandleWebhook(context.Background(), gateway.ProviderSimulated, payload, sig)
		require.ErrorIs(t, err, down)
		assert.False(t, reconcile.IsDuplicate(err))
		assert.Equal(t, sub.UpdatedAt, f.reload(t, sub.ID).UpdatedAt)

		// the redelivery is processed once the store is back
		res, err := f.proc.HandleWebhook(context.Background(), gateway.ProviderSimulated, payload, sig)
		require.NoError(t, err)
		assert.Equal(t, reconcile.OutcomeProcessed, res.Outcome)
	})

	t.Run("tampered payload", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		payload, sig := f.deliver(t, "evt_1", gateway.EventPaymentSucceeded, gateway.EventData{Amount: 5990})
		payload[len(payload)-2] = ' '

		_, err := f.proc.HandleWebhook(context.Background(), gateway.ProviderSimulated, payload, sig)
		assert.ErrorIs(t, err, gateway.ErrSignatureVerification)
	})
}

func TestHandleWebhookAcknowledgesUnusablePayloads(t *testing.T) {
	t.Parallel()

	sign := func(t *testing.T, f *fixture, payload []byte) string {
		t.Helper()
		sig, err := webhook.SignPayload("whsec_simulated", payload, f.now())
		require.NoError(t, err)
		return sig.String()
	}

	t.Run("malformed body is rejected and audited", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		payload := []byte(`{"id": 42`)

		res, err := f.proc.HandleWebhook(context.Background(), gateway.ProviderSimulated, payload, sign(t, f, payload))
		require.NoError(t, err)
		assert.Equal(t, reconcile.OutcomeRejected, res.Outcome)
		assert.NotEmpty(t, res.Reason)

		entries := f.auditEntries(t, audit.Criteria{Action: "webhook.rejected"})
		require.Len(t, entries, 1)
		assert.Equal(t, audit.ResultError, entries[0].Result)
		assert.Equal(t, gateway.ProviderSimulated, entries[0].Actor)
	})

	t.Run("missing id is rejected", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		payload := []byte(`{"type":"payment.succeeded","data":{}}`)

		res, err := f.proc.HandleWebhook(context.Background(), gateway.ProviderSimulated, payload, sign(t, f, payload))
		require.NoError(t, err)
		assert.Equal(t, reconcile.OutcomeRejected, res.Outcome)
	})

	t.Run("unmapped type is ignored", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		payload, sig := f.deliver(t, "evt_customer", gateway.EventType("customer.created"), gateway.EventData{})

		res, err := f.proc.HandleWebhook(context.Background(), gateway.ProviderSimulated, payload, sig)
		require.NoError(t, err)
		assert.Equal(t, reconcile.OutcomeIgnored, res.Outcome)
		assert.Empty(t, f.auditEntries(t, audit.Criteria{Action: "webhook.rejected"}))
	})

	t.Run("unresolved gateway ids are skipped once", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		ctx := context.Background()
		payload, sig := f.deliver(t, "evt_orphan", gateway.EventPaymentSucceeded, gateway.EventData{
			SubscriptionID: "sub_unknown",
			ChargeID:       "ch_unknown",
		})

		res, err := f.proc.HandleWebhook(ctx, gateway.ProviderSimulated, payload, sig)
		require.NoError(t, err)
		assert.Equal(t, reconcile.OutcomeSkipped, res.Outcome)

		rec, err := f.events.Get(ctx, gateway.ProviderSimulated, "evt_orphan")
		require.NoError(t, err)
		assert.Equal(t, reconcile.StatusSkipped, rec.Status)

		res, err = f.proc.HandleWebhook(ctx, gateway.ProviderSimulated, payload, sig)
		assert.ErrorIs(t, err, reconcile.ErrDuplicateEvent)
		assert.Equal(t, reconcile.OutcomeDuplicate, res.Outcome)
	})
}

func TestHandleWebhookRenewal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	sub := f.activeSubscription(t)
	oldEnd := *sub.CurrentPeriodEnd

	payload, sig := f.deliver(t, "evt_renewal", gateway.EventPaymentSucceeded, gateway.EventData{
		SubscriptionID: "sub_centro",
		Amount:         5990,
		Currency:       "BRL",
	})

	res, err := f.proc.HandleWebhook(ctx, gateway.ProviderSimulated, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeProcessed, res.Outcome)
	assert.True(t, res.Applied)
	assert.Equal(t, sub.ID, res.SubscriptionID)
	assert.Equal(t, f.tenantID, res.TenantID)
	assert.Equal(t, subscription.StatusActive, res.To)

	after := f.reload(t, sub.ID)
	assert.Equal(t, oldEnd.AddDate(0, 1, 0), *after.CurrentPeriodEnd)
	require.NotNil(t, after.LastPaymentAt)
	assert.Equal(t, f.now(), *after.LastPaymentAt)

	t.Run("redelivery is a duplicate", func(t *testing.T) {
		_, err := f.proc.HandleWebhook(ctx, gateway.ProviderSimulated, payload, sig)
		var dup *reconcile.DuplicateEventError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, reconcile.StatusProcessed, dup.Status)
	})

	t.Run("durable dedup survives a restart", func(t *testing.T) {
		restarted := reconcile.NewProcessor(f.svc, f.events,
			reconcile.WithProvider(f.gw),
			reconcile.WithClock(f.clock.Now),
		)
		res, err := restarted.HandleWebhook(ctx, gateway.ProviderSimulated, payload, sig)
		assert.ErrorIs(t, err, reconcile.ErrDuplicateEvent)
		assert.Equal(t, reconcile.OutcomeDuplicate, res.Outcome)
	})

	t.Run("one audit entry and one state change", func(t *testing.T) {
		entries := f.auditEntries(t, audit.Criteria{
			EntityType: "subscription",
			EntityID:   sub.ID.String(),
			Action:     "subscription.payment_succeeded",
		})
		assert.Len(t, entries, 1)
		assert.Equal(t, oldEnd.AddDate(0, 1, 0), *f.reload(t, sub.ID).CurrentPeriodEnd)
	})
}

func TestHandleWebhookConcurrentDuplicates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	sub := f.activeSubscription(t)
	payload, sig := f.deliver(t, "evt_burst", gateway.EventPaymentSucceeded, gateway.EventData{SubscriptionID: "sub_centro"})

	const deliveries = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[reconcile.Outcome]int{}
	)
	for range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.proc.HandleWebhook(ctx, gateway.ProviderSimulated, payload, sig)
			if err != nil && !reconcile.IsDuplicate(err) {
				t.Errorf("unexpected error: %v", err)
			}
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[reconcile.OutcomeProcessed])
	assert.Equal(t, deliveries-1, outcomes[reconcile.OutcomeDuplicate])
	assert.Len(t, f.auditEntries(t, audit.Criteria{
		EntityID: sub.ID.String(),
		Action:   "subscription.payment_succeeded",
	}), 1)
}

func TestHandleWebhookPixAfterExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	charge, err := f.svc.CreateInstantPaymentCharge(ctx, f.tenantID, basicPlan.ID, subscription.CycleMonthly)
	require.NoError(t, err)
	assert.Equal(t, int64(5990), charge.Amount.Amount)
	before, err := f.svc.GetSubscription(ctx, f.tenantID)
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	payload, sig := f.deliver(t, "evt_pix_late", gateway.EventPixReceived, gateway.EventData{
		ChargeID: charge.ChargeID,
		Amount:   5990,
	})

	res, err := f.proc.HandleWebhook(ctx, gateway.ProviderSimulated, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeRejected, res.Outcome)
	assert.Equal(t, subscription.ErrChargeExpired.Error(), res.Reason)

	after, err := f.svc.GetSubscription(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, before.CurrentPeriodEnd, after.CurrentPeriodEnd)

	inv, err := f.svc.GetInvoice(ctx, charge.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusCancelled, inv.Status)

	rec, err := f.events.Get(ctx, gateway.ProviderSimulated, "evt_pix_late")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusRejected, rec.Status)

	entries := f.auditEntries(t, audit.Criteria{Action: "webhook.rejected", TenantID: f.tenantID.String()})
	assert.Len(t, entries, 1)
}

func TestHandleWebhookPixWithinExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	charge, err := f.svc.CreateInstantPaymentCharge(ctx, f.tenantID, basicPlan.ID, subscription.CycleMonthly)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	payload, sig := f.deliver(t, "evt_pix_paid", gateway.EventPixReceived, gateway.EventData{
		ChargeID: charge.ChargeID,
		Metadata: map[string]string{gateway.MetaTenantID: f.tenantID.String()},
	})

	res, err := f.proc.HandleWebhook(ctx, gateway.ProviderSimulated, payload, sig)
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeProcessed, res.Outcome)
	assert.Equal(t, subscription.StatusActive, res.To)

	inv, err := f.svc.GetInvoice(ctx, charge.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, inv.Status)
	access, ok := f.subs.TenantAccess(f.tenantID)
	require.True(t, ok)
	assert.True(t, access.Active)
}

func TestHandleWebhookMetadataMismatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		metadata map[string]string
	}{
		{name: "foreign tenant", metadata: map[string]string{gateway.MetaTenantID: uuid.NewString()}},
		{name: "unknown subscription", metadata: map[string]string{gateway.MetaSubscriptionID: uuid.NewString()}},
		{name: "unparsable invoice", metadata: map[string]string{gateway.MetaInvoiceID: "inv-42"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			ctx := context.Background()
			sub := f.activeSubscription(t)
			payload, sig := f.deliver(t, "evt_forged", gateway.EventPaymentSucceeded, gateway.EventData{
				SubscriptionID: "sub_centro",
				Metadata:       tt.metadata,
			})

			res, err := f.proc.HandleWebhook(ctx, gateway.ProviderSimulated, payload, sig)
			require.NoError(t, err)
			assert.Equal(t, reconcile.OutcomeRejected, res.Outcome)
			assert.Equal(t, sub.UpdatedAt, f.reload(t, sub.ID).UpdatedAt)

			rec, err := f.events.Get(ctx, gateway.ProviderSimulated, "evt_forged")
			require.NoError(t, err)
			assert.Equal(t, reconcile.StatusRejected, rec.Status)
			assert.Len(t, f.auditEntries(t, audit.Criteria{Action: "webhook.rejected"}), 1)
		})
	}
}

func TestHandleWebhookEventMapping(t *testing.T) {
	t.Parallel()

	t.Run("gateway cancel blocks the tenant", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		sub := f.activeSubscription(t)
		payload, sig := f.deliver(t, "evt_cancel", gateway.EventSubscriptionCancelled, gateway.EventData{SubscriptionID: "sub_centro"})

		res, err := f.proc.HandleWebhook(context.Background(), gateway.ProviderSimulated, payload, sig)
		require.NoError(t, err)
		assert.Equal(t, reconcile.OutcomeProcessed, res.Outcome)
		assert.Equal(t, subscription.StatusCancelled, res.To)
		assert.Equal(t, subscription.StatusCancelled, f.reload(t, sub.ID).Status)

		access, ok := f.subs.TenantAccess(f.tenantID)
		require.True(t, ok)
		assert.False(t, access.Active)

		// a second cancel event for an already cancelled subscription is a no-op
		payload, sig = f.deliver(t, "evt_cancel_again", gateway.EventSubscriptionCancelled, gateway.EventData{SubscriptionID: "sub_centro"})
		res, err = f.proc.HandleWebhook(context.Background(), gateway.ProviderSimulated, payload, sig)
		require.NoError(t, err)
		assert.Equal(t, reconcile.OutcomeProcessed, res.Outcome)
		assert.False(t, res.Applied)
	})

	t.Run("payment failure moves to past due", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		sub := f.activeSubscription(t)
		payload, sig := f.deliver(t, "evt_failed", gateway.EventPaymentFailed, gateway.EventData{
			SubscriptionID: "sub_centro",
			FailureReason:  "insufficient_funds",
		})

		res, err := f.proc.HandleWebhook(context.Background(), gateway.ProviderSimulated, payload, sig)
		require.NoError(t, err)
		assert.Equal(t, reconcile.OutcomeProcessed, res.Outcome)
		assert.Equal(t, subscription.StatusPastDue, res.To)

		after := f.reload(t, sub.ID)
		assert.Equal(t, "insufficient_funds", after.Metadata.LastFailureReason)
	})

	t.Run("remote deferred cancel is mirrored", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		sub := f.activeSubscription(t)
		payload, sig := f.deliver(t, "evt_updated", gateway.EventSubscriptionUpdated, gateway.EventData{
			SubscriptionID: "sub_centro",
			Status:         "active",
			CancelAtPeriod: true,
		})

		res, err := f.proc.HandleWebhook(context.Background(), gateway.ProviderSimulated, payload, sig)
		require.NoError(t, err)
		assert.Equal(t, reconcile.OutcomeProcessed, res.Outcome)

		after := f.reload(t, sub.ID)
		assert.True(t, after.Metadata.CancelAtPeriodEnd)
		assert.Equal(t, "active", after.Metadata.GatewayStatus)
	})

	t.Run("pix expiry without a local invoice is skipped", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.activeSubscription(t)
		payload, sig := f.deliver(t, "evt_pix_expired", gateway.EventPixExpired, gateway.EventData{SubscriptionID: "sub_centro"})

		res, err := f.proc.HandleWebhook(context.Background(), gateway.ProviderSimulated, payload, sig)
		require.NoError(t, err)
		assert.Equal(t, reconcile.OutcomeSkipped, res.Outcome)
	})
}

func TestRetryStaleProcessing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	sub := f.activeSubscription(t)
	payload, sig := f.deliver(t, "evt_stuck", gateway.EventPaymentSucceeded, gateway.EventData{SubscriptionID: "sub_centro"})

	// a crashed worker left the record claimed
	_, err := f.events.Begin(ctx, &reconcile.WebhookEvent{
		Provider:  gateway.ProviderSimulated,
		EventID:   "evt_stuck",
		Type:      string(gateway.EventPaymentSucceeded),
		Payload:   payload,
		UpdatedAt: f.now(),
	}, time.Time{})
	require.NoError(t, err)

	res, err := f.proc.HandleWebhook(ctx, gateway.ProviderSimulated, payload, sig)
	assert.ErrorIs(t, err, reconcile.ErrDuplicateEvent)
	assert.Equal(t, reconcile.OutcomeDuplicate, res.Outcome)

	results, err := f.proc.RetryFailed(ctx, f.now(), false)
	require.NoError(t, err)
	assert.Empty(t, results)

	f.clock.Advance(11 * time.Minute)
	results, err = f.proc.RetryFailed(ctx, f.now(), false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, reconcile.OutcomeProcessed, results[0].Outcome)
	assert.Equal(t, 2, results[0].Attempts)
	assert.True(t, results[0].Applied)
	assert.NotNil(t, f.reload(t, sub.ID).LastPaymentAt)
}
