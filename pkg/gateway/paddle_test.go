package gateway_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
)

func newTestPaddle(t *testing.T) *gateway.Paddle {
	t.Helper()
	p, err := gateway.NewPaddle(gateway.PaddleConfig{APIKey: "pdl_test", WebhookSecret: "pdl_ntfset_x", Environment: "sandbox"})
	require.NoError(t, err)
	return p
}

func TestNewPaddle(t *testing.T) {
	t.Parallel()

	_, err := gateway.NewPaddle(gateway.PaddleConfig{WebhookSecret: "x"})
	assert.ErrorIs(t, err, gateway.ErrMissingAPIKey)

	_, err = gateway.NewPaddle(gateway.PaddleConfig{APIKey: "x", WebhookSecret: "x", Environment: "staging"})
	assert.ErrorIs(t, err, gateway.ErrInvalidEnvironment)
}

func TestPaddleParseWebhook(t *testing.T) {
	t.Parallel()

	p := newTestPaddle(t)

	t.Run("subscription canceled", func(t *testing.T) {
		t.Parallel()

		evt, err := p.ParseWebhook([]byte(`{
			"event_id":"evt_01","event_type":"subscription.canceled","occurred_at":"2025-03-10T12:00:00Z",
			"data":{"id":"sub_01","status":"canceled","customer_id":"ctm_01",
				"custom_data":{"tenant_id":"t1"},
				"current_billing_period":{"ends_at":"2025-04-10T12:00:00Z"}}}`))
		require.NoError(t, err)
		require.NotNil(t, evt)
		assert.Equal(t, gateway.EventSubscriptionCancelled, evt.Type)
		assert.Equal(t, "sub_01", evt.Data.SubscriptionID)
		assert.Equal(t, "t1", evt.TenantHint())
		assert.Equal(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC), evt.OccurredAt)
		require.NotNil(t, evt.Data.PeriodEnd)
	})

	t.Run("transaction completed is a payment", func(t *testing.T) {
		t.Parallel()

		evt, err := p.ParseWebhook([]byte(`{
			"event_id":"evt_02","event_type":"transaction.completed","occurred_at":"2025-03-10T12:00:00Z",
			"data":{"id":"txn_01","subscription_id":"sub_01","status":"completed","currency_code":"BRL",
				"details":{"totals":{"grand_total":"9900"}}}}`))
		require.NoError(t, err)
		require.NotNil(t, evt)
		assert.Equal(t, gateway.EventPaymentSucceeded, evt.Type)
		assert.Equal(t, "sub_01", evt.Data.SubscriptionID)
		assert.Equal(t, "txn_01", evt.Data.ChargeID)
		assert.EqualValues(t, 9900, evt.Data.Amount)
	})

	t.Run("unmapped type", func(t *testing.T) {
		t.Parallel()

		evt, err := p.ParseWebhook([]byte(`{"event_id":"evt_03","event_type":"address.created","data":{}}`))
		require.NoError(t, err)
		assert.Nil(t, evt)
	})

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()

		err := p.VerifyWebhook([]byte(`{}`), "ts=1;h1=deadbeef")
		assert.ErrorIs(t, err, gateway.ErrSignatureVerification)
	})
}

func TestPaddleUnsupported(t *testing.T) {
	t.Parallel()

	p := newTestPaddle(t)
	_, err := p.CreatePixCharge(context.Background(), gateway.PixChargeRequest{IdempotencyKey: "k"})
	assert.ErrorIs(t, err, gateway.ErrUnsupportedOperation)
	assert.False(t, gateway.IsRetryable(err))
}
