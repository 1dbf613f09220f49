package webhook_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()

	b := webhook.ExponentialBackoff{
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
	}

	assert.Equal(t, time.Duration(0), b.NextInterval(0))
	assert.Equal(t, time.Second, b.NextInterval(1))
	assert.Equal(t, 2*time.Second, b.NextInterval(2))
	assert.Equal(t, 4*time.Second, b.NextInterval(3))
	assert.Equal(t, 8*time.Second, b.NextInterval(4))
	assert.Equal(t, 10*time.Second, b.NextInterval(5))
	assert.Equal(t, 10*time.Second, b.NextInterval(50))
}

func TestExponentialBackoffJitter(t *testing.T) {
	t.Parallel()

	b := webhook.ExponentialBackoff{
		InitialInterval: 10 * time.Second,
		MaxInterval:     time.Hour,
		Multiplier:      2,
		JitterFactor:    0.2,
	}

	for range 100 {
		d := b.NextInterval(1)
		assert.GreaterOrEqual(t, d, 8*time.Second)
		assert.LessOrEqual(t, d, 12*time.Second)
	}
}

func TestRetryPolicy(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("default policy spaces attempts", func(t *testing.T) {
		t.Parallel()

		p := webhook.DefaultRetryPolicy()

		next, err := p.Next(1, now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(time.Minute), next)

		next, err = p.Next(3, now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(4*time.Minute), next)
	})

	t.Run("exhausted", func(t *testing.T) {
		t.Parallel()

		p := webhook.RetryPolicy{MaxAttempts: 3, Backoff: webhook.FixedBackoff{Interval: time.Second}}

		_, err := p.Next(2, now)
		require.NoError(t, err)

		_, err = p.Next(3, now)
		assert.ErrorIs(t, err, webhook.ErrAttemptsExhausted)
	})

	t.Run("from config", func(t *testing.T) {
		t.Parallel()

		p := webhook.NewRetryPolicy(webhook.RetryConfig{
			InitialInterval: 30 * time.Second,
			MaxInterval:     time.Hour,
			Multiplier:      3,
		})
		assert.Equal(t, 6, p.MaxAttempts)

		next, err := p.Next(2, now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(90*time.Second), next)
	})
}
