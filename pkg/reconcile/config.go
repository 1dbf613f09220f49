package reconcile

import (
	"time"

	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

// Config tunes webhook processing and retries.
type Config struct {
	Retry webhook.RetryConfig
	// StaleAfter is how long a record may sit in processing before it is retried.
	StaleAfter     time.Duration `env:"BILLING_WEBHOOK_STALE_AFTER" envDefault:"10m"`
	DedupCacheSize int           `env:"BILLING_WEBHOOK_DEDUP_CACHE_SIZE" envDefault:"10000"`
	RetryBatchSize int           `env:"BILLING_WEBHOOK_RETRY_BATCH_SIZE" envDefault:"100"`
}

// DefaultConfig returns the values used when no Config is supplied.
func DefaultConfig() Config {
	return Config{
		Retry: webhook.RetryConfig{
			MaxAttempts:     6,
			InitialInterval: time.Minute,
			MaxInterval:     6 * time.Hour,
			Multiplier:      2,
		},
		StaleAfter:     10 * time.Minute,
		DedupCacheSize: 10000,
		RetryBatchSize: 100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.DedupCacheSize <= 0 {
		c.DedupCacheSize = d.DedupCacheSize
	}
	if c.RetryBatchSize <= 0 {
		c.RetryBatchSize = d.RetryBatchSize
	}
	return c
}
