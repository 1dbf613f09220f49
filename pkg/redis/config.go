package redis

import "time"

// Config holds the Redis connection settings. An empty ConnectionURL means
// billingd runs with in-process locks.
type Config struct {
	ConnectionURL  string        `env:"BILLING_REDIS_URL"`
	RetryAttempts  int           `env:"BILLING_REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"BILLING_REDIS_RETRY_INTERVAL" envDefault:"2s"`
	ConnectTimeout time.Duration `env:"BILLING_REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
}

// Enabled reports whether a Redis URL is configured.
func (c Config) Enabled() bool { return c.ConnectionURL != "" }
