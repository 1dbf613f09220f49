package webhook

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy defines the interface for calculating retry delays.
// Implementations should be safe for concurrent use.
type BackoffStrategy interface {
	// NextInterval returns the delay before the given attempt.
	// Attempt starts at 1 for the first retry.
	NextInterval(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with optional jitter.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	JitterFactor    float64
}

// NextInterval returns min(InitialInterval * Multiplier^(attempt-1) * (1 ± JitterFactor), MaxInterval).
func (e ExponentialBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	initial := e.InitialInterval
	if initial == 0 {
		initial = time.Minute
	}

	maxInterval := e.MaxInterval
	if maxInterval == 0 {
		maxInterval = 6 * time.Hour
	}

	multiplier := e.Multiplier
	if multiplier == 0 {
		multiplier = 2
	}

	interval := float64(initial) * math.Pow(multiplier, float64(attempt-1))

	if e.JitterFactor > 0 {
		interval *= 1 + (rand.Float64()*2-1)*e.JitterFactor
	}

	if interval > float64(maxInterval) {
		interval = float64(maxInterval)
	}

	return time.Duration(interval)
}

// FixedBackoff implements a constant delay between retries.
type FixedBackoff struct {
	Interval time.Duration
}

// NextInterval always returns the same interval regardless of attempt number.
func (f FixedBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return f.Interval
}

// RetryConfig configures the internal retry of failed inbound webhook events.
type RetryConfig struct {
	MaxAttempts     int           `env:"BILLING_WEBHOOK_MAX_ATTEMPTS" envDefault:"6"`
	InitialInterval time.Duration `env:"BILLING_WEBHOOK_RETRY_INITIAL_INTERVAL" envDefault:"1m"`
	MaxInterval     time.Duration `env:"BILLING_WEBHOOK_RETRY_MAX_INTERVAL" envDefault:"6h"`
	Multiplier      float64       `env:"BILLING_WEBHOOK_RETRY_MULTIPLIER" envDefault:"2"`
	JitterFactor    float64       `env:"BILLING_WEBHOOK_RETRY_JITTER" envDefault:"0.1"`
}

// RetryPolicy bounds the number of attempts and spaces them out with a strategy.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffStrategy
}

// NewRetryPolicy builds a policy from config using exponential backoff.
func NewRetryPolicy(cfg RetryConfig) RetryPolicy {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 6
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Backoff: ExponentialBackoff{
			InitialInterval: cfg.InitialInterval,
			MaxInterval:     cfg.MaxInterval,
			Multiplier:      cfg.Multiplier,
			JitterFactor:    cfg.JitterFactor,
		},
	}
}

// DefaultRetryPolicy returns a deterministic policy: 6 attempts, 1m doubling up to 6h.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 6,
		Backoff: ExponentialBackoff{
			InitialInterval: time.Minute,
			MaxInterval:     6 * time.Hour,
			Multiplier:      2,
		},
	}
}

// Next returns when the next attempt is due after `attempts` failed attempts.
// It returns ErrAttemptsExhausted once the policy allows no further attempt.
func (p RetryPolicy) Next(attempts int, now time.Time) (time.Time, error) {
	if attempts >= p.MaxAttempts {
		return time.Time{}, ErrAttemptsExhausted
	}

	strategy := p.Backoff
	if strategy == nil {
		strategy = FixedBackoff{Interval: time.Minute}
	}

	return now.Add(strategy.NextInterval(attempts)), nil
}
