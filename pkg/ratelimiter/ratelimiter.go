// Package ratelimiter implements token bucket rate limiting backed by an
// in-process map or by Redis.
package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidConfig     = errors.New("invalid rate limit configuration")
	ErrInvalidTokenCount = errors.New("invalid token count")
	ErrStoreUnavailable  = errors.New("rate limit store unavailable")
)

// Config describes a bucket. Capacity is the burst size; RefillRate tokens
// are added every RefillInterval.
type Config struct {
	Enabled        bool          `env:"BILLING_RATE_LIMIT_ENABLED" envDefault:"true"`
	Capacity       int           `env:"BILLING_RATE_LIMIT_CAPACITY" envDefault:"120"`
	RefillRate     int           `env:"BILLING_RATE_LIMIT_REFILL_RATE" envDefault:"2"`
	RefillInterval time.Duration `env:"BILLING_RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
	Prefix         string        `env:"BILLING_RATE_LIMIT_PREFIX" envDefault:"billing:ratelimit:"`
}

func (c Config) validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
	}
	if c.RefillRate <= 0 {
		return fmt.Errorf("%w: refill rate must be positive, got %d", ErrInvalidConfig, c.RefillRate)
	}
	if c.RefillInterval <= 0 {
		return fmt.Errorf("%w: refill interval must be positive, got %v", ErrInvalidConfig, c.RefillInterval)
	}
	return nil
}

// Result is the outcome of a single consume call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long a rejected caller should wait.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed || !r.ResetAt.After(now) {
		return 0
	}
	return r.ResetAt.Sub(now)
}

// Store keeps bucket state. Consume takes n tokens when enough are left and
// reports the state after the attempt. n of zero only refreshes the bucket.
type Store interface {
	Consume(ctx context.Context, key string, n int, cfg Config) (Result, error)
	Reset(ctx context.Context, key string) error
}

// Limiter is a token bucket bound to a store.
type Limiter struct {
	store Store
	cfg   Config
}

// New validates cfg and returns a limiter.
func New(store Store, cfg Config) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Limiter{store: store, cfg: cfg}, nil
}

// Allow consumes one token for key.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN consumes n tokens for key.
func (l *Limiter) AllowN(ctx context.Context, key string, n int) (Result, error) {
	if n <= 0 {
		return Result{}, fmt.Errorf("%w: must be positive, got %d", ErrInvalidTokenCount, n)
	}
	return l.store.Consume(ctx, key, n, l.cfg)
}

// Status reports the bucket without consuming.
func (l *Limiter) Status(ctx context.Context, key string) (Result, error) {
	return l.store.Consume(ctx, key, 0, l.cfg)
}

// Reset forgets the bucket for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}

// refill advances a bucket to now. Refill timestamps move in whole
// intervals so partial intervals are not lost.
func refill(tokens int, last, now time.Time, cfg Config) (int, time.Time) {
	if now.Before(last) {
		return tokens, last
	}
	intervals := int64(now.Sub(last) / cfg.RefillInterval)
	if intervals == 0 {
		return tokens, last
	}
	full := int64(cfg.Capacity/cfg.RefillRate + 1)
	if intervals >= full {
		return cfg.Capacity, now
	}
	return min(tokens+int(intervals)*cfg.RefillRate, cfg.Capacity), last.Add(time.Duration(intervals) * cfg.RefillInterval)
}
