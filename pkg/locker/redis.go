package locker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis lock settings.
type Config struct {
	Prefix        string        `env:"LOCK_PREFIX" envDefault:"billing:lock:"`
	TTL           time.Duration `env:"LOCK_TTL" envDefault:"30s"`
	RetryInterval time.Duration `env:"LOCK_RETRY_INTERVAL" envDefault:"50ms"`
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lock shared by every replica that talks to the same Redis.
// Keys expire after TTL so a crashed holder cannot block others forever.
type Redis struct {
	client redis.UniversalClient
	cfg    Config
	logger *slog.Logger
}

// RedisOption configures the Redis locker.
type RedisOption func(*Redis)

// WithLogger sets the logger used for release failures.
func WithLogger(logger *slog.Logger) RedisOption {
	return func(r *Redis) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRedis creates a Redis locker. Zero config fields fall back to defaults.
func NewRedis(client redis.UniversalClient, cfg Config, opts ...RedisOption) *Redis {
	if client == nil {
		panic("locker: redis client cannot be nil")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}

	r := &Redis{
		client: client,
		cfg:    cfg,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	fullKey := r.cfg.Prefix + key
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(r.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, fullKey, token, r.cfg.TTL).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrNotAcquired, ctx.Err())
			}
			return nil, errors.Join(ErrNotAcquired, err)
		}
		if ok {
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{fullKey}, token).Err(); err != nil {
				r.logger.Error("failed to release lock",
					slog.String("key", fullKey),
					slog.String("error", err.Error()))
			}
		})
	}, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
