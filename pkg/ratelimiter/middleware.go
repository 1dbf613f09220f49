package ratelimiter

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/clientip"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

const maxKeyLength = 64

// LimitedError is passed to the error handler when a request is rejected.
type LimitedError struct {
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
}

// KeyFunc names the bucket of a request. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// ByIP keys requests by client address.
func ByIP(res *clientip.Resolver) KeyFunc {
	return func(r *http.Request) string {
		if ip := clientip.FromContext(r.Context()); ip != "" {
			return "ip:" + ip
		}
		if ip := res.Resolve(r); ip != "" {
			return "ip:" + ip
		}
		return ""
	}
}

// Composite joins the non-empty keys of fns. Long keys are hashed.
func Composite(fns ...KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(fns))
		for _, fn := range fns {
			if k := fn(r); k != "" {
				parts = append(parts, k)
			}
		}
		key := strings.Join(parts, ":")
		if len(key) <= maxKeyLength {
			return key
		}
		h := fnv.New64a()
		_, _ = h.Write([]byte(key))
		return strconv.FormatUint(h.Sum64(), 36)
	}
}

type middlewareOptions struct {
	onLimited func(w http.ResponseWriter, r *http.Request, err error)
	logger    *slog.Logger
	now       func() time.Time
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareOptions)

// WithErrorHandler writes the response for rejected requests. The error is
// a *LimitedError.
func WithErrorHandler(fn func(w http.ResponseWriter, r *http.Request, err error)) MiddlewareOption {
	return func(o *middlewareOptions) { o.onLimited = fn }
}

// WithLogger sets the logger used when the store fails.
func WithLogger(l *slog.Logger) MiddlewareOption {
	return func(o *middlewareOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source used for Retry-After.
func WithClock(now func() time.Time) MiddlewareOption {
	return func(o *middlewareOptions) { o.now = now }
}

// Middleware limits requests per key. Requests pass when the store fails.
func Middleware(l *Limiter, key KeyFunc, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	o := middlewareOptions{
		onLimited: func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
		},
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			res, err := l.Allow(r.Context(), k)
			if err != nil {
				o.logger.WarnContext(r.Context(), "rate limit check failed", slog.String("key", k), logger.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(max(0, res.Remaining)))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				wait := res.RetryAfter(o.now())
				h.Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(wait.Seconds())))))
				o.onLimited(w, r, &LimitedError{RetryAfter: wait})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
