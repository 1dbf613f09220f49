// Package requestid tags every request with an id that is echoed in the
// response and attached to log records.
package requestid

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

// Header is the default request id header.
const Header = "X-Request-ID"

const maxIDLength = 128

var validID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type options struct {
	headers  []string
	generate func() string
}

// Option configures Middleware.
type Option func(*options)

// WithHeaders sets the request headers an incoming id is read from, in order.
// Gateways deliver webhooks with their own delivery id headers.
// The response always carries the id in Header.
func WithHeaders(names ...string) Option {
	return func(o *options) {
		if len(names) > 0 {
			o.headers = names
		}
	}
}

// WithGenerator replaces the uuid generator used for missing or invalid ids.
func WithGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.generate = fn
		}
	}
}

// Middleware reuses a valid incoming request id or generates a new one.
func Middleware(opts ...Option) func(http.Handler) http.Handler {
	o := &options{headers: []string{Header}, generate: uuid.NewString}
	for _, opt := range opts {
		opt(o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			for _, h := range o.headers {
				if v := r.Header.Get(h); valid(v) {
					id = v
					break
				}
			}
			if id == "" {
				id = o.generate()
			}
			w.Header().Set(Header, id)
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), id)))
		})
	}
}

func valid(id string) bool {
	return id != "" && len(id) <= maxIDLength && validID.MatchString(id)
}
