package httpserver

import (
	"log/slog"
	"net"
	"time"
)

// Option configures the Server.
type Option func(*options)

type options struct {
	addr              string
	listener          net.Listener
	readHeaderTimeout time.Duration
	readTimeout       time.Duration
	writeTimeout      time.Duration
	idleTimeout       time.Duration
	shutdownTimeout   time.Duration
	logger            *slog.Logger
}

func defaultOptions() *options {
	return &options{
		addr:              ":8080",
		readHeaderTimeout: 5 * time.Second,
		shutdownTimeout:   10 * time.Second,
	}
}

func WithAddr(addr string) Option {
	if addr == "" {
		panic("httpserver: WithAddr: empty address")
	}
	return func(o *options) { o.addr = addr }
}

// WithListener serves on an already bound listener; the address option is ignored.
func WithListener(l net.Listener) Option {
	if l == nil {
		panic("httpserver: WithListener: nil listener")
	}
	return func(o *options) { o.listener = l }
}

func WithReadHeaderTimeout(d time.Duration) Option {
	return func(o *options) { o.readHeaderTimeout = positive("WithReadHeaderTimeout", d) }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *options) { o.readTimeout = positive("WithReadTimeout", d) }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = positive("WithWriteTimeout", d) }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.idleTimeout = positive("WithIdleTimeout", d) }
}

// WithShutdownTimeout bounds the graceful shutdown once Run's context ends.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) { o.shutdownTimeout = positive("WithShutdownTimeout", d) }
}

// WithLogger sets the logger for lifecycle messages. Nil discards them.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func positive(name string, d time.Duration) time.Duration {
	if d <= 0 {
		panic("httpserver: " + name + ": duration must be > 0")
	}
	return d
}
