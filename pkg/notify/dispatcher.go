package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// Dispatcher delivers notifications in the background through a bounded
// queue and a fixed worker pool. Notify never blocks on delivery.
type Dispatcher struct {
	next    Notifier
	cfg     Config
	queue   chan Notification
	logger  *slog.Logger
	backoff func() backoff.BackOff

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithRetryInterval sets the first delay between delivery attempts.
func WithRetryInterval(initial time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if initial <= 0 {
			return
		}
		d.backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = 10 * initial
			return b
		}
	}
}

// NewDispatcher starts cfg.Workers workers in front of next. Panics if next is nil.
func NewDispatcher(next Notifier, cfg Config, opts ...DispatcherOption) *Dispatcher {
	if next == nil {
		panic("notify: Notifier is required")
	}
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		next:   next,
		cfg:    cfg,
		queue:  make(chan Notification, cfg.QueueSize),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		backoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
	for _, opt := range opts {
		opt(d)
	}

	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.work()
	}
	return d
}

// Notify queues n. It fails with ErrQueueFull when the queue is at capacity
// and ErrDispatcherClosed after Close.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- n:
		return nil
	default:
		d.logger.WarnContext(ctx, "billing notification dropped",
			slog.String("kind", string(n.Kind)),
			logger.TenantID(n.TenantID))
		return ErrQueueFull
	}
}

// Close stops accepting notifications and waits for the queue to drain or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n Notification) {
	attempts := 0
	op := func() error {
		attempts++
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
		defer cancel()
		return d.next.Notify(ctx, n)
	}

	b := backoff.WithMaxRetries(d.backoff(), d.cfg.MaxRetries)
	if err := backoff.Retry(op, b); err != nil {
		d.logger.Warn("billing notification not delivered",
			slog.String("kind", string(n.Kind)),
			logger.TenantID(n.TenantID),
			logger.SubscriptionID(n.SubscriptionID),
			logger.RetryCount(attempts-1),
			logger.Error(err))
		return
	}
	d.logger.Debug("billing notification delivered",
		slog.String("kind", string(n.Kind)),
		logger.TenantID(n.TenantID))
}

var _ Notifier = (*Dispatcher)(nil)
