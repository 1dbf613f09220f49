package reconcile

import (
	"io"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

// Option configures the Processor.
type Option func(*Processor)

// WithProvider registers a gateway under its Name.
func WithProvider(p Provider) Option {
	return func(pr *Processor) {
		if p != nil {
			pr.providers[p.Name()] = p
		}
	}
}

// WithConfig sets the processing config. The retry policy is derived from cfg.Retry.
func WithConfig(cfg Config) Option {
	return func(p *Processor) {
		p.cfg = cfg.withDefaults()
		p.policy = webhook.NewRetryPolicy(cfg.Retry)
	}
}

// WithRetryPolicy overrides the policy built from the config.
func WithRetryPolicy(policy webhook.RetryPolicy) Option {
	return func(p *Processor) {
		p.policy = policy
	}
}

// WithAuditLogger records rejected and dead deliveries.
func WithAuditLogger(l *audit.Logger) Option {
	return func(p *Processor) {
		p.audit = l
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
