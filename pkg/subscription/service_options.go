package subscription

import (
	"io"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/locker"
)

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocker sets the per-subscription lock. Use a Redis locker when more than one replica runs.
func WithLocker(l locker.Locker) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithConfig sets the billing rules.
func WithConfig(cfg Config) ServiceOption {
	return func(s *Service) {
		s.cfg = cfg.withDefaults()
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
