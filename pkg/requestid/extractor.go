package requestid

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// LoggerExtractor adds the request id to every record logged with the request context.
func LoggerExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		id, ok := FromContext(ctx)
		if !ok {
			return slog.Attr{}, false
		}
		return logger.RequestID(id), true
	}
}
