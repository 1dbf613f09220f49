package environment

import (
	"context"
	"log/slog"
)

// LoggerExtractor adds an "env" attribute to records whose context carries one.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if env, ok := FromContext(ctx); ok {
			return slog.String("env", env.String()), true
		}
		return slog.Attr{}, false
	}
}
