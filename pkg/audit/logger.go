package audit

import (
	"context"
	"time"
)

// contextExtractor extracts string values from context.
// It returns (value, found) where found indicates if extraction succeeded.
type contextExtractor func(context.Context) (string, bool)

// Logger writes events that happen outside a business transaction,
// such as rejected webhooks. Tenant and actor are filled from context.
type Logger struct {
	storage           Storage
	tenantIDExtractor contextExtractor
	actorExtractor    contextExtractor
	now               func() time.Time
}

// Option configures Logger behavior during initialization
type Option func(*Logger)

func WithTenantIDExtractor(fn func(context.Context) (string, bool)) Option {
	return func(l *Logger) {
		l.tenantIDExtractor = fn
	}
}

func WithActorExtractor(fn func(context.Context) (string, bool)) Option {
	return func(l *Logger) {
		l.actorExtractor = fn
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogger creates a new audit logger
func NewLogger(storage Storage, opts ...Option) *Logger {
	if storage == nil {
		panic("audit: storage cannot be nil")
	}

	l := &Logger{
		storage:           storage,
		tenantIDExtractor: TenantFromContext,
		actorExtractor:    ActorFromContext,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log records a successful action
func (l *Logger) Log(ctx context.Context, action string, opts ...EventOption) error {
	event := l.eventFromContext(ctx, action)
	for _, opt := range opts {
		opt(&event)
	}
	if err := event.Validate(); err != nil {
		return err
	}
	return l.storage.Store(ctx, event)
}

// LogError records a failed action
func (l *Logger) LogError(ctx context.Context, action string, err error, opts ...EventOption) error {
	return l.Log(ctx, action, append(opts, WithError(err))...)
}

func (l *Logger) eventFromContext(ctx context.Context, action string) Event {
	event := NewEvent(action, WithTime(l.now()))

	if l.tenantIDExtractor != nil {
		if tenantID, ok := l.tenantIDExtractor(ctx); ok {
			event.TenantID = tenantID
		}
	}
	if l.actorExtractor != nil {
		if actor, ok := l.actorExtractor(ctx); ok {
			event.Actor = actor
		}
	}
	return event
}

type tenantCtxKey struct{}

type actorCtxKey struct{}

// ContextWithTenant stores the tenant id read by the default extractor.
func ContextWithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, tenantID)
}

// TenantFromContext is the default tenant extractor.
func TenantFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tenantCtxKey{}).(string)
	return v, ok && v != ""
}

// ContextWithActor stores the actor read by the default extractor.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, actor)
}

// ActorFromContext is the default actor extractor.
func ActorFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(actorCtxKey{}).(string)
	return v, ok && v != ""
}
