package billingapi

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/clientip"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/jobs"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/ratelimiter"
	"github.com/dmitrymomot/billingkit/pkg/reconcile"
	"github.com/dmitrymomot/billingkit/pkg/requestid"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/tenant"
	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

// Billing is the part of subscription.Service exposed over HTTP.
type Billing interface {
	GetSubscription(ctx context.Context, tenantID uuid.UUID) (*subscription.Subscription, error)
	ActivateSubscription(ctx context.Context, in subscription.ActivateInput) (*subscription.ActivationResult, error)
	CreateInstantPaymentCharge(ctx context.Context, tenantID uuid.UUID, planID string, cycle subscription.BillingCycle) (*subscription.InstantCharge, error)
	ChangePlan(ctx context.Context, tenantID uuid.UUID, newPlanID string) (*subscription.Subscription, error)
	CancelSubscription(ctx context.Context, tenantID uuid.UUID, immediately bool, reason string) (*subscription.Subscription, error)
}

// WebhookProcessor ingests signed gateway deliveries.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (reconcile.Result, error)
}

// JobRunner triggers billing jobs on demand.
type JobRunner interface {
	RunJob(ctx context.Context, name string, dryRun bool) (jobs.Report, error)
}

// API serves the billing endpoints.
type API struct {
	billing          Billing
	webhooks         WebhookProcessor
	jobs             JobRunner
	settlement       Settlement
	audit            AuditReader
	tenants          tenant.Provider
	limiter          *ratelimiter.Limiter
	clientIP         *clientip.Resolver
	logger           *slog.Logger
	validate         *validator.Validate
	maxBodyBytes     int64
	signatureHeaders map[string]string
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger used for failed requests.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithJobRunner mounts POST /jobs/{name}.
func WithJobRunner(r JobRunner) Option {
	return func(a *API) { a.jobs = r }
}

// WithTenantProvider loads the tenant of every /tenants/{tenantID} route
// before the handler runs, answering 404 for unknown tenants.
func WithTenantProvider(p tenant.Provider) Option {
	return func(a *API) { a.tenants = p }
}

// WithRateLimit limits tenant routes per tenant and the webhook and job
// routes per client IP. Rejected requests get 429.
func WithRateLimit(l *ratelimiter.Limiter) Option {
	return func(a *API) { a.limiter = l }
}

// WithTrustedProxyHeaders sets the headers read for the client IP, in order.
// Default is clientip.DefaultHeaders.
func WithTrustedProxyHeaders(headers ...string) Option {
	return func(a *API) { a.clientIP = clientip.New(headers...) }
}

// WithMaxBodySize caps request bodies. Default is 1 MiB.
func WithMaxBodySize(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithSignatureHeader sets the header carrying the signature of provider deliveries.
func WithSignatureHeader(provider, header string) Option {
	return func(a *API) {
		if provider != "" && header != "" {
			a.signatureHeaders[provider] = header
		}
	}
}

// New builds the API. billing and webhooks are required.
func New(billing Billing, webhooks WebhookProcessor, opts ...Option) *API {
	if billing == nil {
		panic("billingapi: billing service is required")
	}
	if webhooks == nil {
		panic("billingapi: webhook processor is required")
	}

	a := &API{
		billing:      billing,
		webhooks:     webhooks,
		logger:       slog.New(slog.DiscardHandler),
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		maxBodyBytes: 1 << 20,
		clientIP:     clientip.New(clientip.DefaultHeaders...),
		signatureHeaders: map[string]string{
			gateway.ProviderSimulated: webhook.SignatureHeader,
			gateway.ProviderStripe:    "Stripe-Signature",
			gateway.ProviderPaddle:    gateway.PaddleSignatureHeader,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.validate.RegisterTagNameFunc(fieldName)
	return a
}

// Routes returns the billing router.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestid.Middleware())
	r.Use(a.clientIP.Middleware)
	r.Use(a.limitBody)

	r.Route("/tenants/{tenantID}", func(r chi.Router) {
		if a.tenants != nil {
			r.Use(tenant.Middleware(
				func(req *http.Request) string { return chi.URLParam(req, "tenantID") },
				a.tenants,
				tenant.WithLogger(a.logger),
				tenant.WithErrorHandler(a.writeError),
			))
		}
		a.rateLimit(r, func(req *http.Request) string { return "tenant:" + chi.URLParam(req, "tenantID") })
		r.Get("/subscription", wrap(a, a.getSubscription, bindPath()))
		r.Post("/subscription/activate", wrap(a, a.activateSubscription, bindPath(), bindJSON(false)))
		r.Post("/subscription/pix", wrap(a, a.createPixCharge, bindPath(), bindJSON(false)))
		r.Post("/subscription/plan", wrap(a, a.changePlan, bindPath(), bindJSON(false)))
		r.Post("/subscription/cancel", wrap(a, a.cancelSubscription, bindPath(), bindJSON(true)))

		if a.settlement != nil {
			a.settlementRoutes(r)
		}
		if a.audit != nil {
			r.Get("/audit", wrap(a, a.listAudit, bindPath(), bindQuery()))
		}
	})

	r.Group(func(r chi.Router) {
		a.rateLimit(r, ratelimiter.ByIP(a.clientIP))
		r.Post("/webhooks/{provider}", a.handleWebhook)
		if a.jobs != nil {
			r.Post("/jobs/{name}", wrap(a, a.runJob, bindPath(), bindQuery()))
		}
	})
	return r
}

func (a *API) rateLimit(r chi.Router, key ratelimiter.KeyFunc) {
	if a.limiter == nil {
		return
	}
	r.Use(ratelimiter.Middleware(a.limiter, key,
		ratelimiter.WithErrorHandler(a.writeError),
		ratelimiter.WithLogger(a.logger),
	))
}

func (a *API) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, a.maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func (a *API) logError(r *http.Request, msg string, err error) {
	a.logger.ErrorContext(r.Context(), msg,
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("client_ip", clientip.FromContext(r.Context())),
		logger.Error(err),
	)
}

// render writes resp and logs a failed write at warn level.
func (a *API) render(w http.ResponseWriter, r *http.Request, resp Response) {
	if err := resp.Render(w, r); err != nil {
		a.logger.WarnContext(r.Context(), "failed to write response",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("client_ip", clientip.FromContext(r.Context())),
			logger.Error(err),
		)
	}
}

// fieldName reports validation errors under the wire name of a field.
func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"json", "path", "query"} {
		name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return ""
}
