// Command billingd runs the billing engine: the HTTP API, webhook ingestion
// and the periodic billing jobs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/billingkit/pkg/audit"
	"github.com/dmitrymomot/billingkit/pkg/billingapi"
	"github.com/dmitrymomot/billingkit/pkg/config"
	"github.com/dmitrymomot/billingkit/pkg/email"
	"github.com/dmitrymomot/billingkit/pkg/environment"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/httpserver"
	"github.com/dmitrymomot/billingkit/pkg/jobs"
	"github.com/dmitrymomot/billingkit/pkg/locker"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/notify"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/pgstore"
	"github.com/dmitrymomot/billingkit/pkg/ratelimiter"
	"github.com/dmitrymomot/billingkit/pkg/reconcile"
	"github.com/dmitrymomot/billingkit/pkg/redis"
	"github.com/dmitrymomot/billingkit/pkg/requestid"
	"github.com/dmitrymomot/billingkit/pkg/settlement"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/tenant"
)

type appConfig struct {
	Env             string        `env:"BILLING_ENV" envDefault:"development"`
	ServiceName     string        `env:"BILLING_SERVICE_NAME" envDefault:"billingd"`
	PlansFile       string        `env:"BILLING_PLANS_FILE" envDefault:"configs/plans.yaml"`
	TenantCacheSize int           `env:"BILLING_TENANT_CACHE_SIZE" envDefault:"1000"`
	TenantCacheTTL  time.Duration `env:"BILLING_TENANT_CACHE_TTL" envDefault:"5m"`
	ShutdownTimeout time.Duration `env:"BILLING_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "billingd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var (
		app        appConfig
		logCfg     logger.Config
		pgCfg      pg.Config
		redisCfg   redis.Config
		lockCfg    locker.Config
		gwCfg      gateway.Config
		subCfg     subscription.Config
		webhookCfg reconcile.Config
		jobsCfg    jobs.Config
		notifyCfg  notify.Config
		emailCfg   email.Config
		httpCfg    httpserver.Config
		limitCfg   ratelimiter.Config
	)
	if err := errors.Join(
		config.Load(&app),
		config.Load(&logCfg),
		config.Load(&pgCfg),
		config.Load(&redisCfg),
		config.Load(&lockCfg),
		config.Load(&gwCfg),
		config.Load(&subCfg),
		config.Load(&webhookCfg),
		config.Load(&jobsCfg),
		config.Load(&notifyCfg),
		config.Load(&emailCfg),
		config.Load(&httpCfg),
		config.Load(&limitCfg),
	); err != nil {
		return err
	}

	env := environment.Parse(app.Env)
	log := logger.New(
		logger.WithEnvironment(env, app.ServiceName),
		logger.WithConfig(logCfg),
		logger.WithContextExtractors(
			environment.LoggerExtractor(),
			requestid.LoggerExtractor(),
			tenant.LoggerExtractor(),
		),
	)
	slog.SetDefault(log)
	ctx = environment.WithContext(ctx, env)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, pgCfg, log); err != nil {
		return err
	}
	store := pgstore.New(pool)

	checks := map[string]httpserver.Check{"postgres": pg.Healthcheck(pool)}

	var (
		lock       locker.Locker = locker.NewMemory()
		limitStore ratelimiter.Store
	)
	if redisCfg.Enabled() {
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		lock = locker.NewRedis(client, lockCfg, locker.WithLogger(log))
		checks["redis"] = redis.Healthcheck(client)
		limitStore = ratelimiter.NewRedisStore(client, limitCfg.Prefix)
	} else {
		mem := ratelimiter.NewMemoryStore()
		defer mem.Close()
		limitStore = mem
	}

	provider, err := gateway.New(gwCfg, log)
	if err != nil {
		return err
	}

	catalog, err := subscription.NewCatalog(ctx, subscription.YAMLFile(app.PlansFile))
	if err != nil {
		return err
	}

	directory := tenant.NewCachedDirectory(store.Tenants, app.TenantCacheSize, app.TenantCacheTTL)
	svc := subscription.NewService(store.Subscriptions, catalog, provider, directory,
		subscription.WithConfig(subCfg),
		subscription.WithLocker(lock),
		subscription.WithLogger(log),
	)

	auditStorage, flushAudit := audit.NewAsyncStorage(store.Audit, audit.AsyncOptions{})
	auditLogger := audit.NewLogger(auditStorage, audit.WithTenantIDExtractor(tenant.AuditExtractor))

	processor := reconcile.NewProcessor(svc, store.Events,
		reconcile.WithProvider(provider),
		reconcile.WithConfig(webhookCfg),
		reconcile.WithAuditLogger(auditLogger),
		reconcile.WithLogger(log),
	)

	settlements := settlement.NewService(store.Settlement,
		settlement.WithAuditLogger(auditLogger),
		settlement.WithLogger(log),
	)

	sender, err := email.NewSender(emailCfg)
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(
		notify.NewEmailNotifier(directory, sender, notify.WithLanguage(notifyCfg.Language)),
		notifyCfg,
		notify.WithDispatcherLogger(log),
	)

	runner, err := jobs.NewRunner(
		jobs.NewBillingJobs(svc, jobsCfg,
			jobs.WithNotifier(dispatcher),
			jobs.WithWebhookRetrier(processor),
			jobs.WithLogger(log),
		),
		jobs.WithRunLocker(lock),
		jobs.WithJobTimeout(jobsCfg.JobTimeout),
		jobs.WithRunnerLogger(log),
	)
	if err != nil {
		return err
	}
	schedules, err := jobsCfg.ResolveSchedules()
	if err != nil {
		return err
	}
	scheduler, err := jobs.NewScheduler(runner, schedules,
		jobs.WithCheckInterval(jobsCfg.CheckInterval),
		jobs.WithSchedulerLogger(log),
	)
	if err != nil {
		return err
	}

	apiOpts := []billingapi.Option{
		billingapi.WithJobRunner(runner),
		billingapi.WithSettlement(settlements),
		billingapi.WithAuditReader(audit.NewReader(store.Audit)),
		billingapi.WithTenantProvider(store.Tenants),
		billingapi.WithLogger(log),
	}
	if limitCfg.Enabled {
		limiter, err := ratelimiter.New(limitStore, limitCfg)
		if err != nil {
			return err
		}
		apiOpts = append(apiOpts, billingapi.WithRateLimit(limiter))
	}
	api := billingapi.New(svc, processor, apiOpts...)

	router := chi.NewRouter()
	router.Get("/healthz", httpserver.LivenessHandler())
	router.Get("/readyz", httpserver.ReadinessHandler(log, 2*time.Second, checks))
	router.Mount("/", api.Routes())

	server := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx, router) })
	g.Go(func() error { return scheduler.Start(ctx) })

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.ShutdownTimeout)
	defer cancel()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.WarnContext(shutdownCtx, "notification queue not drained", logger.Error(err))
	}
	if err := flushAudit(shutdownCtx); err != nil {
		log.WarnContext(shutdownCtx, "audit buffer not flushed", logger.Error(err))
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	log.InfoContext(shutdownCtx, "billingd stopped")
	return nil
}
