// Package logger builds the *slog.Logger used across billingkit and holds the
// attribute helpers that keep key names consistent: TenantID,
// SubscriptionID, InvoiceID, Provider, EventID, Job and friends.
//
//	log := logger.New(
//	    logger.WithEnvironment(env, "billingd"),
//	    logger.WithConfig(cfg.Log),
//	    logger.WithContextExtractors(environment.LoggerExtractor()),
//	)
//
// ContextExtractor callbacks run on every record, so values stored in the
// request context show up without passing loggers around.
package logger
