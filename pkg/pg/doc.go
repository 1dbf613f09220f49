// Package pg wraps the pgx/v5 pool for the billing store.
//
// Connect opens and pings a *pgxpool.Pool with retries. Migrate applies the
// embedded goose migrations of the store packages. WithTx runs a function in
// a transaction that is rolled back on error or panic. Healthcheck feeds the
// HTTP readiness probe.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, cfg, log); err != nil {
//	    return err
//	}
//
// The Is* helpers classify driver errors by SQLSTATE.
package pg
