// Package pgstore implements the billing stores on PostgreSQL through pgx:
//
//   - SubscriptionStore for subscription.Store, with invoices, numbering, the
//     tenant access flag and audit entries committed in one transaction
//   - EventStore for reconcile.EventStore
//   - SettlementStore for settlement.Store
//   - AuditStorage for audit.Storage
//   - TenantStore for tenant.Provider and tenant.Directory
//
// The schema ships as goose migrations in Migrations:
//
//	if err := pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, cfg, log); err != nil {
//	    return err
//	}
//	stores := pgstore.New(pool)
//
// Integration tests run against BILLING_TEST_DATABASE_URL and are skipped
// when it is unset.
package pgstore
