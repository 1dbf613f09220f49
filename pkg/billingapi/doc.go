// Package billingapi exposes the billing engine over HTTP with chi.
//
// Routes:
//
//	GET  /tenants/{tenantID}/subscription
//	POST /tenants/{tenantID}/subscription/activate
//	POST /tenants/{tenantID}/subscription/pix
//	POST /tenants/{tenantID}/subscription/plan
//	POST /tenants/{tenantID}/subscription/cancel
//	POST /webhooks/{provider}
//	POST /jobs/{name}?dry_run=true
//
// WithSettlement adds the payment transaction routes:
//
//	POST /tenants/{tenantID}/transactions
//	GET  /tenants/{tenantID}/transactions/{transactionID}
//	POST /tenants/{tenantID}/transactions/{transactionID}/{paid,refund,cancel,recalculate}
//	GET  /tenants/{tenantID}/professionals/{professionalID}/earnings?from=&to=
//
// WithAuditReader adds GET /tenants/{tenantID}/audit. WithRateLimit puts a
// token bucket per tenant in front of the tenant routes and one per client
// IP in front of webhooks and jobs; rejected calls get 429.
//
// Every JSON response is an Envelope. Errors map to statuses by taxonomy:
// validation 400 or 422, missing records 404, illegal transitions 409, bad
// webhook signatures 401 and gateway failures 502 or 504. Webhook deliveries
// the processor recorded are always answered 200, duplicates included.
//
// Usage:
//
//	api := billingapi.New(svc, processor,
//	    billingapi.WithJobRunner(runner),
//	    billingapi.WithTenantProvider(tenants),
//	    billingapi.WithLogger(log),
//	)
//	router.Mount("/", api.Routes())
package billingapi
