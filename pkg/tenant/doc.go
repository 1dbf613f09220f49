// Package tenant holds the tenant record as the billing engine sees it and the
// lookups the engine needs: owner contact through a Directory, and an HTTP
// middleware that loads the tenant named in the route.
//
// CachedDirectory keeps recent owner contacts in an expiring LRU so renewal
// sweeps and notifications do not hit the tenant store for every row.
//
//	dir := tenant.NewCachedDirectory(tenant.ProviderDirectory{Provider: pgTenants}, 0, 0)
//	contact, err := dir.OwnerContact(ctx, tenantID)
//
// Middleware takes a Resolver, typically a chi route parameter:
//
//	r.Use(tenant.Middleware(func(r *http.Request) string {
//	    return chi.URLParam(r, "tenantID")
//	}, provider))
package tenant
