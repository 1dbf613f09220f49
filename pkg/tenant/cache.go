package tenant

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/cache"
)

// DefaultCacheSize is the default maximum number of cached contacts.
const DefaultCacheSize = 1000

// DefaultCacheTTL is how long a cached contact is trusted.
const DefaultCacheTTL = 5 * time.Minute

// CachedDirectory caches owner contacts in an expiring LRU.
// Lookups that fail are not cached.
type CachedDirectory struct {
	next  Directory
	cache *cache.TTLCache[uuid.UUID, Contact]
}

// NewCachedDirectory wraps next. Non-positive size or ttl fall back to defaults.
func NewCachedDirectory(next Directory, size int, ttl time.Duration) *CachedDirectory {
	if next == nil {
		panic("tenant: directory cannot be nil")
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedDirectory{
		next:  next,
		cache: cache.NewTTLCache[uuid.UUID, Contact](size, ttl),
	}
}

func (d *CachedDirectory) OwnerContact(ctx context.Context, tenantID uuid.UUID) (Contact, error) {
	if c, ok := d.cache.Get(tenantID); ok {
		return c, nil
	}

	c, err := d.next.OwnerContact(ctx, tenantID)
	if err != nil {
		return Contact{}, err
	}
	d.cache.Put(tenantID, c)
	return c, nil
}

// Invalidate drops the cached contact of a tenant, e.g. after an owner change.
func (d *CachedDirectory) Invalidate(tenantID uuid.UUID) {
	d.cache.Remove(tenantID)
}
