// Package cache provides generic, thread-safe in-memory caches.
//
// LRUCache evicts the least recently used entry once it reaches capacity.
// Add inserts only when the key is absent, which makes it usable as a
// best-effort "seen before" check:
//
//	seen := cache.NewLRUCache[string, struct{}](10000)
//	if !seen.Add("stripe:evt_1", struct{}{}) {
//	    // duplicate delivery
//	}
//
// TTLCache wraps an LRU and also expires entries after a fixed duration:
//
//	contacts := cache.NewTTLCache[uuid.UUID, tenant.Contact](1000, 5*time.Minute)
//
// An eviction callback can be set on LRUCache for cleanup. All operations are
// O(1) and safe for concurrent use.
package cache
