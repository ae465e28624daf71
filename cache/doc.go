// Package cache provides the bounded, namespaced TTL cache used on both
// sides of the synchronization core.
//
// A Store owns the entries of every namespace registered on it, the clock,
// and the janitor goroutine that sweeps expired entries on a fixed
// interval. Each namespace is exposed as a typed TTLCache with its own
// Policy (default TTL, max TTL, max entries). When a namespace is full, the
// oldest 10% of its entries by last access are evicted in one pass.
//
// Keyspace builds deterministic keys for list, stats and record reads and
// the prefix/regex rules used to invalidate them. ReadThrough wraps a
// fetch with the cache, coalescing concurrent misses; cache faults never
// block the fetch.
//
//	store := cache.NewStore()
//	store.Start(5 * time.Minute)
//	defer store.Close()
//
//	projects, _ := cache.Register[[]byte](store, "projects", cache.DefaultPolicy())
//	projects.Set("projects|all|list|3f2a", body, 0)
package cache
