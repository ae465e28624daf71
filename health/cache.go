package health

import (
	"context"
	"fmt"
	"sort"

	"github.com/jonwraymond/sitesync/cache"
)

// DefaultCacheDegradedAt is the namespace utilization at which
// CacheChecker reports Degraded.
const DefaultCacheDegradedAt = 0.9

// CacheStatsSource reports per-namespace cache statistics.
// *cache.Store satisfies it.
type CacheStatsSource interface {
	Stats() map[string]cache.Stats
}

// CacheChecker reports cache occupancy. It is never Unhealthy: a full
// cache evicts, it does not fail.
type CacheChecker struct {
	source     CacheStatsSource
	degradedAt float64
}

// NewCacheChecker creates a cache checker. degradedAt outside (0, 1]
// selects DefaultCacheDegradedAt.
func NewCacheChecker(source CacheStatsSource, degradedAt float64) *CacheChecker {
	if degradedAt <= 0 || degradedAt > 1 {
		degradedAt = DefaultCacheDegradedAt
	}
	return &CacheChecker{source: source, degradedAt: degradedAt}
}

// Name returns the name of this checker.
func (c *CacheChecker) Name() string { return "cache" }

// Check inspects every namespace.
func (c *CacheChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	stats := c.source.Stats()
	names := make([]string, 0, len(stats))
	for ns := range stats {
		names = append(names, ns)
	}
	sort.Strings(names)

	details := make(map[string]any, len(stats))
	var hot []string
	for _, ns := range names {
		st := stats[ns]
		details[ns] = map[string]any{
			"entries":     st.Entries,
			"capacity":    st.Capacity,
			"utilization": st.Utilization(),
			"hit_ratio":   st.HitRatio(),
			"evictions":   st.Evictions,
		}
		if st.Capacity > 0 && st.Utilization() >= c.degradedAt {
			hot = append(hot, ns)
		}
	}

	if len(hot) > 0 {
		return Degraded(fmt.Sprintf("cache namespaces near capacity: %v", hot)).WithDetails(details)
	}
	return Healthy(fmt.Sprintf("%d cache namespaces within capacity", len(names))).WithDetails(details)
}
