package cache

import "time"

// Policy sets the TTL bounds and capacity of one namespace.
//
// A zero DefaultTTL disables caching for the namespace: Set becomes a
// no-op. A zero MaxTTL leaves TTLs unclamped and a zero MaxEntries leaves
// the namespace unbounded. When a full namespace receives a new key, the
// least recently accessed tenth of it (at least one entry) is evicted.
type Policy struct {
	DefaultTTL time.Duration
	MaxTTL     time.Duration
	MaxEntries int
}

// DefaultPolicy keeps entries five minutes, never more than an hour, and
// holds up to a thousand of them.
func DefaultPolicy() Policy {
	return Policy{DefaultTTL: 5 * time.Minute, MaxTTL: time.Hour, MaxEntries: 1000}
}

// ListPolicy suits paginated list pages. Mutations invalidate them
// explicitly, so the short TTL only bounds staleness from other writers.
func ListPolicy() Policy {
	return Policy{DefaultTTL: time.Minute, MaxTTL: 10 * time.Minute, MaxEntries: 500}
}

// StatsPolicy suits aggregate counts, which may lag the lists they
// summarize.
func StatsPolicy() Policy {
	return Policy{DefaultTTL: 5 * time.Minute, MaxTTL: 30 * time.Minute, MaxEntries: 200}
}

// NoCachePolicy disables caching.
func NoCachePolicy() Policy { return Policy{} }

func (p Policy) ShouldCache() bool { return p.DefaultTTL > 0 }

// EffectiveTTL resolves a requested TTL: non-positive selects DefaultTTL
// and the result never exceeds MaxTTL.
func (p Policy) EffectiveTTL(requested time.Duration) time.Duration {
	ttl := requested
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if p.MaxTTL > 0 {
		ttl = min(ttl, p.MaxTTL)
	}
	return ttl
}

// evictionBatch is the number of entries one eviction removes from a
// namespace of the given size.
func evictionBatch(size int) int {
	return max(size/10, 1)
}
