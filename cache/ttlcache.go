package cache

import (
	"sort"
	"strings"
	"time"
)

// Entry is a read-only view of one cached value and its bookkeeping.
type Entry[T any] struct {
	Value        T
	CreatedAt    time.Time
	ExpiresAt    time.Time
	AccessCount  int64
	LastAccessed time.Time
}

// TTLCache is a typed namespace on a Store.
//
// An entry is logically absent once now is past its ExpiresAt; reads treat
// it as a miss and delete it.
type TTLCache[T any] struct {
	store *Store
	space *space
}

// New creates a cache on a private store. Use Register to share one store
// between several namespaces.
func New[T any](policy Policy, opts ...StoreOption) *TTLCache[T] {
	s := NewStore(opts...)
	c, _ := Register[T](s, "default", policy)
	return c
}

// Store returns the store this namespace lives on.
func (c *TTLCache[T]) Store() *Store {
	return c.store
}

// Prefix returns the namespace prefix.
func (c *TTLCache[T]) Prefix() string {
	return c.space.prefix
}

// Policy returns the namespace policy.
func (c *TTLCache[T]) Policy() Policy {
	return c.space.policy
}

// Get returns the value for key. A hit bumps the access count and the
// last-access time. An expired entry is deleted and reported as a miss.
func (c *TTLCache[T]) Get(key string) (T, bool) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	e, ok := c.lookupLocked(key)
	if !ok {
		var zero T
		return zero, false
	}
	return e.value.(T), true
}

// Has reports whether key holds a live entry. It has the same side effects
// as Get.
func (c *TTLCache[T]) Has(key string) bool {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	_, ok := c.lookupLocked(key)
	return ok
}

// Peek returns the entry for key without touching its access bookkeeping
// and without deleting it when expired.
func (c *TTLCache[T]) Peek(key string) (Entry[T], bool) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	e, ok := c.space.entries[key]
	if !ok {
		return Entry[T]{}, false
	}
	return Entry[T]{
		Value:        e.value.(T),
		CreatedAt:    e.createdAt,
		ExpiresAt:    e.expiresAt,
		AccessCount:  e.accessCount,
		LastAccessed: e.lastAccessed,
	}, true
}

func (c *TTLCache[T]) lookupLocked(key string) (*entry, bool) {
	sp := c.space
	e, ok := sp.entries[key]
	if !ok {
		sp.stats.Misses++
		return nil, false
	}

	now := c.store.now()
	if now.After(e.expiresAt) {
		delete(sp.entries, key)
		sp.stats.Expirations++
		sp.stats.Misses++
		return nil, false
	}

	e.accessCount++
	e.lastAccessed = now
	sp.stats.Hits++
	return e, true
}

// Set stores value under key. ttl <= 0 selects the namespace default; the
// result is clamped to the namespace MaxTTL. When the namespace is full
// and key is new, the oldest batch is evicted first.
//
// Set is a no-op when the effective TTL is zero (caching disabled).
func (c *TTLCache[T]) Set(key string, value T, ttl time.Duration) {
	c.SetAndEvict(key, value, ttl)
}

// SetAndEvict is Set that also returns the keys evicted to make room.
func (c *TTLCache[T]) SetAndEvict(key string, value T, ttl time.Duration) []string {
	sp := c.space
	ttl = sp.policy.EffectiveTTL(ttl)
	if ttl <= 0 {
		return nil
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	var evicted []string
	if _, exists := sp.entries[key]; !exists && sp.policy.MaxEntries > 0 && len(sp.entries) >= sp.policy.MaxEntries {
		evicted = sp.evictLocked()
	}

	now := c.store.now()
	sp.entries[key] = &entry{
		value:        value,
		createdAt:    now,
		expiresAt:    now.Add(ttl),
		lastAccessed: now,
		seq:          c.store.nextSeqLocked(),
	}
	sp.stats.Sets++
	return evicted
}

// Delete removes key. Returns true if an entry was removed.
func (c *TTLCache[T]) Delete(key string) bool {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if _, ok := c.space.entries[key]; !ok {
		return false
	}
	delete(c.space.entries, key)
	return true
}

// DeletePrefix removes every key starting with prefix and returns how many
// were removed. It scans the whole namespace.
func (c *TTLCache[T]) DeletePrefix(prefix string) int {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	removed := 0
	for key := range c.space.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.space.entries, key)
			removed++
		}
	}
	c.space.stats.Invalidations += uint64(removed)
	return removed
}

// DeleteMatching removes every key the matcher accepts and returns how
// many were removed. It scans the whole namespace.
func (c *TTLCache[T]) DeleteMatching(pattern Matcher) int {
	if pattern == nil {
		return 0
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	removed := 0
	for key := range c.space.entries {
		if pattern.MatchString(key) {
			delete(c.space.entries, key)
			removed++
		}
	}
	c.space.stats.Invalidations += uint64(removed)
	return removed
}

// Clear removes all entries in the namespace.
func (c *TTLCache[T]) Clear() {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.space.entries = make(map[string]*entry)
}

// Cleanup removes entries whose ExpiresAt is before now and returns how
// many were removed.
func (c *TTLCache[T]) Cleanup() int {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.space.sweepLocked(c.store.now())
}

// Len returns the number of physically present entries, expired or not.
func (c *TTLCache[T]) Len() int {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return len(c.space.entries)
}

// Keys returns the physically present keys in insertion order.
func (c *TTLCache[T]) Keys() []string {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	type keyed struct {
		key string
		seq uint64
	}
	all := make([]keyed, 0, len(c.space.entries))
	for key, e := range c.space.entries {
		all = append(all, keyed{key: key, seq: e.seq})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	keys := make([]string, len(all))
	for i, k := range all {
		keys[i] = k.key
	}
	return keys
}

// Stats returns the namespace statistics.
func (c *TTLCache[T]) Stats() Stats {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.space.snapshotLocked()
}

// Ensure TTLCache implements Backend and Invalidator
var (
	_ Backend[[]byte] = (*TTLCache[[]byte])(nil)
	_ Invalidator     = (*TTLCache[[]byte])(nil)
)
