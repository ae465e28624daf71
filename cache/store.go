package cache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultCleanupInterval is how often the janitor sweeps expired entries.
const DefaultCleanupInterval = 5 * time.Minute

// Store holds the entries of every namespace registered on it.
//
// Contract:
// - Concurrency: all methods are safe for concurrent use; no method blocks
//   on I/O.
// - Lifecycle: Start launches the janitor, Close stops it and waits for it
//   to exit. Both are idempotent. A Store is usable without Start; expired
//   entries are then only removed lazily or by explicit Cleanup calls.
type Store struct {
	mu     sync.Mutex
	spaces map[string]*space
	order  []string // registration order, for deterministic sweeps
	now    func() time.Time
	seq    uint64

	janitor *janitor
	closed  bool
}

// space is one namespace's partition of the store.
type space struct {
	prefix  string
	policy  Policy
	entries map[string]*entry
	stats   Stats
}

type entry struct {
	value        any
	createdAt    time.Time
	expiresAt    time.Time
	accessCount  int64
	lastAccessed time.Time
	seq          uint64 // insertion order, breaks lastAccessed ties
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock replaces time.Now. Tests use it to drive expiry and eviction
// deterministically.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		spaces: make(map[string]*space),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a typed namespace on the store.
//
// The prefix must be non-empty and must not equal, extend, or be extended
// by the prefix of an already registered namespace.
func Register[T any](s *Store, prefix string, policy Policy) (*TTLCache[T], error) {
	if s == nil {
		return nil, ErrNilCache
	}
	if strings.TrimSpace(prefix) == "" || strings.ContainsAny(prefix, "\n\r") {
		return nil, ErrInvalidPrefix
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	for existing := range s.spaces {
		if strings.HasPrefix(existing, prefix) || strings.HasPrefix(prefix, existing) {
			return nil, ErrNamespaceConflict
		}
	}

	sp := &space{
		prefix:  prefix,
		policy:  policy,
		entries: make(map[string]*entry),
	}
	s.spaces[prefix] = sp
	s.order = append(s.order, prefix)

	return &TTLCache[T]{store: s, space: sp}, nil
}

// Namespaces returns the registered prefixes in registration order.
func (s *Store) Namespaces() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Cleanup removes expired entries from every namespace and returns how
// many were removed.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for _, prefix := range s.order {
		removed += s.spaces[prefix].sweepLocked(now)
	}
	return removed
}

// Stats returns per-namespace statistics keyed by prefix.
func (s *Store) Stats() map[string]Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Stats, len(s.spaces))
	for prefix, sp := range s.spaces {
		out[prefix] = sp.snapshotLocked()
	}
	return out
}

// Clear removes every entry from every namespace. Namespaces stay
// registered.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sp := range s.spaces {
		sp.entries = make(map[string]*entry)
	}
}

func (s *Store) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}

func (sp *space) sweepLocked(now time.Time) int {
	removed := 0
	for key, e := range sp.entries {
		if e.expiresAt.Before(now) {
			delete(sp.entries, key)
			removed++
		}
	}
	sp.stats.Expirations += uint64(removed)
	return removed
}

// evictLocked removes the oldest batch of entries by last access and
// returns their keys, oldest first.
func (sp *space) evictLocked() []string {
	if len(sp.entries) == 0 {
		return nil
	}

	type candidate struct {
		key string
		e   *entry
	}
	candidates := make([]candidate, 0, len(sp.entries))
	for key, e := range sp.entries {
		candidates = append(candidates, candidate{key: key, e: e})
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].e, candidates[j].e
		if !a.lastAccessed.Equal(b.lastAccessed) {
			return a.lastAccessed.Before(b.lastAccessed)
		}
		return a.seq < b.seq
	})

	n := evictionBatch(len(candidates))
	evicted := make([]string, 0, n)
	for _, c := range candidates[:n] {
		delete(sp.entries, c.key)
		evicted = append(evicted, c.key)
	}
	sp.stats.Evictions += uint64(n)
	return evicted
}

func (sp *space) snapshotLocked() Stats {
	st := sp.stats
	st.Entries = len(sp.entries)
	st.Capacity = sp.policy.MaxEntries
	return st
}
