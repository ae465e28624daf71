package resilience

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Window is one fixed rate-limit window for a key.
type Window struct {
	// Count is the number of admitted requests in the window.
	Count int

	// ResetAt is when the window ends. A check at or after ResetAt starts a
	// fresh window.
	ResetAt time.Time
}

// WindowStore holds fixed-window counters.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Atomicity: Hit must read, roll over and increment a window as one step.
// - Errors: errors are returned to the limiter, which reports them to the
//   caller; the caller decides whether to fail open.
type WindowStore interface {
	// Hit applies one check against key. If now is at or past the stored
	// window's ResetAt (or none exists) a new window ending at now+window
	// is created. The request is admitted and counted only if the window
	// holds fewer than limit requests. Returns the window after the check.
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Window, bool, error)

	// Peek returns the window for key without changing it.
	Peek(ctx context.Context, key string) (Window, bool, error)

	// Sweep removes windows whose ResetAt is at or before now.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Reset removes every window whose key starts with prefix. An empty
	// prefix removes everything.
	Reset(ctx context.Context, prefix string) (int, error)
}

// MemoryWindowStore is a process-local WindowStore.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[string]*Window
}

// NewMemoryWindowStore creates an empty in-memory window store.
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{windows: make(map[string]*Window)}
}

// Hit implements WindowStore.
func (s *MemoryWindowStore) Hit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !now.Before(w.ResetAt) {
		w = &Window{ResetAt: now.Add(window)}
		s.windows[key] = w
	}

	if w.Count >= limit {
		return *w, false, nil
	}
	w.Count++
	return *w, true, nil
}

// Peek implements WindowStore.
func (s *MemoryWindowStore) Peek(_ context.Context, key string) (Window, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		return Window{}, false, nil
	}
	return *w, true, nil
}

// Sweep implements WindowStore.
func (s *MemoryWindowStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		if !now.Before(w.ResetAt) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed, nil
}

// Reset implements WindowStore.
func (s *MemoryWindowStore) Reset(_ context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.windows {
		if strings.HasPrefix(key, prefix) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored windows, expired or not.
func (s *MemoryWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

var _ WindowStore = (*MemoryWindowStore)(nil)
