package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc loads a value on a cache miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// FaultHandler observes cache faults that ReadThrough swallowed.
type FaultHandler func(key string, err error)

// ReadThrough wraps fetches with a cache.
//
// Contract:
//   - Hits return the cached value without calling the fetcher.
//   - Misses call the fetcher once per key even when many callers miss at
//     the same time; the fetch runs under the first caller's context.
//   - Fetch errors are returned and never cached.
//   - A panicking backend never blocks the fetch: the fetched value is
//     returned uncached and the fault is reported to OnFault.
//   - A fetch that began before Invalidate is returned to its callers but
//     never stored, and later misses do not join it.
type ReadThrough[T any] struct {
	backend Backend[T]
	group   singleflight.Group

	mu    sync.RWMutex
	epoch uint64

	// OnFault is called for every swallowed cache fault. Optional.
	OnFault FaultHandler
}

// NewReadThrough creates a read-through wrapper around backend. A nil
// backend degrades every call to a direct fetch.
func NewReadThrough[T any](backend Backend[T]) *ReadThrough[T] {
	return &ReadThrough[T]{backend: backend}
}

// Result describes how a read-through call was served.
type Result int

const (
	// Fetched means the value came from the fetcher.
	Fetched Result = iota
	// Hit means the value came from the cache.
	Hit
	// Shared means the value came from a concurrent caller's fetch.
	Shared
)

// Get returns the cached value for key or fetches, stores and returns it.
// A key ValidateKey rejects is never cached; fetch runs directly.
func (r *ReadThrough[T]) Get(ctx context.Context, key string, fetch FetchFunc[T], ttl time.Duration) (T, Result, error) {
	if r == nil || r.backend == nil || ValidateKey(key) != nil {
		v, err := fetch(ctx)
		return v, Fetched, err
	}

	if cached, ok := r.safeGet(key); ok {
		return cached, Hit, nil
	}

	epoch := r.currentEpoch()
	v, err, shared := r.group.Do(flightKey(epoch, key), func() (any, error) {
		value, err := fetch(ctx)
		if err != nil {
			return value, err
		}
		r.storeIf(epoch, key, value, ttl)
		return value, nil
	})

	result := Fetched
	if shared {
		result = Shared
	}
	value, _ := v.(T)
	return value, result, err
}

// Forget drops any in-flight fetch for key so the next miss starts a new
// one. The forgotten fetch may still store its result; use Invalidate
// when that result is stale.
func (r *ReadThrough[T]) Forget(key string) {
	if r == nil {
		return
	}
	r.group.Forget(flightKey(r.currentEpoch(), key))
}

// Invalidate starts a new epoch. Fetches already in flight finish for
// their callers but do not write to the backend. Call it before deleting
// the stale keys so no such write can land after the delete.
func (r *ReadThrough[T]) Invalidate() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.epoch++
	r.mu.Unlock()
}

func (r *ReadThrough[T]) currentEpoch() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.epoch
}

// storeIf writes value only while epoch is current. The read lock keeps
// Invalidate from advancing the epoch mid-write.
func (r *ReadThrough[T]) storeIf(epoch uint64, key string, value T, ttl time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.epoch == epoch {
		r.safeSet(key, value, ttl)
	}
}

func flightKey(epoch uint64, key string) string {
	return strconv.FormatUint(epoch, 10) + "|" + key
}

func (r *ReadThrough[T]) safeGet(key string) (value T, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.fault(key, fmt.Errorf("cache: get panicked: %v", rec))
			var zero T
			value, ok = zero, false
		}
	}()
	return r.backend.Get(key)
}

func (r *ReadThrough[T]) safeSet(key string, value T, ttl time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			r.fault(key, fmt.Errorf("cache: set panicked: %v", rec))
		}
	}()
	r.backend.Set(key, value, ttl)
}

func (r *ReadThrough[T]) fault(key string, err error) {
	if r.OnFault != nil {
		r.OnFault(key, err)
	}
}

// WithCache is the one-shot form of ReadThrough.Get without miss
// coalescing.
func WithCache[T any](ctx context.Context, backend Backend[T], key string, fetch FetchFunc[T], ttl time.Duration) (T, error) {
	rt := &ReadThrough[T]{backend: backend}
	if backend == nil {
		return fetch(ctx)
	}
	if cached, ok := rt.safeGet(key); ok {
		return cached, nil
	}
	value, err := fetch(ctx)
	if err != nil {
		return value, err
	}
	rt.safeSet(key, value, ttl)
	return value, nil
}
