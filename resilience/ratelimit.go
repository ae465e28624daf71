package resilience

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// RateLimiterConfig configures a fixed-window rate limiter.
type RateLimiterConfig struct {
	// Window is the length of one counting window.
	// Default: 15 minutes
	Window time.Duration

	// MaxRequests is the number of requests admitted per identifier per
	// window.
	// Default: 100
	MaxRequests int

	// KeyPrefix namespaces this limiter's windows in a shared store.
	KeyPrefix string

	// Store holds the windows.
	// Default: a new MemoryWindowStore
	Store WindowStore

	// Clock replaces time.Now.
	Clock func() time.Time
}

// Decision is the result of one rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetTime time.Time

	// RetryAfter is how long until the window resets. Zero when allowed.
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, for the
// Retry-After header.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// RateLimiter is a fixed-window limiter keyed by caller identifier.
//
// Each identifier gets MaxRequests admissions per window. A rejected check
// does not consume quota. A window can admit up to twice MaxRequests across
// its boundary with the next window; that burst is accepted policy.
//
// Expired windows are swept at most once per window length, so the store
// can hold up to one window's worth of expired identifiers besides the
// live ones.
type RateLimiter struct {
	config RateLimiterConfig

	mu        sync.Mutex
	lastSweep time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	// Apply defaults
	if config.Window <= 0 {
		config.Window = 15 * time.Minute
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 100
	}
	if config.Store == nil {
		config.Store = NewMemoryWindowStore()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &RateLimiter{
		config:    config,
		lastSweep: config.Clock(),
	}
}

// CheckLimit counts one request for identifier and reports whether it is
// admitted. Store errors are returned with a zero Decision.
func (rl *RateLimiter) CheckLimit(ctx context.Context, identifier string) (Decision, error) {
	now := rl.config.Clock()
	rl.maybeSweep(ctx, now)

	w, allowed, err := rl.config.Store.Hit(ctx, rl.key(identifier), rl.config.MaxRequests, rl.config.Window, now)
	if err != nil {
		return Decision{}, fmt.Errorf("resilience: rate limit store: %w", err)
	}

	d := Decision{
		Allowed:   allowed,
		Limit:     rl.config.MaxRequests,
		Remaining: max(rl.config.MaxRequests-w.Count, 0),
		ResetTime: w.ResetAt,
	}
	if !allowed {
		d.RetryAfter = w.ResetAt.Sub(now)
	}
	return d, nil
}

// Status returns the current decision for identifier without counting a
// request.
func (rl *RateLimiter) Status(ctx context.Context, identifier string) (Decision, error) {
	now := rl.config.Clock()
	w, ok, err := rl.config.Store.Peek(ctx, rl.key(identifier))
	if err != nil {
		return Decision{}, fmt.Errorf("resilience: rate limit store: %w", err)
	}
	if !ok || !now.Before(w.ResetAt) {
		return Decision{
			Allowed:   true,
			Limit:     rl.config.MaxRequests,
			Remaining: rl.config.MaxRequests,
			ResetTime: now.Add(rl.config.Window),
		}, nil
	}

	d := Decision{
		Allowed:   w.Count < rl.config.MaxRequests,
		Limit:     rl.config.MaxRequests,
		Remaining: max(rl.config.MaxRequests-w.Count, 0),
		ResetTime: w.ResetAt,
	}
	if !d.Allowed {
		d.RetryAfter = w.ResetAt.Sub(now)
	}
	return d, nil
}

// Execute runs op if identifier is within its limit. A rejection returns a
// *RateLimitError wrapping ErrRateLimitExceeded.
func (rl *RateLimiter) Execute(ctx context.Context, identifier string, op func(context.Context) error) error {
	d, err := rl.CheckLimit(ctx, identifier)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return &RateLimitError{Decision: d}
	}
	return op(ctx)
}

// Reset clears every window of this limiter.
func (rl *RateLimiter) Reset(ctx context.Context) error {
	_, err := rl.config.Store.Reset(ctx, rl.config.KeyPrefix)
	return err
}

// Config returns the rate limiter configuration.
func (rl *RateLimiter) Config() RateLimiterConfig {
	return rl.config
}

func (rl *RateLimiter) key(identifier string) string {
	return rl.config.KeyPrefix + identifier
}

// maybeSweep drops expired windows at most once per window length. A window
// that expires just after a sweep stays stored until the next one.
func (rl *RateLimiter) maybeSweep(ctx context.Context, now time.Time) {
	rl.mu.Lock()
	if now.Sub(rl.lastSweep) < rl.config.Window {
		rl.mu.Unlock()
		return
	}
	rl.lastSweep = now
	rl.mu.Unlock()

	// A failed sweep only delays reclamation.
	_, _ = rl.config.Store.Sweep(ctx, now)
}
