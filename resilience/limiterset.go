package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// OperationClass groups requests that share a rate-limit budget.
type OperationClass string

// Operation classes.
const (
	ClassRead   OperationClass = "read"
	ClassWrite  OperationClass = "write"
	ClassDelete OperationClass = "delete"
	ClassUpload OperationClass = "upload"
)

// LimitPolicy is the budget of one operation class.
type LimitPolicy struct {
	Window      time.Duration `mapstructure:"window" json:"window"`
	MaxRequests int           `mapstructure:"max_requests" json:"maxRequests"`
}

// DefaultLimitPolicies returns the built-in per-class budgets.
func DefaultLimitPolicies() map[OperationClass]LimitPolicy {
	return map[OperationClass]LimitPolicy{
		ClassRead:   {Window: 15 * time.Minute, MaxRequests: 300},
		ClassWrite:  {Window: 15 * time.Minute, MaxRequests: 60},
		ClassDelete: {Window: 15 * time.Minute, MaxRequests: 20},
		ClassUpload: {Window: time.Hour, MaxRequests: 50},
	}
}

// LimiterSet holds one independent RateLimiter per operation class on a
// shared WindowStore. Exhausting one class never affects another.
type LimiterSet struct {
	store WindowStore
	clock func() time.Time

	mu       sync.RWMutex
	limiters map[OperationClass]*RateLimiter
}

// LimiterSetOption configures a LimiterSet.
type LimiterSetOption func(*LimiterSet)

// WithWindowStore replaces the default in-memory window store.
func WithWindowStore(store WindowStore) LimiterSetOption {
	return func(s *LimiterSet) {
		if store != nil {
			s.store = store
		}
	}
}

// WithLimiterClock replaces time.Now for every limiter in the set.
func WithLimiterClock(now func() time.Time) LimiterSetOption {
	return func(s *LimiterSet) {
		if now != nil {
			s.clock = now
		}
	}
}

// NewLimiterSet creates a limiter per policy.
func NewLimiterSet(policies map[OperationClass]LimitPolicy, opts ...LimiterSetOption) *LimiterSet {
	s := &LimiterSet{
		store:    NewMemoryWindowStore(),
		clock:    time.Now,
		limiters: make(map[OperationClass]*RateLimiter, len(policies)),
	}
	for _, opt := range opts {
		opt(s)
	}
	for class, p := range policies {
		s.limiters[class] = s.newLimiter(class, p)
	}
	return s
}

func (s *LimiterSet) newLimiter(class OperationClass, p LimitPolicy) *RateLimiter {
	return NewRateLimiter(RateLimiterConfig{
		Window:      p.Window,
		MaxRequests: p.MaxRequests,
		KeyPrefix:   string(class) + ":",
		Store:       s.store,
		Clock:       s.clock,
	})
}

// CheckLimit counts one request of class for identifier.
func (s *LimiterSet) CheckLimit(ctx context.Context, class OperationClass, identifier string) (Decision, error) {
	rl, err := s.Limiter(class)
	if err != nil {
		return Decision{}, err
	}
	return rl.CheckLimit(ctx, identifier)
}

// Limiter returns the limiter for class.
func (s *LimiterSet) Limiter(class OperationClass) (*RateLimiter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rl, ok := s.limiters[class]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	return rl, nil
}

// SetPolicy replaces the budget of class and clears its windows. A policy
// equal to the current one is left in place with its windows intact, and
// changed reports false.
func (s *LimiterSet) SetPolicy(ctx context.Context, class OperationClass, p LimitPolicy) (changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.limiters[class]; ok && cur.config.Window == p.Window && cur.config.MaxRequests == p.MaxRequests {
		return false, nil
	}
	rl := s.newLimiter(class, p)
	if err := rl.Reset(ctx); err != nil {
		return false, err
	}
	s.limiters[class] = rl
	return true, nil
}

// Policies returns the effective policy of every class.
func (s *LimiterSet) Policies() map[OperationClass]LimitPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[OperationClass]LimitPolicy, len(s.limiters))
	for class, rl := range s.limiters {
		out[class] = LimitPolicy{Window: rl.config.Window, MaxRequests: rl.config.MaxRequests}
	}
	return out
}

// Classes returns the configured classes in sorted order.
func (s *LimiterSet) Classes() []OperationClass {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]OperationClass, 0, len(s.limiters))
	for class := range s.limiters {
		out = append(out, class)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
