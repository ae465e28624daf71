package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(offset time.Duration, base time.Time) {
	c.mu.Lock()
	c.now = base.Add(offset)
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// failingStore is a WindowStore that always errors.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Hit(context.Context, string, int, time.Duration, time.Time) (Window, bool, error) {
	return Window{}, false, errStoreDown
}
func (failingStore) Peek(context.Context, string) (Window, bool, error) {
	return Window{}, false, errStoreDown
}
func (failingStore) Sweep(context.Context, time.Time) (int, error) { return 0, errStoreDown }
func (failingStore) Reset(context.Context, string) (int, error)    { return 0, errStoreDown }

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{})
	cfg := rl.Config()

	if cfg.Window != 15*time.Minute {
		t.Errorf("Window = %v, want 15m", cfg.Window)
	}
	if cfg.MaxRequests != 100 {
		t.Errorf("MaxRequests = %d, want 100", cfg.MaxRequests)
	}
	if cfg.Store == nil || cfg.Clock == nil {
		t.Error("Store and Clock should default")
	}
}

func TestRateLimiter_FixedWindowScenario(t *testing.T) {
	clock := newTestClock()
	base := clock.Now()
	rl := NewRateLimiter(RateLimiterConfig{
		Window:      time.Second,
		MaxRequests: 2,
		Clock:       clock.Now,
	})
	ctx := context.Background()

	steps := []struct {
		at          time.Duration
		allowed     bool
		remaining   int
		retryAfter  time.Duration
		retrySecond int
	}{
		{0, true, 1, 0, 0},
		{100 * time.Millisecond, true, 0, 0, 0},
		{200 * time.Millisecond, false, 0, 800 * time.Millisecond, 1},
		{1050 * time.Millisecond, true, 1, 0, 0},
	}

	for _, step := range steps {
		clock.Set(step.at, base)
		d, err := rl.CheckLimit(ctx, "user-1")
		if err != nil {
			t.Fatalf("CheckLimit at %v: %v", step.at, err)
		}
		if d.Allowed != step.allowed {
			t.Errorf("at %v: Allowed = %v, want %v", step.at, d.Allowed, step.allowed)
		}
		if d.Remaining != step.remaining {
			t.Errorf("at %v: Remaining = %d, want %d", step.at, d.Remaining, step.remaining)
		}
		if d.RetryAfter != step.retryAfter {
			t.Errorf("at %v: RetryAfter = %v, want %v", step.at, d.RetryAfter, step.retryAfter)
		}
		if d.RetryAfterSeconds() != step.retrySecond {
			t.Errorf("at %v: RetryAfterSeconds = %d, want %d", step.at, d.RetryAfterSeconds(), step.retrySecond)
		}
		if d.Limit != 2 {
			t.Errorf("at %v: Limit = %d, want 2", step.at, d.Limit)
		}
	}
}

func TestRateLimiter_ResetAtBoundary(t *testing.T) {
	clock := newTestClock()
	rl := NewRateLimiter(RateLimiterConfig{Window: time.Second, MaxRequests: 1, Clock: clock.Now})
	ctx := context.Background()

	first, _ := rl.CheckLimit(ctx, "u")
	clock.Advance(999 * time.Millisecond)
	if d, _ := rl.CheckLimit(ctx, "u"); d.Allowed {
		t.Error("check before ResetTime should be rejected")
	}
	clock.Advance(time.Millisecond)
	if !clock.Now().Equal(first.ResetTime) {
		t.Fatalf("clock %v should equal ResetTime %v", clock.Now(), first.ResetTime)
	}
	if d, _ := rl.CheckLimit(ctx, "u"); !d.Allowed {
		t.Error("check at ResetTime should start a new window")
	}
}

func TestRateLimiter_RejectionDoesNotConsume(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryWindowStore()
	rl := NewRateLimiter(RateLimiterConfig{Window: time.Minute, MaxRequests: 3, Store: store, Clock: clock.Now})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _ = rl.CheckLimit(ctx, "u")
	}
	w, ok, _ := store.Peek(ctx, "u")
	if !ok {
		t.Fatal("window should exist")
	}
	if w.Count != 3 {
		t.Errorf("Count = %d, want 3 after rejections", w.Count)
	}
}

func TestRateLimiter_IdentifiersIndependent(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Window: time.Minute, MaxRequests: 1})
	ctx := context.Background()

	if d, _ := rl.CheckLimit(ctx, "a"); !d.Allowed {
		t.Error("a first check should be allowed")
	}
	if d, _ := rl.CheckLimit(ctx, "b"); !d.Allowed {
		t.Error("b should have its own window")
	}
	if d, _ := rl.CheckLimit(ctx, "a"); d.Allowed {
		t.Error("a second check should be rejected")
	}
}

func TestRateLimiter_Status(t *testing.T) {
	clock := newTestClock()
	rl := NewRateLimiter(RateLimiterConfig{Window: time.Minute, MaxRequests: 2, Clock: clock.Now})
	ctx := context.Background()

	d, err := rl.Status(ctx, "u")
	if err != nil || !d.Allowed || d.Remaining != 2 {
		t.Errorf("Status before any check = %+v, %v", d, err)
	}

	_, _ = rl.CheckLimit(ctx, "u")
	_, _ = rl.CheckLimit(ctx, "u")
	d, _ = rl.Status(ctx, "u")
	if d.Allowed || d.Remaining != 0 || d.RetryAfter != time.Minute {
		t.Errorf("Status after exhaustion = %+v", d)
	}

	d, _ = rl.Status(ctx, "u")
	if d.Remaining != 0 {
		t.Error("Status must not consume quota")
	}
}

func TestRateLimiter_StoreErrorReturned(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Store: failingStore{}})
	_, err := rl.CheckLimit(context.Background(), "u")
	if !errors.Is(err, errStoreDown) {
		t.Errorf("CheckLimit error = %v, want wrapped store error", err)
	}
}

func TestRateLimiter_Execute(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Window: time.Minute, MaxRequests: 1})
	ctx := context.Background()

	calls := 0
	op := func(context.Context) error {
		calls++
		return nil
	}

	if err := rl.Execute(ctx, "u", op); err != nil {
		t.Fatalf("first Execute error = %v", err)
	}
	err := rl.Execute(ctx, "u", op)
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("second Execute error = %v, want *RateLimitError", err)
	}
	if rle.Decision.RetryAfter <= 0 {
		t.Error("RetryAfter should be positive")
	}
	if calls != 1 {
		t.Errorf("op called %d times, want 1", calls)
	}
}

func TestRateLimiter_SweepsExpiredWindows(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryWindowStore()
	rl := NewRateLimiter(RateLimiterConfig{Window: time.Second, MaxRequests: 5, Store: store, Clock: clock.Now})
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, _ = rl.CheckLimit(ctx, id)
	}
	if store.Len() != 3 {
		t.Fatalf("Len = %d, want 3", store.Len())
	}

	clock.Advance(2 * time.Second)
	_, _ = rl.CheckLimit(ctx, "d")
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1 after sweep", store.Len())
	}
}

func TestRateLimiter_ExpiredWindowHeldUntilNextSweep(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryWindowStore()
	rl := NewRateLimiter(RateLimiterConfig{Window: time.Second, MaxRequests: 5, Store: store, Clock: clock.Now})
	ctx := context.Background()

	hit := func(id string, after time.Duration) {
		clock.Advance(after)
		if _, err := rl.CheckLimit(ctx, id); err != nil {
			t.Fatalf("CheckLimit(%s): %v", id, err)
		}
	}

	hit("a", 0)
	hit("b", 500*time.Millisecond)
	hit("c", 600*time.Millisecond)
	if store.Len() != 2 {
		t.Fatalf("Len = %d, want 2 after first sweep", store.Len())
	}

	// b has expired but the last sweep was under one window ago.
	hit("d", 500*time.Millisecond)
	if store.Len() != 3 {
		t.Fatalf("Len = %d, want 3 with b still held", store.Len())
	}

	hit("e", 600*time.Millisecond)
	if store.Len() != 2 {
		t.Errorf("Len = %d, want 2 once the next sweep runs", store.Len())
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Window: time.Minute, MaxRequests: 50})
	ctx := context.Background()

	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := rl.CheckLimit(ctx, "shared")
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want exactly 50", allowed)
	}
}

func TestMemoryWindowStore_Reset(t *testing.T) {
	s := NewMemoryWindowStore()
	ctx := context.Background()
	now := time.Now()

	_, _, _ = s.Hit(ctx, "read:a", 5, time.Minute, now)
	_, _, _ = s.Hit(ctx, "read:b", 5, time.Minute, now)
	_, _, _ = s.Hit(ctx, "write:a", 5, time.Minute, now)

	n, err := s.Reset(ctx, "read:")
	if err != nil || n != 2 {
		t.Errorf("Reset = %d, %v; want 2, nil", n, err)
	}
	if _, ok, _ := s.Peek(ctx, "write:a"); !ok {
		t.Error("other prefixes should survive Reset")
	}
}

func TestDecision_RetryAfterSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Millisecond, 1},
		{time.Second, 1},
		{1001 * time.Millisecond, 2},
		{15 * time.Minute, 900},
	}
	for _, tt := range tests {
		d := Decision{RetryAfter: tt.in}
		if got := d.RetryAfterSeconds(); got != tt.want {
			t.Errorf("RetryAfterSeconds(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
