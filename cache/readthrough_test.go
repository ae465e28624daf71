package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// panicBackend fails every call, standing in for a broken cache.
type panicBackend struct{}

func (panicBackend) Get(string) (string, bool) { panic("backend down") }
func (panicBackend) Set(string, string, time.Duration) { panic("backend down") }

func TestReadThrough_HitSkipsFetch(t *testing.T) {
	c := New[string](DefaultPolicy())
	rt := NewReadThrough[string](c)
	ctx := context.Background()

	var calls int
	fetch := func(context.Context) (string, error) {
		calls++
		return "fresh", nil
	}

	v, res, err := rt.Get(ctx, "k", fetch, time.Minute)
	if err != nil || v != "fresh" || res != Fetched {
		t.Fatalf("first Get = %q, %v, %v", v, res, err)
	}
	v, res, err = rt.Get(ctx, "k", fetch, time.Minute)
	if err != nil || v != "fresh" || res != Hit {
		t.Fatalf("second Get = %q, %v, %v", v, res, err)
	}
	if calls != 1 {
		t.Errorf("fetch called %d times, want 1", calls)
	}
}

func TestReadThrough_FetchErrorNotCached(t *testing.T) {
	c := New[string](DefaultPolicy())
	rt := NewReadThrough[string](c)
	boom := errors.New("boom")

	_, _, err := rt.Get(context.Background(), "k", func(context.Context) (string, error) {
		return "", boom
	}, 0)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if c.Len() != 0 {
		t.Error("failed fetch must not be cached")
	}
}

func TestReadThrough_CoalescesConcurrentMisses(t *testing.T) {
	c := New[string](DefaultPolicy())
	rt := NewReadThrough[string](c)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}

	const callers = 10
	var wg sync.WaitGroup
	var started sync.WaitGroup
	started.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			v, _, err := rt.Get(context.Background(), "k", fetch, 0)
			if err != nil || v != "v" {
				t.Errorf("Get = %q, %v", v, err)
			}
		}()
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("fetch called %d times, want 1", n)
	}
}

func TestReadThrough_BackendFaultFallsBack(t *testing.T) {
	rt := NewReadThrough[string](panicBackend{})
	var faults int
	rt.OnFault = func(key string, err error) { faults++ }

	v, res, err := rt.Get(context.Background(), "k", func(context.Context) (string, error) {
		return "direct", nil
	}, 0)
	if err != nil || v != "direct" || res != Fetched {
		t.Fatalf("Get = %q, %v, %v", v, res, err)
	}
	if faults != 2 {
		t.Errorf("faults = %d, want 2 (get and set)", faults)
	}
}

func TestReadThrough_NilBackend(t *testing.T) {
	rt := NewReadThrough[string](nil)
	v, res, err := rt.Get(context.Background(), "k", func(context.Context) (string, error) {
		return "direct", nil
	}, 0)
	if err != nil || v != "direct" || res != Fetched {
		t.Errorf("Get = %q, %v, %v", v, res, err)
	}
}

func TestWithCache(t *testing.T) {
	c := New[int](DefaultPolicy())
	ctx := context.Background()
	var calls int
	fetch := func(context.Context) (int, error) {
		calls++
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		v, err := WithCache[int](ctx, c, "answer", fetch, time.Minute)
		if err != nil || v != 42 {
			t.Fatalf("WithCache = %d, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("fetch called %d times, want 1", calls)
	}

	v, err := WithCache[string](ctx, panicBackend{}, "k", func(context.Context) (string, error) {
		return "direct", nil
	}, 0)
	if err != nil || v != "direct" {
		t.Errorf("WithCache over faulty backend = %q, %v", v, err)
	}
}

func TestReadThrough_InvalidKeyBypassesCache(t *testing.T) {
	c := New[string](DefaultPolicy())
	rt := NewReadThrough[string](c)

	for range 2 {
		v, res, err := rt.Get(context.Background(), "bad\nkey", func(context.Context) (string, error) {
			return "direct", nil
		}, 0)
		if err != nil || v != "direct" || res != Fetched {
			t.Fatalf("Get = %q, %v, %v", v, res, err)
		}
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}
}

func TestReadThrough_InvalidateDiscardsInFlightFetch(t *testing.T) {
	c := New[string](DefaultPolicy())
	rt := NewReadThrough[string](c)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() {
		v, _, err := rt.Get(ctx, "k", func(context.Context) (string, error) {
			close(started)
			<-release
			return "stale", nil
		}, 0)
		if err != nil || v != "stale" {
			t.Errorf("in-flight Get = %q, %v", v, err)
		}
	})
	<-started

	rt.Invalidate()
	c.Delete("k")

	// A miss after Invalidate starts its own fetch instead of joining.
	v, res, err := rt.Get(ctx, "k", func(context.Context) (string, error) { return "fresh", nil }, 0)
	if err != nil || v != "fresh" || res != Fetched {
		t.Fatalf("Get after Invalidate = %q, %v, %v", v, res, err)
	}

	close(release)
	wg.Wait()

	if got, ok := c.Get("k"); !ok || got != "fresh" {
		t.Errorf("cached = %q, %v, want fresh", got, ok)
	}
}
