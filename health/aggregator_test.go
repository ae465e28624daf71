package health

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonwraymond/sitesync/observe"
)

func fixed(name string, r Result) Checker {
	return NewCheckerFunc(name, func(context.Context) Result { return r })
}

func TestAggregator_RegisterOrder(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{})
	agg.Register(fixed("db", Healthy("ok")), fixed("cache", Healthy("ok")))
	agg.Register(fixed("db", Degraded("replaced")))

	names := agg.CheckerNames()
	if len(names) != 2 || names[0] != "db" || names[1] != "cache" {
		t.Errorf("CheckerNames() = %v, want [db cache]", names)
	}

	r, err := agg.Check(context.Background(), "db")
	if err != nil || r.Status != StatusDegraded {
		t.Errorf("Check(db) = %v, %v; want replaced checker", r.Status, err)
	}

	agg.Unregister("db")
	if names := agg.CheckerNames(); len(names) != 1 || names[0] != "cache" {
		t.Errorf("after Unregister: %v", names)
	}
}

func TestAggregator_CheckUnknown(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{})
	if _, err := agg.Check(context.Background(), "missing"); !errors.Is(err, ErrCheckerNotFound) {
		t.Errorf("Check(missing) error = %v, want ErrCheckerNotFound", err)
	}
}

func TestAggregator_CheckAll(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{})
	agg.Register(
		fixed("a", Healthy("ok")),
		fixed("b", Degraded("slow")),
		fixed("c", Unhealthy("down", ErrCheckFailed)),
	)

	results := agg.CheckAll(context.Background())
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for name, r := range results {
		if r.Timestamp.IsZero() {
			t.Errorf("%s: Timestamp not set", name)
		}
	}
	if got := OverallStatus(results); got != StatusUnhealthy {
		t.Errorf("OverallStatus = %v, want unhealthy", got)
	}
}

func TestAggregator_Timeout(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Timeout: 20 * time.Millisecond})
	agg.Register(NewCheckerFunc("stuck", func(ctx context.Context) Result {
		time.Sleep(time.Second)
		return Healthy("late")
	}))

	start := time.Now()
	r := agg.CheckAll(context.Background())["stuck"]
	if time.Since(start) > 500*time.Millisecond {
		t.Error("CheckAll should not wait for a stuck checker")
	}
	if r.Status != StatusUnhealthy || !errors.Is(r.Error, ErrCheckTimeout) {
		t.Errorf("stuck result = %v, %v", r.Status, r.Error)
	}
}

func TestAggregator_PanicIsUnhealthy(t *testing.T) {
	var buf bytes.Buffer
	agg := NewAggregator(AggregatorConfig{Logger: observe.NewLoggerWithWriter("info", observe.FormatJSON, &buf)})
	agg.Register(NewCheckerFunc("boom", func(context.Context) Result { panic("nil map") }))

	r, err := agg.Check(context.Background(), "boom")
	if err != nil {
		t.Fatalf("Check error = %v", err)
	}
	if r.Status != StatusUnhealthy || !errors.Is(r.Error, ErrCheckPanicked) {
		t.Errorf("result = %v, %v", r.Status, r.Error)
	}
	if !strings.Contains(buf.String(), `"check":"boom"`) {
		t.Errorf("expected warning log, got %q", buf.String())
	}
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name    string
		results map[string]Result
		want    Status
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", map[string]Result{"a": Healthy(""), "b": Healthy("")}, StatusHealthy},
		{"one degraded", map[string]Result{"a": Healthy(""), "b": Degraded("")}, StatusDegraded},
		{"unhealthy wins", map[string]Result{"a": Degraded(""), "b": Unhealthy("", nil)}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OverallStatus(tt.results); got != tt.want {
				t.Errorf("OverallStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}
