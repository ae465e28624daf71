package health

import (
	"context"
	"fmt"
	"time"
)

// Pinger is a component that can be probed for reachability. *sql.DB
// satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingChecker reports Unhealthy when Ping fails and Degraded when it
// succeeds slower than SlowThreshold.
type PingChecker struct {
	name          string
	target        Pinger
	slowThreshold time.Duration
}

// NewPingChecker creates a checker probing target. A zero slowThreshold
// disables the Degraded state.
func NewPingChecker(name string, target Pinger, slowThreshold time.Duration) *PingChecker {
	return &PingChecker{name: name, target: target, slowThreshold: slowThreshold}
}

// Name returns the name of this checker.
func (p *PingChecker) Name() string { return p.name }

// Check pings the target.
func (p *PingChecker) Check(ctx context.Context) Result {
	start := time.Now()
	err := p.target.PingContext(ctx)
	elapsed := time.Since(start)
	details := map[string]any{"latency_ms": float64(elapsed.Microseconds()) / 1000}

	if err != nil {
		return Unhealthy(fmt.Sprintf("%s unreachable", p.name), err).WithDetails(details)
	}
	if p.slowThreshold > 0 && elapsed >= p.slowThreshold {
		return Degraded(fmt.Sprintf("%s slow: %s", p.name, elapsed.Round(time.Millisecond))).WithDetails(details)
	}
	return Healthy(fmt.Sprintf("%s reachable", p.name)).WithDetails(details)
}
