package health

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"runtime/debug"
)

// MemoryCheckerConfig configures the memory health checker.
type MemoryCheckerConfig struct {
	// WarningThreshold is the heap fraction of Limit that reports Degraded.
	// Default: 0.8
	WarningThreshold float64

	// CriticalThreshold is the heap fraction of Limit that reports
	// Unhealthy.
	// Default: 0.95
	CriticalThreshold float64

	// Limit is the byte budget heap use is compared with.
	// Default: the runtime soft memory limit (GOMEMLIMIT) when set, else
	// the memory obtained from the OS.
	Limit uint64
}

// MemoryChecker checks heap usage against a budget.
type MemoryChecker struct {
	config MemoryCheckerConfig
}

// NewMemoryChecker creates a new memory health checker.
func NewMemoryChecker(config MemoryCheckerConfig) *MemoryChecker {
	if config.WarningThreshold <= 0 || config.WarningThreshold >= 1 {
		config.WarningThreshold = 0.8
	}
	if config.CriticalThreshold <= config.WarningThreshold || config.CriticalThreshold > 1 {
		config.CriticalThreshold = math.Min(0.99, math.Max(0.95, config.WarningThreshold+0.1))
	}
	return &MemoryChecker{config: config}
}

// Name returns the name of this checker.
func (m *MemoryChecker) Name() string { return "memory" }

// Check reads runtime memory statistics.
func (m *MemoryChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	limit := m.limit(stats.Sys)
	if limit == 0 {
		return Healthy("memory limit unknown")
	}

	ratio := float64(stats.HeapAlloc) / float64(limit)
	details := map[string]any{
		"heap_alloc_bytes": stats.HeapAlloc,
		"limit_bytes":      limit,
		"usage_percent":    ratio * 100,
		"num_gc":           stats.NumGC,
		"goroutines":       runtime.NumGoroutine(),
	}

	switch {
	case ratio >= m.config.CriticalThreshold:
		return Unhealthy(fmt.Sprintf("memory usage critical: %.1f%%", ratio*100), ErrCheckFailed).WithDetails(details)
	case ratio >= m.config.WarningThreshold:
		return Degraded(fmt.Sprintf("memory usage high: %.1f%%", ratio*100)).WithDetails(details)
	default:
		return Healthy(fmt.Sprintf("memory usage normal: %.1f%%", ratio*100)).WithDetails(details)
	}
}

func (m *MemoryChecker) limit(sys uint64) uint64 {
	if m.config.Limit > 0 {
		return m.config.Limit
	}
	// A negative argument reads the limit without changing it.
	if soft := debug.SetMemoryLimit(-1); soft > 0 && soft != math.MaxInt64 {
		return uint64(soft)
	}
	return sys
}
