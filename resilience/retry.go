package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy selects how the wait between attempts grows.
type BackoffStrategy int

// Backoff strategies.
const (
	// BackoffExponential multiplies the wait by Multiplier per attempt.
	BackoffExponential BackoffStrategy = iota
	// BackoffLinear adds InitialDelay per attempt.
	BackoffLinear
	// BackoffConstant always waits InitialDelay.
	BackoffConstant
)

// RetryConfig configures a Retry.
type RetryConfig struct {
	// MaxAttempts counts the first call.
	// Default: 3
	MaxAttempts int

	// InitialDelay is the wait before the second attempt.
	// Default: 100ms
	InitialDelay time.Duration

	// MaxDelay caps computed waits. A server hint above it ends the retry.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier grows exponential waits.
	// Default: 2.0
	Multiplier float64

	Strategy BackoffStrategy

	// Jitter stretches each wait by up to a quarter, at random.
	Jitter bool

	// RetryIf reports whether err is worth another attempt.
	// Default: any non-nil error
	RetryIf func(err error) bool

	// OnRetry observes each scheduled retry.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// RetryAfterHint is implemented by errors that carry a server-mandated
// delay, such as a 429 with a Retry-After header. Retry never waits less
// than the hint, and gives up when the hint exceeds MaxDelay.
type RetryAfterHint interface {
	RetryAfter() time.Duration
}

// RetryAfterOf returns the hint carried by err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var h RetryAfterHint
	if errors.As(err, &h) {
		return h.RetryAfter(), true
	}
	return 0, false
}

// Retry repeats a failing call with backoff. The transport uses it for
// idempotent reads only; writes are never replayed.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a Retry.
func NewRetry(config RetryConfig) *Retry {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.RetryIf == nil {
		config.RetryIf = func(err error) bool { return err != nil }
	}
	return &Retry{config: config}
}

// Config returns the effective configuration.
func (r *Retry) Config() RetryConfig { return r.config }

// Execute calls op until it succeeds, returns an error RetryIf rejects,
// or MaxAttempts is used up. The last error is returned. Cancelling ctx
// during a wait returns ctx's error.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil || !r.config.RetryIf(err) || attempt == r.config.MaxAttempts {
			return err
		}

		wait, ok := r.waitAfter(attempt, err)
		if !ok {
			return err
		}
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// waitAfter picks the wait following a failed attempt. It reports false
// when the server asked for a longer wait than MaxDelay allows.
func (r *Retry) waitAfter(attempt int, err error) (time.Duration, bool) {
	wait := r.delayFor(attempt)
	hint, ok := RetryAfterOf(err)
	if !ok {
		return wait, true
	}
	if hint > r.config.MaxDelay {
		return 0, false
	}
	return max(wait, hint), true
}

// delayFor is the backoff after the given attempt, before any server
// hint.
func (r *Retry) delayFor(attempt int) time.Duration {
	base := r.config.InitialDelay
	var d time.Duration
	switch r.config.Strategy {
	case BackoffConstant:
		d = base
	case BackoffLinear:
		d = base * time.Duration(attempt)
	default:
		d = time.Duration(float64(base) * math.Pow(r.config.Multiplier, float64(attempt-1)))
	}
	d = min(d, r.config.MaxDelay)

	if r.config.Jitter && d >= 4 {
		// #nosec G404 -- timing variance, not security.
		d += time.Duration(rand.Int64N(int64(d / 4)))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
