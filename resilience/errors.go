package resilience

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCircuitOpen       = errors.New("resilience: circuit open")
	ErrBulkheadFull      = errors.New("resilience: bulkhead full")
	ErrTimeout           = errors.New("resilience: attempt timed out")
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrUnknownClass is returned by a LimiterSet asked about a class it
	// holds no policy for.
	ErrUnknownClass = errors.New("resilience: unknown operation class")
)

// RateLimitError is a rejection from a RateLimiter or LimiterSet. It
// matches ErrRateLimitExceeded and carries a RetryAfter hint that Retry
// waits out.
type RateLimitError struct {
	Class    OperationClass
	Decision Decision
}

func (e *RateLimitError) Error() string {
	scope := ""
	if e.Class != "" {
		scope = " for " + string(e.Class)
	}
	return fmt.Sprintf("resilience: rate limit exceeded%s, retry in %ds", scope, e.Decision.RetryAfterSeconds())
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }

func (e *RateLimitError) RetryAfter() time.Duration { return e.Decision.RetryAfter }
