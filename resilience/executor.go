package resilience

import (
	"context"
	"time"
)

// Operation is a unit of work run through the resilience stages.
type Operation func(context.Context) error

// stage wraps an operation with one pattern.
type stage interface {
	Execute(ctx context.Context, op func(context.Context) error) error
}

// Executor composes the resilience patterns a remote call runs through.
// From the outside in: bulkhead, circuit breaker, retry, then a timeout
// around each attempt. The breaker therefore sees one result per call,
// not one per attempt.
type Executor struct {
	bulkhead       *Bulkhead
	circuitBreaker *CircuitBreaker
	retry          *Retry
	timeout        *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates an Executor with the given stages.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithCircuitBreaker adds a circuit breaker stage.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) { e.circuitBreaker = cb }
}

// WithRetry adds a retry stage.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) { e.retry = r }
}

// WithBulkhead adds a concurrency cap.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) { e.bulkhead = b }
}

// WithTimeout bounds each attempt to d.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = NewTimeout(TimeoutConfig{Timeout: d}) }
}

// WithTimeoutConfig bounds each attempt with t.
func WithTimeoutConfig(t *Timeout) ExecutorOption {
	return func(e *Executor) { e.timeout = t }
}

// CircuitBreaker returns the configured breaker, or nil.
func (e *Executor) CircuitBreaker() *CircuitBreaker {
	return e.circuitBreaker
}

// Execute runs op through every configured stage.
func (e *Executor) Execute(ctx context.Context, op Operation) error {
	return e.run(ctx, op, true)
}

// ExecuteOnce is Execute without the retry stage, for calls that must
// not be replayed.
func (e *Executor) ExecuteOnce(ctx context.Context, op Operation) error {
	return e.run(ctx, op, false)
}

func (e *Executor) run(ctx context.Context, op Operation, retry bool) error {
	// Innermost first.
	stages := make([]stage, 0, 4)
	if e.timeout != nil {
		stages = append(stages, e.timeout)
	}
	if retry && e.retry != nil {
		stages = append(stages, e.retry)
	}
	if e.circuitBreaker != nil {
		stages = append(stages, e.circuitBreaker)
	}
	if e.bulkhead != nil {
		stages = append(stages, e.bulkhead)
	}

	call := func(ctx context.Context) error { return op(ctx) }
	for _, s := range stages {
		inner := call
		call = func(ctx context.Context) error { return s.Execute(ctx, inner) }
	}
	return call(ctx)
}
