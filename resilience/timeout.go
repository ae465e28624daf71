package resilience

import (
	"context"
	"time"
)

// DefaultTimeout bounds every operation run without an explicit timeout.
// Remote calls are never left unbounded.
const DefaultTimeout = 30 * time.Second

// TimeoutConfig configures a Timeout.
type TimeoutConfig struct {
	// Timeout is the longest an operation may run.
	// Default: DefaultTimeout
	Timeout time.Duration
}

// Timeout bounds how long an operation may run. The operation receives a
// context carrying the deadline; Execute returns when the deadline passes
// even if the operation ignores it.
type Timeout struct {
	config TimeoutConfig
}

// NewTimeout creates a Timeout.
func NewTimeout(config TimeoutConfig) *Timeout {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Timeout{config: config}
}

// Config returns the effective configuration.
func (t *Timeout) Config() TimeoutConfig { return t.config }

// Execute runs op under the deadline. It returns ErrTimeout when the
// deadline ended the call and the parent's error when the parent did.
func (t *Timeout) Execute(parent context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, t.config.Timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- op(ctx) }()

	var err error
	select {
	case err = <-result:
		if err == nil || ctx.Err() == nil {
			return err
		}
	case <-ctx.Done():
	}
	if perr := parent.Err(); perr != nil {
		return perr
	}
	return ErrTimeout
}

// ExecuteWithTimeout runs op bounded by d.
func ExecuteWithTimeout(ctx context.Context, d time.Duration, op func(context.Context) error) error {
	return NewTimeout(TimeoutConfig{Timeout: d}).Execute(ctx, op)
}
