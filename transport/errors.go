package transport

import (
	"time"

	"github.com/jmgilman/go/errors"
)

// Error is a request the server answered with a failure.
type Error struct {
	// Status is the HTTP status code.
	Status int

	// Delay is the server's Retry-After, zero when absent.
	Delay time.Duration

	err errors.PlatformError
}

func (e *Error) Error() string { return e.err.Error() }

// Unwrap exposes the PlatformError so errors.GetCode sees the server's
// code.
func (e *Error) Unwrap() error { return e.err }

// Code is the server's error code.
func (e *Error) Code() errors.ErrorCode { return e.err.Code() }

// RetryAfter implements resilience.RetryAfterHint.
func (e *Error) RetryAfter() time.Duration { return e.Delay }
