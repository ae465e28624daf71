package health

import (
	"context"
	"errors"
	"time"
)

// Status is a component's health. Larger values are worse.
type Status int

const (
	StatusHealthy Status = iota
	// StatusDegraded components still serve traffic but are near a limit.
	StatusDegraded
	StatusUnhealthy
)

var statusNames = [...]string{
	StatusHealthy:   "healthy",
	StatusDegraded:  "degraded",
	StatusUnhealthy: "unhealthy",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func worse(a, b Status) Status { return max(a, b) }

var (
	ErrCheckFailed     = errors.New("health: check failed")
	ErrCheckTimeout    = errors.New("health: check timed out")
	ErrCheckPanicked   = errors.New("health: check panicked")
	ErrCheckerNotFound = errors.New("health: no such checker")
)

// Result is one checker's verdict. The Aggregator fills in Duration and,
// when the checker left it zero, Timestamp.
type Result struct {
	Status    Status
	Message   string
	Details   map[string]any
	Duration  time.Duration
	Timestamp time.Time
	Error     error
}

func verdict(s Status, msg string, err error) Result {
	return Result{Status: s, Message: msg, Error: err, Timestamp: time.Now()}
}

func Healthy(msg string) Result              { return verdict(StatusHealthy, msg, nil) }
func Degraded(msg string) Result             { return verdict(StatusDegraded, msg, nil) }
func Unhealthy(msg string, err error) Result { return verdict(StatusUnhealthy, msg, err) }

// WithDetails returns r carrying details.
func (r Result) WithDetails(details map[string]any) Result {
	r.Details = details
	return r
}

// Checker probes one component. Check may run concurrently with itself and
// should return soon after ctx is done.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

type funcChecker struct {
	name  string
	check func(context.Context) Result
}

func (f funcChecker) Name() string                     { return f.name }
func (f funcChecker) Check(ctx context.Context) Result { return f.check(ctx) }

// NewCheckerFunc names fn as a Checker.
func NewCheckerFunc(name string, fn func(context.Context) Result) Checker {
	return funcChecker{name: name, check: fn}
}
