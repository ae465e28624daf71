package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker position.
type State int

// Circuit states.
const (
	// StateClosed lets every call through and counts failures.
	StateClosed State = iota
	// StateOpen rejects calls until ResetTimeout has passed.
	StateOpen
	// StateHalfOpen lets a few trial calls through to decide whether to
	// close again.
	StateHalfOpen
)

var stateNames = [...]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open"}

// String implements fmt.Stringer.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// MaxFailures is how many consecutive failures open the circuit.
	// Default: 5
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before probing.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// HalfOpenMaxRequests bounds concurrent trials while half-open.
	// Default: 1
	HalfOpenMaxRequests int

	// OnStateChange observes transitions. It runs without the breaker's
	// lock held.
	OnStateChange func(from, to State)

	// IsFailure decides which results count against the circuit.
	// Default: any error except context cancellation
	IsFailure func(err error) bool

	// Clock replaces time.Now.
	Clock func() time.Time
}

// CircuitBreakerMetrics is a point-in-time view of a CircuitBreaker.
type CircuitBreakerMetrics struct {
	State State

	// Failures is the current run of consecutive failures.
	Failures int

	// Successes is the current run of consecutive successes.
	Successes int

	LastFailure time.Time
}

// CircuitBreaker stops calling a dependency that keeps failing.
//
// Every state change starts a new generation. A call admitted in one
// generation that completes in a later one is not counted, so a slow
// call from before the circuit opened cannot close it.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu          sync.Mutex
	state       State
	generation  uint64
	failures    int
	successes   int
	trials      int
	openedAt    time.Time
	lastFailure time.Time
}

// NewCircuitBreaker creates a closed CircuitBreaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &CircuitBreaker{config: config}
}

// transition is a state change waiting to be reported.
type transition struct{ from, to State }

func (cb *CircuitBreaker) notify(ts []transition) {
	if cb.config.OnStateChange == nil {
		return
	}
	for _, t := range ts {
		cb.config.OnStateChange(t.from, t.to)
	}
}

// Execute runs op unless the circuit is open, in which case it returns
// ErrCircuitOpen without calling op.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	gen, err := cb.admit()
	if err != nil {
		return err
	}
	err = op(ctx)
	cb.record(gen, err)
	return err
}

// State returns the current state, moving an expired open circuit to
// half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	ts := cb.refreshLocked(nil)
	s := cb.state
	cb.mu.Unlock()
	cb.notify(ts)
	return s
}

// Reset closes the circuit and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	ts := cb.moveLocked(StateClosed, nil)
	cb.failures, cb.successes = 0, 0
	cb.mu.Unlock()
	cb.notify(ts)
}

// Metrics reports the current state and counters.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	ts := cb.refreshLocked(nil)
	m := CircuitBreakerMetrics{
		State:       cb.state,
		Failures:    cb.failures,
		Successes:   cb.successes,
		LastFailure: cb.lastFailure,
	}
	cb.mu.Unlock()
	cb.notify(ts)
	return m
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	ts := cb.refreshLocked(nil)
	gen := cb.generation
	var err error
	switch cb.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if cb.trials >= cb.config.HalfOpenMaxRequests {
			err = ErrCircuitOpen
		} else {
			cb.trials++
		}
	}
	cb.mu.Unlock()
	cb.notify(ts)
	return gen, err
}

func (cb *CircuitBreaker) record(gen uint64, err error) {
	failed := cb.config.IsFailure(err)

	cb.mu.Lock()
	var ts []transition
	if gen == cb.generation {
		now := cb.config.Clock()
		if failed {
			cb.failures++
			cb.successes = 0
			cb.lastFailure = now
			if cb.state == StateHalfOpen || cb.failures >= cb.config.MaxFailures {
				ts = cb.moveLocked(StateOpen, ts)
			}
		} else {
			cb.successes++
			cb.failures = 0
			if cb.state == StateHalfOpen {
				ts = cb.moveLocked(StateClosed, ts)
			}
		}
	}
	cb.mu.Unlock()
	cb.notify(ts)
}

// refreshLocked moves an open circuit whose timeout has passed to
// half-open.
func (cb *CircuitBreaker) refreshLocked(ts []transition) []transition {
	if cb.state == StateOpen && cb.config.Clock().Sub(cb.openedAt) >= cb.config.ResetTimeout {
		ts = cb.moveLocked(StateHalfOpen, ts)
	}
	return ts
}

func (cb *CircuitBreaker) moveLocked(to State, ts []transition) []transition {
	from := cb.state
	if from == to {
		return ts
	}
	cb.state = to
	cb.generation++
	cb.trials = 0
	switch to {
	case StateOpen:
		cb.openedAt = cb.config.Clock()
	case StateClosed:
		cb.failures = 0
	}
	return append(ts, transition{from, to})
}
