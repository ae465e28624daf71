package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

type hintedError struct{ after time.Duration }

func (e hintedError) Error() string             { return "throttled" }
func (e hintedError) RetryAfter() time.Duration { return e.after }

func TestNewRetry_Defaults(t *testing.T) {
	cfg := NewRetry(RetryConfig{}).Config()

	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.InitialDelay != 100*time.Millisecond {
		t.Errorf("InitialDelay = %v, want 100ms", cfg.InitialDelay)
	}
	if cfg.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", cfg.MaxDelay)
	}
	if cfg.RetryIf == nil {
		t.Error("RetryIf should default")
	}
}

func TestRetry_SuccessOnRetry(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond})

	attempts := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRetry_ExhaustedReturnsLastError(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, Strategy: BackoffConstant})

	last := errors.New("third")
	attempts := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		attempts++
		if attempts == 3 {
			return last
		}
		return errors.New("earlier")
	})
	if !errors.Is(err, last) {
		t.Errorf("Execute() error = %v, want last error", err)
	}
}

func TestRetry_RetryIfStops(t *testing.T) {
	permanent := errors.New("permanent")
	r := NewRetry(RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		RetryIf:      func(err error) bool { return !errors.Is(err, permanent) },
	})

	attempts := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) || attempts != 1 {
		t.Errorf("Execute() = %v after %d attempts, want permanent after 1", err, attempts)
	}
}

func TestRetry_HonorsRetryAfterHint(t *testing.T) {
	var delays []time.Duration
	r := NewRetry(RetryConfig{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		Strategy:     BackoffConstant,
		OnRetry: func(_ int, _ error, delay time.Duration) {
			delays = append(delays, delay)
		},
	})

	attempts := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		attempts++
		if attempts == 1 {
			return hintedError{after: 30 * time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(delays) != 1 || delays[0] != 30*time.Millisecond {
		t.Errorf("delays = %v, want [30ms]", delays)
	}
}

func TestRetry_HintBeyondMaxDelayGivesUp(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Second})

	attempts := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		attempts++
		return &RateLimitError{Decision: Decision{RetryAfter: time.Minute}}
	})
	if !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("Execute() error = %v, want rate limit error", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	err := r.Execute(ctx, func(context.Context) error {
		cancel()
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}

func TestRetry_BackoffStrategies(t *testing.T) {
	tests := []struct {
		name     string
		strategy BackoffStrategy
		attempt  int
		want     time.Duration
	}{
		{"constant", BackoffConstant, 3, 10 * time.Millisecond},
		{"linear", BackoffLinear, 3, 30 * time.Millisecond},
		{"exponential", BackoffExponential, 3, 40 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRetry(RetryConfig{InitialDelay: 10 * time.Millisecond, Strategy: tt.strategy})
			if got := r.delayFor(tt.attempt); got != tt.want {
				t.Errorf("delayFor(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestRetryAfterOf(t *testing.T) {
	if _, ok := RetryAfterOf(errors.New("plain")); ok {
		t.Error("plain error should carry no hint")
	}
	d, ok := RetryAfterOf(&RateLimitError{Decision: Decision{RetryAfter: 2 * time.Second}})
	if !ok || d != 2*time.Second {
		t.Errorf("RetryAfterOf = %v, %v", d, ok)
	}
}
