package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"

	"github.com/jonwraymond/sitesync/envelope"
	"github.com/jonwraymond/sitesync/observe"
	"github.com/jonwraymond/sitesync/resilience"
)

// maxBody caps how much of a response is read.
const maxBody = 8 << 20

// Config configures an HTTP transport.
type Config struct {
	// BaseURL is prefixed to every request path, e.g. "http://host:8080".
	BaseURL string

	// Timeout bounds each attempt.
	// Default: 30 seconds
	Timeout time.Duration

	// MaxFailures opens the circuit after that many consecutive transport
	// failures.
	// Default: 5
	MaxFailures int

	// ResetTimeout is how long the circuit stays open.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// MaxAttempts bounds attempts for a GET, including the first.
	// Default: 3
	MaxAttempts int

	// Header is sent with every request, e.g. Authorization.
	Header http.Header

	// Client performs the requests.
	// Default: a client with no timeout of its own
	Client *http.Client

	Logger observe.Logger
}

// HTTP is a Transport over net/http.
type HTTP struct {
	base   string
	header http.Header
	client *http.Client
	exec   *resilience.Executor
	log    observe.Logger
}

// New creates an HTTP transport.
func New(cfg Config) (*HTTP, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "transport base URL is required")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}

	t := &HTTP{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		header: cfg.Header.Clone(),
		client: cfg.Client,
		log:    cfg.Logger,
	}
	t.exec = resilience.NewExecutor(
		resilience.WithTimeout(cfg.Timeout),
		resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.MaxFailures,
			ResetTimeout: cfg.ResetTimeout,
			IsFailure:    isTransportFailure,
			OnStateChange: func(from, to resilience.State) {
				t.log.Warn(context.Background(), "circuit state changed",
					observe.Field{Key: "from", Value: from.String()},
					observe.Field{Key: "to", Value: to.String()})
			},
		})),
		resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts: cfg.MaxAttempts,
			Jitter:      true,
			RetryIf:     retryable,
			OnRetry: func(attempt int, err error, delay time.Duration) {
				t.log.Debug(context.Background(), "retrying request",
					observe.Field{Key: "attempt", Value: attempt},
					observe.Field{Key: "delay_ms", Value: delay.Milliseconds()},
					observe.Field{Key: "error", Value: err.Error()})
			},
		})),
	)
	return t, nil
}

// CircuitState reports the breaker's state.
func (t *HTTP) CircuitState() resilience.State {
	return t.exec.CircuitBreaker().State()
}

// Do sends one request and returns the decoded success envelope.
// Cancellation of ctx is returned as context.Canceled.
func (t *HTTP) Do(ctx context.Context, method, path string, body any) (*envelope.Envelope, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidInput, "encode request body")
		}
	}

	var env *envelope.Envelope
	op := func(ctx context.Context) error {
		var err error
		env, err = t.roundTrip(ctx, method, path, payload)
		return err
	}

	var err error
	if method == http.MethodGet {
		err = t.exec.Execute(ctx, op)
	} else {
		err = t.exec.ExecuteOnce(ctx, op)
	}
	if err != nil {
		return nil, classify(err)
	}
	return env, nil
}

func (t *HTTP) roundTrip(ctx context.Context, method, path string, payload []byte) (*envelope.Envelope, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.base+path, rd)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "build request")
	}
	for k, vs := range t.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.WithContext(
			errors.Wrapf(err, errors.CodeNetwork, "%s %s", method, path), "path", path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(err, errors.CodeNetwork, "read response")
	}

	var env envelope.Envelope
	decoded := len(raw) > 0 && json.Unmarshal(raw, &env) == nil

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if !decoded {
			return nil, errors.Newf(errors.CodeInternal, "%s %s: response is not an envelope", method, path)
		}
		if !env.Success {
			return nil, failure(resp, &env)
		}
		return &env, nil
	}

	if !decoded || env.Error == nil {
		return nil, failure(resp, nil)
	}
	return nil, failure(resp, &env)
}

// failure builds the typed error for a failed response. env may be nil
// when the body was not an envelope.
func failure(resp *http.Response, env *envelope.Envelope) error {
	var pe errors.PlatformError
	if env != nil {
		pe, _ = env.Err().(errors.PlatformError)
	}
	if pe == nil {
		pe = errors.Newf(envelope.CodeForStatus(resp.StatusCode), "server responded %s", resp.Status)
	}

	e := &Error{Status: resp.StatusCode, err: pe}
	if resp.StatusCode == http.StatusTooManyRequests || pe.Code() == errors.CodeRateLimit {
		e.Delay = retryAfter(resp.Header, pe.Context())
		if _, ok := pe.Context()["retryAfter"]; !ok {
			e.err = errors.WithContext(pe, "retryAfter", int(e.Delay.Seconds()))
		}
	}
	return e
}

// retryAfter reads the Retry-After header in seconds, falling back to
// the envelope's retryAfter detail.
func retryAfter(h http.Header, details map[string]any) time.Duration {
	if s := h.Get("Retry-After"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			return time.Duration(n) * time.Second
		}
		if at, err := http.ParseTime(s); err == nil {
			return max(time.Until(at), 0)
		}
	}
	switch v := details["retryAfter"].(type) {
	case float64:
		return time.Duration(v * float64(time.Second))
	case int:
		return time.Duration(v) * time.Second
	}
	return 0
}

// isTransportFailure counts faults of the remote, not rejections of the
// request, toward opening the circuit.
func isTransportFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, resilience.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch errors.GetCode(err) {
	case errors.CodeNetwork, errors.CodeTimeout, errors.CodeUnavailable, errors.CodeInternal:
		return true
	}
	return false
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.IsRetryable(err) || errors.Is(err, resilience.ErrTimeout)
}

// classify converts resilience sentinels into coded errors and unwraps
// cancellation.
func classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return context.Canceled
	case errors.Is(err, resilience.ErrCircuitOpen):
		return errors.Wrap(err, errors.CodeUnavailable, "remote unavailable: circuit open")
	case errors.Is(err, resilience.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(err, errors.CodeTimeout, "request timed out")
	}
	return err
}
