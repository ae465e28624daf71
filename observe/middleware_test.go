package observe

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestMiddleware(t *testing.T) (*Middleware, *tracetest.SpanRecorder, *bytes.Buffer) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	_, mp := newTestMeter()
	metrics, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	var buf bytes.Buffer
	log := NewLoggerWithWriter("debug", FormatJSON, &buf)
	return NewMiddleware(NewTracer(tp.Tracer("test")), metrics, log), recorder, &buf
}

func TestMiddleware_Run(t *testing.T) {
	m, recorder, buf := newTestMiddleware(t)
	boom := errors.New("boom")

	err := m.Run(context.Background(), OperationMeta{Component: "transport", Operation: "get"}, func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Run() = %v, want boom", err)
	}
	if len(recorder.Ended()) != 1 {
		t.Errorf("ended spans = %d, want 1", len(recorder.Ended()))
	}

	lines := decodeLines(t, buf)
	if len(lines) != 1 || lines[0]["message"] != "operation failed" {
		t.Errorf("log lines = %v", lines)
	}
}

func TestMiddleware_Handler(t *testing.T) {
	m, recorder, buf := newTestMiddleware(t)

	h := m.Handler(func(r *http.Request) OperationMeta {
		return OperationMeta{Component: "api", Operation: "list", Collection: "projects"}
	}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/projects", nil))

	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d", rr.Code)
	}
	if len(recorder.Ended()) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(recorder.Ended()))
	}

	line := decodeLines(t, buf)[0]
	if line["level"] != "warn" || line["status"] != float64(429) {
		t.Errorf("log line = %v", line)
	}
}

func TestMiddleware_HandlerServerError(t *testing.T) {
	m, recorder, buf := newTestMiddleware(t)

	h := m.Handler(func(*http.Request) OperationMeta {
		return OperationMeta{Component: "api", Operation: "get"}
	}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/projects/1", nil))

	if recorder.Ended()[0].Status().Description == "" {
		t.Error("5xx span should carry an error description")
	}
	if line := decodeLines(t, buf)[0]; line["level"] != "error" {
		t.Errorf("level = %v, want error", line["level"])
	}
}

func TestNewMiddleware_NilComponents(t *testing.T) {
	m := NewMiddleware(nil, nil, nil)
	if err := m.Run(context.Background(), OperationMeta{Operation: "x"}, func(context.Context) error { return nil }); err != nil {
		t.Errorf("Run() = %v", err)
	}
	if m.Logger() == nil || m.Metrics() == nil {
		t.Error("accessors should return no-op components")
	}
}
