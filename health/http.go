package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// Response is the body of the detailed health endpoint.
type Response struct {
	Status    Status                   `json:"status"`
	Version   string                   `json:"version,omitempty"`
	Uptime    string                   `json:"uptime"`
	Timestamp time.Time                `json:"timestamp"`
	Checks    map[string]CheckResponse `json:"checks,omitempty"`
}

// CheckResponse is one check in Response.
type CheckResponse struct {
	Status   Status         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// HandlerOption configures the health handlers.
type HandlerOption func(*handlers)

// WithVersion reports version in the detailed response.
func WithVersion(version string) HandlerOption {
	return func(h *handlers) { h.version = version }
}

// WithStartTime sets the instant uptime is measured from.
func WithStartTime(t time.Time) HandlerOption {
	return func(h *handlers) { h.started = t }
}

type handlers struct {
	agg     *Aggregator
	version string
	started time.Time
}

func newHandlers(agg *Aggregator, opts []HandlerOption) *handlers {
	h := &handlers{agg: agg, started: time.Now()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// statusCode maps a status to its probe response code. Degraded still
// serves traffic.
func statusCode(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// LivenessHandler answers 200 while the process is running.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// ReadinessHandler runs every check and answers 503 when any is Unhealthy.
func ReadinessHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := OverallStatus(agg.CheckAll(r.Context()))

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(statusCode(status))
		switch status {
		case StatusHealthy:
			_, _ = w.Write([]byte("OK"))
		case StatusDegraded:
			_, _ = w.Write([]byte("DEGRADED"))
		default:
			_, _ = w.Write([]byte("UNHEALTHY"))
		}
	}
}

// DetailedHandler returns every check result as JSON.
func DetailedHandler(agg *Aggregator, opts ...HandlerOption) http.HandlerFunc {
	return newHandlers(agg, opts).detailed
}

func (h *handlers) detailed(w http.ResponseWriter, r *http.Request) {
	results := h.agg.CheckAll(r.Context())
	status := OverallStatus(results)

	resp := Response{
		Status:    status,
		Version:   h.version,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckResponse, len(results)),
	}
	for name, result := range results {
		check := CheckResponse{
			Status:   result.Status,
			Message:  result.Message,
			Duration: result.Duration.String(),
			Details:  result.Details,
		}
		if result.Error != nil {
			check.Error = result.Error.Error()
		}
		resp.Checks[name] = check
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode(status))
	_ = json.NewEncoder(w).Encode(resp)
}

// RegisterHandlers mounts /healthz, /readyz and /health on mux.
func RegisterHandlers(mux *http.ServeMux, agg *Aggregator, opts ...HandlerOption) {
	mux.HandleFunc("GET /healthz", LivenessHandler())
	mux.HandleFunc("GET /readyz", ReadinessHandler(agg))
	mux.HandleFunc("GET /health", DetailedHandler(agg, opts...))
}
