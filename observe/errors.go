package observe

import (
	"errors"
	"slices"

	"github.com/jonwraymond/sitesync/observe/exporters"
)

var (
	ErrMissingServiceName     = errors.New("observe: service name is required")
	ErrInvalidSamplePct       = errors.New("observe: sample percentage must be within [0, 1]")
	ErrInvalidTracingExporter = errors.New("observe: unsupported tracing exporter")
	ErrInvalidMetricsExporter = errors.New("observe: unsupported metrics exporter")
	ErrInvalidLogLevel        = errors.New("observe: unsupported log level")
	ErrInvalidLogFormat       = errors.New("observe: unsupported log format")

	// ErrNilObserver is returned by constructors handed a nil Observer.
	ErrNilObserver = errors.New("observe: observer is nil")
)

// choices is a set of accepted configuration values. The empty string is
// always accepted and selects the default.
type choices []string

func (c choices) accepts(v string) bool {
	return v == "" || slices.Contains(c, v)
}

var (
	tracingExporters = choices{exporters.OTLP, exporters.Stdout, exporters.None}
	metricsExporters = choices{exporters.OTLP, exporters.Prometheus, exporters.Stdout, exporters.None}
	logLevels        = choices{"debug", "info", "warn", "error"}
	logFormats       = choices{FormatJSON, FormatConsole}
)

// RedactedFields are log field keys whose values are never written.
var RedactedFields = []string{
	"authorization",
	"x-api-key",
	"api_key",
	"apiKey",
	"key_hash",
	"password",
	"secret",
	"token",
	"credential",
}
