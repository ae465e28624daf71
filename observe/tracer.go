package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// OperationMeta describes one instrumented operation.
type OperationMeta struct {
	Component  string // api, transport, collection
	Operation  string // list, get, stats, create, update, delete, upload
	Collection string // projects, work-items, daily-logs (optional)
	Class      string // rate-limit class (optional)
}

// SpanName returns the deterministic span name for this operation.
// Format: sitesync.<component>.<operation>
func (m OperationMeta) SpanName() string {
	if m.Component == "" {
		return "sitesync." + m.Operation
	}
	return "sitesync." + m.Component + "." + m.Operation
}

// OperationID returns the qualified operation identifier, collection
// included when set.
func (m OperationMeta) OperationID() string {
	if m.Collection != "" {
		return m.Collection + "." + m.Operation
	}
	return m.Operation
}

func (m OperationMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("sitesync.operation", m.Operation),
	}
	if m.Component != "" {
		attrs = append(attrs, attribute.String("sitesync.component", m.Component))
	}
	if m.Collection != "" {
		attrs = append(attrs, attribute.String("sitesync.collection", m.Collection))
	}
	if m.Class != "" {
		attrs = append(attrs, attribute.String("sitesync.class", m.Class))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with operation span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for an operation.
	StartSpan(ctx context.Context, meta OperationMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return NewNoopTracer()
	}
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with operation metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta OperationMeta) (context.Context, trace.Span) {
	kind := trace.SpanKindInternal
	switch meta.Component {
	case "api":
		kind = trace.SpanKindServer
	case "transport":
		kind = trace.SpanKindClient
	}

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(meta.attributes()...),
		trace.WithSpanKind(kind),
	)
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

// NewNoopTracer returns a tracer that records nothing.
func NewNoopTracer() Tracer {
	return &noopTracer{noop: tracenoop.NewTracerProvider().Tracer("noop")}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta OperationMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, _ error) {
	span.End()
}
