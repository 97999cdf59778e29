package oteladapters

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rohankhera/dicom-server/datastore"
)

// TracingCollector implements datastore.TracingCollector using the OpenTelemetry tracing API.
// It creates spans for store operations and propagates trace context automatically.
type TracingCollector struct {
	tracer trace.Tracer
}

// NewTracingCollector creates a new OpenTelemetry tracing collector.
// The tracer should be created from your OpenTelemetry TracerProvider.
func NewTracingCollector(tracer trace.Tracer) *TracingCollector {
	return &TracingCollector{tracer: tracer}
}

// StartSpan creates a new OpenTelemetry span with the given name and attributes.
// It returns a new context carrying the span and a SpanContext wrapper for it.
func (t *TracingCollector) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, datastore.SpanContext) {
	spanOptions := make([]trace.SpanStartOption, 0, len(attrs))
	for key, value := range attrs {
		spanOptions = append(spanOptions, trace.WithAttributes(attribute.String(key, value)))
	}

	spanCtx, span := t.tracer.Start(ctx, name, spanOptions...)

	return spanCtx, &OTelSpanContext{span: span}
}

// FinishSpan completes an OpenTelemetry span with the given status and additional attributes.
func (t *TracingCollector) FinishSpan(spanCtx datastore.SpanContext, status string, attrs map[string]string) {
	if otelSpanCtx, ok := spanCtx.(*OTelSpanContext); ok {
		for key, value := range attrs {
			otelSpanCtx.span.SetAttributes(attribute.String(key, value))
		}

		otelSpanCtx.setSpanStatus(status)
		otelSpanCtx.span.End()
	}
}

// Ensure TracingCollector implements datastore.TracingCollector.
var _ datastore.TracingCollector = (*TracingCollector)(nil)

// OTelSpanContext implements datastore.SpanContext by wrapping an OpenTelemetry span.
type OTelSpanContext struct {
	span trace.Span
}

// SetStatus sets the OpenTelemetry span status based on the provided status string.
func (s *OTelSpanContext) SetStatus(status string) {
	s.setSpanStatus(status)
}

// AddAttribute adds an attribute to the OpenTelemetry span.
func (s *OTelSpanContext) AddAttribute(key, value string) {
	s.span.SetAttributes(attribute.String(key, value))
}

// setSpanStatus maps status strings to OpenTelemetry span status codes.
// A conflict is an expected domain outcome, so the span is marked Ok with the
// status recorded as an attribute rather than as an error.
func (s *OTelSpanContext) setSpanStatus(status string) {
	switch status {
	case "ok", "success", "completed":
		s.span.SetStatus(codes.Ok, "")
	case "error", "failed", "failure":
		s.span.SetStatus(codes.Error, "Operation failed")
	case "cancelled", "canceled":
		s.span.SetStatus(codes.Error, "Operation cancelled")
	case "timeout":
		s.span.SetStatus(codes.Error, "Operation timed out")
	case "conflict", "schema_upgrade_required":
		s.span.SetStatus(codes.Ok, "")
		s.span.SetAttributes(attribute.String("status", status))
	default:
		s.span.SetAttributes(attribute.String("status", status))
	}
}

// Ensure OTelSpanContext implements datastore.SpanContext.
var _ datastore.SpanContext = (*OTelSpanContext)(nil)
