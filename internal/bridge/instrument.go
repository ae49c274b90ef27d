package bridge

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	attrOp     = attribute.Key("cmf.op")
	attrKey    = attribute.Key("cmf.key")
	attrFields = attribute.Key("cmf.fields")
)

// startSpan opens the client span wrapping one forwarded call.
func (s *Session) startSpan(ctx context.Context, op, key string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attrOp.String(op)}
	if key != "" {
		attrs = append(attrs, attrKey.String(key))
	}
	return s.tracer.Start(ctx, "cmf."+op, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindClient))
}

// markSpan records the call outcome on span. The caller ends it.
func markSpan(span trace.Span, call Call) {
	if call.Fields > 0 {
		span.SetAttributes(attrFields.Int(call.Fields))
	}
	if call.Kind != 0 {
		span.RecordError(call.Err)
		span.SetStatus(codes.Error, call.Kind.String())
		return
	}
	span.SetStatus(codes.Ok, "")
}
