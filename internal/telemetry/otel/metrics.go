package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"cmf-bridge/internal/bridge"
	"cmf-bridge/internal/telemetry/domain"
)

// CallMetrics records bridge call counts, latency, and forwarded field counts.
type CallMetrics struct {
	calls    metric.Int64Counter
	fields   metric.Int64Counter
	duration metric.Float64Histogram
}

var _ bridge.Observer = (*CallMetrics)(nil)

// NewCallMetrics creates the instruments on mp's meter.
func NewCallMetrics(mp metric.MeterProvider) (*CallMetrics, error) {
	meter := mp.Meter(instrumentationName)
	calls, err := meter.Int64Counter("cmf.bridge.calls",
		metric.WithDescription("Bridge operations by op and outcome."))
	if err != nil {
		return nil, err
	}
	fields, err := meter.Int64Counter("cmf.bridge.fields",
		metric.WithDescription("Typed fields forwarded to CMF."))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("cmf.bridge.duration",
		metric.WithDescription("Bridge operation latency."),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &CallMetrics{calls: calls, fields: fields, duration: duration}, nil
}

// ObserveCall records one call.
func (m *CallMetrics) ObserveCall(ctx context.Context, call bridge.Call) {
	outcome := domain.OutcomeOK
	if !call.OK() {
		outcome = call.Kind.String()
	}
	attrs := metric.WithAttributes(
		attribute.String("op", call.Op),
		attribute.String("outcome", outcome),
	)
	m.calls.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(call.Duration.Microseconds())/1000, attrs)
	if call.OK() && call.Fields > 0 {
		m.fields.Add(ctx, int64(call.Fields), metric.WithAttributes(attribute.String("op", call.Op)))
	}
}
