package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"

	"cmf-bridge/internal/telemetry"
	"cmf-bridge/internal/telemetry/domain"
)

const instrumentationName = "cmf-bridge/telemetry"

// recordEmitter is the part of otellog.Logger the emitter uses.
type recordEmitter interface {
	Emit(ctx context.Context, record otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider otellog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return NewEventEmitterWithLogger(provider.Logger(instrumentationName))
}

// NewEventEmitterWithLogger returns an EventEmitter writing to logger directly.
func NewEventEmitterWithLogger(logger recordEmitter) telemetry.EventEmitter {
	if logger == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.MetricEvent) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the metric event to an OTel log record and emits it. The
// typed fields become the record body as a map.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.MetricEvent) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.CreatedAt.IsZero() {
		rec.SetTimestamp(event.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetObservedTimestamp(time.Now().UTC())
	if event.Outcome == domain.OutcomeOK {
		rec.SetSeverity(otellog.SeverityInfo)
		rec.SetSeverityText("INFO")
	} else {
		rec.SetSeverity(otellog.SeverityError)
		rec.SetSeverityText("ERROR")
	}
	if len(event.Fields) > 0 {
		kvs := make([]otellog.KeyValue, 0, len(event.Fields))
		for k, v := range event.Fields {
			kvs = append(kvs, otellog.KeyValue{Key: k, Value: logValue(v)})
		}
		rec.SetBody(otellog.MapValue(kvs...))
	}
	for _, attr := range []struct{ key, value string }{
		{"event_id", event.ID},
		{"pipeline", event.Pipeline},
		{"context", event.Context},
		{"execution", event.Execution},
		{"op", event.Op},
		{"key", event.Key},
		{"outcome", event.Outcome},
		{"error", event.Error},
	} {
		if attr.value != "" {
			rec.AddAttributes(otellog.String(attr.key, attr.value))
		}
	}
	rec.AddAttributes(otellog.Float64("duration_ms", event.DurationMS))
	e.logger.Emit(ctx, rec)
	return nil
}

// logValue maps a typed field value onto the OTel log value model. Composite
// values from rich inference are carried as their JSON text.
func logValue(v any) otellog.Value {
	switch x := v.(type) {
	case int64:
		return otellog.Int64Value(x)
	case int:
		return otellog.IntValue(x)
	case float64:
		return otellog.Float64Value(x)
	case bool:
		return otellog.BoolValue(x)
	case string:
		return otellog.StringValue(x)
	case nil:
		return otellog.Value{}
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return otellog.StringValue("")
		}
		return otellog.StringValue(string(b))
	}
}
