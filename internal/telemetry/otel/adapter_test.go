package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"cmf-bridge/internal/telemetry/domain"
)

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	if em == nil {
		t.Fatal("NewEventEmitter(nil) returned nil")
	}
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("noop Emit(ctx, nil): %v", err)
	}
	if err := em.Emit(context.Background(), &domain.MetricEvent{Pipeline: "p"}); err != nil {
		t.Errorf("noop Emit(ctx, event): %v", err)
	}
}

func TestEmit_NilEvent_ReturnsNil(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	em := NewEventEmitter(provider)
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("Emit(ctx, nil): %v", err)
	}
}

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec otellog.Record
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.rec = rec
}

func stringAttrs(rec otellog.Record) map[string]string {
	attrs := make(map[string]string)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		if kv.Value.Kind() == otellog.KindString {
			attrs[kv.Key] = kv.Value.AsString()
		}
		return true
	})
	return attrs
}

func TestEmit_AttributeAndBodyMapping(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	event := &domain.MetricEvent{
		ID:        "ev-1",
		Pipeline:  "test_pipeline",
		Context:   "Train-test",
		Execution: "Train-test-execution",
		Op:        "log_metric",
		Key:       "test_metrics",
		Fields: map[string]any{
			"train_loss": int64(10),
			"acc":        "10.12",
			"lr":         0.5,
			"ok":         true,
			"shape":      []any{int64(1), int64(2)},
		},
		Outcome:    domain.OutcomeOK,
		DurationMS: 2.5,
		CreatedAt:  created,
	}
	if err := em.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	rec := cap.rec

	if !rec.Timestamp().Equal(created) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), created)
	}
	if rec.Severity() != otellog.SeverityInfo {
		t.Errorf("severity = %v, want info", rec.Severity())
	}

	if rec.Body().Kind() != otellog.KindMap {
		t.Fatalf("body kind = %v, want map", rec.Body().Kind())
	}
	body := map[string]otellog.Value{}
	for _, kv := range rec.Body().AsMap() {
		body[kv.Key] = kv.Value
	}
	if body["train_loss"].AsInt64() != 10 {
		t.Errorf("train_loss = %v", body["train_loss"])
	}
	if body["acc"].AsString() != "10.12" {
		t.Errorf("acc = %v", body["acc"])
	}
	if body["lr"].AsFloat64() != 0.5 {
		t.Errorf("lr = %v", body["lr"])
	}
	if !body["ok"].AsBool() {
		t.Errorf("ok = %v", body["ok"])
	}
	if body["shape"].AsString() != "[1,2]" {
		t.Errorf("shape = %v", body["shape"])
	}

	want := map[string]string{
		"event_id": "ev-1", "pipeline": "test_pipeline", "context": "Train-test",
		"execution": "Train-test-execution", "op": "log_metric", "key": "test_metrics", "outcome": "ok",
	}
	attrs := stringAttrs(rec)
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %q = %q, want %q", k, attrs[k], v)
		}
	}
	if _, ok := attrs["error"]; ok {
		t.Error("error attribute should be absent on success")
	}
}

func TestEmit_FailureSeverityAndError(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	event := &domain.MetricEvent{Op: "commit_group", Key: "g", Outcome: "foreign", Error: "KeyError"}
	if err := em.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	rec := cap.rec
	if rec.Severity() != otellog.SeverityError {
		t.Errorf("severity = %v, want error", rec.Severity())
	}
	if !rec.Body().Empty() {
		t.Error("body should be empty without fields")
	}
	if attrs := stringAttrs(rec); attrs["error"] != "KeyError" || attrs["outcome"] != "foreign" {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestEmit_ZeroTimestamp_SetsCurrentTime(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	before := time.Now().UTC()
	if err := em.Emit(context.Background(), &domain.MetricEvent{Op: "finalize", Outcome: "ok"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	after := time.Now().UTC()
	ts := cap.rec.Timestamp()
	if ts.Before(before) || ts.After(after) {
		t.Errorf("timestamp = %v, should be between %v and %v", ts, before, after)
	}
}
