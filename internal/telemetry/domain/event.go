package domain

import "time"

// Outcome values for MetricEvent.Outcome besides a bridge error kind.
const OutcomeOK = "ok"

// MetricEvent is one bridge call as mirrored to telemetry sinks. It is the
// JSON value of the Kafka message consumed by the worker.
type MetricEvent struct {
	ID        string         `json:"id"`
	Pipeline  string         `json:"pipeline"`
	Context   string         `json:"context,omitempty"`
	Execution string         `json:"execution,omitempty"`
	Op        string         `json:"op"`
	Key       string         `json:"key,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Outcome   string         `json:"outcome"`
	Error     string         `json:"error,omitempty"`
	// DurationMS is the call latency in milliseconds.
	DurationMS float64   `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
