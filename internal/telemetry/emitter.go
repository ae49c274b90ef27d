package telemetry

import (
	"context"

	"cmf-bridge/internal/telemetry/domain"
)

// EventEmitter emits mirrored metric events (e.g. to Kafka or OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.MetricEvent) error
}
