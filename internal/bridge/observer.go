package bridge

import (
	"context"
	"time"

	"cmf-bridge/internal/bridge/marshal"
)

// Call describes one completed session operation.
type Call struct {
	// Op is the operation name: initialize, log_metric, log_execution_metrics, commit_group, finalize.
	Op string
	// Key is the record key, group name, or context name for initialize.
	Key string
	// Fields is the number of fields forwarded; 0 for operations without a field set.
	Fields int
	// Values is the typed field set, nil when none was built. Observers must not modify it.
	Values marshal.FieldSet
	// Kind is 0 on success.
	Kind     Kind
	Err      error
	Duration time.Duration
}

// OK reports whether the call succeeded.
func (c Call) OK() bool { return c.Kind == 0 }

// Observer is notified after every session operation. Observers are
// best-effort: they must not block for long and cannot fail the call.
type Observer interface {
	ObserveCall(ctx context.Context, call Call)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, call Call)

// ObserveCall calls f(ctx, call).
func (f ObserverFunc) ObserveCall(ctx context.Context, call Call) { f(ctx, call) }

// Admission decides whether a built field set may be forwarded.
// A non-nil error rejects the record.
type Admission interface {
	Admit(ctx context.Context, op, key string, fields marshal.FieldSet) error
}
