package bridge

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"cmf-bridge/internal/bridge/marshal"
)

// LogMetric types values and forwards them under key to the collaborator's
// log_metric verb. names[i] is paired with values[i].
func (s *Session) LogMetric(ctx context.Context, key string, names, values []string) error {
	return s.forward(ctx, "log_metric", key,
		func() (marshal.FieldSet, error) { return s.marshaller.BuildFieldSet(names, values) },
		func(ctx context.Context, c Collaborator, fs marshal.FieldSet) error { return c.LogMetric(ctx, key, fs) })
}

// LogMetricBlob is LogMetric for a pre-encoded JSON object.
func (s *Session) LogMetricBlob(ctx context.Context, key, blob string) error {
	return s.forward(ctx, "log_metric", key,
		func() (marshal.FieldSet, error) { return s.marshaller.ParseBlob(blob) },
		func(ctx context.Context, c Collaborator, fs marshal.FieldSet) error { return c.LogMetric(ctx, key, fs) })
}

// LogExecutionMetrics forwards coarse-grained metrics for the current execution.
func (s *Session) LogExecutionMetrics(ctx context.Context, name string, names, values []string) error {
	return s.forward(ctx, "log_execution_metrics", name,
		func() (marshal.FieldSet, error) { return s.marshaller.BuildFieldSet(names, values) },
		func(ctx context.Context, c Collaborator, fs marshal.FieldSet) error {
			return c.LogExecutionMetrics(ctx, name, fs)
		})
}

// CommitGroup asks the collaborator to persist everything logged under group.
func (s *Session) CommitGroup(ctx context.Context, group string) error {
	return s.forward(ctx, "commit_group", group, nil,
		func(ctx context.Context, c Collaborator, _ marshal.FieldSet) error {
			return c.CommitMetrics(ctx, group)
		})
}

func (s *Session) forward(
	ctx context.Context,
	op, key string,
	build func() (marshal.FieldSet, error),
	call func(context.Context, Collaborator, marshal.FieldSet) error,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	ctx, span := s.startSpan(ctx, op, key)
	defer span.End()

	c := s.handle
	if c == nil {
		return s.report(ctx, span, Call{Op: op, Key: key, Kind: KindNotReady, Err: ErrNotReady, Duration: time.Since(start)})
	}

	var fields marshal.FieldSet
	if build != nil {
		fs, err := build()
		if err != nil {
			return s.report(ctx, span, Call{Op: op, Key: key, Kind: KindMarshal, Err: err, Duration: time.Since(start)})
		}
		fields = fs
		if s.admission != nil {
			if err := s.admission.Admit(ctx, op, key, fields); err != nil {
				return s.report(ctx, span, Call{Op: op, Key: key, Fields: len(fields), Values: fields, Kind: KindRejected, Err: err, Duration: time.Since(start)})
			}
		}
	}

	if err := s.invoke(ctx, func(ctx context.Context) error { return call(ctx, c, fields) }); err != nil {
		return s.report(ctx, span, Call{Op: op, Key: key, Fields: len(fields), Values: fields, Kind: KindForeign, Err: err, Duration: time.Since(start)})
	}
	return s.report(ctx, span, Call{Op: op, Key: key, Fields: len(fields), Values: fields, Duration: time.Since(start)})
}

// invoke runs one collaborator call, turning a panic into an error so a
// misbehaving collaborator cannot take the host down.
func (s *Session) invoke(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collaborator panic: %v", r)
		}
	}()
	return fn(ctx)
}

// report logs the outcome, notifies observers, and returns the error the
// caller should see for the current mode.
func (s *Session) report(ctx context.Context, span trace.Span, call Call) error {
	fields := []zap.Field{zap.String("op", call.Op)}
	if call.Key != "" {
		fields = append(fields, zap.String("key", call.Key))
	}
	var err error
	switch call.Kind {
	case 0:
		s.logger.Debug("cmf call", append(fields, zap.Int("fields", call.Fields), zap.Duration("duration", call.Duration))...)
	case KindNotReady:
		s.logger.Warn("cmf not initialized", fields...)
	default:
		s.logger.Error("cmf call failed", append(fields, zap.Stringer("kind", call.Kind), zap.Error(call.Err))...)
	}
	markSpan(span, call)
	if call.Kind != 0 {
		err = &Error{Kind: call.Kind, Op: call.Op, Err: call.Err}
	}
	for _, o := range s.observers {
		s.notify(ctx, o, call)
	}
	if s.bestEffort {
		return nil
	}
	return err
}

func (s *Session) notify(ctx context.Context, o Observer, call Call) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cmf observer panic", zap.Any("panic", r))
		}
	}()
	o.ObserveCall(ctx, call)
}
