package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"cmf-bridge/internal/bridge"
	"cmf-bridge/internal/telemetry/domain"
)

// Labels identify the session whose calls a Mirror reports.
type Labels struct {
	Pipeline  string
	Context   string
	Execution string
}

// Mirror is a bridge.Observer that copies every call to its emitters as a
// MetricEvent. Emits are asynchronous and never affect the bridge call.
type Mirror struct {
	labels   Labels
	emitters []EventEmitter
	now      func() time.Time
	inflight sync.WaitGroup
}

var _ bridge.Observer = (*Mirror)(nil)

// NewMirror returns a Mirror fanning out to emitters. Nil emitters are skipped.
func NewMirror(labels Labels, emitters ...EventEmitter) *Mirror {
	m := &Mirror{labels: labels, now: time.Now}
	for _, e := range emitters {
		if e != nil {
			m.emitters = append(m.emitters, e)
		}
	}
	return m
}

// ObserveCall builds the event and emits it to each emitter.
func (m *Mirror) ObserveCall(ctx context.Context, call bridge.Call) {
	if len(m.emitters) == 0 {
		return
	}
	event := NewMetricEvent(m.labels, call, m.now())
	for _, e := range m.emitters {
		emitAsync(&m.inflight, e, event)
	}
}

// Drain waits for in-flight emits to finish or ctx to end, whichever is first.
func (m *Mirror) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewMetricEvent converts a bridge call to the mirrored event shape.
func NewMetricEvent(labels Labels, call bridge.Call, at time.Time) *domain.MetricEvent {
	event := &domain.MetricEvent{
		ID:         uuid.New().String(),
		Pipeline:   labels.Pipeline,
		Context:    labels.Context,
		Execution:  labels.Execution,
		Op:         call.Op,
		Key:        call.Key,
		Outcome:    domain.OutcomeOK,
		DurationMS: float64(call.Duration) / float64(time.Millisecond),
		CreatedAt:  at.UTC(),
	}
	if len(call.Values) > 0 {
		event.Fields = make(map[string]any, len(call.Values))
		for k, v := range call.Values {
			event.Fields[k] = v
		}
	}
	if !call.OK() {
		event.Outcome = call.Kind.String()
		if call.Err != nil {
			event.Error = call.Err.Error()
		}
	}
	return event
}
