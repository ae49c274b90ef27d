// Package bridge records CMF experiment metadata through a foreign
// collaborator. A Session owns the runtime hosting the collaborator and the
// single live collaborator handle; it moves UNINITIALIZED -> READY on a
// successful Initialize and back on Finalize.
//
// Every failure is reported to the diagnostic logger. In strict mode (the
// default) the failure is also returned as a *Error; in best-effort mode the
// call returns nil and callers poll IsReady.
package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"cmf-bridge/internal/bridge/marshal"
)

const tracerName = "cmf-bridge/bridge"

// Session is the lifecycle manager for one collaborator handle. It is safe
// for use from one goroutine at a time; the internal lock only protects the
// handle against accidental concurrent use.
type Session struct {
	mu      sync.Mutex
	rt      Runtime
	handle  Collaborator
	started bool
	params  Params

	marshaller marshal.Marshaller
	bestEffort bool
	logger     *zap.Logger
	tracer     trace.Tracer
	observers  []Observer
	admission  Admission
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the diagnostic logger. Defaults to Logger().
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithInference sets the value inference rule. Defaults to marshal.InferLexical.
func WithInference(i marshal.Inference) Option {
	return func(s *Session) { s.marshaller.Inference = i }
}

// WithBestEffort makes every operation return nil after reporting its failure.
func WithBestEffort(on bool) Option {
	return func(s *Session) { s.bestEffort = on }
}

// WithObserver adds an observer notified after each operation.
func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithAdmission sets the policy consulted before each record is forwarded.
func WithAdmission(a Admission) Option {
	return func(s *Session) { s.admission = a }
}

// WithTracerProvider sets the provider for call spans. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Session) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// New returns an uninitialized session that will host its collaborator in rt.
func New(rt Runtime, opts ...Option) *Session {
	s := &Session{rt: rt}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = Logger()
	}
	if s.tracer == nil {
		s.tracer = otel.GetTracerProvider().Tracer(tracerName)
	}
	return s
}

// Initialize starts the runtime, constructs the collaborator for
// (StorePath, Pipeline), then creates the context and the execution, in that
// order. On any resolution failure the handle stays nil and the runtime is
// stopped again. A failing create_context or create_execution is reported as
// KindForeign but leaves the session ready.
func (s *Session) Initialize(ctx context.Context, p Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "initialize"
	start := time.Now()
	ctx, span := s.startSpan(ctx, op, p.Context)
	defer span.End()

	if s.handle != nil {
		return s.report(ctx, span, Call{Op: op, Key: p.Context, Kind: KindInit, Err: ErrAlreadyInitialized, Duration: time.Since(start)})
	}
	if s.rt == nil {
		return s.report(ctx, span, Call{Op: op, Key: p.Context, Kind: KindInit, Err: errors.New("no runtime configured"), Duration: time.Since(start)})
	}
	if err := p.validate(); err != nil {
		return s.report(ctx, span, Call{Op: op, Key: p.Context, Kind: KindInit, Err: err, Duration: time.Since(start)})
	}

	if !s.started {
		if err := s.rt.Start(ctx); err != nil {
			return s.report(ctx, span, Call{Op: op, Key: p.Context, Kind: KindInit, Err: err, Duration: time.Since(start)})
		}
		s.started = true
	}

	c, err := s.rt.Resolve(ctx, p.StorePath, p.Pipeline)
	if err == nil && c == nil {
		err = errors.New("runtime returned no collaborator")
	}
	if err != nil {
		s.stopRuntime(ctx)
		return s.report(ctx, span, Call{Op: op, Key: p.Context, Kind: KindInit, Err: err, Duration: time.Since(start)})
	}
	s.handle = c
	s.params = p
	s.logger.Info("cmf session initialized",
		zap.String("store_path", p.StorePath),
		zap.String("pipeline", p.Pipeline))

	var errs []error
	if err := s.invoke(ctx, func(ctx context.Context) error { return c.CreateContext(ctx, p.Context) }); err != nil {
		errs = append(errs, err)
	}
	if err := s.invoke(ctx, func(ctx context.Context) error { return c.CreateExecution(ctx, p.Execution) }); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return s.report(ctx, span, Call{Op: op, Key: p.Context, Kind: KindForeign, Err: errors.Join(errs...), Duration: time.Since(start)})
	}
	return s.report(ctx, span, Call{Op: op, Key: p.Context, Duration: time.Since(start)})
}

// IsReady reports whether the session holds a collaborator handle.
func (s *Session) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

// Finalize releases the collaborator handle, if any, and shuts the runtime
// down. It is safe to call without a successful Initialize and more than once.
// The session can be initialized again afterwards.
func (s *Session) Finalize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "finalize"
	start := time.Now()
	key := s.params.Context
	ctx, span := s.startSpan(ctx, op, key)
	defer span.End()

	var errs []error
	if s.handle != nil {
		c := s.handle
		s.handle = nil
		s.params = Params{}
		if err := s.invoke(ctx, c.Close); err != nil {
			errs = append(errs, err)
		}
	}
	if s.rt != nil {
		if err := s.rt.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.started = false
	if len(errs) > 0 {
		return s.report(ctx, span, Call{Op: op, Key: key, Kind: KindForeign, Err: errors.Join(errs...), Duration: time.Since(start)})
	}
	return s.report(ctx, span, Call{Op: op, Key: key, Duration: time.Since(start)})
}

func (s *Session) stopRuntime(ctx context.Context) {
	if err := s.rt.Shutdown(ctx); err != nil {
		s.logger.Warn("cmf runtime shutdown after failed init", zap.Error(err))
	}
	s.started = false
}
