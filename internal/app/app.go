// Package app assembles a bridge session and its optional sinks from config.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"cmf-bridge/internal/bridge"
	"cmf-bridge/internal/bridge/marshal"
	"cmf-bridge/internal/config"
	"cmf-bridge/internal/db"
	"cmf-bridge/internal/health"
	"cmf-bridge/internal/journal"
	journalrepo "cmf-bridge/internal/journal/repository"
	"cmf-bridge/internal/policy/engine"
	policyrepo "cmf-bridge/internal/policy/repository"
	"cmf-bridge/internal/pyruntime"
	"cmf-bridge/internal/telemetry"
	telemetryotel "cmf-bridge/internal/telemetry/otel"
	"cmf-bridge/internal/telemetry/producer"
)

// Deps holds the session's collaborators. Only Runtime is required.
type Deps struct {
	// Runtime hosts the CMF collaborator.
	Runtime bridge.Runtime
	// Admission gates records before they are forwarded. If nil, every record is forwarded.
	Admission bridge.Admission
	// JournalRepo persists every call. If nil, calls are not journaled.
	JournalRepo journalrepo.Repository
	// Emitters receive a mirrored MetricEvent per call. If empty, no mirror is installed.
	Emitters []telemetry.EventEmitter
	// MeterProvider records call metrics. If nil, no metrics are recorded.
	MeterProvider metric.MeterProvider
	// TracerProvider receives call spans. If nil, the global provider is used.
	TracerProvider trace.TracerProvider
}

// Params returns the session parameters named by cfg.
func Params(cfg *config.Config) bridge.Params {
	return bridge.Params{
		StorePath: cfg.MLMDPath,
		Pipeline:  cfg.PipelineName,
		Context:   cfg.ContextName,
		Execution: cfg.ExecutionName,
	}
}

// NewSession builds an uninitialized session from cfg and deps. The returned
// Mirror is nil when deps has no emitters.
func NewSession(cfg *config.Config, deps Deps, logger *zap.Logger) (*bridge.Session, *telemetry.Mirror, error) {
	if deps.Runtime == nil {
		return nil, nil, errors.New("app: runtime is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	inference, err := marshal.ParseInference(cfg.TypeInference)
	if err != nil {
		return nil, nil, fmt.Errorf("app: %w", err)
	}
	opts := []bridge.Option{
		bridge.WithLogger(logger),
		bridge.WithInference(inference),
		bridge.WithBestEffort(cfg.BestEffort),
		bridge.WithTracerProvider(deps.TracerProvider),
	}
	if deps.Admission != nil {
		opts = append(opts, bridge.WithAdmission(deps.Admission))
	}
	if deps.JournalRepo != nil {
		opts = append(opts, bridge.WithObserver(journal.New(deps.JournalRepo, journal.Labels{
			Pipeline: cfg.PipelineName, Context: cfg.ContextName, Execution: cfg.ExecutionName,
		}, logger)))
	}
	var mirror *telemetry.Mirror
	if len(deps.Emitters) > 0 {
		mirror = telemetry.NewMirror(telemetry.Labels{
			Pipeline: cfg.PipelineName, Context: cfg.ContextName, Execution: cfg.ExecutionName,
		}, deps.Emitters...)
		opts = append(opts, bridge.WithObserver(mirror))
	}
	if deps.MeterProvider != nil {
		m, err := telemetryotel.NewCallMetrics(deps.MeterProvider)
		if err != nil {
			return nil, nil, fmt.Errorf("app: call metrics: %w", err)
		}
		opts = append(opts, bridge.WithObserver(m))
	}
	return bridge.New(deps.Runtime, opts...), mirror, nil
}

// App is a configured session plus the resources backing its sinks.
type App struct {
	Config  *config.Config
	Session *bridge.Session
	Health  *health.Checker

	logger  *zap.Logger
	mirror  *telemetry.Mirror
	closers []func(context.Context) error
}

// Open builds the Python runtime, the optional database, policy, Kafka and
// OTel sinks named by cfg, and a session over them. The session is not
// initialized. On error every resource opened so far is released.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.closeResources(ctx)
		}
	}()

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.OTLPInsecure)
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	a.closers = append(a.closers, providers.Shutdown)

	deps := Deps{
		Runtime: pyruntime.New(pyruntime.Config{
			Python:      cfg.Python,
			Module:      cfg.Module,
			Class:       cfg.Class,
			Dir:         cfg.WorkDir,
			CallTimeout: cfg.CallTimeoutDuration(),
		}, logger.Named("python")),
		MeterProvider:  providers.MeterProvider,
		TracerProvider: providers.TracerProvider,
	}

	var sqlDB *sql.DB
	if cfg.DatabaseURL != "" {
		sqlDB, err = db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return sqlDB.Close() })
		deps.JournalRepo = journalrepo.NewPostgresRepository(sqlDB)
	}

	var evaluator *engine.OPAEvaluator
	if cfg.AdmissionEnabled() {
		var repo policyrepo.Repository
		if cfg.PolicyFile != "" {
			repo = policyrepo.NewFileRepository(cfg.PolicyFile)
		} else {
			if sqlDB == nil {
				return nil, errors.New("policy: CMF_POLICY_DB requires DATABASE_URL")
			}
			repo = policyrepo.NewPostgresRepository(sqlDB)
		}
		evaluator = newEvaluator(cfg, repo, logger)
		if err := evaluator.Load(ctx); err != nil {
			return nil, err
		}
		deps.Admission = evaluator
	}

	kafkaProducer, err := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic)
	if err != nil {
		return nil, fmt.Errorf("kafka: %w", err)
	}
	if kafkaProducer != nil {
		a.closers = append(a.closers, func(context.Context) error { return kafkaProducer.Close() })
		deps.Emitters = append(deps.Emitters, kafkaProducer)
		logger.Info("mirroring bridge calls to kafka", zap.String("topic", kafkaProducer.Topic()))
	}
	if cfg.OTLPEndpoint != "" {
		deps.Emitters = append(deps.Emitters, telemetryotel.NewEventEmitter(providers.LoggerProvider))
	}

	a.Session, a.mirror, err = NewSession(cfg, deps, logger)
	if err != nil {
		return nil, err
	}
	a.Health = newChecker(sqlDB, evaluator)
	return a, nil
}

// newEvaluator builds the admission evaluator over repo with cfg's limits.
func newEvaluator(cfg *config.Config, repo policyrepo.Repository, logger *zap.Logger) *engine.OPAEvaluator {
	opts := []engine.Option{engine.WithPipeline(cfg.PipelineName), engine.WithLogger(logger)}
	if cfg.PolicyMaxFields > 0 {
		opts = append(opts, engine.WithMaxFields(cfg.PolicyMaxFields))
	}
	return engine.NewOPAEvaluator(repo, opts...)
}

// newChecker avoids handing typed nil pointers to the checker's interfaces.
func newChecker(sqlDB *sql.DB, evaluator *engine.OPAEvaluator) *health.Checker {
	var (
		pinger health.Pinger
		policy health.PolicyChecker
	)
	if sqlDB != nil {
		pinger = sqlDB
	}
	if evaluator != nil {
		policy = evaluator
	}
	return health.NewChecker(pinger, policy)
}

// Close finalizes the session, waits up to telemetry.ShutdownDrainDuration
// for mirrored events, and releases every sink.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Session != nil {
		if err := a.Session.Finalize(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.mirror != nil {
		drainCtx, cancel := context.WithTimeout(ctx, telemetry.ShutdownDrainDuration)
		if err := a.mirror.Drain(drainCtx); err != nil {
			a.logger.Warn("telemetry: drain incomplete", zap.Error(err))
		}
		cancel()
	}
	if err := a.closeResources(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeResources(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
