package main

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"cmf-bridge/internal/app"
	"cmf-bridge/internal/bridge"
	"cmf-bridge/internal/config"
	"cmf-bridge/internal/logging"
	"cmf-bridge/internal/telemetry"
)

// errNoSession is logged when a call arrives before cmf_init or after cmf_finalize.
var errNoSession = errors.New("cmf: no session; call cmf_init first")

// opener builds a session and the function that releases everything behind it.
type opener func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*bridge.Session, func(context.Context) error, error)

func openApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*bridge.Session, func(context.Context) error, error) {
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return a.Session, a.Close, nil
}

// bridgeState is the process-global session behind the exported C functions.
// Every method swallows errors and panics: failures only reach the log.
type bridgeState struct {
	mu         sync.Mutex
	open       opener
	loadConfig func() (*config.Config, error)
	newLogger  func(level, format string) (*zap.Logger, error)
	logger     *zap.Logger

	session *bridge.Session
	release func(context.Context) error
}

func newBridgeState() *bridgeState {
	return &bridgeState{open: openApp, loadConfig: config.Load, newLogger: logging.New}
}

// guard recovers a panic raised below op so it never unwinds into the host.
func (b *bridgeState) guard(op string) {
	if r := recover(); r != nil {
		b.log().Error("cmf: recovered panic", zap.String("op", op), zap.Any("panic", r))
	}
}

func (b *bridgeState) log() *zap.Logger {
	if b.logger == nil {
		return zap.NewNop()
	}
	return b.logger
}

func (b *bridgeState) init(storePath, pipeline, contextName, execution string) {
	defer b.guard("cmf_init")
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx := context.Background()

	// A session that never became ready was built from the previous
	// arguments; rebuild it so the sinks carry the new labels.
	if b.session != nil && !b.session.IsReady() {
		b.closeLocked(ctx)
	}
	if b.session == nil {
		cfg, err := b.loadConfig()
		if err != nil {
			b.ensureLogger(nil)
			b.log().Error("cmf: config", zap.Error(err))
			return
		}
		cfg.MLMDPath = storePath
		cfg.PipelineName = pipeline
		cfg.ContextName = contextName
		cfg.ExecutionName = execution
		// The C surface has no error channel.
		cfg.BestEffort = true

		b.ensureLogger(cfg)
		session, release, err := b.open(ctx, cfg, b.logger)
		if err != nil {
			b.log().Error("cmf: open", zap.Error(err))
			return
		}
		b.session, b.release = session, release
	}
	_ = b.session.Initialize(ctx, bridge.Params{
		StorePath: storePath,
		Pipeline:  pipeline,
		Context:   contextName,
		Execution: execution,
	})
}

// ensureLogger installs the process logger once. Without a usable config it
// falls back to info-level console output on stderr, so init failures are
// never silent.
func (b *bridgeState) ensureLogger(cfg *config.Config) {
	if b.logger != nil {
		return
	}
	var (
		logger *zap.Logger
		err    error
	)
	if cfg != nil {
		logger, err = b.newLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if logger == nil {
		logger, _ = b.newLogger("info", "console")
		if logger == nil {
			logger = zap.NewNop()
		}
		if err != nil {
			logger.Warn("cmf: logging config rejected, using defaults", zap.Error(err))
		}
	}
	b.logger = logger
	bridge.SetLogger(logger)
	telemetry.SetLogger(logger)
}

func (b *bridgeState) ready() bool {
	defer b.guard("is_cmf_initialized")
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session != nil && b.session.IsReady()
}

// withSession runs fn on the current session, logging when there is none.
func (b *bridgeState) withSession(op string, fn func(context.Context, *bridge.Session) error) {
	defer b.guard(op)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		b.log().Warn("cmf: call dropped", zap.String("op", op), zap.Error(errNoSession))
		return
	}
	_ = fn(context.Background(), b.session)
}

func (b *bridgeState) logMetric(key string, names, values []string) {
	b.withSession("log_metric", func(ctx context.Context, s *bridge.Session) error {
		return s.LogMetric(ctx, key, names, values)
	})
}

func (b *bridgeState) logMetricJSON(key, blob string) {
	b.withSession("log_metric_json", func(ctx context.Context, s *bridge.Session) error {
		return s.LogMetricBlob(ctx, key, blob)
	})
}

func (b *bridgeState) commit(group string) {
	b.withSession("commit_metrics", func(ctx context.Context, s *bridge.Session) error {
		return s.CommitGroup(ctx, group)
	})
}

// finalize ends the session and releases the runtime and sinks. A later
// cmf_init starts over with fresh config.
func (b *bridgeState) finalize() {
	defer b.guard("cmf_finalize")
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return
	}
	b.closeLocked(context.Background())
}

func (b *bridgeState) closeLocked(ctx context.Context) {
	_ = b.session.Finalize(ctx)
	if b.release != nil {
		if err := b.release(ctx); err != nil {
			b.log().Warn("cmf: release", zap.Error(err))
		}
	}
	b.session, b.release = nil, nil
}
