package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"cmf-bridge/internal/telemetry/domain"
)

// emitTimeout is the max time allowed for a single async emit. Bounds ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the session is finalized before shutting down sinks,
// so in-flight async emits have time to complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

var (
	loggerMu sync.RWMutex
	logger   = zap.NewNop()
)

// SetLogger sets the logger used for best-effort emit failures.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

func currentLogger() *zap.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// emitAsync runs Emit in a goroutine with a short timeout so the caller is not blocked.
// Errors are logged. The goroutine uses context.Background() so caller cancellation
// does not abort an in-flight emit. A non-nil wg is marked done when the emit finishes.
// emitter and event may be nil; emitAsync then returns without starting a goroutine.
func emitAsync(wg *sync.WaitGroup, emitter EventEmitter, event *domain.MetricEvent) {
	if emitter == nil || event == nil {
		return
	}
	if wg != nil {
		wg.Add(1)
	}
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			currentLogger().Warn("telemetry: async emit failed", zap.String("op", event.Op), zap.Error(err))
		}
	}()
}
