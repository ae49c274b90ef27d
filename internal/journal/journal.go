// Package journal keeps a durable record of bridge calls in Postgres.
package journal

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cmf-bridge/internal/bridge"
	"cmf-bridge/internal/journal/domain"
	"cmf-bridge/internal/journal/repository"
)

// writeTimeout bounds one journal insert so a slow database cannot stall the bridge.
const writeTimeout = 2 * time.Second

// outcomeOK is the outcome recorded for successful calls.
const outcomeOK = "ok"

// Labels identify the session being journaled.
type Labels struct {
	Pipeline  string
	Context   string
	Execution string
}

// Journal is a bridge.Observer persisting each call. Writes are best-effort:
// failures are logged and do not affect the bridge call.
type Journal struct {
	repo   repository.Repository
	labels Labels
	host   string
	logger *zap.Logger
	now    func() time.Time
}

var _ bridge.Observer = (*Journal)(nil)

// New returns a Journal writing to repo. logger may be nil.
func New(repo repository.Repository, labels Labels, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Journal{repo: repo, labels: labels, host: host, logger: logger, now: time.Now}
}

// ObserveCall writes one entry for call.
func (j *Journal) ObserveCall(ctx context.Context, call bridge.Call) {
	if j.repo == nil {
		return
	}
	entry := j.entry(call)
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := j.repo.Create(writeCtx, entry); err != nil {
		j.logger.Warn("journal: failed to record call", zap.String("op", call.Op), zap.String("key", call.Key), zap.Error(err))
	}
}

func (j *Journal) entry(call bridge.Call) *domain.Entry {
	e := &domain.Entry{
		ID:         uuid.New().String(),
		Pipeline:   j.labels.Pipeline,
		Context:    j.labels.Context,
		Execution:  j.labels.Execution,
		Op:         call.Op,
		Key:        call.Key,
		FieldCount: call.Fields,
		Outcome:    outcomeOK,
		Host:       j.host,
		DurationMS: call.Duration.Milliseconds(),
		CreatedAt:  j.now().UTC(),
	}
	if len(call.Values) > 0 {
		if b, err := json.Marshal(call.Values); err == nil {
			e.Fields = string(b)
		} else {
			j.logger.Debug("journal: fields not encodable", zap.Error(err))
		}
	}
	if !call.OK() {
		e.Outcome = call.Kind.String()
		if call.Err != nil {
			e.Error = call.Err.Error()
		}
	}
	return e
}
