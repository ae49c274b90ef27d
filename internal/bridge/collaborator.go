package bridge

import (
	"context"
	"fmt"

	"cmf-bridge/internal/bridge/marshal"
)

// Collaborator is the foreign tracking object (a CMF Cmf instance) a session
// forwards to. Implementations report foreign exceptions as errors.
type Collaborator interface {
	CreateContext(ctx context.Context, name string) error
	CreateExecution(ctx context.Context, name string) error
	LogMetric(ctx context.Context, key string, fields marshal.FieldSet) error
	// LogExecutionMetrics records coarse-grained metrics attached to the current execution.
	LogExecutionMetrics(ctx context.Context, name string, fields marshal.FieldSet) error
	CommitMetrics(ctx context.Context, group string) error
	// Close releases the foreign reference. It must not fail the caller.
	Close(ctx context.Context) error
}

// Runtime hosts collaborators. Start and Shutdown bracket its lifetime;
// Resolve locates the tracking class and constructs an instance bound to
// (storePath, pipeline).
type Runtime interface {
	Start(ctx context.Context) error
	Resolve(ctx context.Context, storePath, pipeline string) (Collaborator, error)
	Shutdown(ctx context.Context) error
}

// Params are the Initialize arguments. All fields must be non-empty.
type Params struct {
	// StorePath is the MLMD file path handed to the collaborator constructor.
	StorePath string
	Pipeline  string
	Context   string
	Execution string
}

func (p Params) validate() error {
	switch {
	case p.StorePath == "":
		return errEmptyParam("store path")
	case p.Pipeline == "":
		return errEmptyParam("pipeline")
	case p.Context == "":
		return errEmptyParam("context")
	case p.Execution == "":
		return errEmptyParam("execution")
	}
	return nil
}

func errEmptyParam(name string) error {
	return fmt.Errorf("%w: %s must be set", ErrInvalidParams, name)
}
