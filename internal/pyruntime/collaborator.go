package pyruntime

import (
	"context"
	"errors"

	"cmf-bridge/internal/bridge/marshal"
)

// collaborator forwards to one object living in the interpreter.
type collaborator struct {
	rt       *Runtime
	handle   int64
	released bool
}

func (c *collaborator) invoke(ctx context.Context, method string, args ...any) error {
	if c.released {
		return errors.New("pyruntime: collaborator released")
	}
	_, err := c.rt.call(ctx, "call", callParams{Handle: c.handle, Method: method, Args: args})
	return err
}

func (c *collaborator) CreateContext(ctx context.Context, name string) error {
	return c.invoke(ctx, "create_context", name)
}

func (c *collaborator) CreateExecution(ctx context.Context, name string) error {
	return c.invoke(ctx, "create_execution", name)
}

func (c *collaborator) LogMetric(ctx context.Context, key string, fields marshal.FieldSet) error {
	return c.invoke(ctx, "log_metric", key, map[string]any(fields))
}

func (c *collaborator) LogExecutionMetrics(ctx context.Context, name string, fields marshal.FieldSet) error {
	return c.invoke(ctx, "log_execution_metrics", name, map[string]any(fields))
}

func (c *collaborator) CommitMetrics(ctx context.Context, group string) error {
	return c.invoke(ctx, "commit_metrics", group)
}

// Close drops the interpreter's reference to the object. A runtime that is
// already gone has nothing left to release.
func (c *collaborator) Close(ctx context.Context) error {
	if c.released {
		return nil
	}
	c.released = true
	_, err := c.rt.call(ctx, "release", releaseParams{Handle: c.handle})
	if errors.Is(err, ErrNotStarted) {
		return nil
	}
	return err
}
