package bridge

import (
	"context"
	"errors"
	"sync"

	"cmf-bridge/internal/bridge/marshal"
)

// recordedCall is one collaborator invocation seen by recordingCollaborator.
type recordedCall struct {
	method string
	arg    string
	fields marshal.FieldSet
}

// recordingCollaborator implements Collaborator and records every call.
type recordingCollaborator struct {
	mu       sync.Mutex
	calls    []recordedCall
	failOn   map[string]error
	panicOn  string
	closed   int
	closeErr error
}

func (c *recordingCollaborator) record(method, arg string, fields marshal.FieldSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if method == c.panicOn {
		panic("collaborator exploded")
	}
	c.calls = append(c.calls, recordedCall{method: method, arg: arg, fields: fields})
	return c.failOn[method]
}

func (c *recordingCollaborator) CreateContext(ctx context.Context, name string) error {
	return c.record("create_context", name, nil)
}

func (c *recordingCollaborator) CreateExecution(ctx context.Context, name string) error {
	return c.record("create_execution", name, nil)
}

func (c *recordingCollaborator) LogMetric(ctx context.Context, key string, fields marshal.FieldSet) error {
	return c.record("log_metric", key, fields)
}

func (c *recordingCollaborator) LogExecutionMetrics(ctx context.Context, name string, fields marshal.FieldSet) error {
	return c.record("log_execution_metrics", name, fields)
}

func (c *recordingCollaborator) CommitMetrics(ctx context.Context, group string) error {
	return c.record("commit_metrics", group, nil)
}

func (c *recordingCollaborator) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return c.closeErr
}

func (c *recordingCollaborator) getCalls() []recordedCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]recordedCall, len(c.calls))
	copy(out, c.calls)
	return out
}

// mockRuntime implements Runtime with a fixed collaborator.
type mockRuntime struct {
	collab      *recordingCollaborator
	startErr    error
	resolveErr  error
	starts      int
	shutdowns   int
	resolves    int
	storePath   string
	pipeline    string
	shutdownErr error
}

func (r *mockRuntime) Start(ctx context.Context) error {
	r.starts++
	return r.startErr
}

func (r *mockRuntime) Resolve(ctx context.Context, storePath, pipeline string) (Collaborator, error) {
	r.resolves++
	r.storePath, r.pipeline = storePath, pipeline
	if r.resolveErr != nil {
		return nil, r.resolveErr
	}
	return r.collab, nil
}

func (r *mockRuntime) Shutdown(ctx context.Context) error {
	r.shutdowns++
	return r.shutdownErr
}

func newMockRuntime() *mockRuntime {
	return &mockRuntime{collab: &recordingCollaborator{}}
}

var errModuleNotFound = errors.New("ModuleNotFoundError: No module named 'cmflib'")

var testParams = Params{StorePath: "path", Pipeline: "pipeline", Context: "ctx", Execution: "exec"}

// callCapture is an Observer that stores every call.
type callCapture struct {
	mu    sync.Mutex
	calls []Call
}

func (c *callCapture) ObserveCall(ctx context.Context, call Call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *callCapture) get() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}
