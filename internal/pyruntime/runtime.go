// Package pyruntime hosts the CMF tracking class in a Python interpreter
// child process. The interpreter runs an embedded shim that speaks one JSON
// request and one JSON response per line over stdin/stdout; the hosted
// library's own output and tracebacks go to stderr, which is forwarded to
// the diagnostic logger.
package pyruntime

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"cmf-bridge/internal/bridge"
)

//go:embed shim.py
var shimSource string

const (
	defaultPython       = "python3"
	defaultModule       = "cmflib.cmf"
	defaultClass        = "Cmf"
	defaultStartTimeout = 30 * time.Second
	shutdownGrace       = 5 * time.Second
	maxLineBytes        = 16 << 20
)

var (
	// ErrNotStarted is returned by calls made before Start or after Shutdown.
	ErrNotStarted = errors.New("pyruntime: interpreter not started")
	// ErrExited is returned when the interpreter exits while a call is pending.
	ErrExited = errors.New("pyruntime: interpreter exited")
)

// Config locates the interpreter and the tracking class.
type Config struct {
	// Python is the interpreter binary (default python3).
	Python string
	// Module and Class name the tracking class (default cmflib.cmf.Cmf).
	Module string
	Class  string
	// Dir is the interpreter working directory; empty inherits ours.
	Dir string
	// Env is appended to the current environment.
	Env []string
	// CallTimeout bounds each call; 0 waits for the interpreter indefinitely.
	CallTimeout time.Duration
	// StartTimeout bounds the interpreter handshake (default 30s).
	StartTimeout time.Duration
}

// Runtime implements bridge.Runtime on a Python child process.
// Each Start launches a fresh interpreter; calls are serialized.
type Runtime struct {
	cfg    Config
	logger *zap.Logger

	// newCmd builds the interpreter command; tests replace it.
	newCmd func() *exec.Cmd

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	resp     chan *response
	stop     chan struct{}
	readDone chan struct{}
	nextID   uint64
	broken   error
	version  string

	// stderrDone closes once interpreter stderr is drained; Wait must not run before.
	stderrDone chan struct{}
}

var _ bridge.Runtime = (*Runtime)(nil)

// New returns a runtime for cfg. logger receives interpreter stderr and
// foreign tracebacks; nil discards them.
func New(cfg Config, logger *zap.Logger) *Runtime {
	if cfg.Python == "" {
		cfg.Python = defaultPython
	}
	if cfg.Module == "" {
		cfg.Module = defaultModule
	}
	if cfg.Class == "" {
		cfg.Class = defaultClass
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runtime{cfg: cfg, logger: logger}
	r.newCmd = r.pythonCmd
	return r
}

func (r *Runtime) pythonCmd() *exec.Cmd {
	cmd := exec.Command(r.cfg.Python, "-u", "-c", shimSource)
	cmd.Dir = r.cfg.Dir
	cmd.Env = append(os.Environ(), r.cfg.Env...)
	return cmd
}

// Version returns the interpreter version reported at handshake.
func (r *Runtime) Version() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Start launches the interpreter and waits for its handshake.
// Starting a running runtime is a no-op.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil {
		return nil
	}

	cmd := r.newCmd()
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("pyruntime: stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pyruntime: stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("pyruntime: stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("pyruntime: start %s: %w", cmd.Path, err)
	}

	r.cmd = cmd
	r.stdin = stdin
	r.resp = make(chan *response)
	r.stop = make(chan struct{})
	r.readDone = make(chan struct{})
	r.stderrDone = make(chan struct{})
	r.nextID = 0
	r.broken = nil
	go r.readLoop(stdout, r.resp, r.stop, r.readDone)
	go r.logStderr(stderr, r.stderrDone)

	hsCtx, cancel := context.WithTimeout(ctx, r.cfg.StartTimeout)
	defer cancel()
	raw, err := r.await(hsCtx, 0)
	if err != nil {
		_ = r.teardownLocked(context.Background())
		return fmt.Errorf("pyruntime: handshake: %w", err)
	}
	var ready readyResult
	if err := json.Unmarshal(raw, &ready); err != nil || !ready.Ready {
		_ = r.teardownLocked(context.Background())
		return fmt.Errorf("pyruntime: handshake: unexpected reply %s", raw)
	}
	r.version = ready.Python
	r.logger.Info("python interpreter started",
		zap.String("python", r.cfg.Python),
		zap.String("version", ready.Python),
		zap.Int("pid", cmd.Process.Pid))
	return nil
}

// Resolve imports the configured module, constructs Class(storePath, pipeline)
// and returns a collaborator bound to the new object.
func (r *Runtime) Resolve(ctx context.Context, storePath, pipeline string) (bridge.Collaborator, error) {
	raw, err := r.call(ctx, "resolve", resolveParams{
		Module:    r.cfg.Module,
		Class:     r.cfg.Class,
		StorePath: storePath,
		Pipeline:  pipeline,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve %s.%s: %w", r.cfg.Module, r.cfg.Class, err)
	}
	var res resolveResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("resolve %s.%s: decode handle: %w", r.cfg.Module, r.cfg.Class, err)
	}
	return &collaborator{rt: r, handle: res.Handle}, nil
}

// Shutdown asks the interpreter to exit and waits for it, killing it after a
// grace period. Safe to call when not started.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil {
		return nil
	}
	if r.broken == nil {
		sdCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
		if _, err := r.callLocked(sdCtx, "shutdown", nil); err != nil && !errors.Is(err, ErrExited) {
			r.logger.Warn("python shutdown request failed", zap.Error(err))
		}
		cancel()
	}
	return r.teardownLocked(ctx)
}

func (r *Runtime) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.callLocked(ctx, method, params)
}

func (r *Runtime) callLocked(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if r.cmd == nil {
		return nil, ErrNotStarted
	}
	if r.broken != nil {
		return nil, r.broken
	}
	if r.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()
	}

	r.nextID++
	id := r.nextID
	line, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("pyruntime: encode %s: %w", method, err)
	}
	if _, err := r.stdin.Write(append(line, '\n')); err != nil {
		r.broken = fmt.Errorf("pyruntime: write %s: %w", method, err)
		return nil, r.broken
	}
	return r.await(ctx, id)
}

// await waits for the response with the given id. A context expiry leaves
// the interpreter mid-call, so the process is killed and the runtime marked
// broken until the next Start.
func (r *Runtime) await(ctx context.Context, id uint64) (json.RawMessage, error) {
	for {
		select {
		case resp, ok := <-r.resp:
			if !ok {
				r.broken = ErrExited
				return nil, ErrExited
			}
			if resp.ID == nil || *resp.ID != id {
				r.logger.Warn("python stray response", zap.Any("id", resp.ID))
				continue
			}
			if resp.Error != nil {
				if resp.Error.Traceback != "" {
					r.logger.Debug("python traceback", zap.String("traceback", resp.Error.Traceback))
				}
				return nil, resp.Error
			}
			return resp.Result, nil
		case <-ctx.Done():
			r.broken = fmt.Errorf("pyruntime: call %d abandoned: %w", id, ctx.Err())
			if r.cmd.Process != nil {
				_ = r.cmd.Process.Kill()
			}
			return nil, ctx.Err()
		}
	}
}

func (r *Runtime) teardownLocked(ctx context.Context) error {
	_ = r.stdin.Close()
	close(r.stop)

	graceCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	select {
	case <-r.readDone:
	case <-graceCtx.Done():
		r.logger.Warn("python interpreter did not exit, killing", zap.Int("pid", r.cmd.Process.Pid))
		_ = r.cmd.Process.Kill()
		select {
		case <-r.readDone:
		case <-time.After(shutdownGrace):
		}
	}
	select {
	case <-r.stderrDone:
	case <-time.After(shutdownGrace):
		r.logger.Warn("python stderr still open after exit", zap.Int("pid", r.cmd.Process.Pid))
	}
	err := r.cmd.Wait()
	r.cmd = nil
	r.stdin = nil
	if err != nil && r.broken == nil {
		return fmt.Errorf("pyruntime: interpreter exit: %w", err)
	}
	return nil
}

func (r *Runtime) readLoop(stdout io.Reader, out chan<- *response, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer close(out)
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		var resp response
		if err := json.Unmarshal(sc.Bytes(), &resp); err != nil {
			r.logger.Warn("python protocol: bad line", zap.ByteString("line", sc.Bytes()), zap.Error(err))
			continue
		}
		select {
		case out <- &resp:
		case <-stop:
			return
		}
	}
}

func (r *Runtime) logStderr(stderr io.Reader, done chan<- struct{}) {
	defer close(done)
	sc := bufio.NewScanner(stderr)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		r.logger.Info("python", zap.String("line", sc.Text()))
	}
}
