package pyruntime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"cmf-bridge/internal/bridge"
)

// TestHelperProcess is not a real test: it stands in for the Python
// interpreter when the test binary re-executes itself.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	runFakeInterpreter(os.Getenv("HELPER_MODE"), os.Getenv("HELPER_LOG"))
	os.Exit(0)
}

func runFakeInterpreter(mode, logPath string) {
	out := bufio.NewWriter(os.Stdout)
	reply := func(v any) {
		b, _ := json.Marshal(v)
		out.Write(b)
		out.WriteByte('\n')
		out.Flush()
	}
	in := bufio.NewScanner(os.Stdin)

	if mode == "nohandshake" {
		reply(map[string]any{"id": 0, "result": map[string]any{"ready": false}})
		for in.Scan() {
		}
		return
	}
	reply(map[string]any{"id": 0, "result": map[string]any{"ready": true, "python": "3.11.4"}})
	fmt.Fprintln(os.Stderr, "*** fake interpreter up ***")

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		os.Exit(2)
	}
	defer logFile.Close()

	for in.Scan() {
		fmt.Fprintf(logFile, "%s\n", in.Bytes())
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
			Params struct {
				Method string `json:"method"`
			} `json:"params"`
		}
		if err := json.Unmarshal(in.Bytes(), &req); err != nil {
			continue
		}
		switch req.Method {
		case "resolve":
			if mode == "nomodule" {
				reply(map[string]any{"id": req.ID, "error": map[string]any{
					"type": "ModuleNotFoundError", "message": "No module named 'cmflib'", "traceback": "Traceback ...",
				}})
				continue
			}
			reply(map[string]any{"id": req.ID, "result": map[string]any{"handle": 1}})
		case "call":
			switch {
			case mode == "hang":
				select {}
			case mode == "crash":
				os.Exit(3)
			case mode == "raise" && req.Params.Method == "commit_metrics":
				reply(map[string]any{"id": req.ID, "error": map[string]any{
					"type": "KeyError", "message": "'test_metrics'", "traceback": "",
				}})
				continue
			}
			reply(map[string]any{"id": req.ID, "result": nil})
		case "release":
			reply(map[string]any{"id": req.ID, "result": nil})
		case "shutdown":
			reply(map[string]any{"id": req.ID, "result": nil})
			if mode == "farewell" {
				for i := 0; i < 200; i++ {
					fmt.Fprintf(os.Stderr, "closing line %d\n", i)
				}
				fmt.Fprintln(os.Stderr, "Traceback: last words")
			}
			return
		}
	}
}

// helperRuntime returns a Runtime whose interpreter is this test binary in
// the given fake mode, plus the path of the request log it writes.
func helperRuntime(t *testing.T, mode string, cfg Config) (*Runtime, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "requests.jsonl")
	r := New(cfg, zap.NewNop())
	r.newCmd = func() *exec.Cmd {
		cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$", "--")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_MODE="+mode, "HELPER_LOG="+logPath)
		return cmd
	}
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r, logPath
}

type loggedRequest struct {
	Method string `json:"method"`
	Params struct {
		Method string `json:"method"`
		Args   []any  `json:"args"`
		Module string `json:"module"`
		Class  string `json:"class"`
		Store  string `json:"store_path"`
	} `json:"params"`
}

func readRequests(t *testing.T, path string) []loggedRequest {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read request log: %v", err)
	}
	var out []loggedRequest
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var req loggedRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, req)
	}
	return out
}

func TestRuntime_FullSession(t *testing.T) {
	rt, logPath := helperRuntime(t, "ok", Config{})
	s := bridge.New(rt)
	ctx := context.Background()

	params := bridge.Params{StorePath: "/tmp/mlmd", Pipeline: "test_pipeline", Context: "Train-test", Execution: "Train-test-execution"}
	if err := s.Initialize(ctx, params); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if rt.Version() != "3.11.4" {
		t.Errorf("Version = %q, want 3.11.4", rt.Version())
	}
	if err := s.LogMetric(ctx, "test_metrics", []string{"train_loss"}, []string{"10"}); err != nil {
		t.Fatalf("LogMetric: %v", err)
	}
	if err := s.CommitGroup(ctx, "test_metrics"); err != nil {
		t.Fatalf("CommitGroup: %v", err)
	}
	if err := s.Finalize(ctx); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	reqs := readRequests(t, logPath)
	want := []string{"resolve", "call:create_context", "call:create_execution", "call:log_metric", "call:commit_metrics", "release", "shutdown"}
	if len(reqs) != len(want) {
		t.Fatalf("got %d requests, want %d: %+v", len(reqs), len(want), reqs)
	}
	for i, w := range want {
		got := reqs[i].Method
		if reqs[i].Params.Method != "" {
			got += ":" + reqs[i].Params.Method
		}
		if got != w {
			t.Errorf("request %d = %s, want %s", i, got, w)
		}
	}
	if r := reqs[0].Params; r.Module != "cmflib.cmf" || r.Class != "Cmf" || r.Store != "/tmp/mlmd" {
		t.Errorf("resolve params = %+v", r)
	}
	logArgs := reqs[3].Params.Args
	if len(logArgs) != 2 || logArgs[0] != "test_metrics" {
		t.Fatalf("log_metric args = %v", logArgs)
	}
	fields, ok := logArgs[1].(map[string]any)
	if !ok || fields["train_loss"] != float64(10) {
		t.Errorf("log_metric fields = %#v, want train_loss as JSON number 10", logArgs[1])
	}
}

func TestRuntime_ResolveModuleNotFound(t *testing.T) {
	rt, logPath := helperRuntime(t, "nomodule", Config{})
	s := bridge.New(rt)
	ctx := context.Background()

	err := s.Initialize(ctx, bridge.Params{StorePath: "m", Pipeline: "p", Context: "c", Execution: "e"})
	if bridge.KindOf(err) != bridge.KindInit {
		t.Fatalf("err = %v, want KindInit", err)
	}
	var fe *ForeignError
	if !errors.As(err, &fe) || fe.Type != "ModuleNotFoundError" {
		t.Errorf("err = %v, want ModuleNotFoundError", err)
	}
	if s.IsReady() {
		t.Error("IsReady should be false")
	}
	for _, req := range readRequests(t, logPath) {
		if req.Method == "call" {
			t.Errorf("unexpected call %s after failed resolve", req.Params.Method)
		}
	}
}

func TestRuntime_ForeignErrorKeepsInterpreter(t *testing.T) {
	rt, _ := helperRuntime(t, "raise", Config{})
	s := bridge.New(rt)
	ctx := context.Background()
	if err := s.Initialize(ctx, bridge.Params{StorePath: "m", Pipeline: "p", Context: "c", Execution: "e"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	err := s.CommitGroup(ctx, "test_metrics")
	var fe *ForeignError
	if !errors.As(err, &fe) || fe.Type != "KeyError" {
		t.Fatalf("err = %v, want KeyError", err)
	}
	if err := s.LogMetric(ctx, "test_metrics", []string{"a"}, []string{"1"}); err != nil {
		t.Errorf("LogMetric after foreign error: %v", err)
	}
}

func TestRuntime_CallTimeoutKillsInterpreter(t *testing.T) {
	rt, _ := helperRuntime(t, "hang", Config{CallTimeout: 200 * time.Millisecond})
	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c, err := rt.Resolve(ctx, "m", "p")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := c.CreateContext(ctx, "c"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("CreateContext err = %v, want deadline exceeded", err)
	}
	if err := c.CreateExecution(ctx, "e"); err == nil {
		t.Error("calls after an abandoned call should fail")
	}
	if err := rt.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if err := rt.Start(ctx); err != nil {
		t.Errorf("restart after kill: %v", err)
	}
}

func TestRuntime_InterpreterCrash(t *testing.T) {
	rt, _ := helperRuntime(t, "crash", Config{})
	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c, err := rt.Resolve(ctx, "m", "p")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := c.LogMetric(ctx, "k", nil); !errors.Is(err, ErrExited) {
		t.Fatalf("LogMetric err = %v, want ErrExited", err)
	}
	if err := rt.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown after crash: %v", err)
	}
}

func TestRuntime_HandshakeRejected(t *testing.T) {
	rt, _ := helperRuntime(t, "nohandshake", Config{StartTimeout: 5 * time.Second})
	if err := rt.Start(context.Background()); err == nil {
		t.Fatal("Start should fail when the interpreter is not ready")
	}
	if _, err := rt.Resolve(context.Background(), "m", "p"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Resolve err = %v, want ErrNotStarted", err)
	}
}

func TestRuntime_MissingInterpreter(t *testing.T) {
	rt := New(Config{Python: filepath.Join(t.TempDir(), "no-such-python")}, nil)
	if err := rt.Start(context.Background()); err == nil {
		t.Fatal("Start should fail for a missing interpreter")
	}
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown of never-started runtime: %v", err)
	}
}

func TestRuntime_CollaboratorCloseTwice(t *testing.T) {
	rt, logPath := helperRuntime(t, "ok", Config{})
	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c, err := rt.Resolve(ctx, "m", "p")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := c.CommitMetrics(ctx, "g"); err == nil {
		t.Error("calls on a released collaborator should fail")
	}
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	releases := 0
	for _, req := range readRequests(t, logPath) {
		if req.Method == "release" {
			releases++
		}
	}
	if releases != 1 {
		t.Errorf("release requests = %d, want 1", releases)
	}
}

func TestShimSourceEmbedded(t *testing.T) {
	for _, want := range []string{"def main", "importlib.import_module", "SystemExit"} {
		if !strings.Contains(shimSource, want) {
			t.Errorf("shim source missing %q", want)
		}
	}
}

func TestRuntime_ShutdownKeepsFinalStderr(t *testing.T) {
	rt, _ := helperRuntime(t, "farewell", Config{})
	core, logs := observer.New(zap.InfoLevel)
	rt.logger = zap.New(core)
	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	found := false
	for _, e := range logs.FilterMessage("python").All() {
		if e.ContextMap()["line"] == "Traceback: last words" {
			found = true
		}
	}
	if !found {
		t.Error("last stderr line written before exit was not logged")
	}
}
