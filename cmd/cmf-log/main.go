// cmf-log records one metric record through a CMF session. Configuration comes from
// the environment and .env (see internal/config); flags override the session labels.
//
//	cmf-log --key test_metrics --field train_loss=10 --field acc=0.91 --commit
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"cmf-bridge/internal/app"
	"cmf-bridge/internal/bridge"
	"cmf-bridge/internal/config"
	"cmf-bridge/internal/logging"
	"cmf-bridge/internal/telemetry"
)

type options struct {
	key        string
	fields     []string
	fieldsFile string
	blob       string
	execution  bool
	commit     bool
	check      bool
	pipeline   string
	context    string
	execName   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "cmf-log: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, out io.Writer) (*options, error) {
	var o options
	fs := pflag.NewFlagSet("cmf-log", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVarP(&o.key, "key", "k", "", "record key (metrics group name)")
	fs.StringArrayVarP(&o.fields, "field", "f", nil, "field as name=value; repeatable")
	fs.StringVar(&o.fieldsFile, "fields-file", "", "YAML mapping of field names to values")
	fs.StringVar(&o.blob, "json", "", "fields as one JSON object (comments and trailing commas allowed)")
	fs.BoolVar(&o.execution, "execution-metrics", false, "log as execution metrics instead of a metrics group")
	fs.BoolVar(&o.commit, "commit", false, "commit the group after logging")
	fs.BoolVar(&o.check, "check", false, "check configured dependencies and exit")
	fs.StringVar(&o.pipeline, "pipeline", "", "override CMF_PIPELINE_NAME")
	fs.StringVar(&o.context, "context", "", "override CMF_CONTEXT_NAME")
	fs.StringVar(&o.execName, "execution", "", "override CMF_EXECUTION_NAME")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if o.check {
		return &o, nil
	}
	if o.key == "" {
		return nil, errors.New("--key is required")
	}
	if o.blob != "" && (len(o.fields) > 0 || o.fieldsFile != "") {
		return nil, errors.New("--json cannot be combined with --field or --fields-file")
	}
	if o.blob != "" && o.execution {
		return nil, errors.New("--json cannot be combined with --execution-metrics")
	}
	return &o, nil
}

func (o *options) apply(cfg *config.Config) {
	if o.pipeline != "" {
		cfg.PipelineName = o.pipeline
	}
	if o.context != "" {
		cfg.ContextName = o.context
	}
	if o.execName != "" {
		cfg.ExecutionName = o.execName
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	var fields fieldList
	if o.fieldsFile != "" {
		if err := readFieldsFile(o.fieldsFile, &fields); err != nil {
			return err
		}
	}
	if err := parseFieldFlags(o.fields, &fields); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	o.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	bridge.SetLogger(logger)
	telemetry.SetLogger(logger)

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	if o.check {
		return a.Health.Check(ctx)
	}
	return record(ctx, a.Session, app.Params(cfg), o, fields)
}

// record initializes the session and forwards one record. In best-effort
// mode the session swallows errors, so readiness is checked explicitly.
func record(ctx context.Context, s *bridge.Session, params bridge.Params, o *options, fields fieldList) error {
	if err := s.Initialize(ctx, params); err != nil {
		return err
	}
	if !s.IsReady() {
		return errors.New("cmf session not initialized; see log for the cause")
	}
	var err error
	switch {
	case o.blob != "":
		err = s.LogMetricBlob(ctx, o.key, o.blob)
	case o.execution:
		err = s.LogExecutionMetrics(ctx, o.key, fields.names, fields.values)
	default:
		err = s.LogMetric(ctx, o.key, fields.names, fields.values)
	}
	if err != nil {
		return err
	}
	if o.commit && !o.execution {
		if err := s.CommitGroup(ctx, o.key); err != nil {
			return err
		}
	}
	return s.Finalize(ctx)
}
