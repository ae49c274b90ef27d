// Package config loads and validates bridge config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds bridge configuration loaded from the environment.
type Config struct {
	// MLMDPath is the metadata store path passed to the CMF constructor.
	MLMDPath string `mapstructure:"CMF_MLMD_PATH"`
	// PipelineName is the CMF pipeline name; required.
	PipelineName string `mapstructure:"CMF_PIPELINE_NAME"`
	// ContextName is the context (pipeline stage) created at initialization.
	ContextName string `mapstructure:"CMF_CONTEXT_NAME"`
	// ExecutionName is the execution created at initialization.
	ExecutionName string `mapstructure:"CMF_EXECUTION_NAME"`

	// Python is the interpreter binary hosting cmflib (e.g. python3 or a venv path).
	Python string `mapstructure:"CMF_PYTHON"`
	// Module and Class locate the tracking class (default cmflib.cmf.Cmf).
	Module string `mapstructure:"CMF_MODULE"`
	Class  string `mapstructure:"CMF_CLASS"`
	// WorkDir is the interpreter working directory; CMF expects a git/dvc initialized repo.
	WorkDir string `mapstructure:"CMF_WORKDIR"`
	// CallTimeout bounds each foreign call (e.g. "60s"); "0" disables the bound.
	CallTimeout string `mapstructure:"CMF_CALL_TIMEOUT"`

	// TypeInference selects value typing: "lexical" (integers only) or "rich" (floats, booleans, JSON).
	TypeInference string `mapstructure:"CMF_TYPE_INFERENCE"`
	// BestEffort when true makes bridge calls report failures only to logs and never return them.
	BestEffort bool `mapstructure:"CMF_BEST_EFFORT"`
	// PolicyFile is an optional Rego file gating which records may be logged.
	PolicyFile string `mapstructure:"CMF_POLICY_FILE"`
	// PolicyFromDB loads admission policies from the admission_policies table; requires DATABASE_URL.
	PolicyFromDB bool `mapstructure:"CMF_POLICY_DB"`
	// PolicyMaxFields is handed to admission policies as input.limits.max_fields.
	PolicyMaxFields int `mapstructure:"CMF_POLICY_MAX_FIELDS"`

	// DatabaseURL is the Postgres DSN for the call journal; empty disables the journal.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// Telemetry (optional). When Kafka brokers are set, every bridge call is mirrored to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for metric events (default cmf-metrics).
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// Worker-only: Loki URL for the worker to push mirrored events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// OTLPEndpoint is the OTLP gRPC collector (e.g. localhost:4317); empty uses no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// LogLevel is the diagnostic log level (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "console" or "json".
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("CMF_MLMD_PATH", "mlmd")
	v.SetDefault("CMF_PIPELINE_NAME", "")
	v.SetDefault("CMF_CONTEXT_NAME", "default-context")
	v.SetDefault("CMF_EXECUTION_NAME", "default-execution")
	v.SetDefault("CMF_PYTHON", "python3")
	v.SetDefault("CMF_MODULE", "cmflib.cmf")
	v.SetDefault("CMF_CLASS", "Cmf")
	v.SetDefault("CMF_WORKDIR", "")
	v.SetDefault("CMF_CALL_TIMEOUT", "60s")
	v.SetDefault("CMF_TYPE_INFERENCE", "lexical")
	v.SetDefault("CMF_BEST_EFFORT", false)
	v.SetDefault("CMF_POLICY_FILE", "")
	v.SetDefault("CMF_POLICY_DB", false)
	v.SetDefault("CMF_POLICY_MAX_FIELDS", 1000)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "cmf-metrics")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "cmf-metrics-worker")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "cmf-bridge")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.TypeInference) {
	case "lexical", "rich":
	default:
		return nil, errors.New("config: CMF_TYPE_INFERENCE must be lexical or rich")
	}
	switch cfg.LogFormat {
	case "console", "json":
	default:
		return nil, errors.New("config: LOG_FORMAT must be console or json")
	}
	if d, err := time.ParseDuration(cfg.CallTimeout); err != nil || d < 0 {
		return nil, errors.New("config: CMF_CALL_TIMEOUT must be a non-negative duration")
	}
	if cfg.PolicyMaxFields <= 0 {
		return nil, errors.New("config: CMF_POLICY_MAX_FIELDS must be positive")
	}

	return &cfg, nil
}

// Validate checks the fields a bridge session needs. Binaries that only
// consume mirrored events (the worker) skip it.
func (c *Config) Validate() error {
	if c.PipelineName == "" {
		return errors.New("config: CMF_PIPELINE_NAME must be set")
	}
	if c.MLMDPath == "" {
		return errors.New("config: CMF_MLMD_PATH must be set")
	}
	if c.ContextName == "" || c.ExecutionName == "" {
		return errors.New("config: CMF_CONTEXT_NAME and CMF_EXECUTION_NAME must be set")
	}
	if c.PolicyFromDB && c.DatabaseURL == "" {
		return errors.New("config: CMF_POLICY_DB requires DATABASE_URL")
	}
	return nil
}

// CallTimeoutDuration parses CallTimeout. Returns 0 (no bound) when unset or "0".
func (c *Config) CallTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.CallTimeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// AdmissionEnabled reports whether a policy source is configured.
func (c *Config) AdmissionEnabled() bool {
	return c.PolicyFile != "" || c.PolicyFromDB
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if mirroring is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
