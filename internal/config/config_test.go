package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.MLMDPath != "mlmd" {
		t.Errorf("MLMDPath = %q, want %q", cfg.MLMDPath, "mlmd")
	}
	if cfg.ContextName != "default-context" {
		t.Errorf("ContextName = %q, want %q", cfg.ContextName, "default-context")
	}
	if cfg.ExecutionName != "default-execution" {
		t.Errorf("ExecutionName = %q, want %q", cfg.ExecutionName, "default-execution")
	}
	if cfg.Python != "python3" {
		t.Errorf("Python = %q, want python3", cfg.Python)
	}
	if cfg.Module != "cmflib.cmf" || cfg.Class != "Cmf" {
		t.Errorf("Module.Class = %s.%s, want cmflib.cmf.Cmf", cfg.Module, cfg.Class)
	}
	if cfg.TypeInference != "lexical" {
		t.Errorf("TypeInference = %q, want lexical", cfg.TypeInference)
	}
	if cfg.BestEffort {
		t.Error("BestEffort should default to false")
	}
	if cfg.TelemetryKafkaTopic != "cmf-metrics" {
		t.Errorf("TelemetryKafkaTopic = %q, want cmf-metrics", cfg.TelemetryKafkaTopic)
	}
	if cfg.KafkaGroupID != "cmf-metrics-worker" {
		t.Errorf("KafkaGroupID = %q, want cmf-metrics-worker", cfg.KafkaGroupID)
	}
	if cfg.ServiceName != "cmf-bridge" {
		t.Errorf("ServiceName = %q, want cmf-bridge", cfg.ServiceName)
	}
	if cfg.PolicyMaxFields != 1000 {
		t.Errorf("PolicyMaxFields = %d, want 1000", cfg.PolicyMaxFields)
	}
	if cfg.CallTimeoutDuration() != 60*time.Second {
		t.Errorf("CallTimeoutDuration = %v, want 60s", cfg.CallTimeoutDuration())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("CMF_PIPELINE_NAME", "test_pipeline")
	os.Setenv("CMF_MLMD_PATH", "/data/mlmd")
	os.Setenv("CMF_TYPE_INFERENCE", "rich")
	os.Setenv("CMF_BEST_EFFORT", "true")
	os.Setenv("CMF_CALL_TIMEOUT", "0")
	os.Setenv("CMF_POLICY_MAX_FIELDS", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PipelineName != "test_pipeline" {
		t.Errorf("PipelineName = %q, want test_pipeline", cfg.PipelineName)
	}
	if cfg.MLMDPath != "/data/mlmd" {
		t.Errorf("MLMDPath = %q, want /data/mlmd", cfg.MLMDPath)
	}
	if cfg.TypeInference != "rich" {
		t.Errorf("TypeInference = %q, want rich", cfg.TypeInference)
	}
	if !cfg.BestEffort {
		t.Error("BestEffort should be true")
	}
	if cfg.PolicyMaxFields != 25 {
		t.Errorf("PolicyMaxFields = %d, want 25", cfg.PolicyMaxFields)
	}
	if cfg.CallTimeoutDuration() != 0 {
		t.Errorf("CallTimeoutDuration = %v, want 0", cfg.CallTimeoutDuration())
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown inference", "CMF_TYPE_INFERENCE", "json"},
		{"unknown log format", "LOG_FORMAT", "xml"},
		{"bad timeout", "CMF_CALL_TIMEOUT", "soon"},
		{"negative timeout", "CMF_CALL_TIMEOUT", "-1s"},
		{"zero max fields", "CMF_POLICY_MAX_FIELDS", "0"},
		{"non-numeric max fields", "CMF_POLICY_MAX_FIELDS", "many"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv(tc.key, tc.value)
			cfg, err := Load()
			if err == nil {
				t.Fatal("Load should return error")
			}
			if cfg != nil {
				t.Error("Load should return nil config on error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil || err.Error() != "config: CMF_PIPELINE_NAME must be set" {
		t.Errorf("Validate = %v, want pipeline required", err)
	}
	cfg.PipelineName = "p"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	cfg.PolicyFromDB = true
	if err := cfg.Validate(); err == nil {
		t.Error("Validate should require DATABASE_URL for CMF_POLICY_DB")
	}
	cfg.DatabaseURL = "postgres://localhost/cmf"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	cfg.ExecutionName = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Validate should require an execution name")
	}
}

func TestAdmissionEnabled(t *testing.T) {
	testCases := []struct {
		cfg  Config
		want bool
	}{
		{Config{}, false},
		{Config{PolicyFile: "policy.rego"}, true},
		{Config{PolicyFromDB: true}, true},
	}
	for _, tc := range testCases {
		if got := tc.cfg.AdmissionEnabled(); got != tc.want {
			t.Errorf("AdmissionEnabled(%+v) = %v, want %v", tc.cfg, got, tc.want)
		}
	}
}

func TestTelemetryKafkaBrokersList(t *testing.T) {
	testCases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"localhost:9092", []string{"localhost:9092"}},
		{" a:1 , ,b:2 ", []string{"a:1", "b:2"}},
	}
	for _, tc := range testCases {
		cfg := &Config{TelemetryKafkaBrokers: tc.in}
		if got := cfg.TelemetryKafkaBrokersList(); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("TelemetryKafkaBrokersList(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	var nilCfg *Config
	if nilCfg.TelemetryKafkaBrokersList() != nil {
		t.Error("nil config should return nil brokers")
	}
}
