package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	"cmf-bridge/internal/bridge"
	"cmf-bridge/internal/bridge/marshal"
	"cmf-bridge/internal/policy/repository"
)

const denyQuery = "data.cmf.admission.deny"

// DefaultMaxFields is the field count limit handed to the policy as input.limits.max_fields.
const DefaultMaxFields = 1000

// Default Rego policy: bounded field count and no dunder field names, which
// cmflib reserves for its own bookkeeping.
const defaultRegoPolicy = `package cmf.admission

deny contains msg if {
	count(input.fields) > input.limits.max_fields
	msg := sprintf("%v: %v fields exceeds limit %v", [input.key, count(input.fields), input.limits.max_fields])
}

deny contains msg if {
	some name, _ in input.fields
	startswith(name, "__")
	msg := sprintf("%v: reserved field name %v", [input.key, name])
}
`

var _ bridge.Admission = (*OPAEvaluator)(nil)

// OPAEvaluator evaluates admission policies using OPA Rego. Policies come
// from a repository; with none enabled the default policy applies.
type OPAEvaluator struct {
	repo      repository.Repository
	maxFields int
	pipeline  string
	logger    *zap.Logger

	mu    sync.RWMutex
	query *rego.PreparedEvalQuery
}

// Option configures an OPAEvaluator.
type Option func(*OPAEvaluator)

// WithMaxFields sets input.limits.max_fields.
func WithMaxFields(n int) Option { return func(e *OPAEvaluator) { e.maxFields = n } }

// WithPipeline sets input.pipeline so policies can scope rules per pipeline.
func WithPipeline(name string) Option { return func(e *OPAEvaluator) { e.pipeline = name } }

// WithLogger sets the diagnostic logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *OPAEvaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewOPAEvaluator returns an OPA-based admission evaluator. repo may be nil.
func NewOPAEvaluator(repo repository.Repository, opts ...Option) *OPAEvaluator {
	e := &OPAEvaluator{repo: repo, maxFields: DefaultMaxFields, logger: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// HealthCheck verifies that the in-process OPA Rego engine can compile and evaluate the default policy.
// Does not call the policy repo. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	q, err := prepare(ctx, []string{defaultRegoPolicy})
	if err != nil {
		return err
	}
	rs, err := q.Eval(ctx, rego.EvalInput(e.buildInput("log_metric", "health", marshal.FieldSet{"x": int64(1)})))
	if err != nil {
		return fmt.Errorf("eval default policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("policy query returned no result")
	}
	return nil
}

// Load compiles the repository's enabled policies, replacing any previously
// loaded set. A compile failure keeps the previous set.
func (e *OPAEvaluator) Load(ctx context.Context) error {
	var policies []string
	if e.repo != nil {
		enabled, err := e.repo.ListEnabled(ctx)
		if err != nil {
			return fmt.Errorf("load policies: %w", err)
		}
		for _, p := range enabled {
			if p.Enabled && p.Rules != "" {
				policies = append(policies, p.Rules)
			}
		}
	}
	if len(policies) == 0 {
		policies = []string{defaultRegoPolicy}
	}
	q, err := prepare(ctx, policies)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.query = q
	e.mu.Unlock()
	e.logger.Info("admission policies loaded", zap.Int("count", len(policies)))
	return nil
}

// Admit evaluates data.cmf.admission.deny for the record. An evaluation
// failure is logged and the record admitted.
func (e *OPAEvaluator) Admit(ctx context.Context, op, key string, fields marshal.FieldSet) error {
	e.mu.RLock()
	q := e.query
	e.mu.RUnlock()
	if q == nil {
		if err := e.Load(ctx); err != nil {
			e.logger.Warn("policy: load failed, admitting", zap.Error(err))
			return nil
		}
		e.mu.RLock()
		q = e.query
		e.mu.RUnlock()
	}

	rs, err := q.Eval(ctx, rego.EvalInput(e.buildInput(op, key, fields)))
	if err != nil {
		e.logger.Warn("policy: evaluation failed, admitting", zap.String("key", key), zap.Error(err))
		return nil
	}
	reasons := denyReasons(rs)
	if len(reasons) == 0 {
		return nil
	}
	return &DeniedError{Reasons: reasons}
}

func (e *OPAEvaluator) buildInput(op, key string, fields marshal.FieldSet) map[string]interface{} {
	f := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		f[k] = v
	}
	return map[string]interface{}{
		"op":       op,
		"key":      key,
		"pipeline": e.pipeline,
		"fields":   f,
		"limits": map[string]interface{}{
			"max_fields": e.maxFields,
		},
	}
}

func prepare(ctx context.Context, policies []string) (*rego.PreparedEvalQuery, error) {
	modules := make(map[string]string, len(policies))
	for i, policy := range policies {
		modules[fmt.Sprintf("policy_%d.rego", i)] = policy
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return nil, fmt.Errorf("compile policies: %w", err)
	}
	q, err := rego.New(
		rego.Query(denyQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policies: %w", err)
	}
	return &q, nil
}

func denyReasons(rs rego.ResultSet) []string {
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil
	}
	set, ok := rs[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for _, v := range set {
		out = append(out, fmt.Sprint(v))
	}
	sort.Strings(out)
	return out
}
