package engine

import (
	"context"
	"strings"

	"cmf-bridge/internal/bridge/marshal"
)

// Evaluator decides whether a typed metric record may be forwarded to CMF.
type Evaluator interface {
	// Admit returns nil when the record is allowed and a *DeniedError listing
	// the policy's reasons when it is not.
	Admit(ctx context.Context, op, key string, fields marshal.FieldSet) error
}

// DeniedError carries the deny messages produced by the policy.
type DeniedError struct {
	Reasons []string
}

func (e *DeniedError) Error() string {
	return "policy: denied: " + strings.Join(e.Reasons, "; ")
}
