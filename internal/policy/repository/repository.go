package repository

import (
	"context"

	"cmf-bridge/internal/policy/domain"
)

// Repository is a source of admission policies.
type Repository interface {
	// ListEnabled returns the enabled policies. An empty result means the
	// built-in default policy applies.
	ListEnabled(ctx context.Context) ([]*domain.Policy, error)
}
