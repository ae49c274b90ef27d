package repository

import (
	"context"

	"cmf-bridge/internal/journal/domain"
)

// Repository defines persistence for journal entries.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Entry, error)
	ListByPipeline(ctx context.Context, pipeline string, limit, offset int32) ([]*domain.Entry, error)
	Create(ctx context.Context, e *domain.Entry) error
}
