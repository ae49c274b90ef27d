package repository

import (
	"context"
	"database/sql"
	"errors"

	"cmf-bridge/internal/journal/domain"
)

const entryColumns = `id, pipeline, context, execution, op, key, field_count, fields, outcome, error, host, duration_ms, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a journal repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the entry for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Entry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM bridge_calls WHERE id = $1`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// ListByPipeline returns entries for the pipeline, newest first, paginated by limit and offset.
// Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByPipeline(ctx context.Context, pipeline string, limit, offset int32) ([]*domain.Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM bridge_calls WHERE pipeline = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`,
		pipeline, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Create persists the entry. The entry must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Entry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bridge_calls (`+entryColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.Pipeline, nullString(e.Context), nullString(e.Execution), e.Op, e.Key, e.FieldCount,
		nullString(e.Fields), e.Outcome, nullString(e.Error), e.Host, e.DurationMS, e.CreatedAt)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*domain.Entry, error) {
	var (
		e                              domain.Entry
		ctxName, exec, fields, errText sql.NullString
	)
	if err := s.Scan(&e.ID, &e.Pipeline, &ctxName, &exec, &e.Op, &e.Key, &e.FieldCount,
		&fields, &e.Outcome, &errText, &e.Host, &e.DurationMS, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Context = ctxName.String
	e.Execution = exec.String
	e.Fields = fields.String
	e.Error = errText.String
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
