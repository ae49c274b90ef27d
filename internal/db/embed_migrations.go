package db

import "embed"

// MigrationFS embeds the journal and admission-policy schema from internal/db/migrations.
// Used by the migrate runner (cmd/migrate) to apply migrations.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
