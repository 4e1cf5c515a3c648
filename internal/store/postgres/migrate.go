package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// RunMigrations executes a goose command ("up", "down", "status", ...)
// against the embedded migrations.
func RunMigrations(ctx context.Context, db *sql.DB, command string, args ...string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.RunContext(ctx, command, db, migrationsDir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// Migrate applies all pending migrations.
func (s *Store) Migrate(ctx context.Context) error {
	return RunMigrations(ctx, s.db, "up")
}
