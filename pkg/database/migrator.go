package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    VARCHAR(255) PRIMARY KEY,
    applied_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
)`

// Migrator applies the embedded migrations in file name order. Every file
// runs in its own transaction and is recorded in schema_migrations, so a
// file is applied at most once.
type Migrator struct {
	db     *DB
	source fs.FS
}

func NewMigrator(db *DB) *Migrator {
	sub, _ := fs.Sub(migrationsFS, "migrations")
	return &Migrator{db: db, source: sub}
}

// Run applies every pending migration and returns how many ran.
func (m *Migrator) Run(ctx context.Context) (int, error) {
	if _, err := m.db.ExecContext(ctx, createMigrationsTable); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	files, err := migrationFiles(m.source)
	if err != nil {
		return 0, fmt.Errorf("failed to get migration files: %w", err)
	}
	applied, err := m.db.appliedMigrations(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, file := range files {
		if applied[file] {
			continue
		}
		if err := m.apply(ctx, file); err != nil {
			return count, fmt.Errorf("failed to execute migration %s: %w", file, err)
		}
		count++
	}

	if count > 0 {
		logger.Infof("Applied %d database migrations", count)
	}
	return count, nil
}

func migrationFiles(source fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(source, ".")
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func (m *Migrator) apply(ctx context.Context, file string) error {
	content, err := fs.ReadFile(m.source, file)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	logger.WithField("migration", file).Info("Executing migration")

	return m.db.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute SQL: %w", err)
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, file)
		return err
	})
}
