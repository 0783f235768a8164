package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/enitrat/super-ralph/pkg/schema"
)

//go:embed migrations
var migrationsFS embed.FS

const migrationsDir = "migrations"

// runMigrations applies every embedded *.sql file that hasn't already run,
// tracked in schema_migrations. golang-migrate's sqlite3 driver requires
// cgo (mattn/go-sqlite3), which defeats the point of a pure-Go embedded
// store, so this is a small hand-rolled equivalent: same embed.FS-backed,
// auto-apply-on-startup idiom, without the cgo dependency.
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at_ms INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		applied, err := migrationApplied(ctx, db, name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		sqlBytes, err := migrationsFS.ReadFile(migrationsDir + "/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration tx for %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (filename, applied_at_ms) VALUES (?, ?)`,
			name, time.Now().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", name, err)
		}
	}

	return ensureSchemaTables(ctx, db)
}

func migrationApplied(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE filename = ?`, name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check migration state for %s: %w", name, err)
	}
	return count > 0, nil
}

// ensureSchemaTables creates one output table per catalog key. Unlike the
// hand-authored migrations above, this set is derived from the schema
// catalog itself and is safe to re-run every startup (CREATE TABLE IF NOT
// EXISTS), since the catalog — not a migration file — is authoritative for
// which schema keys exist.
func ensureSchemaTables(ctx context.Context, db *sql.DB) error {
	for _, key := range schema.AllKeys() {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			payload TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			PRIMARY KEY (run_id, node_id, iteration)
		)`, key.TableName())
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table for schema %q: %w", key, err)
		}
	}
	return nil
}
