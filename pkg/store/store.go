// Package store implements the Output Store: a relational append-with-
// upsert log backed by an embedded ACID database (modernc.org/sqlite, pure
// Go, no cgo). One table per schema_key; rows are keyed by
// (run_id, node_id, iteration) and upserted on conflict so a retried
// attempt overwrites rather than duplicates.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/enitrat/super-ralph/pkg/schema"
	"github.com/enitrat/super-ralph/pkg/taskerr"
)

// Row is one output-store record: the validated payload produced by a task
// at a given node id and iteration, for a given run.
type Row struct {
	RunID       string
	NodeID      string
	Iteration   int
	Payload     json.RawMessage
	CreatedAtMs int64
}

// Store is the durable Output Store.
type Store struct {
	db        *sql.DB
	validator *schema.Validator
}

// Open opens (creating if absent) the sqlite file at cfg.Path, applies
// pending migrations, and returns a ready Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open store: %v", taskerr.ErrStorageUnavailable, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to ping store: %v", taskerr.ErrStorageUnavailable, err)
	}

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to enable WAL: %v", taskerr.ErrStorageUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to run migrations: %v", taskerr.ErrStorageUnavailable, err)
	}

	return &Store{db: db, validator: schema.NewValidator()}, nil
}

// DB returns the underlying connection for health checks and components
// (job queue, attempt tracking) that share the same sqlite file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put validates payload against key's schema and upserts the row keyed by
// (run_id, node_id, iteration). Schema mismatch is a structured error, not
// a write.
func (s *Store) Put(ctx context.Context, key schema.Key, runID, nodeID string, iteration int, payload any) error {
	var decoded any
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("store: failed to marshal payload for %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("store: failed to decode payload for %s: %w", key, err)
	}

	if err := s.validator.Validate(key, decoded); err != nil {
		return fmt.Errorf("%w: %v", taskerr.ErrSchemaMismatch, err)
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (run_id, node_id, iteration, payload, created_at_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, node_id, iteration) DO UPDATE SET
			payload = excluded.payload,
			created_at_ms = excluded.created_at_ms`, key.TableName())

	if _, err := s.db.ExecContext(ctx, stmt, runID, nodeID, iteration, string(raw), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}
	return nil
}

// GetExact returns the row at the exact (run, node, iteration) tuple, or
// taskerr.ErrNotFound if absent.
func (s *Store) GetExact(ctx context.Context, key schema.Key, runID, nodeID string, iteration int) (*Row, error) {
	stmt := fmt.Sprintf(`SELECT run_id, node_id, iteration, payload, created_at_ms
		FROM %s WHERE run_id = ? AND node_id = ? AND iteration = ?`, key.TableName())

	row := s.db.QueryRowContext(ctx, stmt, runID, nodeID, iteration)
	return scanRow(row)
}

// GetLatest returns the row with the largest iteration for (run, node), or
// taskerr.ErrNotFound if no row exists for any iteration.
func (s *Store) GetLatest(ctx context.Context, key schema.Key, runID, nodeID string) (*Row, error) {
	stmt := fmt.Sprintf(`SELECT run_id, node_id, iteration, payload, created_at_ms
		FROM %s WHERE run_id = ? AND node_id = ? ORDER BY iteration DESC LIMIT 1`, key.TableName())

	row := s.db.QueryRowContext(ctx, stmt, runID, nodeID)
	return scanRow(row)
}

// Scan returns every row for (schema, run) in ascending iteration order.
func (s *Store) Scan(ctx context.Context, key schema.Key, runID string) ([]*Row, error) {
	stmt := fmt.Sprintf(`SELECT run_id, node_id, iteration, payload, created_at_ms
		FROM %s WHERE run_id = ? ORDER BY iteration ASC`, key.TableName())

	rows, err := s.db.QueryContext(ctx, stmt, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		var r Row
		var payload string
		if err := rows.Scan(&r.RunID, &r.NodeID, &r.Iteration, &payload, &r.CreatedAtMs); err != nil {
			return nil, fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
		}
		r.Payload = json.RawMessage(payload)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ScanRunIDs returns the distinct run ids that have ever written a row for
// key, used by the durability/resume scan to find prior runs.
func (s *Store) ScanRunIDs(ctx context.Context, key schema.Key) ([]string, error) {
	stmt := fmt.Sprintf(`SELECT DISTINCT run_id FROM %s`, key.TableName())
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanRow(row *sql.Row) (*Row, error) {
	var r Row
	var payload string
	if err := row.Scan(&r.RunID, &r.NodeID, &r.Iteration, &payload, &r.CreatedAtMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, taskerr.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}
	r.Payload = json.RawMessage(payload)
	return &r, nil
}
