package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/enitrat/super-ralph/pkg/taskerr"
)

// NodeRecord mirrors one row of the nodes table: the engine's durable
// record of a node's last known state and failure count, used to resume a
// run after a restart without re-deriving failure counts from attempt
// history alone.
type NodeRecord struct {
	RunID        string
	NodeID       string
	State        string
	FailureCount int
	UpdatedAtMs  int64
}

// UpsertNodeState records a node's current state and failure count.
func (s *Store) UpsertNodeState(ctx context.Context, runID, nodeID, state string, failureCount int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (run_id, node_id, state, failure_count, updated_at_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, node_id) DO UPDATE SET
			state = excluded.state,
			failure_count = excluded.failure_count,
			updated_at_ms = excluded.updated_at_ms`,
		runID, nodeID, state, failureCount, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}
	return nil
}

// NodeFailureCounts returns every node's persisted failure count for a run,
// used to seed the scheduler's in-memory retry budget at engine startup.
func (s *Store) NodeFailureCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, failure_count FROM nodes WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var nodeID string
		var count int
		if err := rows.Scan(&nodeID, &count); err != nil {
			return nil, fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
		}
		out[nodeID] = count
	}
	return out, rows.Err()
}

// FailedNodes returns every node persisted in the "failed" state for a
// run, used by the structured report to enumerate terminally-failed
// tasks.
func (s *Store) FailedNodes(ctx context.Context, runID string) ([]NodeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, node_id, state, failure_count, updated_at_ms
		FROM nodes WHERE run_id = ? AND state = 'failed'
		ORDER BY node_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []NodeRecord
	for rows.Next() {
		var rec NodeRecord
		if err := rows.Scan(&rec.RunID, &rec.NodeID, &rec.State, &rec.FailureCount, &rec.UpdatedAtMs); err != nil {
			return nil, fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetNodeState returns the persisted record for (run, node), or
// taskerr.ErrNotFound if the node has never been recorded.
func (s *Store) GetNodeState(ctx context.Context, runID, nodeID string) (*NodeRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, node_id, state, failure_count, updated_at_ms
		FROM nodes WHERE run_id = ? AND node_id = ?`, runID, nodeID)

	var rec NodeRecord
	if err := row.Scan(&rec.RunID, &rec.NodeID, &rec.State, &rec.FailureCount, &rec.UpdatedAtMs); err != nil {
		if err == sql.ErrNoRows {
			return nil, taskerr.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}
	return &rec, nil
}
