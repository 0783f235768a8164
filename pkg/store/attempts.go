package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/enitrat/super-ralph/pkg/taskerr"
)

// AttemptOutcome is the terminal outcome recorded against an attempt row.
type AttemptOutcome string

const (
	OutcomeSucceeded AttemptOutcome = "succeeded"
	OutcomeFailed    AttemptOutcome = "failed"
	OutcomeCancelled AttemptOutcome = "cancelled"
)

// Attempt mirrors one row of the attempts table: a single dispatch of a
// node, which agent ran it, and how it ended.
type Attempt struct {
	RunID        string
	NodeID       string
	AttemptNo    int
	AgentID      string
	StartedAtMs  int64
	FinishedAtMs *int64
	Outcome      *AttemptOutcome
}

// BeginAttempt records a new in-progress attempt. attemptNo is 1-based and
// must be the caller's next unused attempt number for nodeID; the primary
// key enforces that no two attempts at the same node/attemptNo coexist.
func (s *Store) BeginAttempt(ctx context.Context, runID, nodeID string, attemptNo int, agentID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attempts (run_id, node_id, attempt_no, agent_id, started_at_ms)
		VALUES (?, ?, ?, ?, ?)`,
		runID, nodeID, attemptNo, agentID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}
	return nil
}

// FinishAttempt marks an attempt terminal.
func (s *Store) FinishAttempt(ctx context.Context, runID, nodeID string, attemptNo int, outcome AttemptOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE attempts SET finished_at_ms = ?, outcome = ?
		WHERE run_id = ? AND node_id = ? AND attempt_no = ?`,
		time.Now().UnixMilli(), string(outcome), runID, nodeID, attemptNo)
	if err != nil {
		return fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}
	return nil
}

// LatestAttempt returns the highest attempt_no row for (run, node), or
// taskerr.ErrNotFound if the node has never been attempted.
func (s *Store) LatestAttempt(ctx context.Context, runID, nodeID string) (*Attempt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, node_id, attempt_no, agent_id, started_at_ms, finished_at_ms, outcome
		FROM attempts WHERE run_id = ? AND node_id = ?
		ORDER BY attempt_no DESC LIMIT 1`, runID, nodeID)
	return scanAttempt(row)
}

// OpenAttempts returns every attempt across the run that has no recorded
// outcome, used at engine startup to find attempts that were in flight
// when the process last stopped.
func (s *Store) OpenAttempts(ctx context.Context, runID string) ([]*Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, node_id, attempt_no, agent_id, started_at_ms, finished_at_ms, outcome
		FROM attempts WHERE run_id = ? AND outcome IS NULL`, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []*Attempt
	for rows.Next() {
		a, err := scanAttemptRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAttempt(row *sql.Row) (*Attempt, error) {
	var a Attempt
	var agentID sql.NullString
	var finishedAt sql.NullInt64
	var outcome sql.NullString
	if err := row.Scan(&a.RunID, &a.NodeID, &a.AttemptNo, &agentID, &a.StartedAtMs, &finishedAt, &outcome); err != nil {
		if err == sql.ErrNoRows {
			return nil, taskerr.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}
	applyAttemptNullables(&a, agentID, finishedAt, outcome)
	return &a, nil
}

func scanAttemptRows(rows *sql.Rows) (*Attempt, error) {
	var a Attempt
	var agentID sql.NullString
	var finishedAt sql.NullInt64
	var outcome sql.NullString
	if err := rows.Scan(&a.RunID, &a.NodeID, &a.AttemptNo, &agentID, &a.StartedAtMs, &finishedAt, &outcome); err != nil {
		return nil, fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}
	applyAttemptNullables(&a, agentID, finishedAt, outcome)
	return &a, nil
}

func applyAttemptNullables(a *Attempt, agentID sql.NullString, finishedAt sql.NullInt64, outcome sql.NullString) {
	if agentID.Valid {
		a.AgentID = agentID.String
	}
	if finishedAt.Valid {
		v := finishedAt.Int64
		a.FinishedAtMs = &v
	}
	if outcome.Valid {
		o := AttemptOutcome(outcome.String)
		a.Outcome = &o
	}
}
