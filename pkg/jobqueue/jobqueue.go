// Package jobqueue implements the Active Job Queue: a small, separately
// persisted relation tracking currently in-flight jobs. It is the
// authoritative in-flight set because the output store has no concept of
// "currently running" — only of "has produced output."
package jobqueue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/enitrat/super-ralph/pkg/taskerr"
)

// JobType enumerates the kinds of job the scheduler agent can issue.
type JobType string

const (
	JobDiscovery       JobType = "discovery"
	JobProgressUpdate  JobType = "progress-update"
	JobCodebaseReview  JobType = "codebase-review"
	JobIntegrationTest JobType = "integration-test"
)

// TicketJobType builds the "ticket:<stage>" job type for a per-ticket stage.
func TicketJobType(stage string) JobType {
	return JobType("ticket:" + stage)
}

// Repeating reports whether jobs of this type are expected to recur across
// loop iterations (discovery, progress-update), as opposed to one-shot
// per-ticket stages. The scheduler agent bridge uses this to pick between
// an iteration-scoped and a cross-iteration completion check.
func (t JobType) Repeating() bool {
	return t == JobDiscovery || t == JobProgressUpdate
}

// Job is one row of the scheduled_tasks relation.
type Job struct {
	JobID       string
	JobType     JobType
	AgentID     string
	TicketID    string // empty when not ticket-scoped
	FocusID     string // empty when absent
	CreatedAtMs int64
}

// Queue wraps the scheduled_tasks table. It shares the Output Store's
// sqlite connection (same file, distinct table), matching the "two stores,
// one engine" layout the spec calls for without paying for a second
// embedded database.
type Queue struct {
	db *sql.DB
}

// Open creates the scheduled_tasks table if absent and returns a Queue
// bound to db.
func Open(ctx context.Context, db *sql.DB) (*Queue, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS scheduled_tasks (
		job_id TEXT PRIMARY KEY,
		job_type TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		ticket_id TEXT,
		focus_id TEXT,
		created_at_ms INTEGER NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("%w: failed to create scheduled_tasks: %v", taskerr.ErrStorageUnavailable, err)
	}
	return &Queue{db: db}, nil
}

// InsertIfAbsent idempotently inserts job, keyed on job_id. A second
// insertion of the same job_id is a no-op, which is what lets the
// reconcile step run every frame without double-scheduling.
func (q *Queue) InsertIfAbsent(ctx context.Context, job Job) error {
	if job.CreatedAtMs == 0 {
		job.CreatedAtMs = time.Now().UnixMilli()
	}
	_, err := q.db.ExecContext(ctx, `INSERT INTO scheduled_tasks
		(job_id, job_type, agent_id, ticket_id, focus_id, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO NOTHING`,
		job.JobID, string(job.JobType), job.AgentID, nullableString(job.TicketID), nullableString(job.FocusID), job.CreatedAtMs)
	if err != nil {
		return fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}
	return nil
}

// Remove idempotently deletes the job with the given id.
func (q *Queue) Remove(ctx context.Context, jobID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}
	return nil
}

// Active returns every active job ordered ascending by creation time.
func (q *Queue) Active(ctx context.Context) ([]Job, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT job_id, job_type, agent_id, ticket_id, focus_id, created_at_ms
		FROM scheduled_tasks ORDER BY created_at_ms ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		var ticketID, focusID sql.NullString
		var jobType string
		if err := rows.Scan(&j.JobID, &jobType, &j.AgentID, &ticketID, &focusID, &j.CreatedAtMs); err != nil {
			return nil, fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
		}
		j.JobType = JobType(jobType)
		j.TicketID = ticketID.String
		j.FocusID = focusID.String
		out = append(out, j)
	}
	return out, rows.Err()
}

// Has reports whether a job with the given id is currently active.
func (q *Queue) Has(ctx context.Context, jobID string) (bool, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scheduled_tasks WHERE job_id = ?`, jobID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}
	return count > 0, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
