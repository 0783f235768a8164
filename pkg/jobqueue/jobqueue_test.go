package jobqueue

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.sqlite")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	q, err := Open(context.Background(), db)
	require.NoError(t, err)
	return q
}

func TestInsertIfAbsent_Idempotent(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t)

	job := Job{JobID: "job-1", JobType: JobDiscovery, AgentID: "scheduler-1"}
	require.NoError(t, q.InsertIfAbsent(ctx, job))
	require.NoError(t, q.InsertIfAbsent(ctx, job))

	active, err := q.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1, "no-double-schedule: two inserts of the same job_id leave one row")
}

func TestRemove_Idempotent(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t)

	job := Job{JobID: "job-1", JobType: JobDiscovery, AgentID: "scheduler-1"}
	require.NoError(t, q.InsertIfAbsent(ctx, job))
	require.NoError(t, q.Remove(ctx, "job-1"))
	require.NoError(t, q.Remove(ctx, "job-1"))

	has, err := q.Has(ctx, "job-1")
	require.NoError(t, err)
	require.False(t, has)
}

func TestActive_OrderedByCreation(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t)

	require.NoError(t, q.InsertIfAbsent(ctx, Job{JobID: "a", JobType: JobDiscovery, AgentID: "x", CreatedAtMs: 300}))
	require.NoError(t, q.InsertIfAbsent(ctx, Job{JobID: "b", JobType: JobDiscovery, AgentID: "x", CreatedAtMs: 100}))
	require.NoError(t, q.InsertIfAbsent(ctx, Job{JobID: "c", JobType: JobDiscovery, AgentID: "x", CreatedAtMs: 200}))

	active, err := q.Active(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "a"}, []string{active[0].JobID, active[1].JobID, active[2].JobID})
}

func TestTicketJobType_Repeating(t *testing.T) {
	require.True(t, JobDiscovery.Repeating())
	require.True(t, JobProgressUpdate.Repeating())
	require.False(t, TicketJobType("implement").Repeating())
}
