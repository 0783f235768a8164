package bridge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/enitrat/super-ralph/pkg/frame"
	"github.com/enitrat/super-ralph/pkg/jobqueue"
	"github.com/enitrat/super-ralph/pkg/schema"
	"github.com/enitrat/super-ralph/pkg/store"
)

func researchPayload() map[string]any {
	return map[string]any{"findings": "x", "openQuestions": []string{}, "status": "complete"}
}

func openTestBridge(t *testing.T) (*Bridge, *store.Store, *frame.Accessor) {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, store.DefaultConfig(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	q, err := jobqueue.Open(ctx, s.DB())
	require.NoError(t, err)

	return New(q), s, frame.New(s, "run-1")
}

func TestReconcile_InsertsNewScheduleEntries(t *testing.T) {
	ctx := context.Background()
	b, _, acc := openTestBridge(t)

	active, err := b.Reconcile(ctx, acc, 0, []ScheduleEntry{
		{JobID: "discovery", JobType: jobqueue.JobDiscovery, AgentID: "scheduler-1"},
		{JobID: "t1:research", JobType: jobqueue.TicketJobType("research"), AgentID: "worker-1", TicketID: "t1"},
	})
	require.NoError(t, err)
	require.Len(t, active, 2)
}

func TestReconcile_SkipsEntryAlreadyCompleted(t *testing.T) {
	ctx := context.Background()
	b, s, acc := openTestBridge(t)

	require.NoError(t, s.Put(ctx, schema.KeyResearch, "run-1", "t1:research", 0, researchPayload()))

	active, err := b.Reconcile(ctx, acc, 0, []ScheduleEntry{
		{JobID: "t1:research", JobType: jobqueue.TicketJobType("research"), AgentID: "worker-1", TicketID: "t1"},
	})
	require.NoError(t, err)
	require.Empty(t, active, "output already exists so the job is never inserted")
}

func TestReconcile_ReapsJobOnceOutputLands(t *testing.T) {
	ctx := context.Background()
	b, s, acc := openTestBridge(t)

	_, err := b.Reconcile(ctx, acc, 0, []ScheduleEntry{
		{JobID: "t1:research", JobType: jobqueue.TicketJobType("research"), AgentID: "worker-1", TicketID: "t1"},
	})
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, schema.KeyResearch, "run-1", "t1:research", 0, researchPayload()))

	active, err := b.Reconcile(ctx, acc, 0, nil)
	require.NoError(t, err)
	require.Empty(t, active, "the finished job is reaped on the next reconcile")
}

func TestReconcile_RepeatingJobTypeRescheduledNextIteration(t *testing.T) {
	ctx := context.Background()
	b, s, acc := openTestBridge(t)

	_, err := b.Reconcile(ctx, acc, 0, []ScheduleEntry{
		{JobID: "discovery-0", JobType: jobqueue.JobDiscovery, AgentID: "scheduler-1"},
	})
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, schema.KeyDiscover, "run-1", "discovery", 0, map[string]any{"tickets": []any{}}))

	active, err := b.Reconcile(ctx, acc, 0, nil)
	require.NoError(t, err)
	require.Empty(t, active, "iteration 0's discovery job is reaped")

	active, err = b.Reconcile(ctx, acc, 1, []ScheduleEntry{
		{JobID: "discovery-1", JobType: jobqueue.JobDiscovery, AgentID: "scheduler-1"},
	})
	require.NoError(t, err)
	require.Len(t, active, 1, "iteration 1 has no output yet so discovery is rescheduled")
}

func TestActiveJobCounter_ReflectsQueueLength(t *testing.T) {
	ctx := context.Background()
	b, _, acc := openTestBridge(t)

	count, err := b.ActiveJobCounter(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	_, err = b.Reconcile(ctx, acc, 0, []ScheduleEntry{
		{JobID: "discovery", JobType: jobqueue.JobDiscovery, AgentID: "scheduler-1"},
	})
	require.NoError(t, err)

	count, err = b.ActiveJobCounter(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
