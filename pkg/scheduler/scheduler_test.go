package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/enitrat/super-ralph/pkg/frame"
	"github.com/enitrat/super-ralph/pkg/plan"
	"github.com/enitrat/super-ralph/pkg/schema"
	"github.com/enitrat/super-ralph/pkg/store"
)

func openTestAccessor(t *testing.T) *frame.Accessor {
	t.Helper()
	ctx := context.Background()
	cfg := store.DefaultConfig(t.TempDir() + "/test.db")
	s, err := store.Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return frame.New(s, "run-1")
}

func emptyInput(acc *frame.Accessor) Input {
	return Input{
		Accessor:       acc,
		InProgress:     map[string]bool{},
		FailureCount:   map[string]int{},
		LoopTerminated: map[string]bool{},
	}
}

func TestSchedule_SequenceOnlyFirstNonTerminal(t *testing.T) {
	acc := openTestAccessor(t)
	tree := plan.Seq("root",
		&plan.Task{ID: "a", Schema: schema.KeyProgress},
		&plan.Task{ID: "b", Schema: schema.KeyProgress},
	)
	res, err := plan.Render(tree, nil)
	require.NoError(t, err)

	sched := New(6)
	out, err := sched.Schedule(context.Background(), res, emptyInput(acc), 0)
	require.NoError(t, err)
	require.Len(t, out.Runnable, 1)
	require.Equal(t, "a", out.Runnable[0].NodeID)
}

func TestSchedule_ParallelUpToGroupCap(t *testing.T) {
	acc := openTestAccessor(t)
	tree := plan.Par("root", 2,
		&plan.Task{ID: "a", Schema: schema.KeyProgress},
		&plan.Task{ID: "b", Schema: schema.KeyProgress},
		&plan.Task{ID: "c", Schema: schema.KeyProgress},
	)
	res, err := plan.Render(tree, nil)
	require.NoError(t, err)

	sched := New(6)
	out, err := sched.Schedule(context.Background(), res, emptyInput(acc), 0)
	require.NoError(t, err)
	require.Len(t, out.Runnable, 2, "group cap of 2 limits this Parallel even though the global cap allows more")
}

func TestSchedule_MergeQueueEffectiveCapIsOne(t *testing.T) {
	acc := openTestAccessor(t)
	tree := plan.Queue("landing",
		&plan.Task{ID: "a", Schema: schema.KeyProgress},
		&plan.Task{ID: "b", Schema: schema.KeyProgress},
	)
	res, err := plan.Render(tree, nil)
	require.NoError(t, err)

	sched := New(6)
	out, err := sched.Schedule(context.Background(), res, emptyInput(acc), 0)
	require.NoError(t, err)
	require.Len(t, out.Runnable, 1, "a MergeQueue group's effective cap is always 1 regardless of Parallel semantics")
}

func TestSchedule_GlobalCapLimitsAcrossGroups(t *testing.T) {
	acc := openTestAccessor(t)
	tree := plan.Par("root", 0,
		&plan.Task{ID: "a", Schema: schema.KeyProgress},
		&plan.Task{ID: "b", Schema: schema.KeyProgress},
		&plan.Task{ID: "c", Schema: schema.KeyProgress},
	)
	res, err := plan.Render(tree, nil)
	require.NoError(t, err)

	sched := New(2)
	out, err := sched.Schedule(context.Background(), res, emptyInput(acc), 0)
	require.NoError(t, err)
	require.Len(t, out.Runnable, 2)
}

func TestSchedule_InProgressTaskIsNotRunnableAgain(t *testing.T) {
	acc := openTestAccessor(t)
	tree := plan.Seq("root", &plan.Task{ID: "a", Schema: schema.KeyProgress})
	res, err := plan.Render(tree, nil)
	require.NoError(t, err)

	in := emptyInput(acc)
	in.InProgress["a"] = true

	sched := New(6)
	out, err := sched.Schedule(context.Background(), res, in, 1)
	require.NoError(t, err)
	require.Empty(t, out.Runnable)
}

func TestSchedule_LoopAdvancesWhenAllChildrenTerminal(t *testing.T) {
	acc := openTestAccessor(t)
	tree := plan.Repeat("loop", func(plan.LoopState) bool { return false }, 10, plan.MaxIterationsReturnLast,
		&plan.Task{ID: "a", Schema: schema.KeyProgress, Skip: func() bool { return true }},
	)
	res, err := plan.Render(tree, map[string]int{"loop": 0})
	require.NoError(t, err)

	sched := New(6)
	out, err := sched.Schedule(context.Background(), res, emptyInput(acc), 0)
	require.NoError(t, err)
	require.Contains(t, out.LoopAdvances, "loop")
	require.Empty(t, out.Runnable)
}

func TestSchedule_LoopDoesNotAdvanceWhilePending(t *testing.T) {
	acc := openTestAccessor(t)
	tree := plan.Repeat("loop", func(plan.LoopState) bool { return false }, 10, plan.MaxIterationsReturnLast,
		&plan.Task{ID: "a", Schema: schema.KeyProgress},
	)
	res, err := plan.Render(tree, map[string]int{"loop": 0})
	require.NoError(t, err)

	sched := New(6)
	out, err := sched.Schedule(context.Background(), res, emptyInput(acc), 0)
	require.NoError(t, err)
	require.NotContains(t, out.LoopAdvances, "loop")
	require.Len(t, out.Runnable, 1)
}

func TestSchedule_FailedTaskPastRetryBudgetIsReportedAndNotRunnable(t *testing.T) {
	acc := openTestAccessor(t)
	tree := plan.Seq("root", &plan.Task{ID: "a", Schema: schema.KeyProgress, Retries: 1})
	res, err := plan.Render(tree, nil)
	require.NoError(t, err)

	in := emptyInput(acc)
	in.FailureCount["a"] = 2

	sched := New(6)
	out, err := sched.Schedule(context.Background(), res, in, 0)
	require.NoError(t, err)
	require.Empty(t, out.Runnable)
	require.Contains(t, out.Failed, "a")
}
