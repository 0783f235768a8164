package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/enitrat/super-ralph/pkg/invoker"
	"github.com/enitrat/super-ralph/pkg/plan"
	"github.com/enitrat/super-ralph/pkg/schema"
	"github.com/enitrat/super-ralph/pkg/store"
	"github.com/enitrat/super-ralph/pkg/taskerr"
	"github.com/enitrat/super-ralph/pkg/vcs"
	"github.com/enitrat/super-ralph/pkg/workspace"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, store.DefaultConfig(t.TempDir()+"/test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ws := workspace.New(vcs.Open(t.TempDir()), t.TempDir())
	iv := invoker.New(nil)

	e, err := New(ctx, s, iv, ws, nil, 6, "run-1", nil)
	require.NoError(t, err)
	return e
}

func TestRunFrame_ComputeTaskPersistsOutput(t *testing.T) {
	e := newTestEngine(t)
	tree := plan.Seq("root",
		&plan.Task{
			ID:     "step-a",
			Schema: schema.KeyProgress,
			Compute: func() (any, error) {
				return map[string]any{"summary": "done"}, nil
			},
		},
	)

	summary, err := e.RunFrame(context.Background(), tree, 0)
	require.NoError(t, err)
	require.Equal(t, 1, summary.RunnableCount)

	row, err := e.store.GetExact(context.Background(), schema.KeyProgress, "run-1", "step-a", 0)
	require.NoError(t, err)
	require.JSONEq(t, `{"summary": "done"}`, string(row.Payload))
}

func TestRunFrame_SecondFrameSeesFirstFrameAsTerminal(t *testing.T) {
	e := newTestEngine(t)
	build := func() plan.Node {
		return plan.Seq("root",
			&plan.Task{
				ID:     "step-a",
				Schema: schema.KeyProgress,
				Compute: func() (any, error) {
					return map[string]any{"summary": "done"}, nil
				},
			},
		)
	}

	first, err := e.RunFrame(context.Background(), build(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, first.RunnableCount)

	second, err := e.RunFrame(context.Background(), build(), 1)
	require.NoError(t, err)
	require.Equal(t, 0, second.RunnableCount, "a finished node is never runnable again")
}

func TestRunFrame_FailingComputeTaskIsRecordedAndRetried(t *testing.T) {
	e := newTestEngine(t)
	calls := 0
	build := func() plan.Node {
		return plan.Seq("root",
			&plan.Task{
				ID:      "step-a",
				Schema:  schema.KeyProgress,
				Retries: 1,
				Compute: func() (any, error) {
					calls++
					if calls < 2 {
						return nil, assertErr
					}
					return map[string]any{"summary": "done"}, nil
				},
			},
		)
	}

	first, err := e.RunFrame(context.Background(), build(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, first.RunnableCount)
	require.Empty(t, first.Failed)

	second, err := e.RunFrame(context.Background(), build(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, second.RunnableCount, "one retry remains before the failure budget is exhausted")

	third, err := e.RunFrame(context.Background(), build(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Empty(t, third.Failed)
	require.Equal(t, 0, third.RunnableCount, "the retry succeeded so the node is finished")
}

func TestRun_LoopExhaustingMaxIterationsUnderFailPolicySurfacesAsError(t *testing.T) {
	e := newTestEngine(t)
	root := func(loopIterations map[string]int) plan.Node {
		return plan.Repeat("main", func(plan.LoopState) bool { return false }, 1, plan.MaxIterationsFail,
			&plan.Task{
				ID:     "step",
				Schema: schema.KeyProgress,
				Compute: func() (any, error) {
					return map[string]any{"summary": "done"}, nil
				},
			},
		)
	}

	err := e.Run(context.Background(), root)
	require.ErrorIs(t, err, taskerr.ErrLoopMaxIterations)
}

var assertErr = errFixture("compute failed")

type errFixture string

func (e errFixture) Error() string { return string(e) }
