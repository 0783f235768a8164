package plan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/enitrat/super-ralph/pkg/schema"
)

func TestRender_StampsLoopIterationAndWorkspace(t *testing.T) {
	tree := Repeat("main-loop", func(LoopState) bool { return false }, 10, MaxIterationsReturnLast,
		In("ticket-wt", "T-1",
			Seq("T-1:pipeline",
				&Task{ID: "T-1:implement", Schema: schema.KeyImplement, Retries: 1},
			),
		),
	)

	res, err := Render(tree, map[string]int{"main-loop": 2})
	require.NoError(t, err)

	desc, ok := res.ByID["T-1:implement"]
	require.True(t, ok)
	require.Equal(t, 2, desc.Iteration)
	require.Equal(t, "T-1", desc.WorkspaceID)
	require.Equal(t, "main-loop", desc.LoopID)
}

func TestRender_BranchCollapsesToChosenSubtree(t *testing.T) {
	trueTask := &Task{ID: "chosen", Schema: schema.KeyProgress}
	falseTask := &Task{ID: "not-chosen", Schema: schema.KeyProgress}

	tree := If("decide", func() bool { return true }, trueTask, falseTask)

	res, err := Render(tree, nil)
	require.NoError(t, err)

	_, chosen := res.ByID["chosen"]
	_, notChosen := res.ByID["not-chosen"]
	require.True(t, chosen)
	require.False(t, notChosen)
}

func TestRender_SkipPredicateEvaluated(t *testing.T) {
	tree := &Task{ID: "t", Schema: schema.KeyProgress, Skip: func() bool { return true }}

	res, err := Render(tree, nil)
	require.NoError(t, err)
	require.True(t, res.ByID["t"].Skipped)
}

func TestRender_DuplicateNodeIDIsAnError(t *testing.T) {
	tree := Seq("root",
		&Task{ID: "dup", Schema: schema.KeyProgress},
		&Task{ID: "dup", Schema: schema.KeyProgress},
	)

	_, err := Render(tree, nil)
	require.Error(t, err)
}

func TestAgentRef_SaturatingIndex(t *testing.T) {
	ref := AgentRef{Agents: []string{"primary", "fallback-1", "fallback-2"}}

	require.Equal(t, "primary", ref.AgentForAttempt(1))
	require.Equal(t, "fallback-1", ref.AgentForAttempt(2))
	require.Equal(t, "fallback-2", ref.AgentForAttempt(3))
	require.Equal(t, "fallback-2", ref.AgentForAttempt(10), "never indexes past the end of the fallback chain")
}
