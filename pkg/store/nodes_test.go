package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpsertNodeState_UpdatesOnConflict(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, DefaultConfig(t.TempDir()+"/test.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.UpsertNodeState(ctx, "run-1", "T-1:implement", "pending", 0))
	require.NoError(t, s.UpsertNodeState(ctx, "run-1", "T-1:implement", "failed", 2))

	rec, err := s.GetNodeState(ctx, "run-1", "T-1:implement")
	require.NoError(t, err)
	require.Equal(t, "failed", rec.State)
	require.Equal(t, 2, rec.FailureCount)
}

func TestNodeFailureCounts_ReturnsAllNodesForRun(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, DefaultConfig(t.TempDir()+"/test.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.UpsertNodeState(ctx, "run-1", "a", "failed", 1))
	require.NoError(t, s.UpsertNodeState(ctx, "run-1", "b", "pending", 0))

	counts, err := s.NodeFailureCounts(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, 1, counts["a"])
	require.Equal(t, 0, counts["b"])
}
