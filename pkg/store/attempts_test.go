package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBeginAndFinishAttempt(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, DefaultConfig(t.TempDir()+"/test.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.BeginAttempt(ctx, "run-1", "T-1:implement", 1, "agent-a"))
	require.NoError(t, s.FinishAttempt(ctx, "run-1", "T-1:implement", 1, OutcomeSucceeded))

	a, err := s.LatestAttempt(ctx, "run-1", "T-1:implement")
	require.NoError(t, err)
	require.Equal(t, 1, a.AttemptNo)
	require.Equal(t, "agent-a", a.AgentID)
	require.NotNil(t, a.Outcome)
	require.Equal(t, OutcomeSucceeded, *a.Outcome)
}

func TestLatestAttempt_ReturnsHighestAttemptNo(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, DefaultConfig(t.TempDir()+"/test.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.BeginAttempt(ctx, "run-1", "T-1:implement", 1, "agent-a"))
	require.NoError(t, s.FinishAttempt(ctx, "run-1", "T-1:implement", 1, OutcomeFailed))
	require.NoError(t, s.BeginAttempt(ctx, "run-1", "T-1:implement", 2, "agent-b"))

	a, err := s.LatestAttempt(ctx, "run-1", "T-1:implement")
	require.NoError(t, err)
	require.Equal(t, 2, a.AttemptNo)
	require.Nil(t, a.Outcome)
}

func TestOpenAttempts_OnlyUnfinished(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, DefaultConfig(t.TempDir()+"/test.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.BeginAttempt(ctx, "run-1", "a", 1, "agent-a"))
	require.NoError(t, s.FinishAttempt(ctx, "run-1", "a", 1, OutcomeSucceeded))
	require.NoError(t, s.BeginAttempt(ctx, "run-1", "b", 1, "agent-a"))

	open, err := s.OpenAttempts(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "b", open[0].NodeID)
}
