package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/enitrat/super-ralph/pkg/schema"
	"github.com/enitrat/super-ralph/pkg/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.sqlite")
	s, err := store.Open(context.Background(), store.DefaultConfig(path))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecoverStaleAttempts_RevertsNodeToPendingPreservingFailureCount(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertNodeState(ctx, "run-1", "T-1:implement", "failed", 2))
	require.NoError(t, s.BeginAttempt(ctx, "run-1", "T-1:implement", 3, "agent-a"))

	require.NoError(t, recoverStaleAttempts(ctx, s, "run-1", -1*time.Second))

	rec, err := s.GetNodeState(ctx, "run-1", "T-1:implement")
	require.NoError(t, err)
	require.Equal(t, "pending", rec.State)
	require.Equal(t, 2, rec.FailureCount)
}

func TestResumePrompt_EmptyWhenNothingResumable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	note, err := resumePrompt(ctx, s, "run-2")
	require.NoError(t, err)
	require.Empty(t, note)
}

func TestResumePrompt_ListsCandidatesFromPriorRuns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Put(ctx, schema.KeyPlan, "run-1", "T-1:plan", 0, map[string]any{
		"summary": "x", "steps": []string{"a"}, "status": "complete",
	}))

	note, err := resumePrompt(ctx, s, "run-2")
	require.NoError(t, err)
	require.Contains(t, note, "T-1")
	require.Contains(t, note, "run-1")
	require.Contains(t, note, "plan")
}
