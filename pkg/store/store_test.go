package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/enitrat/super-ralph/pkg/schema"
	"github.com/enitrat/super-ralph/pkg/taskerr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.sqlite")
	s, err := Open(context.Background(), DefaultConfig(path))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutAndGetExact(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	payload := map[string]any{"passed": true, "output": "ok"}
	require.NoError(t, s.Put(ctx, schema.KeyBuildVerify, "run-1", "T-1:build-verify", 0, payload))

	row, err := s.GetExact(ctx, schema.KeyBuildVerify, "run-1", "T-1:build-verify", 0)
	require.NoError(t, err)
	require.Equal(t, "run-1", row.RunID)
	require.Equal(t, 0, row.Iteration)
}

func TestGetExact_NotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.GetExact(ctx, schema.KeyBuildVerify, "run-1", "missing", 0)
	require.ErrorIs(t, err, taskerr.ErrNotFound)
}

func TestPut_SchemaMismatchNeverWrites(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	err := s.Put(ctx, schema.KeyBuildVerify, "run-1", "T-1:build-verify", 0, map[string]any{"passed": "not-a-bool"})
	require.ErrorIs(t, err, taskerr.ErrSchemaMismatch)

	_, err = s.GetExact(ctx, schema.KeyBuildVerify, "run-1", "T-1:build-verify", 0)
	require.ErrorIs(t, err, taskerr.ErrNotFound)
}

func TestPut_UpsertsOnConflict(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Put(ctx, schema.KeyBuildVerify, "run-1", "T-1:build-verify", 0, map[string]any{"passed": false, "output": "first"}))
	require.NoError(t, s.Put(ctx, schema.KeyBuildVerify, "run-1", "T-1:build-verify", 0, map[string]any{"passed": true, "output": "second"}))

	rows, err := s.Scan(ctx, schema.KeyBuildVerify, "run-1")
	require.NoError(t, err)
	require.Len(t, rows, 1, "retries overwrite; unique key invariant holds")
}

func TestGetLatest_ReturnsMaxIteration(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Put(ctx, schema.KeyProgress, "run-1", "progress", i, map[string]any{"summary": "tick"}))
	}

	row, err := s.GetLatest(ctx, schema.KeyProgress, "run-1", "progress")
	require.NoError(t, err)
	require.Equal(t, 2, row.Iteration)
}

func TestScan_OrdersByIterationAscending(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, i := range []int{2, 0, 1} {
		require.NoError(t, s.Put(ctx, schema.KeyProgress, "run-1", "progress", i, map[string]any{"summary": "tick"}))
	}

	rows, err := s.Scan(ctx, schema.KeyProgress, "run-1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, 0, rows[0].Iteration)
	require.Equal(t, 1, rows[1].Iteration)
	require.Equal(t, 2, rows[2].Iteration)
}
