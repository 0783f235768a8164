package ticket

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/enitrat/super-ralph/pkg/config"
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

func TestPipeline_CurrentStageAndNextStage(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	p := NewPipeline(s, "run-1")

	tier := config.TierSmall // implement -> test -> build-verify

	stage, err := p.CurrentStage(ctx, "T-1", tier)
	require.NoError(t, err)
	require.Equal(t, "", stage, "no stage has run yet")

	next, err := p.NextStage(ctx, "T-1", tier)
	require.NoError(t, err)
	require.Equal(t, "implement", next)

	require.NoError(t, s.Put(ctx, schema.KeyImplement, "run-1", NodeID("T-1", "implement"), 0,
		map[string]any{"summary": "done", "filesChanged": []string{"a.go"}, "status": "complete"}))

	stage, err = p.CurrentStage(ctx, "T-1", tier)
	require.NoError(t, err)
	require.Equal(t, "implement", stage)

	next, err = p.NextStage(ctx, "T-1", tier)
	require.NoError(t, err)
	require.Equal(t, "test", next)
}

func TestPipeline_IsTierComplete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	p := NewPipeline(s, "run-1")

	tier := config.TierTrivial // implement -> build-verify

	complete, err := p.IsTierComplete(ctx, "T-2", tier)
	require.NoError(t, err)
	require.False(t, complete)

	require.NoError(t, s.Put(ctx, schema.KeyImplement, "run-1", NodeID("T-2", "implement"), 0,
		map[string]any{"summary": "s", "filesChanged": []string{}, "status": "complete"}))

	complete, err = p.IsTierComplete(ctx, "T-2", tier)
	require.NoError(t, err)
	require.False(t, complete, "intermediate stages don't count toward tier completion")

	require.NoError(t, s.Put(ctx, schema.KeyBuildVerify, "run-1", NodeID("T-2", "build-verify"), 0,
		map[string]any{"passed": true, "output": "ok"}))

	complete, err = p.IsTierComplete(ctx, "T-2", tier)
	require.NoError(t, err)
	require.True(t, complete)
}

func TestMerge_LastWriteWinsPerID(t *testing.T) {
	rows := []*store.Row{
		{Payload: []byte(`{"tickets":[{"id":"T-1","title":"first","priority":"low","complexityTier":"trivial","description":"","category":"","acceptanceCriteria":null,"relevantFiles":null,"referenceFiles":null}]}`)},
		{Payload: []byte(`{"tickets":[{"id":"T-1","title":"updated","priority":"critical","complexityTier":"trivial","description":"","category":"","acceptanceCriteria":null,"relevantFiles":null,"referenceFiles":null},{"id":"T-2","title":"new","priority":"medium","complexityTier":"small","description":"","category":"","acceptanceCriteria":null,"relevantFiles":null,"referenceFiles":null}]}`)},
	}

	merged, err := Merge(rows)
	require.NoError(t, err)
	require.Len(t, merged, 2)
	require.Equal(t, "updated", merged[0].Title)
	require.Equal(t, config.PriorityCritical, merged[0].Priority)
}
