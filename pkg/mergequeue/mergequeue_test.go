package mergequeue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/enitrat/super-ralph/pkg/config"
	"github.com/enitrat/super-ralph/pkg/vcs"
	"github.com/enitrat/super-ralph/pkg/workspace"
)

func newTestCoordinator(t *testing.T, checks ...Check) *Coordinator {
	t.Helper()
	repo := vcs.Open(t.TempDir())
	ws := workspace.New(repo, t.TempDir())
	return New(repo, ws, nil, 3, config.OrderingPriority, checks...)
}

func TestSubmit_NewTicketIsPending(t *testing.T) {
	c := newTestCoordinator(t)
	c.Submit("T-1", config.PriorityMedium, 1, 0)

	ready := c.Ready()
	require.Len(t, ready, 1)
	require.Equal(t, StatePending, ready[0].State())
}

func TestSubmit_LowerOrEqualIterationIsNoOp(t *testing.T) {
	c := newTestCoordinator(t)
	c.Submit("T-1", config.PriorityLow, 2, 0)
	entry, _ := c.Result("T-1")
	entry.mu.Lock()
	entry.state = StateLanded
	entry.mu.Unlock()

	c.Submit("T-1", config.PriorityCritical, 2, 0)
	require.Equal(t, StateLanded, entry.State(), "same iteration does not reopen a resolved entry")

	c.Submit("T-1", config.PriorityCritical, 3, 0)
	require.Equal(t, StatePending, entry.State(), "a strictly higher iteration reopens it")
}

func TestReady_OrdersByPriorityThenEnqueueSequence(t *testing.T) {
	c := newTestCoordinator(t)
	c.Submit("T-low", config.PriorityLow, 1, 0)
	c.Submit("T-critical", config.PriorityCritical, 1, 1)
	c.Submit("T-medium", config.PriorityMedium, 1, 2)

	ready := c.Ready()
	require.Len(t, ready, 3)
	require.Equal(t, "T-critical", ready[0].TicketID)
	require.Equal(t, "T-medium", ready[1].TicketID)
	require.Equal(t, "T-low", ready[2].TicketID)
}

func TestRunRound_NoReadyEntriesReturnsNilWithoutError(t *testing.T) {
	c := newTestCoordinator(t)
	resolved, err := c.RunRound(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, resolved)
}
