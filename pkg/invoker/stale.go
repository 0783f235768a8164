package invoker

import (
	"context"
	"time"

	"github.com/enitrat/super-ralph/pkg/store"
)

// RecoverStaleAttempts finds attempts left without a recorded outcome by a
// prior process that stopped mid-invocation, marks any older than
// staleAfter as cancelled, and returns their node ids so the engine can
// revert those nodes to pending for the current run. Attempts younger than
// staleAfter are left open on the assumption their subprocess might still
// be running (e.g. after a quick supervisor restart).
func RecoverStaleAttempts(ctx context.Context, s *store.Store, runID string, staleAfter time.Duration) ([]string, error) {
	open, err := s.OpenAttempts(ctx, runID)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-staleAfter).UnixMilli()
	var recovered []string
	for _, a := range open {
		if a.StartedAtMs > cutoff {
			continue
		}
		if err := s.FinishAttempt(ctx, runID, a.NodeID, a.AttemptNo, store.OutcomeCancelled); err != nil {
			return nil, err
		}
		recovered = append(recovered, a.NodeID)
	}
	return recovered, nil
}
