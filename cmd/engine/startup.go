package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/enitrat/super-ralph/pkg/invoker"
	"github.com/enitrat/super-ralph/pkg/resume"
	"github.com/enitrat/super-ralph/pkg/store"
	"github.com/enitrat/super-ralph/pkg/taskerr"
)

// recoverStaleAttempts cancels any attempt still open from a prior,
// crashed process and reverts its node to pending so the next frame
// re-dispatches it, preserving the node's existing failure count.
func recoverStaleAttempts(ctx context.Context, s *store.Store, runID string, staleAfter time.Duration) error {
	recovered, err := invoker.RecoverStaleAttempts(ctx, s, runID, staleAfter)
	if err != nil {
		return fmt.Errorf("recovering stale attempts: %w", err)
	}
	if len(recovered) == 0 {
		return nil
	}

	for _, nodeID := range recovered {
		failureCount := 0
		rec, err := s.GetNodeState(ctx, runID, nodeID)
		if err != nil && !errors.Is(err, taskerr.ErrNotFound) {
			return fmt.Errorf("reading node state for %q: %w", nodeID, err)
		}
		if err == nil {
			failureCount = rec.FailureCount
		}
		if err := s.UpsertNodeState(ctx, runID, nodeID, "pending", failureCount); err != nil {
			return fmt.Errorf("reverting node %q to pending: %w", nodeID, err)
		}
	}

	slog.Info("engine: recovered stale attempts", "run_id", runID, "nodes", recovered)
	return nil
}

// resumePrompt runs the Durability/Resume scan and renders its resumable
// candidates into a block the scheduler-agent prompt carries verbatim, so
// a resumed run's scheduler can prioritize continuing an in-progress
// ticket over starting fresh discovery. Returns "" when nothing is
// resumable.
func resumePrompt(ctx context.Context, s *store.Store, runID string) (string, error) {
	candidates, err := resume.Scan(ctx, s, runID)
	if err != nil {
		return "", fmt.Errorf("scanning for resumable tickets: %w", err)
	}
	if len(candidates) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Resumable tickets from prior runs, furthest-advanced stage first:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "  run=%s ticket=%s furthest_stage=%s\n", c.RunID, c.TicketID, c.FurthestStage)
	}

	slog.Info("engine: found resumable tickets", "run_id", runID, "count", len(candidates))
	return b.String(), nil
}
