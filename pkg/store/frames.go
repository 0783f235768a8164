package store

import (
	"context"
	"fmt"
	"time"

	"github.com/enitrat/super-ralph/pkg/taskerr"
)

// RecordRun inserts a run row if absent; runs are immutable after
// creation, so a second call with the same runID is a no-op.
func (s *Store) RecordRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, created_at_ms) VALUES (?, ?)
		ON CONFLICT(run_id) DO NOTHING`, runID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}
	return nil
}

// RecordFrame records one frame's render boundary: how many tasks the
// scheduler found runnable, for observability and resume diagnostics.
func (s *Store) RecordFrame(ctx context.Context, runID string, frameNo int, runnableCount int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO frames (run_id, frame_no, rendered_at_ms, runnable_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, frame_no) DO UPDATE SET
			rendered_at_ms = excluded.rendered_at_ms,
			runnable_count = excluded.runnable_count`,
		runID, frameNo, time.Now().UnixMilli(), runnableCount)
	if err != nil {
		return fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}
	return nil
}

// FrameCount returns how many frames have been recorded for runID, used by
// the structured report to report passes used.
func (s *Store) FrameCount(ctx context.Context, runID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frames WHERE run_id = ?`, runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", taskerr.ErrStorageUnavailable, err)
	}
	return count, nil
}
