// Package bridge implements the Scheduler Agent Bridge (§4.11): it turns
// one special task's schedule output into Job Queue mutations every frame,
// reaping jobs whose output has landed and reconciling newly-scheduled jobs
// that have none yet. Grounded on the scan-classify-reconcile shape of the
// teacher's orphan detection sweep, adapted from a periodic ticker to a
// per-frame call driven by the engine loop.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/enitrat/super-ralph/pkg/frame"
	"github.com/enitrat/super-ralph/pkg/jobqueue"
	"github.com/enitrat/super-ralph/pkg/schema"
)

// ScheduleEntry is one job the scheduler agent asked to run this frame.
type ScheduleEntry struct {
	JobID    string
	JobType  jobqueue.JobType
	AgentID  string
	TicketID string
	FocusID  string
}

// Bridge reaps completed jobs and reconciles a fresh schedule into the
// active job queue.
type Bridge struct {
	queue *jobqueue.Queue
}

// New builds a Bridge over q.
func New(q *jobqueue.Queue) *Bridge {
	return &Bridge{queue: q}
}

// Reconcile runs the reap/reconcile/read cycle for one frame: it removes
// active jobs whose output now exists, inserts schedule entries that have
// no job and no output yet, and returns the resulting active set ordered by
// creation time for the reconciler to turn into Task nodes.
func (b *Bridge) Reconcile(ctx context.Context, acc *frame.Accessor, iteration int, schedule []ScheduleEntry) ([]jobqueue.Job, error) {
	active, err := b.queue.Active(ctx)
	if err != nil {
		return nil, err
	}

	reaped := 0
	for _, j := range active {
		done, err := b.outputExists(ctx, acc, j.JobType, j.TicketID, iteration)
		if err != nil {
			return nil, err
		}
		if !done {
			continue
		}
		if err := b.queue.Remove(ctx, j.JobID); err != nil {
			return nil, err
		}
		reaped++
	}
	if reaped > 0 {
		slog.Info("bridge: reaped completed jobs", "count", reaped)
	}

	inserted := 0
	for _, entry := range schedule {
		has, err := b.queue.Has(ctx, entry.JobID)
		if err != nil {
			return nil, err
		}
		if has {
			continue
		}
		done, err := b.outputExists(ctx, acc, entry.JobType, entry.TicketID, iteration)
		if err != nil {
			return nil, err
		}
		if done {
			continue
		}
		if err := b.queue.InsertIfAbsent(ctx, jobqueue.Job{
			JobID: entry.JobID, JobType: entry.JobType, AgentID: entry.AgentID,
			TicketID: entry.TicketID, FocusID: entry.FocusID,
		}); err != nil {
			return nil, err
		}
		inserted++
	}
	if inserted > 0 {
		slog.Info("bridge: scheduled new jobs", "count", inserted)
	}

	return b.queue.Active(ctx)
}

// outputExists reports whether jobType's output row already exists for
// ticketID at iteration. Repeating job types (discovery, progress-update)
// use the iteration-scoped lookup since a prior iteration's row must not
// suppress rescheduling in a later one; one-shot ticket stages use the
// cross-iteration lookup since their output never repeats within a run.
func (b *Bridge) outputExists(ctx context.Context, acc *frame.Accessor, jobType jobqueue.JobType, ticketID string, iteration int) (bool, error) {
	key, nodeID, ok := schemaForJob(jobType, ticketID)
	if !ok {
		return false, nil
	}
	if jobType.Repeating() {
		row, err := acc.OutputMaybe(ctx, key, nodeID, iteration)
		if err != nil {
			return false, err
		}
		return row != nil, nil
	}
	row, err := acc.Latest(ctx, key, nodeID)
	if err != nil {
		return false, err
	}
	return row != nil, nil
}

// schemaForJob maps a job type to the schema key and node id its completion
// check reads, or ok=false if jobType names no known output.
func schemaForJob(jobType jobqueue.JobType, ticketID string) (key schema.Key, nodeID string, ok bool) {
	switch jobType {
	case jobqueue.JobDiscovery:
		return schema.KeyDiscover, "discovery", true
	case jobqueue.JobProgressUpdate:
		return schema.KeyProgress, "progress", true
	case jobqueue.JobCodebaseReview:
		return schema.KeyCategoryReview, "codebase-review", true
	case jobqueue.JobIntegrationTest:
		return schema.KeyIntegrationTest, "integration-test", true
	}

	stage, isTicket := strings.CutPrefix(string(jobType), "ticket:")
	if !isTicket {
		return "", "", false
	}
	stageKey, ok := schema.StageSchema[stage]
	if !ok {
		return "", "", false
	}
	return stageKey, fmt.Sprintf("%s:%s", ticketID, stage), true
}

// ActiveJobCounter adapts Bridge to engine.ActiveJobCounter: the frame loop
// keeps running while jobs remain active even if the tree itself has gone
// idle, since a repeating job can make new tree nodes runnable on a later
// frame.
func (b *Bridge) ActiveJobCounter(ctx context.Context) (int, error) {
	active, err := b.queue.Active(ctx)
	if err != nil {
		return 0, err
	}
	return len(active), nil
}
