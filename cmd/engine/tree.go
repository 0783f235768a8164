package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/enitrat/super-ralph/pkg/bridge"
	"github.com/enitrat/super-ralph/pkg/config"
	"github.com/enitrat/super-ralph/pkg/evictioncontext"
	"github.com/enitrat/super-ralph/pkg/frame"
	"github.com/enitrat/super-ralph/pkg/jobqueue"
	"github.com/enitrat/super-ralph/pkg/mergequeue"
	"github.com/enitrat/super-ralph/pkg/plan"
	"github.com/enitrat/super-ralph/pkg/schema"
	"github.com/enitrat/super-ralph/pkg/store"
	"github.com/enitrat/super-ralph/pkg/taskerr"
	"github.com/enitrat/super-ralph/pkg/ticket"
	"github.com/enitrat/super-ralph/pkg/workspace"
)

// evictionAnnotatedStages are the stages the eviction-context annotation
// is injected into on the ticket's next pipeline attempt after a merge
// queue eviction, per the "inject verbatim into Research/Plan/Implement
// prompts" requirement.
var evictionAnnotatedStages = map[string]bool{
	"research":  true,
	"plan":      true,
	"implement": true,
}

// Deps bundles every long-lived collaborator the tree builder needs each
// frame. Built once at startup in main; the tree itself is rebuilt fresh
// every frame from current store/queue state, matching §4.6's "a single
// render is a pure function of the current context accessor."
type Deps struct {
	Store      *store.Store
	Queue      *jobqueue.Queue
	Bridge     *bridge.Bridge
	Workspaces *workspace.Manager
	MergeQueue *mergequeue.Coordinator
	Pipeline   *ticket.Pipeline
	AgentPool  *config.AgentPool
	RunID      string
	Retries    RetryPolicy
	// ResumePrompt carries the startup Durability/Resume scan's
	// resumable-ticket list, rendered once in doRun and injected into
	// every scheduler-agent invocation for the life of the run.
	ResumePrompt string
}

// RetryPolicy fixes the retry budget per job kind: the scheduler agent,
// global jobs, and per-ticket stages each carry their own count.
type RetryPolicy struct {
	Scheduler int
	Global    int
	TicketStage int
}

// DefaultRetryPolicy matches the Agent Invoker's default "two corrective
// re-prompts" budget (§4.4) for every job kind.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Scheduler: 2, Global: 2, TicketStage: 2}
}

// buildRoot returns the Workflow-building closure engine.Engine.Run calls
// once per frame. It is a thin adapter: the real construction happens in
// buildTree, which is also unit-tested indirectly through the scheduler
// and bridge packages' own suites — this closure exists only to bind ctx
// and deps into the shape engine.Run expects.
func buildRoot(ctx context.Context, deps *Deps) func(map[string]int) plan.Node {
	return func(loopIterations map[string]int) plan.Node {
		iteration := loopIterations["main"]
		root, err := buildTree(ctx, deps, iteration)
		if err != nil {
			slog.Error("tree: render failed, yielding an empty frame", "error", err)
			return plan.Repeat("main", nil, 0, plan.MaxIterationsReturnLast)
		}
		return root
	}
}

// buildTree assembles one frame's Workflow: the scheduler-agent task, a
// Task per currently active job (discovery, progress-update,
// codebase-review, integration-test, or a ticket stage), and the
// merge-queue round, all inside the single Ralph loop that re-renders
// every iteration until every discovered ticket has landed or evicted.
func buildTree(ctx context.Context, deps *Deps, iteration int) (plan.Node, error) {
	acc := frame.New(deps.Store, deps.RunID)

	tickets, err := loadTickets(ctx, deps.Store, deps.RunID)
	if err != nil {
		return nil, fmt.Errorf("tree: loading tickets: %w", err)
	}

	if err := reconcileSchedule(ctx, deps, acc, iteration); err != nil {
		return nil, fmt.Errorf("tree: reconciling schedule: %w", err)
	}

	active, err := deps.Queue.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("tree: reading active jobs: %w", err)
	}

	var jobNodes []plan.Node
	for _, job := range active {
		node, err := buildJobTask(ctx, deps, job)
		if err != nil {
			return nil, fmt.Errorf("tree: building task for job %q: %w", job.JobID, err)
		}
		if node != nil {
			jobNodes = append(jobNodes, node)
		}
	}

	schedulerNode := buildSchedulerTask(deps, len(active))
	mergeNode := buildMergeQueueTask(ctx, deps, tickets, iteration)

	body := []plan.Node{schedulerNode}
	if len(jobNodes) > 0 {
		body = append(body, plan.Par("active-jobs", 0, jobNodes...))
	}
	body = append(body, mergeNode)

	until := allTicketsResolved(deps, tickets)
	return plan.Repeat("main", until, 0, plan.MaxIterationsReturnLast, body...), nil
}

// loadTickets folds every discover row for runID into the current ticket
// set via ticket.Merge's last-write-wins rule.
func loadTickets(ctx context.Context, s *store.Store, runID string) ([]ticket.Ticket, error) {
	rows, err := s.Scan(ctx, schema.KeyDiscover, runID)
	if err != nil {
		return nil, err
	}
	return ticket.Merge(rows)
}

// reconcileSchedule reads the scheduler agent's latest schedule for this
// iteration (iteration-scoped: the scheduler is a repeating job, like
// discovery) and runs the bridge's reap/reconcile cycle against it.
func reconcileSchedule(ctx context.Context, deps *Deps, acc *frame.Accessor, iteration int) error {
	row, err := acc.OutputMaybe(ctx, schema.KeyTicketSchedule, "scheduler", iteration)
	if err != nil {
		return err
	}
	var entries []bridge.ScheduleEntry
	if row != nil {
		decoded, _, err := decodeSchedule(row.Payload)
		if err != nil {
			return err
		}
		entries = decoded
	}
	_, err = deps.Bridge.Reconcile(ctx, acc, iteration, entries)
	return err
}

// buildSchedulerTask builds the distinguished scheduler-agent Task. Its
// Skip predicate fires only when schedulerFreeSlots reports no free slot,
// which it never does, so the scheduler task is rendered every frame.
func buildSchedulerTask(deps *Deps, activeCount int) *plan.Task {
	agentID, _ := deps.AgentPool.SchedulerAgent()
	freeSlots := deps.Retries.schedulerFreeSlots(activeCount)
	return &plan.Task{
		ID:             "scheduler",
		Schema:         schema.KeyTicketSchedule,
		Agent:          &plan.AgentRef{Agents: []string{agentID}},
		Retries:        deps.Retries.Scheduler,
		Timeout:        10 * time.Minute,
		ContinueOnFail: true,
		Skip:           func() bool { return freeSlots <= 0 },
		PromptContext:  deps.ResumePrompt,
	}
}

// schedulerFreeSlots always reports one free slot and ignores activeCount;
// it does not compare the active-job set against the global cap. How many
// tasks run per frame is bounded by the scheduler package's global
// concurrency cap instead.
func (r RetryPolicy) schedulerFreeSlots(activeCount int) int {
	return 1 // always worth asking; the concurrency cap gates actual dispatch.
}

// buildJobTask converts one active job into the Task node the reconciler
// renders for it, per §4.11 point 3.
func buildJobTask(ctx context.Context, deps *Deps, job jobqueue.Job) (plan.Node, error) {
	key, ok := jobSchema(job.JobType)
	if !ok {
		slog.Warn("tree: active job has unrecognized job type", "job_id", job.JobID, "job_type", job.JobType)
		return nil, nil
	}

	task := &plan.Task{
		ID:             job.JobID,
		Schema:         key,
		Agent:          &plan.AgentRef{Agents: []string{job.AgentID}},
		Retries:        deps.Retries.Global,
		Timeout:        60 * time.Minute,
		ContinueOnFail: true,
	}

	stage, isTicketStage := strings.CutPrefix(string(job.JobType), "ticket:")
	if !isTicketStage {
		return task, nil
	}

	task.Retries = deps.Retries.TicketStage
	if _, err := deps.Workspaces.Create(ctx, job.TicketID, ""); err != nil {
		return nil, fmt.Errorf("creating workspace for ticket %q: %w", job.TicketID, err)
	}

	if evictionAnnotatedStages[stage] {
		annotation, err := evictionPromptFor(ctx, deps, job.TicketID)
		if err != nil {
			return nil, fmt.Errorf("loading eviction context for ticket %q: %w", job.TicketID, err)
		}
		task.PromptContext = annotation
	}

	return plan.In(job.TicketID+"-workspace:"+stage, job.TicketID, task), nil
}

// landEvictionPayload mirrors the evictionContext shape of the land
// schema (schema.KeyLand) closely enough to decode it back out.
type landEvictionPayload struct {
	Evicted         string `json:"evicted"`
	EvictionContext *struct {
		BranchCommits   []string `json:"branchCommits"`
		DiffSummary     []string `json:"diffSummary"`
		MainlineCommits []string `json:"mainlineCommits"`
	} `json:"evictionContext"`
}

// evictionPromptFor scans the ticket's latest land row and, if its most
// recent merge attempt was evicted, renders the persisted eviction
// context for verbatim injection into the next Research/Plan/Implement
// prompt. Returns "" when the ticket has never been evicted.
func evictionPromptFor(ctx context.Context, deps *Deps, ticketID string) (string, error) {
	row, err := deps.Store.GetLatest(ctx, schema.KeyLand, deps.RunID, ticketID+":land")
	if err != nil {
		if errors.Is(err, taskerr.ErrNotFound) {
			return "", nil
		}
		return "", err
	}

	var payload landEvictionPayload
	if err := json.Unmarshal(row.Payload, &payload); err != nil {
		return "", fmt.Errorf("decoding land row for %q: %w", ticketID, err)
	}
	if payload.Evicted != "yes" || payload.EvictionContext == nil {
		return "", nil
	}

	ec := &evictioncontext.Context{
		TicketID:    ticketID,
		BranchLog:   payload.EvictionContext.BranchCommits,
		DiffSummary: payload.EvictionContext.DiffSummary,
		MainlineLog: payload.EvictionContext.MainlineCommits,
	}
	return ec.RenderPrompt(), nil
}

func jobSchema(jobType jobqueue.JobType) (schema.Key, bool) {
	switch jobType {
	case jobqueue.JobDiscovery:
		return schema.KeyDiscover, true
	case jobqueue.JobProgressUpdate:
		return schema.KeyProgress, true
	case jobqueue.JobCodebaseReview:
		return schema.KeyCategoryReview, true
	case jobqueue.JobIntegrationTest:
		return schema.KeyIntegrationTest, true
	}
	if stage, ok := strings.CutPrefix(string(jobType), "ticket:"); ok {
		return schema.StageSchema[stage], true
	}
	return "", false
}

// buildMergeQueueTask wraps one coordinator round in a MergeQueue
// container (effective concurrency 1, per §4.6). Its Skip predicate
// submits every tier-complete, not-yet-landed ticket to the coordinator
// (skipping the task when there is none); its Compute callback runs one
// round of the programmatic speculative algorithm (§4.12) and persists a land row
// for each entry the round resolved — the land schema's shape is
// per-ticket, so the round's resolution is flattened into N direct store
// writes rather than the task's own single declared output.
func buildMergeQueueTask(ctx context.Context, deps *Deps, tickets []ticket.Ticket, iteration int) plan.Node {
	task := &plan.Task{
		ID:             "merge-queue-round",
		Schema:         schema.KeyMonitor,
		ContinueOnFail: true,
		Skip:           func() bool { return !anyTierComplete(ctx, deps, tickets) },
		Compute: func() (any, error) {
			return runMergeQueueRound(ctx, deps, tickets, iteration)
		},
	}
	return &plan.MergeQueue{ID: "merge-queue", Children: []plan.Node{task}}
}

func anyTierComplete(ctx context.Context, deps *Deps, tickets []ticket.Ticket) bool {
	found := false
	for i, t := range tickets {
		complete, err := deps.Pipeline.IsTierComplete(ctx, t.ID, t.ComplexityTier)
		if err != nil {
			slog.Warn("tree: tier-completion check failed", "ticket", t.ID, "error", err)
			continue
		}
		if !complete {
			continue
		}
		entry, known := deps.MergeQueue.Result(t.ID)
		if known && entry.State() == mergequeue.StateLanded {
			continue
		}
		deps.MergeQueue.Submit(t.ID, t.Priority, iterationOf(i), i)
		found = true
	}
	return found
}

func iterationOf(i int) int { return i }

func runMergeQueueRound(ctx context.Context, deps *Deps, tickets []ticket.Ticket, iteration int) (any, error) {
	resolved, err := deps.MergeQueue.RunRound(ctx, nil)
	if err != nil {
		return nil, err
	}

	for _, e := range resolved {
		payload := map[string]any{
			"landed":          boolToYesNo(e.State() == mergequeue.StateLanded),
			"evicted":         boolToYesNo(e.State() == mergequeue.StateEvicted),
			"reason":          nil,
			"evictionContext": nil,
		}
		if e.State() == mergequeue.StateEvicted {
			payload["reason"] = string(e.EvictionReason())
			if ec := e.EvictionContext(); ec != nil {
				payload["evictionContext"] = map[string]any{
					"branchCommits":   ec.BranchLog,
					"diffSummary":     ec.DiffSummary,
					"mainlineCommits": ec.MainlineLog,
				}
			}
		}
		if err := deps.Store.Put(ctx, schema.KeyLand, deps.RunID, e.TicketID+":land", iteration, payload); err != nil {
			return nil, fmt.Errorf("persisting land row for %q: %w", e.TicketID, err)
		}
	}

	return map[string]any{
		"healthy": true,
		"notes":   fmt.Sprintf("merge queue round resolved %d entr(y/ies)", len(resolved)),
	}, nil
}

func boolToYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// allTicketsResolved is the loop's Until predicate: the run is done once
// the merge queue coordinator holds a landed or evicted result for every
// discovered ticket. An empty ticket set never satisfies it.
func allTicketsResolved(deps *Deps, tickets []ticket.Ticket) func(plan.LoopState) bool {
	return func(state plan.LoopState) bool {
		if len(tickets) == 0 {
			return false
		}
		for _, t := range tickets {
			entry, known := deps.MergeQueue.Result(t.ID)
			if !known {
				return false
			}
			if entry.State() != mergequeue.StateLanded && entry.State() != mergequeue.StateEvicted {
				return false
			}
		}
		return true
	}
}
