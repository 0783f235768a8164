package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/enitrat/super-ralph/pkg/invoker"
	"github.com/enitrat/super-ralph/pkg/plan"
	"github.com/enitrat/super-ralph/pkg/store"
	"github.com/enitrat/super-ralph/pkg/taskerr"
)

// dispatch runs one task descriptor to completion: it picks an agent
// invocation, a compute callback, or a static payload, records the
// attempt, validates and persists the result, and updates in-memory
// run state. It never returns an error directly — failures are folded
// into the persisted failure count and surfaced through the next
// scheduling pass instead, matching the scheduler's retry-budget rule.
func (e *Engine) dispatch(ctx context.Context, desc *plan.TaskDescriptor) {
	defer func() {
		e.mu.Lock()
		delete(e.inProgress, desc.NodeID)
		e.mu.Unlock()
	}()

	e.mu.Lock()
	attempt := e.failureCount[desc.NodeID] + 1
	e.mu.Unlock()

	taskCtx := ctx
	if desc.Timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, desc.Timeout)
		defer cancel()
	}
	taskCtx, cancel := context.WithCancel(taskCtx)
	e.mu.Lock()
	e.cancels[desc.NodeID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, desc.NodeID)
		e.mu.Unlock()
		cancel()
	}()

	agentID := ""
	if desc.Agent != nil {
		agentID = desc.Agent.AgentForAttempt(attempt)
	}

	if err := e.store.BeginAttempt(ctx, e.runID, desc.NodeID, attempt, agentID); err != nil {
		slog.Error("engine: failed to record attempt start", "node_id", desc.NodeID, "error", err)
		e.recordFailure(ctx, desc.NodeID, attempt)
		return
	}

	payload, runErr := e.runTask(taskCtx, desc, agentID, attempt)

	outcome := store.OutcomeSucceeded
	if runErr != nil {
		outcome = store.OutcomeFailed
		if errors.Is(runErr, taskerr.ErrCancelled) {
			outcome = store.OutcomeCancelled
		}
	}
	if err := e.store.FinishAttempt(ctx, e.runID, desc.NodeID, attempt, outcome); err != nil {
		slog.Error("engine: failed to record attempt finish", "node_id", desc.NodeID, "error", err)
	}

	if runErr != nil {
		slog.Warn("engine: task attempt failed", "node_id", desc.NodeID, "attempt", attempt, "error", runErr)
		e.recordFailure(ctx, desc.NodeID, attempt)
		return
	}

	if err := e.store.Put(ctx, desc.Schema, e.runID, desc.NodeID, desc.Iteration, payload); err != nil {
		slog.Warn("engine: output failed validation", "node_id", desc.NodeID, "attempt", attempt, "error", err)
		e.recordFailure(ctx, desc.NodeID, attempt)
		return
	}

	if err := e.store.UpsertNodeState(ctx, e.runID, desc.NodeID, "finished", 0); err != nil {
		slog.Error("engine: failed to persist node state", "node_id", desc.NodeID, "error", err)
	}
}

// runTask produces desc's output payload via its static payload, compute
// callback, or agent invocation — exactly one of these is set per the
// component tree's Task contract.
func (e *Engine) runTask(ctx context.Context, desc *plan.TaskDescriptor, agentID string, attempt int) (any, error) {
	switch {
	case desc.StaticPayload != nil:
		return desc.StaticPayload, nil

	case desc.Compute != nil:
		return desc.Compute()

	case desc.Agent != nil:
		entry, err := e.agentPool.Get(agentID)
		if err != nil {
			return nil, err
		}
		workDir := ""
		if desc.WorkspaceID != "" {
			workDir = e.workspaces.Path(desc.WorkspaceID)
		}
		prompt, err := buildPrompt(desc)
		if err != nil {
			return nil, err
		}
		res, err := e.invoker.Invoke(ctx, invoker.Invocation{
			AgentID: agentID, Entry: entry, Prompt: prompt, WorkDir: workDir,
		})
		if err != nil {
			return nil, err
		}
		return res.Payload, nil

	default:
		return nil, fmt.Errorf("engine: task %q has neither static payload, compute, nor agent", desc.NodeID)
	}
}

// buildPrompt renders the prompt for an agent task from its node id,
// schema, and iteration, prefixed with desc.PromptContext verbatim when
// set (the Durability/Resume and eviction-context annotations attached at
// tree-build time). Ticket stages supply richer templates via
// desc.StaticPayload-adjacent config, not modeled here.
func buildPrompt(desc *plan.TaskDescriptor) (string, error) {
	base := fmt.Sprintf("node=%s schema=%s iteration=%d", desc.NodeID, desc.Schema, desc.Iteration)
	if desc.PromptContext == "" {
		return base, nil
	}
	return desc.PromptContext + "\n" + base, nil
}

func (e *Engine) recordFailure(ctx context.Context, nodeID string, attempt int) {
	e.mu.Lock()
	e.failureCount[nodeID] = attempt
	count := e.failureCount[nodeID]
	e.mu.Unlock()

	if err := e.store.UpsertNodeState(ctx, e.runID, nodeID, "pending", count); err != nil {
		slog.Error("engine: failed to persist failure count", "node_id", nodeID, "error", err)
	}
}

// Cancel fires the cancellation function for an in-flight node and reports
// whether one was registered for nodeID.
func (e *Engine) Cancel(nodeID string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[nodeID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}
