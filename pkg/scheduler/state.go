// Package scheduler walks the plan tree the reconciler produced and
// computes, for every node, its state and whether it is runnable this
// frame, subject to per-group and global concurrency caps.
package scheduler

import (
	"context"

	"github.com/enitrat/super-ralph/pkg/frame"
	"github.com/enitrat/super-ralph/pkg/plan"
)

// NodeState is the result of evaluating the six-rule state determination
// for one task descriptor.
type NodeState string

const (
	StateSkipped    NodeState = "skipped"
	StateInProgress NodeState = "in-progress"
	StateFinished   NodeState = "finished"
	StateFailed     NodeState = "failed"
	StatePending    NodeState = "pending"
)

// Terminal reports whether s is one of the states a Sequence/Loop treats
// as "done with this child": finished, failed, skipped. in-progress and
// pending are not terminal.
func (s NodeState) Terminal() bool {
	switch s {
	case StateFinished, StateFailed, StateSkipped:
		return true
	default:
		return false
	}
}

// Input bundles everything NodeStateFor needs beyond the task descriptor
// itself: the frame's output-store view, which nodes have an attempt
// currently in flight, per-node failure counts toward the retry budget,
// and which loop ids have already terminated.
type Input struct {
	Accessor       *frame.Accessor
	InProgress     map[string]bool
	FailureCount   map[string]int
	LoopTerminated map[string]bool
}

// NodeStateFor evaluates the six state-determination rules, top-down, for
// a single task descriptor.
func NodeStateFor(ctx context.Context, d *plan.TaskDescriptor, in Input) (NodeState, error) {
	if d.Skipped {
		return StateSkipped, nil
	}
	if in.InProgress[d.NodeID] {
		return StateInProgress, nil
	}

	row, err := in.Accessor.OutputMaybe(ctx, d.Schema, d.NodeID, d.Iteration)
	if err != nil {
		return "", err
	}
	if row != nil {
		return StateFinished, nil
	}

	if d.LoopID != "" && in.LoopTerminated[d.LoopID] {
		return StateSkipped, nil
	}

	if in.FailureCount[d.NodeID] >= d.Retries+1 {
		return StateFailed, nil
	}

	return StatePending, nil
}
