package plan

import (
	"fmt"
	"time"

	"github.com/enitrat/super-ralph/pkg/schema"
)

// TaskDescriptor is the reconciler's per-task output: everything the
// scheduler and engine need to decide runnability and dispatch a task,
// without re-walking the tree.
type TaskDescriptor struct {
	NodeID         string
	Schema         schema.Key
	Iteration      int
	LoopID         string
	WorkspaceID    string
	Agent          *AgentRef
	Compute        ComputeFunc
	StaticPayload  any
	Retries        int
	Timeout        time.Duration
	Skipped        bool
	ContinueOnFail bool
	PromptContext  string
}

// RenderResult is a single render's pure output: the resolved tree (Branch
// nodes collapsed to their chosen subtree) for the scheduler to walk
// structurally, plus the flattened descriptor list keyed by node id.
type RenderResult struct {
	Root           Node
	Descriptors    []TaskDescriptor
	ByID           map[string]*TaskDescriptor
	LoopIterations map[string]int
}

// Render is a pure function of root and the current loop-iteration state:
// it resolves every Branch predicate, stamps each Task descendant with its
// enclosing loop's current iteration and its enclosing Worktree's
// workspace id, and evaluates each Task's skip predicate.
//
// loopIterations carries the Engine Loop's per-loop iteration counters
// (§4.8 step 5); Render never mutates it — advancing a loop's counter is
// the engine's job once the scheduler reports every child terminal.
func Render(root Node, loopIterations map[string]int) (*RenderResult, error) {
	res := &RenderResult{
		ByID:           make(map[string]*TaskDescriptor),
		LoopIterations: loopIterations,
	}

	resolved, err := renderNode(root, "", 0, "", res)
	if err != nil {
		return nil, err
	}
	res.Root = resolved
	return res, nil
}

func renderNode(n Node, loopID string, iteration int, workspaceID string, res *RenderResult) (Node, error) {
	switch v := n.(type) {
	case *Workflow:
		children, err := renderChildren(v.Children, loopID, iteration, workspaceID, res)
		if err != nil {
			return nil, err
		}
		return &Workflow{ID: v.ID, Children: children}, nil

	case *Sequence:
		children, err := renderChildren(v.Children, loopID, iteration, workspaceID, res)
		if err != nil {
			return nil, err
		}
		return &Sequence{ID: v.ID, Children: children}, nil

	case *Parallel:
		children, err := renderChildren(v.Children, loopID, iteration, workspaceID, res)
		if err != nil {
			return nil, err
		}
		return &Parallel{ID: v.ID, GroupCap: v.GroupCap, Children: children}, nil

	case *MergeQueue:
		children, err := renderChildren(v.Children, loopID, iteration, workspaceID, res)
		if err != nil {
			return nil, err
		}
		return &MergeQueue{ID: v.ID, Children: children}, nil

	case *Loop:
		current := res.LoopIterations[v.ID]
		children, err := renderChildren(v.Children, v.ID, current, workspaceID, res)
		if err != nil {
			return nil, err
		}
		return &Loop{
			ID:                  v.ID,
			Children:            children,
			Until:               v.Until,
			MaxIterations:       v.MaxIterations,
			MaxIterationsPolicy: v.MaxIterationsPolicy,
		}, nil

	case *Branch:
		var chosen Node
		if v.Predicate() {
			chosen = v.IfTrue
		} else {
			chosen = v.IfFalse
		}
		if chosen == nil {
			return &Sequence{ID: v.ID}, nil
		}
		return renderNode(chosen, loopID, iteration, workspaceID, res)

	case *Worktree:
		children, err := renderChildren(v.Children, loopID, iteration, v.WorkspaceID, res)
		if err != nil {
			return nil, err
		}
		return &Worktree{ID: v.ID, WorkspaceID: v.WorkspaceID, Children: children}, nil

	case *Task:
		skipped := false
		if v.Skip != nil {
			skipped = v.Skip()
		}
		desc := TaskDescriptor{
			NodeID:         v.ID,
			Schema:         v.Schema,
			Iteration:      iteration,
			LoopID:         loopID,
			WorkspaceID:    workspaceID,
			Agent:          v.Agent,
			Compute:        v.Compute,
			StaticPayload:  v.StaticPayload,
			Retries:        v.Retries,
			Timeout:        v.Timeout,
			Skipped:        skipped,
			ContinueOnFail: v.ContinueOnFail,
			PromptContext:  v.PromptContext,
		}
		if _, dup := res.ByID[v.ID]; dup {
			return nil, fmt.Errorf("plan: duplicate node id %q within a single render", v.ID)
		}
		res.Descriptors = append(res.Descriptors, desc)
		res.ByID[v.ID] = &res.Descriptors[len(res.Descriptors)-1]
		return v, nil

	default:
		return nil, fmt.Errorf("plan: unknown node type %T", n)
	}
}

func renderChildren(children []Node, loopID string, iteration int, workspaceID string, res *RenderResult) ([]Node, error) {
	out := make([]Node, 0, len(children))
	for _, c := range children {
		rc, err := renderNode(c, loopID, iteration, workspaceID, res)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}
