// Package plan implements the Component Tree & Reconciler: a declarative,
// tagged-variant AST built by a small tree-construction DSL, plus a pure
// render(ctx) -> AST function the scheduler walks directly.
package plan

import (
	"time"

	"github.com/enitrat/super-ralph/pkg/schema"
)

// Node is any member of the component tree. It is a closed set: Workflow,
// Sequence, Parallel, Loop, Branch, Task, Worktree, MergeQueue.
type Node interface {
	node()
}

// Workflow is the root container; semantically equivalent to Sequence.
type Workflow struct {
	ID       string
	Children []Node
}

func (*Workflow) node() {}

// Sequence requires its children to reach terminal state in declaration
// order.
type Sequence struct {
	ID       string
	Children []Node
}

func (*Sequence) node() {}

// Parallel makes every non-terminal child schedulable concurrently, up to
// GroupCap (0 means unbounded, i.e. governed only by the global cap).
type Parallel struct {
	ID       string
	GroupCap int
	Children []Node
}

func (*Parallel) node() {}

// MaxIterationsPolicy governs what happens when a Loop reaches its
// maxIterations bound without its Until predicate holding.
type MaxIterationsPolicy string

const (
	// MaxIterationsFail terminates the run as Failed.
	MaxIterationsFail MaxIterationsPolicy = "fail"
	// MaxIterationsReturnLast treats the loop as terminated using the
	// last iteration's outputs.
	MaxIterationsReturnLast MaxIterationsPolicy = "return-last"
)

// Loop (Ralph) re-renders Children for iteration i+1 once every child
// terminates at iteration i. It terminates when Until holds, when
// MaxIterations is reached (per Policy), or when a render produces no
// runnable tasks.
type Loop struct {
	ID                  string
	Children            []Node
	Until               func(LoopState) bool
	MaxIterations       int
	MaxIterationsPolicy MaxIterationsPolicy
}

func (*Loop) node() {}

// LoopState is what an Until predicate inspects to decide termination.
type LoopState struct {
	Iteration int
}

// Branch activates exactly one of two subtrees based on Predicate.
type Branch struct {
	ID        string
	Predicate func() bool
	IfTrue    Node
	IfFalse   Node
}

func (*Branch) node() {}

// AgentRef is a finite, ordered fallback chain of agent ids. Attempt index
// selects an element via saturating-index arithmetic: attempt i (1-based)
// uses Agents[min(i-1, len(Agents)-1)] — primary first, then fallback for
// the remainder, never indexing past the end.
type AgentRef struct {
	Agents []string
}

// AgentForAttempt returns the agent id to use for the given 1-based
// attempt number.
func (a AgentRef) AgentForAttempt(attempt int) string {
	if len(a.Agents) == 0 {
		return ""
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(a.Agents) {
		idx = len(a.Agents) - 1
	}
	return a.Agents[idx]
}

// ComputeFunc is a pure-task callback: a compute task that produces its
// own payload without spawning an agent subprocess.
type ComputeFunc func() (any, error)

// Task is a leaf node. Exactly one of Agent, Compute, or StaticPayload is
// set, matching the "optional agent / optional compute / optional static
// payload" shape from the component design.
type Task struct {
	ID             string
	Schema         schema.Key
	Agent          *AgentRef
	Compute        ComputeFunc
	StaticPayload  any
	Retries        int
	Timeout        time.Duration
	ContinueOnFail bool
	Skip           func() bool
	// PromptContext is prepended to the agent prompt verbatim when set —
	// used to carry forward diagnostic context (e.g. eviction context
	// from a prior failed merge attempt) that the prompt builder has no
	// other way to reach, since Render never re-consults the store.
	PromptContext string
}

func (*Task) node() {}

// Worktree wraps Children to execute with cwd bound to a VCS workspace
// path.
type Worktree struct {
	ID          string
	WorkspaceID string
	Children    []Node
}

func (*Worktree) node() {}

// MergeQueue is a Parallel variant with an effective concurrency of 1.
type MergeQueue struct {
	ID       string
	Children []Node
}

func (*MergeQueue) node() {}
