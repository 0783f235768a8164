package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/enitrat/super-ralph/pkg/plan"
)

// Result is everything one scheduling pass emits: the ordered runnable
// set, per-loop advance signals, and which node ids turned out to be
// terminally failed (for the engine's unrecoverable-failure check).
type Result struct {
	Runnable     []*plan.TaskDescriptor
	LoopAdvances []string
	Failed       []string
}

// RateLimit is one agent's exclusion window; the scheduler's output
// carries these so the next frame's assignments respect them.
type RateLimit struct {
	AgentID   string
	ResumeAt time.Time
}

// Scheduler walks a rendered tree and computes runnability under
// concurrency caps.
type Scheduler struct {
	globalCap int
}

// New builds a Scheduler with the given global concurrency cap.
func New(globalCap int) *Scheduler {
	return &Scheduler{globalCap: globalCap}
}

// Schedule walks result.Root, determining node state for every task
// descriptor via Input, and returns the runnable set ordered by
// declaration, the loop-advance signals, and terminally failed nodes.
// inProgressTotal is the number of tasks the engine already has in flight;
// it is subtracted from the global cap to give the budget Parallel and
// MergeQueue groups dispatch against. A group's own cap counts only tasks
// made runnable in this pass, not tasks of that group already in flight.
func (s *Scheduler) Schedule(ctx context.Context, result *plan.RenderResult, in Input, inProgressTotal int) (*Result, error) {
	w := &walker{
		ctx:    ctx,
		result: result,
		in:     in,
		res:    &Result{},
		budget: s.globalCap - inProgressTotal,
	}
	if w.budget < 0 {
		w.budget = 0
	}

	if _, _, err := w.walk(result.Root, w.budget); err != nil {
		return nil, err
	}
	return w.res, nil
}

type walker struct {
	ctx    context.Context
	result *plan.RenderResult
	in     Input
	res    *Result
	budget int
}

// walk returns (terminal, allTerminal, err) for n: terminal reports
// whether n itself (as a unit) has reached a terminal state this frame
// (only meaningful for Task leaves — containers report allTerminal
// instead), and allTerminal reports whether every descendant task is
// terminal, which is what a Loop checks before firing an advance signal.
func (w *walker) walk(n plan.Node, groupBudget int) (terminal bool, allTerminal bool, err error) {
	switch v := n.(type) {
	case *plan.Workflow:
		return w.walkSequence(v.Children, groupBudget)
	case *plan.Sequence:
		return w.walkSequence(v.Children, groupBudget)
	case *plan.Parallel:
		return w.walkParallel(v.Children, v.GroupCap, groupBudget)
	case *plan.MergeQueue:
		return w.walkParallel(v.Children, 1, groupBudget)
	case *plan.Worktree:
		return w.walkSequence(v.Children, groupBudget)
	case *plan.Loop:
		_, allTerm, err := w.walkSequence(v.Children, groupBudget)
		if err != nil {
			return false, false, err
		}
		if allTerm {
			w.res.LoopAdvances = append(w.res.LoopAdvances, v.ID)
		}
		return allTerm, allTerm, nil
	case *plan.Task:
		return w.walkTask(v)
	default:
		return false, false, fmt.Errorf("scheduler: unknown node type %T", n)
	}
}

// walkSequence implements "first non-terminal child only": children before
// the first non-terminal one are skipped over (already done), the first
// non-terminal child is descended into for runnability, and children after
// it are not considered this frame.
func (w *walker) walkSequence(children []plan.Node, groupBudget int) (terminal bool, allTerminal bool, err error) {
	allTerminal = true
	dispatchedThisSequence := false

	for _, c := range children {
		t, at, err := w.peekTerminal(c)
		if err != nil {
			return false, false, err
		}
		if t {
			continue
		}
		allTerminal = false
		if !dispatchedThisSequence {
			if _, _, err := w.walk(c, groupBudget); err != nil {
				return false, false, err
			}
			dispatchedThisSequence = true
		}
		_ = at
	}
	return allTerminal, allTerminal, nil
}

// walkParallel makes every non-terminal child schedulable concurrently, up
// to groupCap (0 means unbounded within the parent's budget).
func (w *walker) walkParallel(children []plan.Node, groupCap int, parentBudget int) (terminal bool, allTerminal bool, err error) {
	budget := parentBudget
	if groupCap > 0 && groupCap < budget {
		budget = groupCap
	}

	allTerminal = true
	for _, c := range children {
		t, _, err := w.peekTerminal(c)
		if err != nil {
			return false, false, err
		}
		if t {
			continue
		}
		allTerminal = false
		if budget <= 0 {
			continue
		}
		before := len(w.res.Runnable)
		if _, _, err := w.walk(c, budget); err != nil {
			return false, false, err
		}
		dispatched := len(w.res.Runnable) - before
		budget -= dispatched
		w.budget -= dispatched
	}
	return allTerminal, allTerminal, nil
}

// peekTerminal reports whether every task reachable under n is already
// terminal, without dispatching anything — used to decide which Sequence
// child is "the first non-terminal one" before committing a walk to it.
func (w *walker) peekTerminal(n plan.Node) (bool, bool, error) {
	switch v := n.(type) {
	case *plan.Task:
		state, err := NodeStateFor(w.ctx, w.result.ByID[v.ID], w.in)
		if err != nil {
			return false, false, err
		}
		return state.Terminal(), state.Terminal(), nil
	case *plan.Workflow:
		return w.peekAll(v.Children)
	case *plan.Sequence:
		return w.peekAll(v.Children)
	case *plan.Parallel:
		return w.peekAll(v.Children)
	case *plan.MergeQueue:
		return w.peekAll(v.Children)
	case *plan.Worktree:
		return w.peekAll(v.Children)
	case *plan.Loop:
		return w.peekAll(v.Children)
	default:
		return false, false, fmt.Errorf("scheduler: unknown node type %T", n)
	}
}

func (w *walker) peekAll(children []plan.Node) (bool, bool, error) {
	for _, c := range children {
		t, _, err := w.peekTerminal(c)
		if err != nil {
			return false, false, err
		}
		if !t {
			return false, false, nil
		}
	}
	return true, true, nil
}

func (w *walker) walkTask(t *plan.Task) (bool, bool, error) {
	desc := w.result.ByID[t.ID]
	state, err := NodeStateFor(w.ctx, desc, w.in)
	if err != nil {
		return false, false, err
	}

	switch state {
	case StateFailed:
		w.res.Failed = append(w.res.Failed, t.ID)
		return true, true, nil
	case StateSkipped, StateFinished:
		return true, true, nil
	case StateInProgress:
		return false, false, nil
	case StatePending:
		w.res.Runnable = append(w.res.Runnable, desc)
		return false, false, nil
	default:
		return false, false, fmt.Errorf("scheduler: unknown node state %q", state)
	}
}
