// Package engine implements the Engine Loop (§4.8): it drives
// render -> schedule -> execute -> persist -> repeat against a component
// tree until a frame yields no runnable tasks, no loop advances, and no
// active jobs, or cancellation fires. Grounded on the phase-loop shape of
// the example pack's workflow runner and on the cancel-registry pattern
// of the teacher's worker pool, adapted from a linear phase list to a
// tree the Scheduler walks every frame.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/enitrat/super-ralph/pkg/config"
	"github.com/enitrat/super-ralph/pkg/frame"
	"github.com/enitrat/super-ralph/pkg/invoker"
	"github.com/enitrat/super-ralph/pkg/plan"
	"github.com/enitrat/super-ralph/pkg/scheduler"
	"github.com/enitrat/super-ralph/pkg/store"
	"github.com/enitrat/super-ralph/pkg/taskerr"
	"github.com/enitrat/super-ralph/pkg/workspace"
)

// ActiveJobCounter reports how many active jobs the Scheduler Agent
// Bridge currently has outstanding; the frame loop keeps running while
// this is nonzero even when the tree itself has gone idle, since a
// repeating job (discovery, progress-update) can make new tree nodes
// runnable on a later frame. Engine treats a nil counter as "always zero".
type ActiveJobCounter func(ctx context.Context) (int, error)

// Engine owns the mutable run state that persists across frames: which
// nodes are in flight, their failure counts, and each loop's iteration
// counter and termination flag.
type Engine struct {
	store       *store.Store
	invoker     *invoker.Invoker
	workspaces  *workspace.Manager
	agentPool   *config.AgentPool
	globalCap   int
	runID       string
	activeJobs  ActiveJobCounter

	mu             sync.Mutex
	inProgress     map[string]bool
	failureCount   map[string]int
	loopIterations map[string]int
	loopTerminated map[string]bool
	loopFailed     map[string]bool
	cancels        map[string]context.CancelFunc
}

// New builds an Engine for runID, seeding failure counts from any
// previously persisted node records (resume support).
func New(ctx context.Context, s *store.Store, iv *invoker.Invoker, ws *workspace.Manager, pool *config.AgentPool, globalCap int, runID string, activeJobs ActiveJobCounter) (*Engine, error) {
	counts, err := s.NodeFailureCounts(ctx, runID)
	if err != nil {
		return nil, err
	}

	return &Engine{
		store:          s,
		invoker:        iv,
		workspaces:     ws,
		agentPool:      pool,
		globalCap:      globalCap,
		runID:          runID,
		activeJobs:     activeJobs,
		inProgress:     make(map[string]bool),
		failureCount:   counts,
		loopIterations: make(map[string]int),
		loopTerminated: make(map[string]bool),
		loopFailed:     make(map[string]bool),
		cancels:        make(map[string]context.CancelFunc),
	}, nil
}

// FrameSummary reports one frame's outcome for logging and the
// termination check.
type FrameSummary struct {
	FrameNo       int
	RunnableCount int
	LoopAdvances  []string
	Failed        []string
	LoopFailed    []string
}

// Run drives frames until the tree and job queue are both idle, a
// non-continueOnFail failure has surfaced, or ctx is cancelled.
func (e *Engine) Run(ctx context.Context, root func(loopIterations map[string]int) plan.Node) error {
	frameNo := 0
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", taskerr.ErrCancelled, err)
		}

		e.mu.Lock()
		iterSnapshot := cloneIntMap(e.loopIterations)
		e.mu.Unlock()

		summary, err := e.RunFrame(ctx, root(iterSnapshot), frameNo)
		if err != nil {
			return err
		}
		frameNo++

		if len(summary.Failed) > 0 {
			return fmt.Errorf("%w: nodes %v exceeded their retry budget", taskerr.ErrAgentFailure, summary.Failed)
		}
		if len(summary.LoopFailed) > 0 {
			return fmt.Errorf("%w: loops %v", taskerr.ErrLoopMaxIterations, summary.LoopFailed)
		}

		active := 0
		if e.activeJobs != nil {
			active, err = e.activeJobs(ctx)
			if err != nil {
				return err
			}
		}

		if summary.RunnableCount == 0 && len(summary.LoopAdvances) == 0 && active == 0 {
			slog.Info("engine: run terminated, no runnable tasks, loop advances, or active jobs", "run_id", e.runID, "frames", frameNo)
			return nil
		}
	}
}

// RunFrame renders root, asks the Scheduler for this frame's runnable
// set, dispatches every runnable task concurrently, persists outcomes,
// and applies loop-advance signals before returning.
func (e *Engine) RunFrame(ctx context.Context, root plan.Node, frameNo int) (*FrameSummary, error) {
	e.mu.Lock()
	loopIterSnapshot := cloneIntMap(e.loopIterations)
	e.mu.Unlock()

	res, err := plan.Render(root, loopIterSnapshot)
	if err != nil {
		return nil, err
	}

	acc := frame.New(e.store, e.runID)

	e.mu.Lock()
	in := scheduler.Input{
		Accessor:       acc,
		InProgress:     cloneBoolMap(e.inProgress),
		FailureCount:   cloneIntMap(e.failureCount),
		LoopTerminated: cloneBoolMap(e.loopTerminated),
	}
	inProgressTotal := len(e.inProgress)
	e.mu.Unlock()

	sched := scheduler.New(e.globalCap)
	out, err := sched.Schedule(ctx, res, in, inProgressTotal)
	if err != nil {
		return nil, err
	}

	if err := e.store.RecordFrame(ctx, e.runID, frameNo, len(out.Runnable)); err != nil {
		return nil, err
	}

	var fatal []string
	for _, nodeID := range out.Failed {
		e.mu.Lock()
		count := e.failureCount[nodeID]
		e.mu.Unlock()
		if err := e.store.UpsertNodeState(ctx, e.runID, nodeID, "failed", count); err != nil {
			return nil, err
		}
		// A continueOnFail node's failure is persisted but does not end the run.
		if d := res.ByID[nodeID]; d == nil || !d.ContinueOnFail {
			fatal = append(fatal, nodeID)
		}
	}

	var wg sync.WaitGroup
	for _, desc := range out.Runnable {
		desc := desc
		e.mu.Lock()
		e.inProgress[desc.NodeID] = true
		e.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			e.dispatch(ctx, desc)
		}()
	}
	wg.Wait()

	loops := plan.CollectLoops(res.Root)
	var loopFailed []string
	for _, loopID := range out.LoopAdvances {
		if e.advanceLoop(loops[loopID]) {
			loopFailed = append(loopFailed, loopID)
		}
	}

	return &FrameSummary{
		FrameNo:       frameNo,
		RunnableCount: len(out.Runnable),
		LoopAdvances:  out.LoopAdvances,
		Failed:        fatal,
		LoopFailed:    loopFailed,
	}, nil
}

// advanceLoop evaluates a loop's Until predicate and MaxIterations policy
// now that every child has terminated for the current iteration, either
// bumping its iteration counter or marking it terminated. It reports true
// when the loop terminated by exhausting MaxIterations under the fail
// policy, which the caller surfaces as a run-ending error.
func (e *Engine) advanceLoop(l *plan.Loop) bool {
	if l == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.loopIterations[l.ID]

	if l.Until != nil && l.Until(plan.LoopState{Iteration: current}) {
		e.loopTerminated[l.ID] = true
		return false
	}
	if l.MaxIterations > 0 && current+1 >= l.MaxIterations {
		e.loopIterations[l.ID] = current + 1
		e.loopTerminated[l.ID] = true
		if l.MaxIterationsPolicy == plan.MaxIterationsFail {
			e.loopFailed[l.ID] = true
			return true
		}
		return false
	}
	e.loopIterations[l.ID] = current + 1
	return false
}

func cloneIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneBoolMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
