// Package mergequeue implements the Merge Queue Coordinator (§4.12): a
// speculative, windowed stacked-rebase land pipeline. Grounded on the
// create/rebase/push/cleanup vocabulary of the example pack's git worktree
// manager, adapted from git branches to jj bookmarks, and on parallel CI
// fan-out via golang.org/x/sync/errgroup.
package mergequeue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/enitrat/super-ralph/pkg/config"
	"github.com/enitrat/super-ralph/pkg/evictioncontext"
	"github.com/enitrat/super-ralph/pkg/taskerr"
	"github.com/enitrat/super-ralph/pkg/vcs"
	"github.com/enitrat/super-ralph/pkg/workspace"
)

// State is a queue entry's position in its per-ticket state machine:
// pending -> resolved{landed|evicted}.
type State string

const (
	StatePending State = "pending"
	StateLanded  State = "landed"
	StateEvicted State = "evicted"
)

// Check is one declared post-land verification run against a speculative
// entry's workspace, concurrently with every other window entry's checks.
type Check func(ctx context.Context, workDir string) error

// Entry is one ticket's candidacy to land.
type Entry struct {
	TicketID        string
	Priority        config.Priority
	ReportIteration int
	PositionalIndex int
	EnqueueSeq      int

	mu              sync.Mutex
	state           State
	evictionReason  taskerr.EvictionReason
	evictionContext *evictioncontext.Context
	invalidated     int
}

// State returns the entry's current state machine position.
func (e *Entry) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// EvictionReason returns the reason this entry was evicted, if it was.
func (e *Entry) EvictionReason() taskerr.EvictionReason {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evictionReason
}

// EvictionContext returns the diagnostic bundle collected for this
// entry's eviction, or nil if it has not been evicted or no builder was
// configured.
func (e *Entry) EvictionContext() *evictioncontext.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evictionContext
}

// InvalidatedCount reports how many times this entry was bumped out of a
// window by an earlier entry's eviction without being evicted itself.
func (e *Entry) InvalidatedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.invalidated
}

func bookmarkFor(ticketID string) string {
	return "ticket/" + ticketID
}

// Coordinator runs the speculative stacked-rebase merge queue.
type Coordinator struct {
	repo        *vcs.Repo
	workspaces  *workspace.Manager
	ctxBuilder  *evictioncontext.Builder
	checks      []Check
	windowDepth int
	ordering    config.OrderingStrategy

	mu      sync.Mutex
	entries map[string]*Entry
	seq     int
}

// New builds a Coordinator. windowDepth is the speculative window size D;
// ordering selects how ready entries are ranked into that window. ctxBuilder
// may be nil to skip eviction-diagnostics collection (e.g. in tests).
func New(repo *vcs.Repo, ws *workspace.Manager, ctxBuilder *evictioncontext.Builder, windowDepth int, ordering config.OrderingStrategy, checks ...Check) *Coordinator {
	return &Coordinator{
		repo: repo, workspaces: ws, ctxBuilder: ctxBuilder,
		checks: checks, windowDepth: windowDepth, ordering: ordering,
		entries: make(map[string]*Entry),
	}
}

// Submit registers ticketID as tier-complete and ready to land at
// reportIteration. Resubmitting the same ticket at a reportIteration no
// greater than its current one is a no-op; a strictly higher reportIteration
// reopens the entry to pending even if it had already landed or evicted.
func (c *Coordinator) Submit(ticketID string, priority config.Priority, reportIteration, positionalIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.entries[ticketID]
	if !ok {
		c.seq++
		c.entries[ticketID] = &Entry{
			TicketID: ticketID, Priority: priority, ReportIteration: reportIteration,
			PositionalIndex: positionalIndex, EnqueueSeq: c.seq, state: StatePending,
		}
		return
	}

	existing.mu.Lock()
	defer existing.mu.Unlock()
	if reportIteration <= existing.ReportIteration {
		return
	}
	existing.ReportIteration = reportIteration
	existing.PositionalIndex = positionalIndex
	existing.Priority = priority
	existing.state = StatePending
	existing.evictionReason = ""
	existing.evictionContext = nil
}

// Result returns the current state for ticketID and whether it is known to
// the coordinator at all.
func (c *Coordinator) Result(ticketID string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ticketID]
	return e, ok
}

// Ready returns every pending entry ordered per the coordinator's strategy.
func (c *Coordinator) Ready() []*Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*Entry
	for _, e := range c.entries {
		if e.State() == StatePending {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return c.less(out[i], out[j]) })
	return out
}

func (c *Coordinator) less(a, b *Entry) bool {
	switch c.ordering {
	case config.OrderingTicketOrder:
		if a.PositionalIndex != b.PositionalIndex {
			return a.PositionalIndex < b.PositionalIndex
		}
	case config.OrderingReportCompleteFIFO:
		if a.ReportIteration != b.ReportIteration {
			return a.ReportIteration < b.ReportIteration
		}
	default: // config.OrderingPriority
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
	}
	return a.EnqueueSeq < b.EnqueueSeq
}

// RunRound executes one pass of the speculative algorithm over up to
// windowDepth ready entries and returns the entries it resolved this round
// (landed or evicted). An empty, nil-error result means nothing was ready.
func (c *Coordinator) RunRound(ctx context.Context, reviewer func(ctx context.Context, window []*Entry) (evictIdx int, err error)) ([]*Entry, error) {
	window := c.Ready()
	if len(window) == 0 {
		return nil, nil
	}
	if len(window) > c.windowDepth {
		window = window[:c.windowDepth]
	}

	if err := c.repo.Fetch(ctx); err != nil {
		return nil, fmt.Errorf("mergequeue: fetch mainline: %w", err)
	}

	if evicted := c.rebaseWindow(ctx, window); evicted != nil {
		return []*Entry{evicted}, nil
	}

	if reviewer != nil {
		idx, err := reviewer(ctx, window)
		if err != nil {
			return nil, fmt.Errorf("mergequeue: semantic review: %w", err)
		}
		if idx >= 0 {
			return c.resolveSplit(ctx, window, idx, taskerr.EvictionReviewFailed, "")
		}
	}

	failIdx, failureOutput, err := c.parallelCI(ctx, window)
	if err != nil {
		return nil, err
	}
	if failIdx < 0 {
		if err := c.landPrefix(ctx, window); err != nil {
			return nil, err
		}
		return window, nil
	}
	return c.resolveSplit(ctx, window, failIdx, taskerr.EvictionCIFailed, failureOutput)
}

// resolveSplit lands every entry before idx, evicts window[idx], and marks
// every entry after idx invalidated (bumped out of this round without
// being evicted itself, eligible again next round).
func (c *Coordinator) resolveSplit(ctx context.Context, window []*Entry, idx int, reason taskerr.EvictionReason, failureOutput string) ([]*Entry, error) {
	landed := window[:idx]
	if err := c.landPrefix(ctx, landed); err != nil {
		return nil, err
	}
	c.evict(ctx, window[idx], reason, failureOutput)
	for _, e := range window[idx+1:] {
		e.mu.Lock()
		e.invalidated++
		e.mu.Unlock()
	}

	resolved := make([]*Entry, 0, len(landed)+1)
	resolved = append(resolved, landed...)
	resolved = append(resolved, window[idx])
	return resolved, nil
}

// rebaseWindow replays each window entry's bookmark onto its predecessor's
// (or mainline for the first entry). The first rebase failure evicts that
// entry and stops the round; the caller restarts next call against the
// now-smaller ready set.
func (c *Coordinator) rebaseWindow(ctx context.Context, window []*Entry) *Entry {
	for i, e := range window {
		dest := "mainline"
		if i > 0 {
			dest = bookmarkFor(window[i-1].TicketID)
		}
		dir := c.workspaces.Path(e.TicketID)
		if err := c.repo.Rebase(ctx, dir, bookmarkFor(e.TicketID), dest); err != nil {
			c.evict(ctx, e, taskerr.EvictionRebaseConflict, err.Error())
			return e
		}
	}
	return nil
}

// parallelCI runs every window entry's declared checks concurrently via an
// errgroup and returns the lowest index whose checks failed, or -1 if none
// did.
func (c *Coordinator) parallelCI(ctx context.Context, window []*Entry) (int, string, error) {
	results := make([]error, len(window))
	var g errgroup.Group
	for i, e := range window {
		i, e := i, e
		g.Go(func() error {
			dir := c.workspaces.Path(e.TicketID)
			for _, check := range c.checks {
				if err := check(ctx, dir); err != nil {
					results[i] = err
					return nil
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, "", fmt.Errorf("%w: %v", taskerr.ErrCIFailure, err)
	}

	for i, err := range results {
		if err != nil {
			return i, err.Error(), nil
		}
	}
	return -1, "", nil
}

// landPrefix fast-forwards mainline to the tail of landed, pushes, and
// cleans up each entry (delete bookmark, close workspace, remove path).
func (c *Coordinator) landPrefix(ctx context.Context, landed []*Entry) error {
	if len(landed) == 0 {
		return nil
	}
	tail := landed[len(landed)-1]
	dir := c.workspaces.Path(tail.TicketID)
	revset := vcs.BookmarkRevset(tail.TicketID)

	if err := c.repo.BookmarkSet(ctx, dir, "mainline", revset); err != nil {
		return fmt.Errorf("mergequeue: fast-forward mainline: %w", err)
	}
	if err := c.pushWithRetry(ctx, dir, "mainline"); err != nil {
		return err
	}

	for _, e := range landed {
		c.cleanup(ctx, e)
		e.mu.Lock()
		e.state = StateLanded
		e.mu.Unlock()
	}
	return nil
}

// pushWithRetry retries a push up to three times with a re-fetch between
// attempts before giving up.
func (c *Coordinator) pushWithRetry(ctx context.Context, dir, bookmark string) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := c.repo.GitPush(ctx, dir, bookmark); err == nil {
			return nil
		} else {
			lastErr = err
			_ = c.repo.Fetch(ctx)
		}
	}
	return fmt.Errorf("%w: %v", taskerr.ErrPushFailure, lastErr)
}

func (c *Coordinator) cleanup(ctx context.Context, e *Entry) {
	dir := c.workspaces.Path(e.TicketID)
	if err := c.repo.BookmarkDelete(ctx, dir, bookmarkFor(e.TicketID)); err != nil {
		slog.Warn("mergequeue: bookmark delete failed", "ticket", e.TicketID, "error", err)
	}
	if err := c.workspaces.Close(ctx, e.TicketID); err != nil {
		slog.Warn("mergequeue: workspace close failed", "ticket", e.TicketID, "error", err)
	}
	if err := c.workspaces.Remove(dir); err != nil {
		slog.Warn("mergequeue: workspace remove failed", "ticket", e.TicketID, "error", err)
	}
}

func (c *Coordinator) evict(ctx context.Context, e *Entry, reason taskerr.EvictionReason, failureOutput string) {
	var ec *evictioncontext.Context
	if c.ctxBuilder != nil {
		dir := c.workspaces.Path(e.TicketID)
		built, err := c.ctxBuilder.Build(ctx, dir, e.TicketID)
		if err != nil {
			slog.Warn("mergequeue: eviction context build failed", "ticket", e.TicketID, "error", err)
		} else {
			built.FailureOutput = failureOutput
			ec = built
		}
	}

	e.mu.Lock()
	e.state = StateEvicted
	e.evictionReason = reason
	e.evictionContext = ec
	e.mu.Unlock()
}
