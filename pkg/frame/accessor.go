// Package frame builds the per-frame context accessor: a read-only view of
// the output store with three differently-named lookups so that caller
// intent — which iteration to read — is syntactically visible at every
// call site, rather than implicit in a single overloaded accessor.
package frame

import (
	"context"
	"errors"

	"github.com/enitrat/super-ralph/pkg/schema"
	"github.com/enitrat/super-ralph/pkg/store"
	"github.com/enitrat/super-ralph/pkg/taskerr"
)

// Accessor is built once per frame over the output-store snapshot at the
// frame boundary.
type Accessor struct {
	store *store.Store
	runID string
}

// New constructs an Accessor bound to the current run.
func New(s *store.Store, runID string) *Accessor {
	return &Accessor{store: s, runID: runID}
}

// Output is the exact lookup: iteration defaults to the current frame's
// iteration, and it fails with taskerr.ErrNotFound if absent. Use when
// certainty of existence is required.
func (a *Accessor) Output(ctx context.Context, key schema.Key, nodeID string, iteration int) (*store.Row, error) {
	return a.store.GetExact(ctx, key, a.runID, nodeID, iteration)
}

// OutputMaybe is the same lookup as Output, iteration-scoped, but returns
// (nil, nil) on absence instead of an error. Use for a node type that
// repeats across loop iterations (discovery, progress-update): each
// iteration's completion check must be scoped to that iteration alone, or
// a prior iteration's row would wrongly appear to satisfy this one.
func (a *Accessor) OutputMaybe(ctx context.Context, key schema.Key, nodeID string, iteration int) (*store.Row, error) {
	row, err := a.store.GetExact(ctx, key, a.runID, nodeID, iteration)
	if err != nil {
		if errors.Is(err, taskerr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row, nil
}

// Latest is the cross-iteration lookup: it returns the row with the
// maximum iteration for (run, node), or (nil, nil) on absence. Use for a
// one-shot per-ticket stage's dependency on an earlier loop iteration —
// using Output/OutputMaybe here would pin the dependency to the current
// iteration and return none after the first loop advance.
//
// Misuse of Latest on a known-repeating node type (discovery,
// progress-update) pins that job's first iteration forever; callers must
// route repeating node types through OutputMaybe instead. See
// jobqueue.JobType.Repeating.
func (a *Accessor) Latest(ctx context.Context, key schema.Key, nodeID string) (*store.Row, error) {
	row, err := a.store.GetLatest(ctx, key, a.runID, nodeID)
	if err != nil {
		if errors.Is(err, taskerr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row, nil
}
