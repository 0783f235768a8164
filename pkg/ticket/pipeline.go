package ticket

import (
	"context"
	"errors"

	"github.com/enitrat/super-ralph/pkg/config"
	"github.com/enitrat/super-ralph/pkg/schema"
	"github.com/enitrat/super-ralph/pkg/store"
	"github.com/enitrat/super-ralph/pkg/taskerr"
)

// NodeID builds the rigid "{ticketId}:{stage}" node identifier convention
// per-ticket stages use.
func NodeID(ticketID, stage string) string {
	return ticketID + ":" + stage
}

// Pipeline exposes the tier table plus the three lookups the scheduler and
// scheduler-agent bridge need: current stage, tier completion, and next
// stage. All three read through the output store's cross-iteration
// (`latest`) accessor — one-shot per-ticket stages, unlike discovery or
// progress-update, never need the iteration-scoped variant.
type Pipeline struct {
	store *store.Store
	runID string
}

// NewPipeline binds a Pipeline to the given store and run.
func NewPipeline(s *store.Store, runID string) *Pipeline {
	return &Pipeline{store: s, runID: runID}
}

// CurrentStage reverse-walks tier's stage sequence and returns the furthest
// -advanced stage whose output exists, or "" if none has run yet.
func (p *Pipeline) CurrentStage(ctx context.Context, ticketID string, tier config.ComplexityTier) (string, error) {
	stages := Stages[tier]
	for i := len(stages) - 1; i >= 0; i-- {
		stage := stages[i]
		ok, err := p.stageHasOutput(ctx, ticketID, stage)
		if err != nil {
			return "", err
		}
		if ok {
			return stage, nil
		}
	}
	return "", nil
}

// IsTierComplete reports whether an output row exists for tier's final
// stage under this ticket's node id. Intermediate stages are not checked
// here — stage-by-stage ordering is enforced at scheduling time instead.
func (p *Pipeline) IsTierComplete(ctx context.Context, ticketID string, tier config.ComplexityTier) (bool, error) {
	final := FinalStage(tier)
	if final == "" {
		return false, nil
	}
	return p.stageHasOutput(ctx, ticketID, final)
}

// NextStage returns the first tier-stage after CurrentStage, or "" if the
// tier is already complete.
func (p *Pipeline) NextStage(ctx context.Context, ticketID string, tier config.ComplexityTier) (string, error) {
	stages := Stages[tier]
	current, err := p.CurrentStage(ctx, ticketID, tier)
	if err != nil {
		return "", err
	}
	if current == "" {
		return stages[0], nil
	}
	for i, s := range stages {
		if s == current {
			if i+1 < len(stages) {
				return stages[i+1], nil
			}
			return "", nil
		}
	}
	return "", nil
}

func (p *Pipeline) stageHasOutput(ctx context.Context, ticketID, stage string) (bool, error) {
	key, ok := schema.StageSchema[stage]
	if !ok {
		return false, nil
	}
	_, err := p.store.GetLatest(ctx, key, p.runID, NodeID(ticketID, stage))
	if err != nil {
		if errors.Is(err, taskerr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
