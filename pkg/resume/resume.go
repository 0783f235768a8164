// Package resume implements the Durability/Resume scan (§4.13): on
// startup it looks across every prior run for tickets that reached some
// pipeline stage but never landed, and ranks them by how far they got so
// the scheduler agent can prioritize resuming them over fresh discovery.
package resume

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/enitrat/super-ralph/pkg/schema"
	"github.com/enitrat/super-ralph/pkg/store"
)

// stageRank orders pipeline stages from least to most advanced; "land"
// itself is handled separately as the landed/evicted terminal check rather
// than ranked here.
var stageRank = map[string]int{
	"research":     0,
	"plan":         1,
	"implement":    2,
	"test":         3,
	"build-verify": 4,
	"spec-review":  5,
	"code-review":  5,
	"review-fix":   6,
	"report":       7,
}

// Candidate is one ticket found in progress in a prior, non-current run.
type Candidate struct {
	RunID         string
	TicketID      string
	FurthestStage string
}

type landPayload struct {
	Landed string `json:"landed"`
}

// Scan finds every (run, ticket) pair with at least one completed stage
// row under a run other than currentRun, and no land row recording
// landed=yes, ordered furthest-advanced stage first.
func Scan(ctx context.Context, s *store.Store, currentRun string) ([]Candidate, error) {
	type progress struct {
		stage string
		rank  int
	}
	furthest := make(map[[2]string]progress)

	for stage, key := range schema.StageSchema {
		if stage == "land" {
			continue
		}
		runIDs, err := s.ScanRunIDs(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, runID := range runIDs {
			if runID == currentRun {
				continue
			}
			rows, err := s.Scan(ctx, key, runID)
			if err != nil {
				return nil, err
			}
			for _, row := range rows {
				ticketID, ok := strings.CutSuffix(row.NodeID, ":"+stage)
				if !ok {
					continue
				}
				k := [2]string{runID, ticketID}
				rank := stageRank[stage]
				if existing, has := furthest[k]; !has || rank > existing.rank {
					furthest[k] = progress{stage: stage, rank: rank}
				}
			}
		}
	}

	landed, err := landedTickets(ctx, s, currentRun)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(furthest))
	for k, p := range furthest {
		if landed[k] {
			continue
		}
		out = append(out, Candidate{RunID: k[0], TicketID: k[1], FurthestStage: p.stage})
	}

	sort.Slice(out, func(i, j int) bool {
		ri, rj := stageRank[out[i].FurthestStage], stageRank[out[j].FurthestStage]
		if ri != rj {
			return ri > rj
		}
		if out[i].RunID != out[j].RunID {
			return out[i].RunID < out[j].RunID
		}
		return out[i].TicketID < out[j].TicketID
	})
	return out, nil
}

func landedTickets(ctx context.Context, s *store.Store, currentRun string) (map[[2]string]bool, error) {
	out := make(map[[2]string]bool)
	runIDs, err := s.ScanRunIDs(ctx, schema.KeyLand)
	if err != nil {
		return nil, err
	}
	for _, runID := range runIDs {
		if runID == currentRun {
			continue
		}
		rows, err := s.Scan(ctx, schema.KeyLand, runID)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			ticketID, ok := strings.CutSuffix(row.NodeID, ":land")
			if !ok {
				continue
			}
			var payload landPayload
			if err := json.Unmarshal(row.Payload, &payload); err != nil {
				continue
			}
			if payload.Landed == "yes" {
				out[[2]string{runID, ticketID}] = true
			}
		}
	}
	return out, nil
}
