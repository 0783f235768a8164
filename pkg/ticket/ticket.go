// Package ticket models the discovered unit of work, its complexity tier,
// and the stage sequence that tier fixes.
package ticket

import (
	"encoding/json"
	"sort"

	"github.com/enitrat/super-ralph/pkg/config"
	"github.com/enitrat/super-ralph/pkg/store"
)

// Ticket is a discovered unit of work. Its authoritative source is the set
// of discover-schema rows in the output store across all iterations;
// Merge below applies the last-write-wins rule the spec leaves as the only
// decided reading of an otherwise-open question (see DESIGN.md).
type Ticket struct {
	ID                 string               `json:"id"`
	Title              string               `json:"title"`
	Description        string               `json:"description"`
	Category           string               `json:"category"`
	Priority           config.Priority       `json:"priority"`
	ComplexityTier     config.ComplexityTier `json:"complexityTier"`
	AcceptanceCriteria []string             `json:"acceptanceCriteria"`
	RelevantFiles      []string             `json:"relevantFiles"`
	ReferenceFiles     []string             `json:"referenceFiles"`
}

type discoverPayload struct {
	Tickets []Ticket `json:"tickets"`
}

// Merge folds a sequence of discover rows (already in ascending-iteration
// order, as Store.Scan returns them) into a single ticket set, with later
// rows overriding earlier ones for the same ticket id.
func Merge(rows []*store.Row) ([]Ticket, error) {
	byID := make(map[string]Ticket)
	var order []string

	for _, row := range rows {
		var payload discoverPayload
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return nil, err
		}
		for _, t := range payload.Tickets {
			if _, seen := byID[t.ID]; !seen {
				order = append(order, t.ID)
			}
			byID[t.ID] = t
		}
	}

	out := make([]Ticket, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

// SortByPriority orders tickets by priority rank (critical first), with
// ties broken by their position in the input (enqueue sequence), matching
// the merge queue's "priority" ordering strategy.
func SortByPriority(tickets []Ticket) []Ticket {
	out := make([]Ticket, len(tickets))
	copy(out, tickets)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.Rank() < out[j].Priority.Rank()
	})
	return out
}
