// Package report builds the user-visible structured report the Engine
// Loop produces when a run terminates (§7 "User-visible behavior"):
// landed tickets, evicted tickets with reasons, passes used, and any
// terminally-failed tasks. Grounded on the teacher's config.Stats summary
// pattern (a small struct assembled from store scans, logged at a single
// point) and rendered to Markdown/HTML with the same library the teacher
// pulls in for its own Markdown surface.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/enitrat/super-ralph/pkg/evictioncontext"
	"github.com/enitrat/super-ralph/pkg/schema"
	"github.com/enitrat/super-ralph/pkg/store"
	"github.com/enitrat/super-ralph/pkg/taskerr"
)

// LandedTicket is one ticket the merge queue successfully landed.
type LandedTicket struct {
	TicketID string
}

// EvictedTicket is one ticket the merge queue could not land, with the
// structured diagnostics threaded back into its next pipeline attempt.
type EvictedTicket struct {
	TicketID string
	Reason   taskerr.EvictionReason
	Context  *evictioncontext.Context
}

// FailedTask is one node that exhausted its retry budget without
// producing a valid output row.
type FailedTask struct {
	NodeID       string
	FailureCount int
	UpdatedAt    time.Time
}

// Report is the complete structured summary of one run.
type Report struct {
	RunID     string
	Passes    int
	Landed    []LandedTicket
	Evicted   []EvictedTicket
	Failed    []FailedTask
	StartedAt time.Time
	BuiltAt   time.Time
}

type landPayload struct {
	Landed          string                  `json:"landed"`
	Evicted         string                  `json:"evicted"`
	Reason          *string                 `json:"reason"`
	EvictionContext *evictionContextPayload `json:"evictionContext"`
}

type evictionContextPayload struct {
	BranchCommits   []string `json:"branchCommits"`
	DiffSummary     []string `json:"diffSummary"`
	MainlineCommits []string `json:"mainlineCommits"`
}

// Build scans the output store's land rows and the nodes table for runID
// and assembles the structured report. Each ticket's classification comes
// from its *latest* land row, matching §3's "Ticket landing state" rule.
func Build(ctx context.Context, s *store.Store, runID string) (*Report, error) {
	rows, err := s.Scan(ctx, schema.KeyLand, runID)
	if err != nil {
		return nil, fmt.Errorf("report: scanning land rows: %w", err)
	}

	latestByTicket := make(map[string]*store.Row)
	for _, row := range rows {
		ticketID, ok := strings.CutSuffix(row.NodeID, ":land")
		if !ok {
			continue
		}
		if existing, has := latestByTicket[ticketID]; !has || row.Iteration >= existing.Iteration {
			latestByTicket[ticketID] = row
		}
	}

	rep := &Report{RunID: runID, BuiltAt: time.Now()}

	ticketIDs := make([]string, 0, len(latestByTicket))
	for id := range latestByTicket {
		ticketIDs = append(ticketIDs, id)
	}
	sort.Strings(ticketIDs)

	for _, ticketID := range ticketIDs {
		var payload landPayload
		if err := json.Unmarshal(latestByTicket[ticketID].Payload, &payload); err != nil {
			return nil, fmt.Errorf("report: decoding land row for %s: %w", ticketID, err)
		}

		if payload.Landed == "yes" {
			rep.Landed = append(rep.Landed, LandedTicket{TicketID: ticketID})
			continue
		}
		if payload.Evicted == "yes" {
			ev := EvictedTicket{TicketID: ticketID}
			if payload.Reason != nil {
				ev.Reason = taskerr.EvictionReason(*payload.Reason)
			}
			if payload.EvictionContext != nil {
				ev.Context = &evictioncontext.Context{
					TicketID:    ticketID,
					BranchLog:   payload.EvictionContext.BranchCommits,
					DiffSummary: payload.EvictionContext.DiffSummary,
					MainlineLog: payload.EvictionContext.MainlineCommits,
				}
			}
			rep.Evicted = append(rep.Evicted, ev)
		}
	}

	passes, err := s.FrameCount(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("report: counting frames: %w", err)
	}
	rep.Passes = passes

	failedNodes, err := s.FailedNodes(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("report: listing failed nodes: %w", err)
	}
	for _, n := range failedNodes {
		rep.Failed = append(rep.Failed, FailedTask{
			NodeID:       n.NodeID,
			FailureCount: n.FailureCount,
			UpdatedAt:    time.UnixMilli(n.UpdatedAtMs),
		})
	}

	return rep, nil
}

var titleCaser = cases.Title(language.English)

// RenderMarkdown formats the report as Markdown: a heading, a summary
// line, and one section per category. Empty categories are omitted rather
// than rendered as empty headings.
func (r *Report) RenderMarkdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run report: %s\n\n", r.RunID)
	fmt.Fprintf(&b, "%d ticket(s) landed, %d evicted, %d task(s) terminally failed, over %d pass(es).\n\n",
		len(r.Landed), len(r.Evicted), len(r.Failed), r.Passes)

	if len(r.Landed) > 0 {
		b.WriteString("## Landed\n\n")
		for _, t := range r.Landed {
			fmt.Fprintf(&b, "- `%s`\n", t.TicketID)
		}
		b.WriteString("\n")
	}

	if len(r.Evicted) > 0 {
		b.WriteString("## Evicted\n\n")
		for _, t := range r.Evicted {
			reason := "unknown"
			if t.Reason != "" {
				reason = titleCaser.String(strings.ReplaceAll(string(t.Reason), "_", " "))
			}
			fmt.Fprintf(&b, "- `%s` — %s\n", t.TicketID, reason)
			if t.Context != nil {
				fmt.Fprintf(&b, "  - %d commit(s) on branch, %d file(s) changed, %d commit(s) landed on mainline since branch point\n",
					len(t.Context.BranchLog), len(t.Context.DiffSummary), len(t.Context.MainlineLog))
			}
		}
		b.WriteString("\n")
	}

	if len(r.Failed) > 0 {
		b.WriteString("## Terminally failed tasks\n\n")
		for _, f := range r.Failed {
			age := humanize.Time(f.UpdatedAt)
			fmt.Fprintf(&b, "- `%s` — %d attempt(s), last updated %s\n", f.NodeID, f.FailureCount, age)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// RenderHTML converts RenderMarkdown's output to HTML via goldmark, for
// surfaces (e.g. the terminal dashboard's external poller) that render a
// final report as HTML rather than raw Markdown.
func (r *Report) RenderHTML() (string, error) {
	var buf strings.Builder
	if err := goldmark.Convert([]byte(r.RenderMarkdown()), &buf); err != nil {
		return "", fmt.Errorf("report: rendering HTML: %w", err)
	}
	return buf.String(), nil
}
