// Package evictioncontext implements the Eviction Context Builder (§4.14):
// after a merge queue eviction it queries the VCS for three diagnostic
// artifacts and bundles them for persistence and for injection into the
// ticket's next pipeline attempt.
package evictioncontext

import (
	"context"
	"fmt"

	"github.com/enitrat/super-ralph/pkg/vcs"
)

// Context is the diagnostic bundle collected for one failed merge attempt.
type Context struct {
	TicketID      string   `json:"ticketId"`
	BranchLog     []string `json:"branchLog"`
	DiffSummary   []string `json:"diffSummary"`
	MainlineLog   []string `json:"mainlineLog"`
	FailureOutput string   `json:"failureOutput,omitempty"`
}

// Builder collects eviction diagnostics from a VCS repo.
type Builder struct {
	repo *vcs.Repo
}

// New builds a Builder bound to repo.
func New(repo *vcs.Repo) *Builder {
	return &Builder{repo: repo}
}

// Build gathers, for ticketID's branch checked out at dir: the commits on
// the branch since the branch point, a summary of the files those commits
// touched, and the commits landed on mainline since the branch point.
func (b *Builder) Build(ctx context.Context, dir, ticketID string) (*Context, error) {
	branchRevset := vcs.BookmarkRevset(ticketID)
	sinceBranchPoint := fmt.Sprintf("mainline..%s", branchRevset)

	branchLog, err := b.repo.Log(ctx, dir, sinceBranchPoint)
	if err != nil {
		return nil, fmt.Errorf("evictioncontext: branch log: %w", err)
	}
	diff, err := b.repo.DiffSummary(ctx, dir, sinceBranchPoint)
	if err != nil {
		return nil, fmt.Errorf("evictioncontext: diff summary: %w", err)
	}
	mainlineLog, err := b.repo.Log(ctx, dir, fmt.Sprintf("%s..mainline", branchRevset))
	if err != nil {
		return nil, fmt.Errorf("evictioncontext: mainline log: %w", err)
	}

	return &Context{
		TicketID:    ticketID,
		BranchLog:   branchLog,
		DiffSummary: diff,
		MainlineLog: mainlineLog,
	}, nil
}

// RenderPrompt formats c for injection into a Research/Plan/Implement
// prompt on the ticket's next pipeline attempt.
func (c *Context) RenderPrompt() string {
	s := fmt.Sprintf("Previous merge attempt for %s failed.\n", c.TicketID)
	if c.FailureOutput != "" {
		s += fmt.Sprintf("Failure output:\n%s\n", c.FailureOutput)
	}
	s += "Commits on the branch since it diverged from mainline:\n"
	for _, line := range c.BranchLog {
		s += "  " + line + "\n"
	}
	s += "Files changed by those commits:\n"
	for _, line := range c.DiffSummary {
		s += "  " + line + "\n"
	}
	s += "Commits landed on mainline since the branch point:\n"
	for _, line := range c.MainlineLog {
		s += "  " + line + "\n"
	}
	return s
}
