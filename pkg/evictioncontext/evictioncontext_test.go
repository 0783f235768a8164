package evictioncontext

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderPrompt_IncludesAllThreeArtifactsAndFailureOutput(t *testing.T) {
	c := &Context{
		TicketID:      "T-1",
		BranchLog:     []string{"abc123 fix thing"},
		DiffSummary:   []string{"M pkg/foo.go"},
		MainlineLog:   []string{"def456 unrelated change"},
		FailureOutput: "build failed: missing import",
	}

	out := c.RenderPrompt()
	require.True(t, strings.Contains(out, "T-1"))
	require.True(t, strings.Contains(out, "abc123 fix thing"))
	require.True(t, strings.Contains(out, "M pkg/foo.go"))
	require.True(t, strings.Contains(out, "def456 unrelated change"))
	require.True(t, strings.Contains(out, "missing import"))
}

func TestRenderPrompt_OmitsFailureOutputWhenEmpty(t *testing.T) {
	c := &Context{TicketID: "T-2"}
	out := c.RenderPrompt()
	require.False(t, strings.Contains(out, "Failure output"))
}
