package invoker

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/enitrat/super-ralph/pkg/config"
	"github.com/enitrat/super-ralph/pkg/taskerr"
)

func testConcurrency() *config.ConcurrencyConfig {
	return &config.ConcurrencyConfig{
		MaxConcurrency:        6,
		MaxSpeculativeDepth:   3,
		AgentTimeout:          5 * time.Second,
		CancellationGrace:     1 * time.Second,
		StaleAttemptThreshold: 15 * time.Minute,
		MaxStdoutBytes:        64 * 1024,
	}
}

func TestInvoke_ExtractsJSONFromSuccessfulRun(t *testing.T) {
	iv := New(testConcurrency())
	entry := &config.AgentPoolEntry{
		Type:    config.AgentTypeWorker,
		Command: "/bin/sh",
		Args:    []string{"-c", `echo '{"status": "complete"}'`},
	}

	res, err := iv.Invoke(context.Background(), Invocation{
		AgentID: "agent-a", Entry: entry, Prompt: "ignored", WorkDir: t.TempDir(),
	})
	require.NoError(t, err)
	require.Equal(t, "complete", res.Payload["status"])
}

func TestInvoke_NonZeroExitIsAgentFailure(t *testing.T) {
	iv := New(testConcurrency())
	entry := &config.AgentPoolEntry{
		Type:    config.AgentTypeWorker,
		Command: "/bin/sh",
		Args:    []string{"-c", `exit 3`},
	}

	_, err := iv.Invoke(context.Background(), Invocation{
		AgentID: "agent-a", Entry: entry, Prompt: "x", WorkDir: t.TempDir(),
	})
	require.ErrorIs(t, err, taskerr.ErrAgentFailure)
}

func TestInvoke_AuthFailureTripsBreakerForSubsequentCalls(t *testing.T) {
	iv := New(testConcurrency())
	entry := &config.AgentPoolEntry{
		Type:    config.AgentTypeWorker,
		Command: "/bin/sh",
		Args:    []string{"-c", `echo 'Error: invalid api key'`},
	}

	_, err := iv.Invoke(context.Background(), Invocation{
		AgentID: "agent-a", Entry: entry, Prompt: "x", WorkDir: t.TempDir(),
	})
	require.ErrorIs(t, err, taskerr.ErrAuthFailure)

	_, err = iv.Invoke(context.Background(), Invocation{
		AgentID: "agent-a", Entry: entry, Prompt: "x", WorkDir: t.TempDir(),
	})
	require.ErrorIs(t, err, taskerr.ErrAuthFailure, "breaker short-circuits without spawning again")
}

func TestInvoke_MalformedJSONTriggersCorrectiveReprompts(t *testing.T) {
	countFile := t.TempDir() + "/count"
	iv := New(testConcurrency())
	entry := &config.AgentPoolEntry{
		Type:    config.AgentTypeWorker,
		Command: "/bin/sh",
		Args:    []string{"-c", `echo x >> ` + countFile + `; echo not json`},
	}

	_, err := iv.Invoke(context.Background(), Invocation{
		AgentID: "agent-a", Entry: entry, Prompt: "x", WorkDir: t.TempDir(),
	})
	require.ErrorIs(t, err, errMalformedJSON)

	data, readErr := os.ReadFile(countFile)
	require.NoError(t, readErr)
	calls := strings.Count(string(data), "x\n")
	require.Equal(t, maxCorrectiveReprompts+1, calls, "one initial attempt plus every corrective reprompt")
}

func TestInvoke_TimeoutIsCancelled(t *testing.T) {
	cfg := testConcurrency()
	cfg.AgentTimeout = 100 * time.Millisecond
	cfg.CancellationGrace = 50 * time.Millisecond
	iv := New(cfg)
	entry := &config.AgentPoolEntry{
		Type:    config.AgentTypeWorker,
		Command: "/bin/sh",
		Args:    []string{"-c", `sleep 5`},
	}

	_, err := iv.Invoke(context.Background(), Invocation{
		AgentID: "agent-a", Entry: entry, Prompt: "x", WorkDir: t.TempDir(),
	})
	require.ErrorIs(t, err, taskerr.ErrCancelled)
}
