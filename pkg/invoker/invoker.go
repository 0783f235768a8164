// Package invoker implements the Agent Invoker: it spawns an agent CLI as a
// subprocess, captures a bounded amount of stdout, extracts a JSON payload
// from whatever the agent printed, and maps subprocess failure modes onto
// the task error taxonomy. Grounded on the claude-subprocess dispatch
// pattern: context-scoped exec.Cmd, a process-group SIGTERM->SIGKILL
// cancellation path, and a bounded read of stdout.
package invoker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"syscall"

	"github.com/enitrat/super-ralph/pkg/config"
	"github.com/enitrat/super-ralph/pkg/taskerr"
)

// Invocation is one request to run an agent against a prompt.
type Invocation struct {
	AgentID string
	Entry   *config.AgentPoolEntry
	Prompt  string
	WorkDir string
}

// Result is the outcome of a successful (from the process's point of view)
// invocation: raw stdout plus whatever JSON payload could be extracted from
// it.
type Result struct {
	RawOutput []byte
	Payload   map[string]any
	ExitCode  int
}

// maxCorrectiveReprompts bounds the in-invoker follow-up loop that asks an
// agent to restate its answer as strict JSON after a malformed response,
// separate from (and nested inside) the engine's own node-level retry
// budget.
const maxCorrectiveReprompts = 2

// correctiveReprompt is appended to the prompt when the prior attempt's
// output could not be parsed as JSON.
const correctiveReprompt = "\n\nYour previous response could not be parsed as JSON. Respond with ONLY a single JSON object matching the required schema, no prose, no code fences."

// Invoker runs agent subprocesses under the engine's concurrency and
// timeout settings, tracking per-agent auth failures as a circuit breaker.
type Invoker struct {
	concurrency *config.ConcurrencyConfig
	breaker     *Breaker
}

// New builds an Invoker bound to cfg's timeouts and stdout cap.
func New(cfg *config.ConcurrencyConfig) *Invoker {
	return &Invoker{concurrency: cfg, breaker: NewBreaker()}
}

// Invoke runs inv against its agent, and, if the agent's output can't be
// parsed as JSON, re-invokes with a corrective follow-up prompt up to
// maxCorrectiveReprompts times before giving up. Rate limits, auth
// failures, and nonzero exits are never retried here — those propagate to
// the engine's own retry budget instead.
func (iv *Invoker) Invoke(ctx context.Context, inv Invocation) (*Result, error) {
	prompt := inv.Prompt
	var lastErr error
	for attempt := 0; attempt <= maxCorrectiveReprompts; attempt++ {
		res, err := iv.invokeOnce(ctx, inv, prompt)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, errMalformedJSON) {
			return nil, err
		}
		lastErr = err
		prompt = inv.Prompt + correctiveReprompt
	}
	return nil, lastErr
}

// errMalformedJSON marks an ExtractJSON failure as eligible for a
// corrective follow-up reprompt, distinct from a subprocess-level failure.
var errMalformedJSON = errors.New("invoker: agent output was not valid JSON")

// invokeOnce runs inv.Entry's command with prompt on stdin, bounding
// stdout to concurrency.MaxStdoutBytes and the whole call to
// concurrency.AgentTimeout. A tripped circuit breaker for inv.AgentID
// short-circuits before spawning.
func (iv *Invoker) invokeOnce(ctx context.Context, inv Invocation, prompt string) (*Result, error) {
	if iv.breaker.Tripped(inv.AgentID) {
		return nil, fmt.Errorf("%w: agent %q disabled after auth failure", taskerr.ErrAuthFailure, inv.AgentID)
	}

	timeout := iv.concurrency.AgentTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, inv.Entry.Command, inv.Entry.Args...)
	cmd.Dir = inv.WorkDir
	cmd.SysProcAttr = sysProcAttr()
	cmd.Cancel = func() error { return terminateGroup(cmd) }
	cmd.WaitDelay = iv.concurrency.CancellationGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", taskerr.ErrAgentFailure, err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", taskerr.ErrAgentFailure, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %s: %v", taskerr.ErrAgentFailure, inv.Entry.Command, err)
	}

	go func() {
		defer stdin.Close()
		_, _ = io.WriteString(stdin, prompt)
	}()

	captured, capErr := captureBounded(stdoutPipe, iv.concurrency.MaxStdoutBytes)

	waitErr := cmd.Wait()
	code, err := exitCode(waitErr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", taskerr.ErrAgentFailure, err)
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: agent %q exceeded %s", taskerr.ErrCancelled, inv.AgentID, timeout)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, fmt.Errorf("%w: agent %q cancelled", taskerr.ErrCancelled, inv.AgentID)
	}
	if capErr != nil {
		return nil, fmt.Errorf("%w: reading stdout: %v", taskerr.ErrAgentFailure, capErr)
	}

	if sig, resumeAt, ok := detectRateLimit(captured); ok {
		return nil, fmt.Errorf("%w: agent %q rate limited, resume after %s (%s)",
			taskerr.ErrRateLimited, inv.AgentID, resumeAt, sig)
	}
	if detectAuthFailure(captured) {
		iv.breaker.Trip(inv.AgentID)
		return nil, fmt.Errorf("%w: agent %q", taskerr.ErrAuthFailure, inv.AgentID)
	}
	if code != 0 {
		return nil, fmt.Errorf("%w: agent %q exited %d", taskerr.ErrAgentFailure, inv.AgentID, code)
	}

	payload, extractErr := ExtractJSON(captured)
	if extractErr != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedJSON, extractErr)
	}

	return &Result{RawOutput: captured, Payload: payload, ExitCode: code}, nil
}

// captureBounded reads from r up to maxBytes, draining and discarding the
// remainder so the subprocess never blocks writing to a full pipe buffer.
func captureBounded(r io.Reader, maxBytes int) ([]byte, error) {
	var buf bytes.Buffer
	limited := io.LimitReader(r, int64(maxBytes))
	if _, err := buf.ReadFrom(limited); err != nil {
		return nil, err
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(io.Discard, r)
	}()
	wg.Wait()
	return buf.Bytes(), nil
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}

func sysProcAttr() *syscall.SysProcAttr {
	if runtime.GOOS == "windows" {
		return nil
	}
	return &syscall.SysProcAttr{Setpgid: true}
}

func terminateGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if runtime.GOOS == "windows" {
		return cmd.Process.Kill()
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}
