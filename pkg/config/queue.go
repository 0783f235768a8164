package config

import "time"

// ConcurrencyConfig controls the engine's worker pool and the timeouts
// that govern agent invocations and stale-attempt recovery.
type ConcurrencyConfig struct {
	// MaxConcurrency is the global cap on simultaneously dispatched tasks.
	// Overridable by the WORKFLOW_MAX_CONCURRENCY environment variable.
	MaxConcurrency int `yaml:"max_concurrency" validate:"min=1,max=32"`

	// MaxSpeculativeDepth is the merge queue's window size D.
	MaxSpeculativeDepth int `yaml:"max_speculative_depth" validate:"min=1"`

	// AgentTimeout is the wall-clock deadline for a single agent invocation.
	AgentTimeout time.Duration `yaml:"agent_timeout"`

	// CancellationGrace is how long the invoker waits between SIGTERM and
	// SIGKILL when cancelling a subprocess tree.
	CancellationGrace time.Duration `yaml:"cancellation_grace"`

	// StaleAttemptThreshold is the age past which an in-progress attempt
	// found at engine start is marked cancelled and its node reverted to
	// pending.
	StaleAttemptThreshold time.Duration `yaml:"stale_attempt_threshold"`

	// MaxStdoutBytes bounds the agent invoker's stdout capture buffer.
	MaxStdoutBytes int `yaml:"max_stdout_bytes" validate:"min=1"`
}

// DefaultConcurrencyConfig returns the built-in concurrency defaults.
func DefaultConcurrencyConfig() *ConcurrencyConfig {
	return &ConcurrencyConfig{
		MaxConcurrency:        6,
		MaxSpeculativeDepth:   3,
		AgentTimeout:          60 * time.Minute,
		CancellationGrace:     5 * time.Second,
		StaleAttemptThreshold: 15 * time.Minute,
		MaxStdoutBytes:        200 * 1024,
	}
}
