package config

import (
	"fmt"

	playgroundvalidator "github.com/go-playground/validator/v10"
)

// Validator validates configuration comprehensively with clear error
// messages, running struct-tag validation first and then the cross-field
// invariants a tag can't express.
type Validator struct {
	cfg *Config
	v   *playgroundvalidator.Validate
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg, v: playgroundvalidator.New()}
}

// ValidateAll performs comprehensive validation (fail-fast: stops at the
// first error), checking struct tags, then concurrency, the agent pool,
// the ordering strategy, and commands, in that order.
func (val *Validator) ValidateAll() error {
	if err := val.validateCore(); err != nil {
		return NewValidationError("core", "", err)
	}
	if err := val.validateConcurrency(); err != nil {
		return NewValidationError("concurrency", "", err)
	}
	if err := val.validateAgentPool(); err != nil {
		return NewValidationError("agentPool", "", err)
	}
	if err := val.validateOrdering(); err != nil {
		return NewValidationError("ordering", "", err)
	}
	if err := val.validateCommands(); err != nil {
		return NewValidationError("commands", "", err)
	}
	return nil
}

func (val *Validator) validateCore() error {
	if err := val.v.Struct(val.cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return nil
}

func (val *Validator) validateConcurrency() error {
	c := val.cfg.Concurrency
	if c == nil {
		return fmt.Errorf("%w: concurrency config is nil", ErrMissingRequiredField)
	}
	if err := val.v.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	if c.MaxSpeculativeDepth < 1 {
		return fmt.Errorf("%w: max_speculative_depth must be at least 1, got %d", ErrInvalidValue, c.MaxSpeculativeDepth)
	}
	if c.AgentTimeout <= 0 {
		return fmt.Errorf("%w: agent_timeout must be positive, got %v", ErrInvalidValue, c.AgentTimeout)
	}
	if c.CancellationGrace <= 0 {
		return fmt.Errorf("%w: cancellation_grace must be positive, got %v", ErrInvalidValue, c.CancellationGrace)
	}
	if c.StaleAttemptThreshold <= c.AgentTimeout {
		return fmt.Errorf("%w: stale_attempt_threshold (%v) must exceed agent_timeout (%v) or live attempts get reaped prematurely",
			ErrInvalidValue, c.StaleAttemptThreshold, c.AgentTimeout)
	}
	return nil
}

func (val *Validator) validateAgentPool() error {
	pool := val.cfg.AgentPool
	if pool == nil || pool.Len() == 0 {
		return fmt.Errorf("%w: agent_pool must declare at least one entry", ErrMissingRequiredField)
	}

	schedulers := 0
	for id, entry := range pool.All() {
		if err := val.v.Struct(entry); err != nil {
			return fmt.Errorf("agent %q: %w: %v", id, ErrValidationFailed, err)
		}
		if !entry.Type.IsValid() {
			return fmt.Errorf("agent %q: %w: type %q", id, ErrInvalidValue, entry.Type)
		}
		if entry.IsScheduler {
			schedulers++
		}
	}
	if schedulers != 1 {
		return fmt.Errorf("%w: agent_pool must flag exactly one scheduler agent, found %d", ErrInvalidValue, schedulers)
	}
	return nil
}

func (val *Validator) validateOrdering() error {
	if !val.cfg.OrderingStrategy.IsValid() {
		return fmt.Errorf("%w: ordering_strategy %q", ErrInvalidValue, val.cfg.OrderingStrategy)
	}
	return nil
}

func (val *Validator) validateCommands() error {
	if val.cfg.RepoRoot == "" {
		return fmt.Errorf("%w: repo_root", ErrMissingRequiredField)
	}
	// build/test commands are optional per-ecosystem; an empty map is a
	// valid (if inert) configuration, so nothing further to check here.
	return nil
}
