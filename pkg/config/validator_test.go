package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		ProjectName:      "demo",
		RepoRoot:         "/repo",
		OrderingStrategy: OrderingPriority,
		Concurrency:      DefaultConcurrencyConfig(),
		AgentPool: NewAgentPool(map[string]AgentPoolEntry{
			"scheduler-1": {Type: AgentTypeScheduler, Command: "agent-cli", IsScheduler: true},
			"worker-1":    {Type: AgentTypeWorker, Command: "agent-cli"},
		}),
	}
}

func TestValidateAll_Valid(t *testing.T) {
	cfg := validConfig()
	err := NewValidator(cfg).ValidateAll()
	require.NoError(t, err)
}

func TestValidateAll_MissingRepoRoot(t *testing.T) {
	cfg := validConfig()
	cfg.RepoRoot = ""

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "core", ve.Component)
}

func TestValidateAll_NoSchedulerAgent(t *testing.T) {
	cfg := validConfig()
	cfg.AgentPool = NewAgentPool(map[string]AgentPoolEntry{
		"worker-1": {Type: AgentTypeWorker, Command: "agent-cli"},
	})

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidateAll_TwoSchedulerAgents(t *testing.T) {
	cfg := validConfig()
	cfg.AgentPool = NewAgentPool(map[string]AgentPoolEntry{
		"scheduler-1": {Type: AgentTypeScheduler, Command: "agent-cli", IsScheduler: true},
		"scheduler-2": {Type: AgentTypeScheduler, Command: "agent-cli", IsScheduler: true},
	})

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidateAll_InvalidOrderingStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.OrderingStrategy = "nonsense"

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidateAll_StaleThresholdMustExceedAgentTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Concurrency.StaleAttemptThreshold = cfg.Concurrency.AgentTimeout - time.Minute

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidateAll_ConcurrencyOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Concurrency.MaxConcurrency = 0

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
}
