package config

import (
	"fmt"
	"sync"
)

// AgentPoolEntry describes one agent identity available to the scheduler
// agent for assignment: its agent type (worker, scheduler, or merge), the
// model it runs, the command and arguments that start it, and whether it
// plays a privileged role (scheduler or merge-queue agent).
type AgentPoolEntry struct {
	Type        AgentType `yaml:"type" validate:"required"`
	Model       string    `yaml:"model,omitempty"`
	Command     string    `yaml:"command" validate:"required"`
	Args        []string  `yaml:"args,omitempty"`
	IsScheduler bool      `yaml:"is_scheduler,omitempty"`
	IsMergeQueue bool     `yaml:"is_merge_queue,omitempty"`
}

// AgentPool stores agent pool entries in memory with thread-safe access.
// Mirrors the registry pattern used for every other lookup table in this
// package: defensive copies in, defensive copies out.
type AgentPool struct {
	mu      sync.RWMutex
	entries map[string]*AgentPoolEntry
}

// NewAgentPool creates a new agent pool registry.
func NewAgentPool(entries map[string]AgentPoolEntry) *AgentPool {
	copied := make(map[string]*AgentPoolEntry, len(entries))
	for k, v := range entries {
		v := v
		copied[k] = &v
	}
	return &AgentPool{entries: copied}
}

// Get retrieves an agent pool entry by id.
func (p *AgentPool) Get(agentID string) (*AgentPoolEntry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.entries[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return e, nil
}

// All returns a defensive copy of every entry in the pool.
func (p *AgentPool) All() map[string]*AgentPoolEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]*AgentPoolEntry, len(p.entries))
	for k, v := range p.entries {
		out[k] = v
	}
	return out
}

// SchedulerAgent returns the id of the pool entry flagged IsScheduler.
// The scheduler agent is a singleton role; a pool with zero or more than
// one flagged entry is a configuration error caught at validation time.
func (p *AgentPool) SchedulerAgent() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for id, e := range p.entries {
		if e.IsScheduler {
			return id, true
		}
	}
	return "", false
}

// MergeQueueAgent returns the id of the pool entry flagged IsMergeQueue,
// used only by the agent-driven merge queue variant.
func (p *AgentPool) MergeQueueAgent() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for id, e := range p.entries {
		if e.IsMergeQueue {
			return id, true
		}
	}
	return "", false
}

// Len returns the number of pool entries.
func (p *AgentPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
