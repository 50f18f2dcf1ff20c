package agents

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrAgentNotFound  = errors.New("agent not found")
	ErrAgentDuplicate = errors.New("agent already registered")
)

// Registry is a concurrency-safe name-to-agent table. Workflow definitions
// are validated against it at creation time.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent under its own name.
func (r *Registry) Register(agent Agent) error {
	name := agent.Name()
	if name == "" {
		return fmt.Errorf("agent name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("%w: %s", ErrAgentDuplicate, name)
	}
	r.agents[name] = agent
	return nil
}

// Get returns the agent registered under name.
func (r *Registry) Get(name string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return agent, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[name]
	return ok
}

// Names returns the registered agent names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
