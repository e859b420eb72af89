// Package skills maintains the agent-to-capability map the dispatcher
// queries when opening an auction.
package skills

import (
	"sort"
	"sync"
)

// Registry maps agent ids to capability sets and answers subset-match
// queries. Thread-safe; the supervisor writes on agent spawn/despawn while
// the dispatcher reads.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]map[string]struct{})}
}

// Register records an agent's capability set, replacing any previous set.
func (r *Registry) Register(agentID string, capabilities []string) {
	set := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		set[c] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agentID] = set
}

// Deregister removes an agent.
func (r *Registry) Deregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
}

// FindCapable returns the ids of agents whose capability set contains every
// required capability, sorted for deterministic iteration. An empty required
// set matches every registered agent.
func (r *Registry) FindCapable(required []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var capable []string
	for agentID, set := range r.agents {
		if containsAll(set, required) {
			capable = append(capable, agentID)
		}
	}
	sort.Strings(capable)
	return capable
}

// Capabilities returns an agent's capability set, sorted, and whether the
// agent is registered.
func (r *Registry) Capabilities(agentID string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.agents[agentID]
	if !ok {
		return nil, false
	}
	capabilities := make([]string, 0, len(set))
	for c := range set {
		capabilities = append(capabilities, c)
	}
	sort.Strings(capabilities)
	return capabilities, true
}

// IsCapable reports whether one agent satisfies the required set.
func (r *Registry) IsCapable(agentID string, required []string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.agents[agentID]
	return ok && containsAll(set, required)
}

func containsAll(set map[string]struct{}, required []string) bool {
	for _, c := range required {
		if _, ok := set[c]; !ok {
			return false
		}
	}
	return true
}
