package registry

import (
	"sync"
	"time"
)

// Agent is a voting participant tracked by the engine. Weight is the
// multiplicative trust scalar applied to its votes; Reputation is a separate
// bounded score used to gate trusted status. Both recover slowly on correct
// votes and decay on misbehavior.
type Agent struct {
	ID             string    `json:"id"`
	Weight         float64   `json:"weight"`
	Reputation     float64   `json:"reputation"`
	Capabilities   []string  `json:"capabilities"`
	VotesCast      int       `json:"votesCast"`
	CorrectVotes   int       `json:"correctVotes"`
	ByzantineFlags int       `json:"byzantineFlags"`
	LastActivity   time.Time `json:"lastActivity"`
	Online         bool      `json:"online"`
}

// HasAnyCapability reports whether the agent holds at least one of the
// required capabilities. An empty requirement matches every agent.
func (a *Agent) HasAnyCapability(required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, req := range required {
		for _, c := range a.Capabilities {
			if c == req {
				return true
			}
		}
	}
	return false
}

// Registry holds all known agents keyed by id. Agents are never deleted;
// quarantined agents stay for audit and are simply excluded from eligibility.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]*Agent),
	}
}

// Register creates or replaces an agent. Re-registering an existing id
// silently resets its counters and reputation.
func (r *Registry) Register(id string, weight float64, capabilities []string) *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent := &Agent{
		ID:           id,
		Weight:       weight,
		Reputation:   1.0,
		Capabilities: append([]string(nil), capabilities...),
		LastActivity: time.Now(),
		Online:       true,
	}
	r.agents[id] = agent
	return agent
}

// Get returns the live agent record, or nil if unknown. The engine mutates
// the returned record under its own serialization; external readers should
// use Snapshot instead.
func (r *Registry) Get(id string) *Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[id]
}

// Snapshot returns a copy of the agent safe to hand to API callers.
func (r *Registry) Snapshot(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	if !ok {
		return Agent{}, false
	}
	snapshot := *agent
	snapshot.Capabilities = append([]string(nil), agent.Capabilities...)
	return snapshot, true
}

// Eligible returns the ids of agents allowed to vote on a new proposal:
// online, holding at least one required capability, and not past the flag
// limit. The set is fixed at proposal creation and never re-evaluated.
func (r *Registry) Eligible(required []string, maxFlags int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, agent := range r.agents {
		if !agent.Online {
			continue
		}
		if agent.ByzantineFlags > maxFlags {
			continue
		}
		if !agent.HasAnyCapability(required) {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// MaxWeight returns the largest weight across all agents, used to bound the
// maximum swing remaining voters could contribute to an active proposal.
func (r *Registry) MaxWeight() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var max float64
	for _, agent := range r.agents {
		if agent.Weight > max {
			max = agent.Weight
		}
	}
	return max
}

// Counts returns the number of online agents and the number carrying at
// least one byzantine flag.
func (r *Registry) Counts() (online int, flagged int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, agent := range r.agents {
		if agent.Online {
			online++
		}
		if agent.ByzantineFlags > 0 {
			flagged++
		}
	}
	return online, flagged
}
