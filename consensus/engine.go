package consensus

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmforge/agent-quorum/core"
	"github.com/swarmforge/agent-quorum/registry"
)

// Options configures an Engine. All fields are optional; zero values fall
// back to the defaults below.
type Options struct {
	// DefaultThreshold is the passing ratio applied when a proposal does
	// not set its own.
	DefaultThreshold float64
	// ByzantineTolerance is reserved for a future algorithm parameter and
	// is currently read by nothing.
	ByzantineTolerance float64
	// QuorumSize is the fraction of eligible agents that must vote before
	// a result is considered valid.
	QuorumSize float64
	// VotingTimeout is the default voting window per proposal.
	VotingTimeout time.Duration
	// MaxRetries is carried for collaborators that drive retries; the
	// engine itself never retries.
	MaxRetries int
	// WeightDecay multiplies an agent's weight on each byzantine flag.
	WeightDecay float64
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		DefaultThreshold:   0.6,
		ByzantineTolerance: 0.33,
		QuorumSize:         0.75,
		VotingTimeout:      30 * time.Second,
		MaxRetries:         3,
		WeightDecay:        0.95,
	}
}

func (o Options) withDefaults() Options {
	defaults := DefaultOptions()
	if o.DefaultThreshold <= 0 {
		o.DefaultThreshold = defaults.DefaultThreshold
	}
	if o.ByzantineTolerance <= 0 {
		o.ByzantineTolerance = defaults.ByzantineTolerance
	}
	if o.QuorumSize <= 0 {
		o.QuorumSize = defaults.QuorumSize
	}
	if o.VotingTimeout <= 0 {
		o.VotingTimeout = defaults.VotingTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaults.MaxRetries
	}
	if o.WeightDecay <= 0 {
		o.WeightDecay = defaults.WeightDecay
	}
	return o
}

// Engine coordinates binary decision-making across a pool of agents. All
// operations run their read-detect-mutate-finalize sequence under a single
// lock, so a vote submission is atomic with respect to every other engine
// call. Events are dispatched after the lock is released.
type Engine struct {
	mu       sync.Mutex
	opts     Options
	registry *registry.Registry
	bus      *core.Bus

	proposals map[string]*Proposal
	history   []HistoryEntry
	timers    map[string]*time.Timer
	closed    bool

	// running totals
	proposalsCreated  int
	proposalsPassed   int
	proposalsRejected int
	byzantineDetected int
	finalizedCount    int
	votingTimeTotal   time.Duration
	participationSum  float64
}

// NewEngine creates an engine with the given options. A nil bus disables
// event emission.
func NewEngine(opts Options, bus *core.Bus) *Engine {
	if bus == nil {
		bus = core.NewBus()
	}
	return &Engine{
		opts:      opts.withDefaults(),
		registry:  registry.NewRegistry(),
		bus:       bus,
		proposals: make(map[string]*Proposal),
		timers:    make(map[string]*time.Timer),
	}
}

// Registry exposes the agent registry for read-side collaborators.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Bus exposes the event bus so collaborators can subscribe.
func (e *Engine) Bus() *core.Bus {
	return e.bus
}

type pendingEvent struct {
	name    string
	payload interface{}
}

func (e *Engine) publish(events []pendingEvent) {
	for _, ev := range events {
		e.bus.Publish(ev.name, ev.payload)
	}
}

// VoteEvent is the payload of vote:submitted.
type VoteEvent struct {
	ProposalID string  `json:"proposalId"`
	AgentID    string  `json:"agentId"`
	Vote       bool    `json:"vote"`
	Confidence float64 `json:"confidence"`
}

// ByzantineEvent is the payload of byzantine:detected.
type ByzantineEvent struct {
	AgentID string  `json:"agentId"`
	Reason  string  `json:"reason"`
	Flags   int     `json:"flags"`
	Weight  float64 `json:"weight"`
}

// QuarantineEvent is the payload of agent:quarantined.
type QuarantineEvent struct {
	AgentID string `json:"agentId"`
	Flags   int    `json:"flags"`
}

// CleanupEvent is the payload of cleanup:completed.
type CleanupEvent struct {
	ProposalsRemoved int `json:"proposalsRemoved"`
	HistoryRemoved   int `json:"historyRemoved"`
}

// RegisterAgent creates or replaces a voting agent. Re-registration silently
// resets counters and reputation; this is intentional and documented.
func (e *Engine) RegisterAgent(id string, weight float64, capabilities []string) {
	if weight <= 0 {
		weight = 1.0
	}

	e.mu.Lock()
	agent := e.registry.Register(id, weight, capabilities)
	snapshot := *agent
	e.mu.Unlock()

	e.bus.Publish(core.EventAgentRegistered, snapshot)
}

// CreateProposal validates nothing beyond defaulting, computes the eligible
// set from the current registry state, arms the deadline timer, and returns
// the proposal id immediately.
func (e *Engine) CreateProposal(spec ProposalSpec) (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrShuttingDown
	}

	threshold := spec.Threshold
	if threshold <= 0 {
		threshold = e.opts.DefaultThreshold
	}
	algorithm := spec.Algorithm
	if algorithm == "" {
		algorithm = WeightedMajority
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = e.opts.VotingTimeout
	}

	eligible := make(map[string]bool)
	for _, id := range e.registry.Eligible(spec.RequiredCapabilities, eligibilityFlagLimit) {
		eligible[id] = true
	}

	now := time.Now()
	p := &Proposal{
		ID:                   uuid.New().String(),
		Type:                 spec.Type,
		Content:              spec.Content,
		Creator:              spec.Creator,
		Threshold:            threshold,
		Algorithm:            algorithm,
		RequiredCapabilities: append([]string(nil), spec.RequiredCapabilities...),
		Metadata:             spec.Metadata,
		EligibleAgents:       eligible,
		Votes:                make(map[string]VoteRecord),
		StartTime:            now,
		Deadline:             now.Add(timeout),
		Status:               StatusActive,
	}
	e.proposals[p.ID] = p
	e.proposalsCreated++

	id := p.ID
	e.timers[id] = time.AfterFunc(timeout, func() {
		if _, err := e.FinalizeProposal(id); err != nil {
			log.Printf("deadline finalization of proposal %s failed: %v", id, err)
		}
	})

	snapshot := p.snapshot()
	e.mu.Unlock()

	e.bus.Publish(core.EventProposalCreated, snapshot)
	return id, nil
}

// SubmitVote records an agent's vote. Repeat votes overwrite the earlier
// record (last vote wins); that is intentional, it lets agents change their
// minds and feeds the flip detector. After recording, behavior analysis runs
// and the early-finalization predicate is evaluated; when it fires, the
// returned outcome carries the finalized proposal instead of an ack.
func (e *Engine) SubmitVote(proposalID, agentID string, vote bool, reasoning string) (VoteOutcome, error) {
	e.mu.Lock()
	outcome, events, err := e.submitVoteLocked(proposalID, agentID, vote, reasoning)
	e.mu.Unlock()

	e.publish(events)
	return outcome, err
}

func (e *Engine) submitVoteLocked(proposalID, agentID string, vote bool, reasoning string) (VoteOutcome, []pendingEvent, error) {
	p, ok := e.proposals[proposalID]
	if !ok {
		return VoteOutcome{}, nil, fmt.Errorf("proposal %s: %w", proposalID, ErrNotFound)
	}
	agent := e.registry.Get(agentID)
	if agent == nil {
		return VoteOutcome{}, nil, fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	if p.Status != StatusActive {
		return VoteOutcome{}, nil, fmt.Errorf("proposal %s: %w", proposalID, ErrInvalidState)
	}
	if !p.EligibleAgents[agentID] {
		return VoteOutcome{}, nil, fmt.Errorf("agent %s on proposal %s: %w", agentID, proposalID, ErrIneligible)
	}
	now := time.Now()
	if now.After(p.Deadline) {
		return VoteOutcome{}, nil, fmt.Errorf("proposal %s: %w", proposalID, ErrDeadlinePassed)
	}

	confidence := e.confidenceScore(agent, now)

	p.Votes[agentID] = VoteRecord{
		AgentID:    agentID,
		Vote:       vote,
		Weight:     agent.Weight,
		Reasoning:  reasoning,
		Timestamp:  now,
		Confidence: confidence,
	}
	e.history = append(e.history, HistoryEntry{
		ProposalID: proposalID,
		AgentID:    agentID,
		Vote:       vote,
		Timestamp:  now,
	})
	agent.VotesCast++
	agent.LastActivity = now

	events := []pendingEvent{{core.EventVoteSubmitted, VoteEvent{
		ProposalID: proposalID,
		AgentID:    agentID,
		Vote:       vote,
		Confidence: confidence,
	}}}

	// A flagged vote stays recorded and counted; flags degrade future
	// trust, not this submission.
	events = append(events, e.detectByzantine(agent, confidence, now)...)

	if e.canFinalizeEarly(p) {
		snapshot, finalEvents := e.finalizeLocked(p, now)
		events = append(events, finalEvents...)
		return VoteOutcome{Status: "finalized", Finalized: snapshot}, events, nil
	}

	return VoteOutcome{Status: "recorded"}, events, nil
}

// confidenceScore blends four trust signals into [0,1]: reputation,
// experience, historical consistency, and recency of activity. Computed from
// the agent's state before this vote is counted.
func (e *Engine) confidenceScore(agent *registry.Agent, now time.Time) float64 {
	reputation := agent.Reputation
	experience := math.Min(float64(agent.VotesCast)/10.0, 1.0)
	consistency := 0.5
	if agent.VotesCast > 0 {
		consistency = float64(agent.CorrectVotes) / float64(agent.VotesCast)
	}
	recency := math.Max(0.1, 1.0-now.Sub(agent.LastActivity).Hours()/24.0)

	score := (reputation + experience + consistency + recency) / 4.0
	return math.Max(0, math.Min(1, score))
}

// detectByzantine applies the three behavior rules to the agent's recent
// history plus the current vote's confidence. Each raised flag decays the
// agent's weight; the fifth flag quarantines it permanently.
func (e *Engine) detectByzantine(agent *registry.Agent, confidence float64, now time.Time) []pendingEvent {
	var reasons []string

	recent := recentHistory(e.history, agent.ID, flipHistoryLimit, now.Add(-flipWindow))
	if hasVoteFlipping(recent) {
		reasons = append(reasons, FlagVoteFlipping)
	}
	if confidence < lowConfidenceBar {
		reasons = append(reasons, FlagConfidenceMismatch)
	}
	lookback := recentHistory(e.history, agent.ID, contrarianLookback, time.Time{})
	if isContrarian(lookback, func(id string) *Proposal { return e.proposals[id] }) {
		reasons = append(reasons, FlagContrarianPattern)
	}

	var events []pendingEvent
	for _, reason := range reasons {
		agent.ByzantineFlags++
		agent.Weight *= e.opts.WeightDecay
		e.byzantineDetected++
		events = append(events, pendingEvent{core.EventByzantineDetected, ByzantineEvent{
			AgentID: agent.ID,
			Reason:  reason,
			Flags:   agent.ByzantineFlags,
			Weight:  agent.Weight,
		}})
	}

	if agent.ByzantineFlags >= quarantineFlagLimit && agent.Online {
		agent.Online = false
		events = append(events, pendingEvent{core.EventAgentQuarantined, QuarantineEvent{
			AgentID: agent.ID,
			Flags:   agent.ByzantineFlags,
		}})
	}
	return events
}

// canFinalizeEarly short-circuits the deadline once quorum is met and the
// outcome can no longer plausibly change: either the weighted ratio is
// near-unanimous, or the current lead exceeds the maximum swing all
// remaining voters could contribute. The swing bound uses the largest
// registered weight, so it is statistical, not a guarantee against weight
// changes mid-vote.
func (e *Engine) canFinalizeEarly(p *Proposal) bool {
	eligibleCount := len(p.EligibleAgents)
	if eligibleCount == 0 {
		return false
	}
	required := int(math.Ceil(float64(eligibleCount) * e.opts.QuorumSize))
	if len(p.Votes) < required {
		return false
	}

	positive, negative := p.weightedTally()
	total := positive + negative
	if total == 0 {
		return false
	}
	ratio := positive / total
	if ratio >= 0.95 || ratio <= 0.05 {
		return true
	}

	remaining := eligibleCount - len(p.Votes)
	maxSwing := float64(remaining) * e.registry.MaxWeight()
	return math.Abs(positive-negative) > maxSwing
}

// FinalizeProposal finalizes the proposal early or at its deadline. It is
// idempotent: a nil result means the proposal is unknown or already
// finalized, and nothing changed.
func (e *Engine) FinalizeProposal(id string) (*Proposal, error) {
	e.mu.Lock()
	p, ok := e.proposals[id]
	if !ok || p.Status != StatusActive {
		e.mu.Unlock()
		return nil, nil
	}
	snapshot, events := e.finalizeLocked(p, time.Now())
	e.mu.Unlock()

	e.publish(events)
	return snapshot, nil
}

// finalizeLocked runs the terminal transition: quorum check, algorithm,
// reputation updates, metrics. Caller holds the lock and guarantees the
// proposal is still active.
func (e *Engine) finalizeLocked(p *Proposal, now time.Time) (*Proposal, []pendingEvent) {
	participation := 0.0
	if len(p.EligibleAgents) > 0 {
		participation = float64(len(p.Votes)) / float64(len(p.EligibleAgents))
	}

	var result Result
	if participation < e.opts.QuorumSize {
		result = quorumFailure(participation, e.opts.QuorumSize)
	} else {
		result = runAlgorithm(p, func(agentID string) bool {
			agent := e.registry.Get(agentID)
			return agent != nil && agent.ByzantineFlags == 0 && agent.Reputation > 0.7
		})
	}

	p.Status = StatusFinalized
	p.Result = &result
	p.Consensus = result.Consensus
	p.FinalRatio = result.Ratio
	p.ParticipationRate = participation
	p.FinalizedAt = now

	if timer, ok := e.timers[p.ID]; ok {
		timer.Stop()
		delete(e.timers, p.ID)
	}

	e.finalizedCount++
	e.participationSum += participation
	e.votingTimeTotal += now.Sub(p.StartTime)
	if result.Consensus {
		e.proposalsPassed++
		e.updateAgentReputations(p)
	} else {
		e.proposalsRejected++
	}

	snapshot := p.snapshot()
	return snapshot, []pendingEvent{{core.EventProposalFinalized, snapshot}}
}

// updateAgentReputations rewards voters on the majority side and gently
// penalizes dissenters. Runs only when consensus was reached; a failed or
// quorum-less proposal teaches nothing about who was right.
func (e *Engine) updateAgentReputations(p *Proposal) {
	positive, negative := p.weightedTally()
	majority := positive > negative

	for agentID, vote := range p.Votes {
		agent := e.registry.Get(agentID)
		if agent == nil {
			continue
		}
		if vote.Vote == majority {
			agent.CorrectVotes++
			agent.Reputation = math.Min(2.0, agent.Reputation*1.05)
			agent.Weight = math.Min(2.0, agent.Weight*1.02)
		} else {
			agent.Reputation = agent.Reputation * 0.98
			agent.Weight = agent.Weight * 0.99
		}
	}
}

// GetProposal returns a copy of the proposal, or nil if unknown.
func (e *Engine) GetProposal(id string) *Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[id]
	if !ok {
		return nil
	}
	return p.snapshot()
}

// GetAgent returns a copy of the agent record.
func (e *Engine) GetAgent(id string) (registry.Agent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Snapshot(id)
}

// ListProposals returns proposals matching the filter, newest first.
func (e *Engine) ListProposals(filter ProposalFilter) []*Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()

	var matched []*Proposal
	for _, p := range e.proposals {
		if filter.matches(p) {
			matched = append(matched, p.snapshot())
		}
	}
	sortNewestFirst(matched)
	return matched
}

// Shutdown stops the engine: no new proposals are accepted and pending
// deadline timers are cleared without firing. Already-finalized state stays
// readable.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	for id, timer := range e.timers {
		timer.Stop()
		delete(e.timers, id)
	}
}
