package consensus

import (
	"sort"
	"time"
)

// Algorithm selects how a vote ledger is converted into a pass/fail decision.
type Algorithm string

const (
	SimpleMajority    Algorithm = "simple_majority"
	WeightedMajority  Algorithm = "weighted_majority"
	ByzantineTolerant Algorithm = "byzantine_tolerant"
	Unanimous         Algorithm = "unanimous"

	// AlgorithmQuorumFailed tags results of proposals that never reached
	// quorum. It is a result tag only, never a selectable algorithm.
	AlgorithmQuorumFailed = "quorum_failed"
)

// Status is the proposal lifecycle state. The only transition is
// active -> finalized, exactly once.
type Status string

const (
	StatusActive    Status = "active"
	StatusFinalized Status = "finalized"
)

// ProposalSpec is the caller-supplied description of a new proposal.
// Zero values fall back to engine defaults.
type ProposalSpec struct {
	Type                 string                 `json:"type"`
	Content              interface{}            `json:"content"`
	Creator              string                 `json:"creator"`
	Threshold            float64                `json:"threshold"`
	Algorithm            Algorithm              `json:"algorithm"`
	RequiredCapabilities []string               `json:"requiredCapabilities"`
	Metadata             map[string]interface{} `json:"metadata"`
	Timeout              time.Duration          `json:"timeout"`
}

// VoteRecord is one agent's vote on a proposal. Weight is captured by value
// at submission time; later trust changes never rewrite recorded votes.
type VoteRecord struct {
	AgentID    string    `json:"agentId"`
	Vote       bool      `json:"vote"`
	Weight     float64   `json:"weight"`
	Reasoning  string    `json:"reasoning"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

// Proposal is a single binary question with its own vote ledger, eligibility
// set, and deadline. Votes are keyed by agent id with insert-or-replace
// semantics: an agent may change its vote before the deadline, and those
// changes feed the flip detector.
type Proposal struct {
	ID                   string                 `json:"id"`
	Type                 string                 `json:"type"`
	Content              interface{}            `json:"content"`
	Creator              string                 `json:"creator"`
	Threshold            float64                `json:"threshold"`
	Algorithm            Algorithm              `json:"algorithm"`
	RequiredCapabilities []string               `json:"requiredCapabilities"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
	EligibleAgents       map[string]bool        `json:"eligibleAgents"`
	Votes                map[string]VoteRecord  `json:"votes"`
	StartTime            time.Time              `json:"startTime"`
	Deadline             time.Time              `json:"deadline"`
	Status               Status                 `json:"status"`
	Result               *Result                `json:"result,omitempty"`
	FinalRatio           float64                `json:"finalRatio"`
	ParticipationRate    float64                `json:"participationRate"`
	Consensus            bool                   `json:"consensus"`
	FinalizedAt          time.Time              `json:"finalizedAt,omitempty"`
}

// Result is the outcome of running a consensus algorithm over a vote ledger.
// Positive/negative totals are weighted sums for the weighted algorithms and
// plain counts for simple_majority and unanimous.
type Result struct {
	Consensus        bool    `json:"consensus"`
	Ratio            float64 `json:"ratio"`
	PositiveVotes    float64 `json:"positiveVotes"`
	NegativeVotes    float64 `json:"negativeVotes"`
	Algorithm        string  `json:"algorithm"`
	Error            string  `json:"error,omitempty"`
	TrustedVotesOnly bool    `json:"trustedVotesOnly,omitempty"`
}

// VoteOutcome is what SubmitVote returns: either a recorded acknowledgment,
// or the finalized proposal when the vote triggered early finalization.
type VoteOutcome struct {
	Status    string    `json:"status"`
	Finalized *Proposal `json:"finalized,omitempty"`
}

// ProposalFilter narrows ListProposals. Empty fields match everything.
type ProposalFilter struct {
	Status  Status
	Type    string
	Creator string
}

func (f ProposalFilter) matches(p *Proposal) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.Type != "" && p.Type != f.Type {
		return false
	}
	if f.Creator != "" && p.Creator != f.Creator {
		return false
	}
	return true
}

// snapshot returns a deep-enough copy safe to hand outside the engine lock.
func (p *Proposal) snapshot() *Proposal {
	cp := *p
	cp.EligibleAgents = make(map[string]bool, len(p.EligibleAgents))
	for id := range p.EligibleAgents {
		cp.EligibleAgents[id] = true
	}
	cp.Votes = make(map[string]VoteRecord, len(p.Votes))
	for id, v := range p.Votes {
		cp.Votes[id] = v
	}
	if p.Result != nil {
		result := *p.Result
		cp.Result = &result
	}
	return &cp
}

// weightedTally sums the captured weights on each side of the ledger.
func (p *Proposal) weightedTally() (positive, negative float64) {
	for _, v := range p.Votes {
		if v.Vote {
			positive += v.Weight
		} else {
			negative += v.Weight
		}
	}
	return positive, negative
}

func sortNewestFirst(proposals []*Proposal) {
	sort.Slice(proposals, func(i, j int) bool {
		return proposals[i].StartTime.After(proposals[j].StartTime)
	})
}
