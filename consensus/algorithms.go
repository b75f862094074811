package consensus

import (
	"fmt"
	"math"
)

// runAlgorithm dispatches to the algorithm the proposal was created with.
// All algorithms are pure functions of the ledger; none mutate state.
// trusted reports whether an agent currently qualifies as trusted (used only
// by byzantine_tolerant, which filters on live trust, not captured weight).
func runAlgorithm(p *Proposal, trusted func(agentID string) bool) Result {
	switch p.Algorithm {
	case SimpleMajority:
		return simpleMajority(p)
	case ByzantineTolerant:
		return byzantineTolerant(p, trusted)
	case Unanimous:
		return unanimous(p)
	default:
		return weightedMajority(p)
	}
}

// simpleMajority counts one vote per agent, ignoring weights.
func simpleMajority(p *Proposal) Result {
	var positive, negative float64
	for _, v := range p.Votes {
		if v.Vote {
			positive++
		} else {
			negative++
		}
	}

	total := positive + negative
	var ratio float64
	if total > 0 {
		ratio = positive / total
	}

	return Result{
		Consensus:     total > 0 && ratio >= p.Threshold,
		Ratio:         ratio,
		PositiveVotes: positive,
		NegativeVotes: negative,
		Algorithm:     string(SimpleMajority),
	}
}

// weightedMajority sums each vote's captured weight.
func weightedMajority(p *Proposal) Result {
	positive, negative := p.weightedTally()

	total := positive + negative
	var ratio float64
	if total > 0 {
		ratio = positive / total
	}

	return Result{
		Consensus:     total > 0 && ratio >= p.Threshold,
		Ratio:         ratio,
		PositiveVotes: positive,
		NegativeVotes: negative,
		Algorithm:     string(WeightedMajority),
	}
}

// byzantineTolerant scores only votes from currently trusted agents (no
// byzantine flags, reputation above 0.7) and raises the bar to at least a
// 2/3 supermajority. With no trusted votes at all it falls back to plain
// weighted majority rather than deciding on an empty ledger.
func byzantineTolerant(p *Proposal, trusted func(agentID string) bool) Result {
	var positive, negative float64
	var trustedCount int
	for _, v := range p.Votes {
		if trusted == nil || !trusted(v.AgentID) {
			continue
		}
		trustedCount++
		if v.Vote {
			positive += v.Weight
		} else {
			negative += v.Weight
		}
	}

	if trustedCount == 0 {
		result := weightedMajority(p)
		result.Algorithm = string(ByzantineTolerant)
		result.Error = "no trusted votes, fell back to weighted majority"
		return result
	}

	total := positive + negative
	var ratio float64
	if total > 0 {
		ratio = positive / total
	}
	required := math.Max(p.Threshold, 0.67)

	return Result{
		Consensus:        total > 0 && ratio >= required,
		Ratio:            ratio,
		PositiveVotes:    positive,
		NegativeVotes:    negative,
		Algorithm:        string(ByzantineTolerant),
		TrustedVotesOnly: true,
	}
}

// unanimous passes only when every vote agrees and at least one exists.
// The agreed-on value may be false; unanimity is about agreement, not
// direction.
func unanimous(p *Proposal) Result {
	var positive, negative float64
	for _, v := range p.Votes {
		if v.Vote {
			positive++
		} else {
			negative++
		}
	}

	total := positive + negative
	var ratio float64
	if total > 0 {
		ratio = positive / total
	}

	return Result{
		Consensus:     total > 0 && (positive == total || negative == total),
		Ratio:         ratio,
		PositiveVotes: positive,
		NegativeVotes: negative,
		Algorithm:     string(Unanimous),
	}
}

// quorumFailure builds the terminal result for proposals whose participation
// never reached quorum. It is a valid outcome, not an error: consensus is
// simply false regardless of vote content.
func quorumFailure(participation, quorum float64) Result {
	return Result{
		Consensus: false,
		Ratio:     0,
		Algorithm: AlgorithmQuorumFailed,
		Error: fmt.Sprintf("participation %.2f below quorum %.2f",
			participation, quorum),
	}
}
