package consensus

import "time"

// Byzantine flag reasons. Flags are a permanent record: they never decrease,
// only weight and reputation recover through correct voting.
const (
	FlagVoteFlipping       = "vote_flipping"
	FlagConfidenceMismatch = "confidence_mismatch"
	FlagContrarianPattern  = "contrarian_pattern"
)

const (
	// quarantineFlagLimit is the flag count at which an agent goes offline
	// permanently.
	quarantineFlagLimit = 5
	// eligibilityFlagLimit is the highest flag count still admitted into
	// new proposals' eligible sets.
	eligibilityFlagLimit = 3

	// detection windows
	flipWindow         = time.Hour
	flipHistoryLimit   = 5
	lowConfidenceBar   = 0.3
	contrarianLookback = 10
	contrarianMinimum  = 5
	contrarianRatio    = 0.8
)

// HistoryEntry is one row of the rolling voting log. The log exists solely
// as input to behavioral analysis and is pruned by age, independent of the
// proposals it references.
type HistoryEntry struct {
	ProposalID string    `json:"proposalId"`
	AgentID    string    `json:"agentId"`
	Vote       bool      `json:"vote"`
	Timestamp  time.Time `json:"timestamp"`
}

// recentHistory returns the agent's most recent entries, newest-last, capped
// at limit and restricted to entries at or after the cutoff. A zero cutoff
// disables the age restriction.
func recentHistory(entries []HistoryEntry, agentID string, limit int, cutoff time.Time) []HistoryEntry {
	var matched []HistoryEntry
	for _, entry := range entries {
		if entry.AgentID != agentID {
			continue
		}
		if !cutoff.IsZero() && entry.Timestamp.Before(cutoff) {
			continue
		}
		matched = append(matched, entry)
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

// hasVoteFlipping reports whether the vote value changed between consecutive
// entries at least twice. Fewer than three entries cannot establish a
// pattern.
func hasVoteFlipping(entries []HistoryEntry) bool {
	if len(entries) < 3 {
		return false
	}
	flips := 0
	for i := 1; i < len(entries); i++ {
		if entries[i].Vote != entries[i-1].Vote {
			flips++
		}
	}
	return flips >= 2
}

// isContrarian reports whether more than 80% of the agent's recent votes
// disagreed with the eventual outcome of their proposals. Only finalized
// proposals still in memory are evaluated; at least five evaluated entries
// are required before the pattern counts.
func isContrarian(entries []HistoryEntry, lookup func(proposalID string) *Proposal) bool {
	evaluated := 0
	disagreed := 0
	for _, entry := range entries {
		p := lookup(entry.ProposalID)
		if p == nil || p.Status != StatusFinalized {
			continue
		}
		evaluated++
		if entry.Vote != p.Consensus {
			disagreed++
		}
	}
	if evaluated < contrarianMinimum {
		return false
	}
	return float64(disagreed)/float64(evaluated) > contrarianRatio
}

// pruneHistory drops entries older than the cutoff, preserving order.
func pruneHistory(entries []HistoryEntry, cutoff time.Time) []HistoryEntry {
	kept := entries[:0]
	for _, entry := range entries {
		if !entry.Timestamp.Before(cutoff) {
			kept = append(kept, entry)
		}
	}
	return kept
}
