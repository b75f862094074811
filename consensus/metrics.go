package consensus

import (
	"time"

	"github.com/swarmforge/agent-quorum/core"
)

// retention is how long finalized proposals and history entries are kept
// before Cleanup removes them. Fixed, not configurable per call.
const retention = 24 * time.Hour

// Metrics is a point-in-time snapshot of engine counters.
type Metrics struct {
	ProposalsCreated     int           `json:"proposalsCreated"`
	ProposalsPassed      int           `json:"proposalsPassed"`
	ProposalsRejected    int           `json:"proposalsRejected"`
	ByzantineDetected    int           `json:"byzantineDetected"`
	AverageVotingTime    time.Duration `json:"averageVotingTime"`
	ActiveProposals      int           `json:"activeProposals"`
	OnlineAgents         int           `json:"onlineAgents"`
	FlaggedAgents        int           `json:"flaggedAgents"`
	AverageParticipation float64       `json:"averageParticipation"`
}

// GetMetrics returns running totals plus live counts.
func (e *Engine) GetMetrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	active := 0
	for _, p := range e.proposals {
		if p.Status == StatusActive {
			active++
		}
	}

	var avgVotingTime time.Duration
	var avgParticipation float64
	if e.finalizedCount > 0 {
		avgVotingTime = e.votingTimeTotal / time.Duration(e.finalizedCount)
		avgParticipation = e.participationSum / float64(e.finalizedCount)
	}

	online, flagged := e.registry.Counts()

	return Metrics{
		ProposalsCreated:     e.proposalsCreated,
		ProposalsPassed:      e.proposalsPassed,
		ProposalsRejected:    e.proposalsRejected,
		ByzantineDetected:    e.byzantineDetected,
		AverageVotingTime:    avgVotingTime,
		ActiveProposals:      active,
		OnlineAgents:         online,
		FlaggedAgents:        flagged,
		AverageParticipation: avgParticipation,
	}
}

// Cleanup removes finalized proposals and history entries older than the
// retention window. Active proposals are never touched.
func (e *Engine) Cleanup() {
	cutoff := time.Now().Add(-retention)

	e.mu.Lock()
	removedProposals := 0
	for id, p := range e.proposals {
		if p.Status == StatusFinalized && p.FinalizedAt.Before(cutoff) {
			delete(e.proposals, id)
			removedProposals++
		}
	}

	before := len(e.history)
	e.history = pruneHistory(e.history, cutoff)
	removedHistory := before - len(e.history)
	e.mu.Unlock()

	e.bus.Publish(core.EventCleanupCompleted, CleanupEvent{
		ProposalsRemoved: removedProposals,
		HistoryRemoved:   removedHistory,
	})
}
