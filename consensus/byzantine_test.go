package consensus

import (
	"math"
	"testing"
	"time"

	"github.com/swarmforge/agent-quorum/core"
)

func TestVoteFlippingDetection(t *testing.T) {
	engine, collector := newTestEngine(t)
	engine.RegisterAgent("flipper", 1.0, nil)
	engine.RegisterAgent("bystander", 1.0, nil)

	// Three rapid votes with two direction changes. Two eligible agents
	// and one voter keep the proposals below quorum, so nothing finalizes
	// while the pattern builds.
	votes := []bool{true, false, true}
	for i, vote := range votes {
		id, _ := engine.CreateProposal(ProposalSpec{Type: "task", Creator: "bystander"})
		if _, err := engine.SubmitVote(id, "flipper", vote, ""); err != nil {
			t.Fatalf("vote %d failed: %v", i, err)
		}
	}

	agent, _ := engine.GetAgent("flipper")
	if agent.ByzantineFlags != 1 {
		t.Fatalf("expected 1 flag after T-F-T pattern, got %d", agent.ByzantineFlags)
	}
	if math.Abs(agent.Weight-0.95) > 1e-9 {
		t.Errorf("flag should decay weight to 0.95, got %f", agent.Weight)
	}
	if collector.count(core.EventByzantineDetected) != 1 {
		t.Error("expected one byzantine:detected event")
	}
}

func TestVoteFlippingNeedsThreeEntries(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.RegisterAgent("waverer", 1.0, nil)
	engine.RegisterAgent("bystander", 1.0, nil)

	for _, vote := range []bool{true, false} {
		id, _ := engine.CreateProposal(ProposalSpec{Type: "task", Creator: "bystander"})
		engine.SubmitVote(id, "waverer", vote, "")
	}

	agent, _ := engine.GetAgent("waverer")
	if agent.ByzantineFlags != 0 {
		t.Errorf("one direction change must not flag, got %d flags", agent.ByzantineFlags)
	}
}

func TestFlipWindowExpiry(t *testing.T) {
	entries := []HistoryEntry{
		{AgentID: "a", Vote: true, Timestamp: time.Now().Add(-2 * time.Hour)},
		{AgentID: "a", Vote: false, Timestamp: time.Now()},
		{AgentID: "a", Vote: true, Timestamp: time.Now()},
	}

	recent := recentHistory(entries, "a", flipHistoryLimit, time.Now().Add(-flipWindow))
	if len(recent) != 2 {
		t.Fatalf("entry outside the window should be dropped, got %d entries", len(recent))
	}
	if hasVoteFlipping(recent) {
		t.Error("two in-window entries cannot establish a flip pattern")
	}
}

func TestConfidenceMismatchDetection(t *testing.T) {
	engine, collector := newTestEngine(t)
	engine.RegisterAgent("shaky", 1.0, nil)
	engine.RegisterAgent("bystander", 1.0, nil)
	id, _ := engine.CreateProposal(ProposalSpec{Type: "task", Creator: "bystander"})

	// Reputation 0.05, 0/20 correct, last seen 23h ago:
	// (0.05 + 1.0 + 0 + 0.1) / 4 = 0.2875, under the 0.3 bar.
	engine.mu.Lock()
	agent := engine.registry.Get("shaky")
	agent.Reputation = 0.05
	agent.VotesCast = 20
	agent.CorrectVotes = 0
	agent.LastActivity = time.Now().Add(-23 * time.Hour)
	engine.mu.Unlock()

	if _, err := engine.SubmitVote(id, "shaky", true, ""); err != nil {
		t.Fatalf("vote failed: %v", err)
	}

	flagged, _ := engine.GetAgent("shaky")
	if flagged.ByzantineFlags != 1 {
		t.Fatalf("expected confidence mismatch flag, got %d flags", flagged.ByzantineFlags)
	}
	if collector.count(core.EventByzantineDetected) != 1 {
		t.Error("expected one byzantine:detected event")
	}

	// The low-confidence vote itself stays on the ledger.
	p := engine.GetProposal(id)
	if _, ok := p.Votes["shaky"]; !ok {
		t.Error("flagged vote must still be recorded")
	}
	if p.Votes["shaky"].Confidence >= lowConfidenceBar {
		t.Errorf("recorded confidence should be under the bar, got %f", p.Votes["shaky"].Confidence)
	}
}

func TestContrarianDetection(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.RegisterAgent("honest", 2.0, nil)
	engine.RegisterAgent("contrarian", 1.0, nil)

	// Five finalized proposals where the contrarian always loses. The
	// contrarian votes first so detection on each vote sees only already
	// finalized history; the honest vote completes participation and
	// finalizes via the decisive-lead rule.
	for i := 0; i < 5; i++ {
		id, _ := engine.CreateProposal(ProposalSpec{Type: "task", Creator: "honest"})
		engine.SubmitVote(id, "contrarian", false, "")
		outcome, err := engine.SubmitVote(id, "honest", true, "")
		if err != nil {
			t.Fatalf("round %d: honest vote failed: %v", i, err)
		}
		if outcome.Finalized == nil || !outcome.Finalized.Consensus {
			t.Fatalf("round %d: expected early finalization with consensus", i)
		}
	}

	agent, _ := engine.GetAgent("contrarian")
	if agent.ByzantineFlags != 0 {
		t.Fatalf("four evaluated losses must not flag yet, got %d flags", agent.ByzantineFlags)
	}

	// Sixth vote: five finalized disagreements in the lookback now.
	id, _ := engine.CreateProposal(ProposalSpec{Type: "task", Creator: "honest"})
	engine.SubmitVote(id, "contrarian", false, "")

	agent, _ = engine.GetAgent("contrarian")
	if agent.ByzantineFlags != 1 {
		t.Errorf("expected contrarian flag on the sixth vote, got %d flags", agent.ByzantineFlags)
	}
}

func TestQuarantineAtFiveFlags(t *testing.T) {
	engine, collector := newTestEngine(t)
	engine.RegisterAgent("rogue", 1.0, nil)
	engine.RegisterAgent("bystander", 1.0, nil)
	id, _ := engine.CreateProposal(ProposalSpec{Type: "task", Creator: "bystander"})

	// Four prior flags plus a state that trips the confidence rule on the
	// next vote.
	engine.mu.Lock()
	agent := engine.registry.Get("rogue")
	agent.ByzantineFlags = 4
	agent.Reputation = 0.05
	agent.VotesCast = 20
	agent.CorrectVotes = 0
	agent.LastActivity = time.Now().Add(-23 * time.Hour)
	engine.mu.Unlock()

	if _, err := engine.SubmitVote(id, "rogue", true, ""); err != nil {
		t.Fatalf("vote failed: %v", err)
	}

	quarantined, _ := engine.GetAgent("rogue")
	if quarantined.ByzantineFlags != 5 {
		t.Fatalf("expected 5 flags, got %d", quarantined.ByzantineFlags)
	}
	if quarantined.Online {
		t.Error("fifth flag must take the agent offline")
	}
	if collector.count(core.EventAgentQuarantined) != 1 {
		t.Error("expected one agent:quarantined event")
	}

	// Quarantined agents never enter new eligible sets.
	next, _ := engine.CreateProposal(ProposalSpec{Type: "task", Creator: "bystander"})
	if engine.GetProposal(next).EligibleAgents["rogue"] {
		t.Error("quarantined agent must not be eligible for new proposals")
	}
}

func TestFlaggedAgentsExcludedFromNewProposals(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.RegisterAgent("marginal", 1.0, nil)
	engine.RegisterAgent("clean", 1.0, nil)

	engine.mu.Lock()
	engine.registry.Get("marginal").ByzantineFlags = 4
	engine.mu.Unlock()

	// Four flags is past the eligibility cutoff even though the agent is
	// still online.
	id, _ := engine.CreateProposal(ProposalSpec{Type: "task", Creator: "clean"})
	p := engine.GetProposal(id)
	if p.EligibleAgents["marginal"] {
		t.Error("agent with 4 flags must not be eligible")
	}
	if !p.EligibleAgents["clean"] {
		t.Error("clean agent should be eligible")
	}

	agent, _ := engine.GetAgent("marginal")
	if !agent.Online {
		t.Error("4 flags must not quarantine")
	}
}
