package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/swarmforge/agent-quorum/consensus"
	"github.com/swarmforge/agent-quorum/core"
)

// FinalizedRecord is the persisted summary of a finalized proposal.
type FinalizedRecord struct {
	ProposalID    string    `json:"proposalId"`
	Type          string    `json:"type"`
	Creator       string    `json:"creator"`
	Algorithm     string    `json:"algorithm"`
	Consensus     bool      `json:"consensus"`
	Ratio         float64   `json:"ratio"`
	Participation float64   `json:"participation"`
	VoteCount     int       `json:"voteCount"`
	FinalizedAt   time.Time `json:"finalizedAt"`
}

// QuarantineRecord is the persisted audit trail of an agent quarantine.
type QuarantineRecord struct {
	AgentID       string    `json:"agentId"`
	Flags         int       `json:"flags"`
	QuarantinedAt time.Time `json:"quarantinedAt"`
}

// AuditRepository persists finalized proposals and quarantine decisions so
// they survive the engine's in-memory cleanup. It is fed purely by event
// subscription; a write failure never affects engine behavior.
type AuditRepository struct {
	store *Store
}

// NewAuditRepository wraps a store.
func NewAuditRepository(store *Store) *AuditRepository {
	return &AuditRepository{store: store}
}

// AttachBus subscribes the repository to engine events.
func (r *AuditRepository) AttachBus(bus *core.Bus) {
	bus.Subscribe(func(event core.Event) {
		switch event.Name {
		case core.EventProposalFinalized:
			p, ok := event.Payload.(*consensus.Proposal)
			if !ok {
				return
			}
			if err := r.SaveFinalized(p); err != nil {
				log.Printf("failed to persist finalized proposal %s: %v", p.ID, err)
			}
		case core.EventAgentQuarantined:
			q, ok := event.Payload.(consensus.QuarantineEvent)
			if !ok {
				return
			}
			if err := r.SaveQuarantine(q.AgentID, q.Flags, event.Timestamp); err != nil {
				log.Printf("failed to persist quarantine of %s: %v", q.AgentID, err)
			}
		}
	})
}

// SaveFinalized persists the summary of a finalized proposal.
func (r *AuditRepository) SaveFinalized(p *consensus.Proposal) error {
	record := FinalizedRecord{
		ProposalID:    p.ID,
		Type:          p.Type,
		Creator:       p.Creator,
		Consensus:     p.Consensus,
		Ratio:         p.FinalRatio,
		Participation: p.ParticipationRate,
		VoteCount:     len(p.Votes),
		FinalizedAt:   p.FinalizedAt,
	}
	if p.Result != nil {
		record.Algorithm = p.Result.Algorithm
	}
	return r.store.PutObject(fmt.Sprintf("proposal:%s", p.ID), record)
}

// GetFinalized loads one finalized-proposal record.
func (r *AuditRepository) GetFinalized(proposalID string) (FinalizedRecord, error) {
	var record FinalizedRecord
	err := r.store.GetObject(fmt.Sprintf("proposal:%s", proposalID), &record)
	return record, err
}

// ListFinalized returns all persisted finalized-proposal records.
func (r *AuditRepository) ListFinalized() ([]FinalizedRecord, error) {
	values, err := r.store.GetByPrefix("proposal:")
	if err != nil {
		return nil, err
	}
	return decodeAll[FinalizedRecord](values), nil
}

// SaveQuarantine persists a quarantine decision.
func (r *AuditRepository) SaveQuarantine(agentID string, flags int, at time.Time) error {
	record := QuarantineRecord{
		AgentID:       agentID,
		Flags:         flags,
		QuarantinedAt: at,
	}
	return r.store.PutObject(fmt.Sprintf("quarantine:%s", agentID), record)
}

// ListQuarantines returns all persisted quarantine records.
func (r *AuditRepository) ListQuarantines() ([]QuarantineRecord, error) {
	values, err := r.store.GetByPrefix("quarantine:")
	if err != nil {
		return nil, err
	}
	return decodeAll[QuarantineRecord](values), nil
}

func decodeAll[T any](values [][]byte) []T {
	records := make([]T, 0, len(values))
	for _, value := range values {
		var record T
		if err := json.Unmarshal(value, &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	return records
}
