package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/swarmforge/agent-quorum/consensus"
	"github.com/swarmforge/agent-quorum/storage"
)

// Handler exposes the consensus engine over REST.
type Handler struct {
	engine *consensus.Engine
	audit  *storage.AuditRepository
}

// New builds a handler set. audit may be nil when the node runs without
// persistence.
func New(engine *consensus.Engine, audit *storage.AuditRepository) *Handler {
	return &Handler{engine: engine, audit: audit}
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, consensus.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, consensus.ErrIneligible):
		return http.StatusForbidden
	case errors.Is(err, consensus.ErrDeadlinePassed):
		return http.StatusGone
	case errors.Is(err, consensus.ErrInvalidState), errors.Is(err, consensus.ErrShuttingDown):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RegisterAgent - registers a voting agent (replaces and resets on repeat ids)
func (h *Handler) RegisterAgent(c *gin.Context) {
	var req struct {
		ID           string   `json:"id" binding:"required"`
		Weight       float64  `json:"weight"`
		Capabilities []string `json:"capabilities"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid agent data"})
		return
	}

	h.engine.RegisterAgent(req.ID, req.Weight, req.Capabilities)
	c.JSON(http.StatusOK, gin.H{"message": "agent registered", "agentID": req.ID})
}

// GetAgent - returns an agent's current trust state
func (h *Handler) GetAgent(c *gin.Context) {
	agent, ok := h.engine.GetAgent(c.Param("agentID"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": agent})
}

// CreateProposal - opens a new proposal for voting
func (h *Handler) CreateProposal(c *gin.Context) {
	var req struct {
		Type                 string                 `json:"type" binding:"required"`
		Content              interface{}            `json:"content"`
		Creator              string                 `json:"creator" binding:"required"`
		Threshold            float64                `json:"threshold"`
		Algorithm            string                 `json:"algorithm"`
		RequiredCapabilities []string               `json:"requiredCapabilities"`
		Metadata             map[string]interface{} `json:"metadata"`
		TimeoutMs            int64                  `json:"timeoutMs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proposal data"})
		return
	}

	id, err := h.engine.CreateProposal(consensus.ProposalSpec{
		Type:                 req.Type,
		Content:              req.Content,
		Creator:              req.Creator,
		Threshold:            req.Threshold,
		Algorithm:            consensus.Algorithm(req.Algorithm),
		RequiredCapabilities: req.RequiredCapabilities,
		Metadata:             req.Metadata,
		Timeout:              time.Duration(req.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposalID": id})
}

// GetProposal - fetches a proposal with its vote ledger
func (h *Handler) GetProposal(c *gin.Context) {
	p := h.engine.GetProposal(c.Param("proposalID"))
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "proposal not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposal": p})
}

// ListProposals - lists proposals newest first, with optional filters
func (h *Handler) ListProposals(c *gin.Context) {
	proposals := h.engine.ListProposals(consensus.ProposalFilter{
		Status:  consensus.Status(c.Query("status")),
		Type:    c.Query("type"),
		Creator: c.Query("creator"),
	})
	c.JSON(http.StatusOK, gin.H{"proposals": proposals})
}

// SubmitVote - records an agent's vote, possibly finalizing early
func (h *Handler) SubmitVote(c *gin.Context) {
	var req struct {
		AgentID   string `json:"agentId" binding:"required"`
		Vote      *bool  `json:"vote" binding:"required"`
		Reasoning string `json:"reasoning"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid vote data"})
		return
	}

	outcome, err := h.engine.SubmitVote(c.Param("proposalID"), req.AgentID, *req.Vote, req.Reasoning)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// FinalizeProposal - forces finalization; a no-op on finalized proposals
func (h *Handler) FinalizeProposal(c *gin.Context) {
	p, err := h.engine.FinalizeProposal(c.Param("proposalID"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if p == nil {
		c.JSON(http.StatusOK, gin.H{"finalized": nil, "message": "proposal missing or already finalized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"finalized": p})
}

// GetMetrics - returns engine counters and live gauges
func (h *Handler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"metrics": h.engine.GetMetrics()})
}

// Cleanup - prunes old finalized proposals and voting history
func (h *Handler) Cleanup(c *gin.Context) {
	h.engine.Cleanup()
	c.JSON(http.StatusOK, gin.H{"message": "cleanup completed"})
}

// ListAuditProposals - returns persisted finalized-proposal records
func (h *Handler) ListAuditProposals(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit storage not enabled"})
		return
	}
	records, err := h.audit.ListFinalized()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// ListAuditQuarantines - returns persisted quarantine records
func (h *Handler) ListAuditQuarantines(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit storage not enabled"})
		return
	}
	records, err := h.audit.ListQuarantines()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}
