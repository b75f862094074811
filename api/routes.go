package api

import (
	"github.com/gin-gonic/gin"

	"github.com/swarmforge/agent-quorum/api/handlers"
)

// SetupRoutes initializes all API endpoints.
func SetupRoutes(router *gin.Engine, h *handlers.Handler) {
	api := router.Group("/api")
	{
		api.POST("/agents", h.RegisterAgent)
		api.GET("/agents/:agentID", h.GetAgent)
		api.POST("/proposals", h.CreateProposal)
		api.GET("/proposals", h.ListProposals)
		api.GET("/proposals/:proposalID", h.GetProposal)
		api.POST("/proposals/:proposalID/votes", h.SubmitVote)
		api.POST("/proposals/:proposalID/finalize", h.FinalizeProposal)
		api.GET("/metrics", h.GetMetrics)
		api.POST("/cleanup", h.Cleanup)
		api.GET("/audit/proposals", h.ListAuditProposals)
		api.GET("/audit/quarantines", h.ListAuditQuarantines)
	}
	router.GET("/ws", handlers.HandleWebSocket)
}
