package api

import (
	"github.com/gin-gonic/gin"

	"github.com/swarmforge/agent-quorum/api/handlers"
	"github.com/swarmforge/agent-quorum/consensus"
	"github.com/swarmforge/agent-quorum/storage"
)

// NewServer builds the REST API around an engine. audit may be nil.
func NewServer(engine *consensus.Engine, audit *storage.AuditRepository) *gin.Engine {
	router := gin.Default()
	SetupRoutes(router, handlers.New(engine, audit))
	return router
}
