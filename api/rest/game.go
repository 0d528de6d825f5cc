package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/beastiary/game/reset"
)

// GameHandler serves public, read-only game state.
type GameHandler struct {
	resets *reset.Coordinator
}

// NewGameHandler creates a GameHandler.
func NewGameHandler(resets *reset.Coordinator) *GameHandler {
	return &GameHandler{resets: resets}
}

// Health reports liveness.
// GET /health
func (h *GameHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Resets lists the last and next reset boundary of every resource.
// GET /api/resets
func (h *GameHandler) Resets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"now":    h.resets.Now(),
		"resets": h.resets.Snapshot(),
	})
}
