package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/beastiary/game/encounter"
	"go.uber.org/zap"
)

// Leaderboard reads the capture leaderboard.
type Leaderboard interface {
	Leaderboard(ctx context.Context, n int) ([]encounter.Standing, error)
}

const rankingTop = 100

// RankingHandler handles leaderboard REST endpoints.
type RankingHandler struct {
	board  Leaderboard
	logger *zap.Logger
}

// NewRankingHandler creates a RankingHandler.
func NewRankingHandler(board Leaderboard, logger *zap.Logger) *RankingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RankingHandler{board: board, logger: logger}
}

// TopCaptures returns the players with the most encounter captures.
// GET /api/ranking/captures?limit=20
func (h *RankingHandler) TopCaptures(c *gin.Context) {
	limit := 20
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= rankingTop {
		limit = l
	}
	standings, err := h.board.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("leaderboard", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache error"})
		return
	}
	if standings == nil {
		standings = []encounter.Standing{}
	}
	c.JSON(http.StatusOK, gin.H{"ranking": standings})
}
