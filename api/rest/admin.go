package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/beastiary/game/beastiary"
	"github.com/kasuganosora/beastiary/model"
	"github.com/kasuganosora/beastiary/scheduler"
	"go.uber.org/zap"
)

// AuditReader lists ledger rows for a player.
type AuditReader interface {
	Recent(ctx context.Context, playerID string, limit int) ([]model.AuditLog, error)
}

// RarityLoader rebuilds the encounter table.
type RarityLoader interface {
	LoadRarityTable(ctx context.Context) error
}

const (
	defaultAuditLimit = 20
	maxAuditLimit     = 200
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by the AdminKey middleware.
type AdminHandler struct {
	b      *beastiary.Beastiary
	sched  *scheduler.Scheduler
	audit  AuditReader
	rarity RarityLoader
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler. audit and rarity may be nil, in
// which case their routes answer 503.
func NewAdminHandler(
	b *beastiary.Beastiary,
	sched *scheduler.Scheduler,
	audit AuditReader,
	rarity RarityLoader,
	logger *zap.Logger,
) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{b: b, sched: sched, audit: audit, rarity: rarity, logger: logger}
}

// Caches returns per-collection cache statistics.
// GET /api/admin/caches
func (h *AdminHandler) Caches(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"caches": h.b.Stats()})
}

// Player returns a summary of one player.
// GET /api/admin/players/:id
func (h *AdminHandler) Player(c *gin.Context) {
	p, err := h.b.Players.FetchByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p.Summarize())
}

// GrantScraps adds (or with a negative amount, removes) scraps.
// POST /api/admin/players/:id/scraps
func (h *AdminHandler) GrantScraps(c *gin.Context) {
	var req struct {
		Amount int `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount is required"})
		return
	}
	p, err := h.b.Players.FetchByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := p.AddScraps(req.Amount); err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("admin granted scraps", zap.String("player_id", p.ID()), zap.Int("amount", req.Amount))
	c.JSON(http.StatusOK, gin.H{"scraps": p.Scraps()})
}

// PlayerAudit lists the newest ledger rows for a player.
// GET /api/admin/players/:id/audit?limit=20
func (h *AdminHandler) PlayerAudit(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit ledger disabled"})
		return
	}
	limit := defaultAuditLimit
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= maxAuditLimit {
		limit = l
	}
	rows, err := h.audit.Recent(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.logger.Error("audit query", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": rows, "count": len(rows)})
}

// ReloadRarity rebuilds the encounter rarity table from the species store.
// POST /api/admin/rarity/reload
func (h *AdminHandler) ReloadRarity(c *gin.Context) {
	if h.rarity == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "encounters disabled"})
		return
	}
	if err := h.rarity.LoadRarityTable(c.Request.Context()); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListSchedulerTasks returns the names of all registered tasks.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tickers": h.sched.ListTickers(),
		"crons":   h.sched.ListCrons(),
		"delays":  len(h.sched.ListDelays()),
	})
}
