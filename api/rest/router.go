package rest

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/beastiary/api/sse"
	"github.com/kasuganosora/beastiary/cache"
	"github.com/kasuganosora/beastiary/config"
	"github.com/kasuganosora/beastiary/game/beastiary"
	"github.com/kasuganosora/beastiary/game/encounter"
	mw "github.com/kasuganosora/beastiary/middleware"
	"github.com/kasuganosora/beastiary/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Deps is everything the HTTP surface reads from.
type Deps struct {
	Config     *config.Config
	Beastiary  *beastiary.Beastiary
	Encounters *encounter.Service
	Scheduler  *scheduler.Scheduler
	Cache      cache.Cache
	PubSub     cache.PubSub
	Audit      AuditReader
	Logger     *zap.Logger
}

// NewRouter builds the gin engine with middleware and every route. ctx
// bounds the rate limiter's background sweep.
func NewRouter(ctx context.Context, d Deps) *gin.Engine {
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(d.Logger, "/health"), mw.Recovery(d.Logger))
	r.Use(mw.RateLimit(ctx, rate.Limit(d.Config.Security.RateLimitRPS), d.Config.Security.RateLimitBurst))

	gameH := NewGameHandler(d.Beastiary.Resets())
	r.GET("/health", gameH.Health)

	api := r.Group("/api")
	api.GET("/resets", gameH.Resets)
	if d.PubSub != nil {
		api.GET("/events", sse.NewHandler(d.PubSub, d.Logger).ServeSSE)
	}

	var rarity RarityLoader
	if d.Encounters != nil {
		rarity = d.Encounters
		rankH := NewRankingHandler(d.Encounters, d.Logger)
		api.GET("/ranking/captures", rankH.TopCaptures)
	}

	adminH := NewAdminHandler(d.Beastiary, d.Scheduler, d.Audit, rarity, d.Logger)
	admin := api.Group("/admin", mw.AdminKey(d.Config.Server.AdminKey, d.Cache))
	admin.GET("/caches", adminH.Caches)
	admin.GET("/players/:id", adminH.Player)
	admin.POST("/players/:id/scraps", adminH.GrantScraps)
	admin.GET("/players/:id/audit", adminH.PlayerAudit)
	admin.POST("/rarity/reload", adminH.ReloadRarity)
	admin.GET("/scheduler", adminH.ListSchedulerTasks)
	return r
}
