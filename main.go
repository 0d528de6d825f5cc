package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/beastiary/api/rest"
	"github.com/kasuganosora/beastiary/audit"
	"github.com/kasuganosora/beastiary/cache"
	"github.com/kasuganosora/beastiary/config"
	dbadapter "github.com/kasuganosora/beastiary/db"
	"github.com/kasuganosora/beastiary/game/beastiary"
	"github.com/kasuganosora/beastiary/game/catalog"
	"github.com/kasuganosora/beastiary/game/encounter"
	"github.com/kasuganosora/beastiary/game/reset"
	"github.com/kasuganosora/beastiary/scheduler"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Database ----
	backend, err := dbadapter.OpenStore(cfg.Database, logger)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	logger.Info("store initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	// The ledger lives in SQL; memory and bolt modes run without one.
	var auditSvc *audit.Service
	var auditLog audit.Logger = audit.Nop{}
	if backend.DB != nil {
		auditSvc = audit.New(backend.DB, logger)
		auditLog = auditSvc
	}

	// ---- Cache / PubSub ----
	c, pubsub, closeCache, err := cache.New(cfg.Cache)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	logger.Info("cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Scheduler ----
	sched := scheduler.New(logger)

	// ---- Game ----
	resets := reset.New(reset.PeriodsFromConfig(cfg.Game), reset.SystemClock{}, pubsub, logger)
	resets.Start(sched, cfg.Game.ResetRefreshInterval)

	b := beastiary.New(beastiary.Options{
		Config: cfg.Game,
		Store:  backend.Store,
		Timers: sched,
		Resets: resets,
		Audit:  auditLog,
		Logger: logger,
	})

	if cfg.Catalog.SpeciesPath != "" {
		f, err := catalog.LoadFile(cfg.Catalog.SpeciesPath)
		if err != nil {
			log.Fatalf("catalog: %v", err)
		}
		if _, err := catalog.Seed(ctx, b, f, logger); err != nil {
			log.Fatalf("catalog seed: %v", err)
		}
	}

	enc := encounter.New(encounter.Options{
		Beastiary: b,
		Cache:     c,
		PubSub:    pubsub,
		Audit:     auditLog,
		Logger:    logger,
	})
	if err := enc.LoadRarityTable(ctx); err != nil {
		log.Fatalf("rarity table: %v", err)
	}

	// ---- Periodic Scheduler Tasks ----
	if err := sched.AddCron("cache_stats", cfg.Scheduler.StatsCron, func() {
		for _, s := range b.Stats() {
			logger.Info("cache stats",
				zap.String("cache", s.Name),
				zap.Int("entries", s.Entries),
				zap.Uint64("hits", s.Hits),
				zap.Uint64("misses", s.Misses),
				zap.Uint64("evictions", s.Evictions),
				zap.Uint64("flush_errors", s.FlushErrors),
			)
		}
	}); err != nil {
		log.Fatalf("scheduler: %v", err)
	}

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	deps := apirest.Deps{
		Config:     cfg,
		Beastiary:  b,
		Encounters: enc,
		Scheduler:  sched,
		Cache:      c,
		PubSub:     pubsub,
		Logger:     logger,
	}
	if auditSvc != nil {
		deps.Audit = auditSvc
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apirest.NewRouter(ctx, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Entities are drained while the scheduler still runs; stopping it drops
	// pending write timers.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := b.Shutdown(shutdownCtx); err != nil {
		logger.Error("game shutdown", zap.Error(err))
	}
	sched.Stop()
	if auditSvc != nil {
		auditSvc.Stop(shutdownCtx)
	}
	closeCache()
	if err := backend.Close(); err != nil {
		logger.Warn("db close", zap.Error(err))
	}
	logger.Info("bye")
}
