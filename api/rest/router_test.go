package rest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/beastiary/api/rest"
	"github.com/kasuganosora/beastiary/audit"
	"github.com/kasuganosora/beastiary/cache"
	"github.com/kasuganosora/beastiary/config"
	"github.com/kasuganosora/beastiary/game/beastiary"
	"github.com/kasuganosora/beastiary/game/encounter"
	"github.com/kasuganosora/beastiary/game/reset"
	"github.com/kasuganosora/beastiary/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const adminKey = "test-key"

func nopLogger() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

type server struct {
	r     *gin.Engine
	b     *beastiary.Beastiary
	enc   *encounter.Service
	cache cache.Cache
	audit *audit.Service
}

func gameConfig() config.GameConfig {
	return config.GameConfig{
		WriteDelay:              time.Hour,
		PlayerCacheTimeout:      time.Hour,
		AnimalCacheTimeout:      time.Hour,
		SpeciesCacheTimeout:     time.Hour,
		GuildCacheTimeout:       time.Hour,
		EncounterPeriod:         time.Hour,
		EncountersPerPeriod:     2,
		CapturePeriod:           time.Hour,
		CapturesPerPeriod:       1,
		XpBoostPeriod:           time.Hour,
		XpBoostsPerPeriod:       1,
		DailyCurrencyPeriod:     24 * time.Hour,
		MaxCrewSize:             2,
		CollectionSlotsPerLevel: 5,
		BaseLevelCap:            5,
		EssencePerLevelCap:      5,
		TokenDropChance:         2500,
		EncounterGuildCooldown:  time.Minute,
	}
}

func newServer(t *testing.T, key string) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{
		Server:   config.ServerConfig{AdminKey: key},
		Game:     gameConfig(),
		Security: config.SecurityConfig{RateLimitRPS: 1000, RateLimitBurst: 1000},
	}
	c, ps := testutil.SetupTestCache(t)
	sched := testutil.SetupTestScheduler(t)
	auditSvc := audit.New(testutil.SetupTestDB(t), nopLogger())
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })

	b := beastiary.New(beastiary.Options{
		Config: cfg.Game,
		Store:  testutil.SetupTestStore(t),
		Timers: sched,
		Resets: reset.New(reset.PeriodsFromConfig(cfg.Game), nil, nil, nopLogger()),
		Audit:  auditSvc,
		Logger: nopLogger(),
	})
	enc := encounter.New(encounter.Options{Beastiary: b, Cache: c, PubSub: ps, Audit: auditSvc, Logger: nopLogger()})
	sched.AddTicker("noop", time.Hour, func() {})

	r := rest.NewRouter(ctx, rest.Deps{
		Config:     cfg,
		Beastiary:  b,
		Encounters: enc,
		Scheduler:  sched,
		Cache:      c,
		PubSub:     ps,
		Audit:      auditSvc,
		Logger:     nopLogger(),
	})
	return &server{r: r, b: b, enc: enc, cache: c, audit: auditSvc}
}

func (s *server) do(method, path, key, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if key != "" {
		req.Header.Set("X-Admin-Key", key)
	}
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}
