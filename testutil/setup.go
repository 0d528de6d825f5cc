package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/kasuganosora/beastiary/cache"
	"github.com/kasuganosora/beastiary/config"
	dbsqlite "github.com/kasuganosora/beastiary/db/sqlite"
	"github.com/kasuganosora/beastiary/model"
	"github.com/kasuganosora/beastiary/scheduler"
	"github.com/kasuganosora/beastiary/store/memstore"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupTestDB creates a private in-memory SQLite DB and runs AutoMigrate.
// It requires no external services and is safe to use in parallel tests.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := dbsqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SetupTestStore returns an empty in-process document store.
func SetupTestStore(t *testing.T) *memstore.Store {
	t.Helper()
	return memstore.New()
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	c, ps, closeFn, err := cache.New(config.CacheConfig{})
	require.NoError(t, err, "SetupTestCache: New")
	t.Cleanup(closeFn)
	return c, ps
}

// SetupTestScheduler returns a scheduler stopped at test cleanup.
func SetupTestScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	s := scheduler.New(NopLogger())
	t.Cleanup(s.Stop)
	return s
}

// NopLogger returns a development logger for tests.
func NopLogger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}
