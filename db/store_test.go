package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kasuganosora/beastiary/config"
	"github.com/kasuganosora/beastiary/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenStore_Modes(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		cfg   config.DatabaseConfig
		hasDB bool
	}{
		{config.DatabaseConfig{Mode: ModeMemory}, false},
		{config.DatabaseConfig{Mode: ModeBolt, BoltPath: filepath.Join(dir, "b.bolt")}, false},
		{config.DatabaseConfig{Mode: ModeSQLite, SQLitePath: filepath.Join(dir, "b.db")}, true},
	}
	for _, c := range cases {
		t.Run(c.cfg.Mode, func(t *testing.T) {
			ctx := context.Background()
			backend, err := OpenStore(c.cfg, zap.NewNop())
			require.NoError(t, err)
			defer func() { assert.NoError(t, backend.Close()) }()
			assert.Equal(t, c.hasDB, backend.DB != nil)

			id, err := backend.Store.Insert(ctx, "players", store.Fields{"userId": "u1"})
			require.NoError(t, err)
			got, err := backend.Store.FindByID(ctx, "players", id)
			require.NoError(t, err)
			assert.Equal(t, "u1", got["userId"])
		})
	}
}

func TestOpenStore_UnknownMode(t *testing.T) {
	_, err := OpenStore(config.DatabaseConfig{Mode: "mongo"}, zap.NewNop())
	assert.Error(t, err)
}

func TestOpen_RejectsNonSQL(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Mode: ModeBolt})
	assert.Error(t, err)
	assert.True(t, IsSQL(ModeMySQL))
	assert.False(t, IsSQL(ModeMemory))
}
