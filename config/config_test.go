package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Mode)
	assert.Equal(t, 10*time.Second, cfg.Game.WriteDelay)
	assert.Equal(t, 4*time.Minute, cfg.Game.CapturePeriod)
	assert.Equal(t, 22*time.Minute, cfg.Game.DailyCurrencyPeriod)
	assert.Equal(t, 2500, cfg.Game.TokenDropChance)
	assert.Equal(t, "@every 5m", cfg.Scheduler.StatsCron)
	assert.InDelta(t, 50.0, cfg.Security.RateLimitRPS, 0.001)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  admin_key: secret
database:
  mode: memory
game:
  encounters_per_period: 5
  encounter_guild_cooldown: 30s
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.AdminKey)
	assert.Equal(t, "memory", cfg.Database.Mode)
	assert.Equal(t, 5, cfg.Game.EncountersPerPeriod)
	assert.Equal(t, 30*time.Second, cfg.Game.EncounterGuildCooldown)
	// Untouched keys keep their defaults.
	assert.Equal(t, 2, cfg.Game.MaxCrewSize)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("BEASTIARY_GAME_WRITE_DELAY", "250ms")
	t.Setenv("BEASTIARY_SERVER_ADMIN_KEY", "from-env")

	cfg, err := Load("config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Game.WriteDelay)
	assert.Equal(t, "from-env", cfg.Server.AdminKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
