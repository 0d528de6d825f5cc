package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Game      GameConfig      `mapstructure:"game"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Security  SecurityConfig  `mapstructure:"security"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // memory | bolt | sqlite | mysql
	BoltPath     string        `mapstructure:"bolt_path"`
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

// GameConfig carries every tunable the game-object layer consumes.
// The core treats these as opaque inputs.
type GameConfig struct {
	WriteDelay time.Duration `mapstructure:"write_delay"`

	PlayerCacheTimeout  time.Duration `mapstructure:"player_cache_timeout"`
	AnimalCacheTimeout  time.Duration `mapstructure:"animal_cache_timeout"`
	SpeciesCacheTimeout time.Duration `mapstructure:"species_cache_timeout"`
	GuildCacheTimeout   time.Duration `mapstructure:"guild_cache_timeout"`

	EncounterPeriod      time.Duration `mapstructure:"encounter_period"`
	EncountersPerPeriod  int           `mapstructure:"encounters_per_period"`
	CapturePeriod        time.Duration `mapstructure:"capture_period"`
	CapturesPerPeriod    int           `mapstructure:"captures_per_period"`
	XpBoostPeriod        time.Duration `mapstructure:"xp_boost_period"`
	XpBoostsPerPeriod    int           `mapstructure:"xp_boosts_per_period"`
	DailyCurrencyPeriod  time.Duration `mapstructure:"daily_currency_period"`
	DailyCurrencyAmount  int           `mapstructure:"daily_currency_amount"`
	ResetRefreshInterval time.Duration `mapstructure:"reset_refresh_interval"`

	MaxCrewSize             int `mapstructure:"max_crew_size"`
	CollectionSlotsPerLevel int `mapstructure:"collection_slots_per_level"`
	MaxTags                 int `mapstructure:"max_tags"`
	BaseLevelCap            int `mapstructure:"base_level_cap"`
	EssencePerLevelCap      int `mapstructure:"essence_per_level_cap"`
	TokenDropChance         int `mapstructure:"token_drop_chance"`
	DuplicateTokenEssence   int `mapstructure:"duplicate_token_essence"`
	XpPerBoost              int `mapstructure:"xp_per_boost"`
	XpPerEncounter          int `mapstructure:"xp_per_encounter"`
	XpPerCapture            int `mapstructure:"xp_per_capture"`

	EncounterGuildCooldown time.Duration `mapstructure:"encounter_guild_cooldown"`
	DefaultPrefix          string        `mapstructure:"default_prefix"`
}

type SchedulerConfig struct {
	StatsCron string `mapstructure:"stats_cron"`
}

type CatalogConfig struct {
	SpeciesPath string `mapstructure:"species_path"`
}

type SecurityConfig struct {
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// setDefaults registers every default on v. Shared by Load and Default.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.bolt_path", "./data/beastiary.bolt")
	v.SetDefault("database.sqlite_path", "./data/beastiary.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)

	v.SetDefault("game.write_delay", "10s")
	v.SetDefault("game.player_cache_timeout", "3m")
	v.SetDefault("game.animal_cache_timeout", "3m")
	v.SetDefault("game.species_cache_timeout", "5m")
	v.SetDefault("game.guild_cache_timeout", "3m")
	v.SetDefault("game.encounter_period", "1m")
	v.SetDefault("game.encounters_per_period", 2)
	v.SetDefault("game.capture_period", "4m")
	v.SetDefault("game.captures_per_period", 1)
	v.SetDefault("game.xp_boost_period", "1m")
	v.SetDefault("game.xp_boosts_per_period", 1)
	v.SetDefault("game.daily_currency_period", "22m")
	v.SetDefault("game.daily_currency_amount", 100)
	v.SetDefault("game.reset_refresh_interval", "5s")
	v.SetDefault("game.max_crew_size", 2)
	v.SetDefault("game.collection_slots_per_level", 5)
	v.SetDefault("game.max_tags", 20)
	v.SetDefault("game.base_level_cap", 5)
	v.SetDefault("game.essence_per_level_cap", 5)
	v.SetDefault("game.token_drop_chance", 2500)
	v.SetDefault("game.duplicate_token_essence", 5)
	v.SetDefault("game.xp_per_boost", 25)
	v.SetDefault("game.xp_per_encounter", 5)
	v.SetDefault("game.xp_per_capture", 30)
	v.SetDefault("game.encounter_guild_cooldown", "2m")
	v.SetDefault("game.default_prefix", "b/")

	v.SetDefault("scheduler.stats_cron", "@every 5m")
	v.SetDefault("catalog.species_path", "./data/species.yaml")
	v.SetDefault("security.rate_limit_rps", 50)
	v.SetDefault("security.rate_limit_burst", 100)
}

// newViper loads .env into the process environment when present, then
// layers BEASTIARY_* variables over the defaults.
func newViper() *viper.Viper {
	_ = godotenv.Load(".env")
	v := viper.New()
	v.SetEnvPrefix("beastiary")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration with only defaults and environment overrides applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := newViper().Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
