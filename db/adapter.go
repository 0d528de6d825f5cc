package db

import (
	"fmt"

	"github.com/kasuganosora/beastiary/config"
	dbmysql "github.com/kasuganosora/beastiary/db/mysql"
	dbsqlite "github.com/kasuganosora/beastiary/db/sqlite"
	"gorm.io/gorm"
)

const (
	ModeMemory = "memory"
	ModeBolt   = "bolt"
	ModeSQLite = "sqlite"
	ModeMySQL  = "mysql"
)

// IsSQL reports whether mode is served by gorm.
func IsSQL(mode string) bool {
	return mode == ModeSQLite || mode == ModeMySQL
}

// Open returns a *gorm.DB for the configured SQL database mode.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Mode {
	case ModeSQLite:
		return dbsqlite.Open(cfg.SQLitePath)
	case ModeMySQL:
		return dbmysql.Open(cfg.MySQLDSN, cfg.MySQLMaxOpen, cfg.MySQLMaxIdle, cfg.MySQLMaxLife)
	default:
		return nil, fmt.Errorf("db: mode %q is not a SQL mode", cfg.Mode)
	}
}
