package db

import (
	"fmt"

	"github.com/kasuganosora/beastiary/config"
	"github.com/kasuganosora/beastiary/model"
	"github.com/kasuganosora/beastiary/store"
	"github.com/kasuganosora/beastiary/store/boltstore"
	"github.com/kasuganosora/beastiary/store/gormstore"
	"github.com/kasuganosora/beastiary/store/memstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Backend is an opened document store plus the SQL handle behind it, if any.
type Backend struct {
	Store store.Store
	// DB is nil for the memory and bolt modes.
	DB    *gorm.DB
	close func() error
}

// Close releases the underlying database handle.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// OpenStore opens the document store selected by cfg.Mode. SQL modes are
// migrated before returning.
func OpenStore(cfg config.DatabaseConfig, logger *zap.Logger) (*Backend, error) {
	switch cfg.Mode {
	case ModeMemory:
		logger.Warn("using in-memory store, data will not survive restarts")
		return &Backend{Store: memstore.New()}, nil
	case ModeBolt:
		bs, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("open bolt %s: %w", cfg.BoltPath, err)
		}
		logger.Info("bolt store opened", zap.String("path", cfg.BoltPath))
		return &Backend{Store: bs, close: bs.Close}, nil
	case ModeSQLite, ModeMySQL:
		gdb, err := Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Mode, err)
		}
		if err := model.AutoMigrate(gdb); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("sql store opened", zap.String("mode", cfg.Mode))
		return &Backend{
			Store: gormstore.New(gdb),
			DB:    gdb,
			close: func() error {
				sqlDB, err := gdb.DB()
				if err != nil {
					return err
				}
				return sqlDB.Close()
			},
		}, nil
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}
