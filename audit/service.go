package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/beastiary/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actions recorded by the game layer.
const (
	ActionCapture       = "capture"
	ActionRelease       = "release"
	ActionLevelUp       = "level_up"
	ActionTokenDrop     = "token_drop"
	ActionEssenceDrop   = "essence_drop"
	ActionDailyCurrency = "daily_currency"
	ActionChangeOwner   = "change_owner"
	ActionEncounter     = "encounter"
)

// Entry holds one audit event to be logged.
type Entry struct {
	Action    string
	PlayerID  string
	AnimalID  string
	SpeciesID string
	GuildID   string
	Detail    interface{}
}

// Logger accepts audit entries. *Service implements it.
type Logger interface {
	Log(entry Entry)
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Log(Entry) {}

// Service logs audit entries asynchronously in batches.
type Service struct {
	db       *gorm.DB
	ch       chan *model.AuditLog
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	interval time.Duration
	logger   *zap.Logger
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	return newService(db, 2*time.Second, logger)
}

func newService(db *gorm.DB, interval time.Duration, logger *zap.Logger) *Service {
	svc := &Service{
		db:       db,
		ch:       make(chan *model.AuditLog, 1024),
		stopCh:   make(chan struct{}),
		interval: interval,
		logger:   logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues an audit entry for async DB write. Entries logged after Stop
// are dropped.
func (svc *Service) Log(entry Entry) {
	var detail datatypes.JSON
	if entry.Detail != nil {
		raw, err := json.Marshal(entry.Detail)
		if err != nil {
			svc.logger.Warn("audit detail not encodable",
				zap.String("action", entry.Action), zap.Error(err))
		} else {
			detail = datatypes.JSON(raw)
		}
	}
	record := &model.AuditLog{
		Action:    entry.Action,
		PlayerID:  entry.PlayerID,
		AnimalID:  entry.AnimalID,
		SpeciesID: entry.SpeciesID,
		GuildID:   entry.GuildID,
		Detail:    detail,
	}
	select {
	case <-svc.stopCh:
		return
	default:
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit channel full, dropping entry",
			zap.String("action", entry.Action))
	}
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

// Recent returns the newest entries, optionally filtered by player.
func (svc *Service) Recent(ctx context.Context, playerID string, limit int) ([]model.AuditLog, error) {
	q := svc.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if playerID != "" {
		q = q.Where("player_id = ?", playerID)
	}
	var logs []model.AuditLog
	if err := q.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(svc.interval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Error(err), zap.Int("entries", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			// Drain remaining entries.
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
					if len(batch) >= 100 {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
