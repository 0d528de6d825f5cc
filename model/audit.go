package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records one game-economy event (capture, release, level-up, drop).
type AuditLog struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Action    string         `gorm:"index:idx_audit_action;size:32;not null" json:"action"`
	PlayerID  string         `gorm:"index:idx_audit_player;size:36" json:"player_id"`
	AnimalID  string         `gorm:"size:36" json:"animal_id"`
	SpeciesID string         `gorm:"size:36" json:"species_id"`
	GuildID   string         `gorm:"size:32" json:"guild_id"`
	Detail    datatypes.JSON `json:"detail"`
	CreatedAt time.Time      `gorm:"index:idx_audit_created;autoCreateTime:milli" json:"created_at"`
}
