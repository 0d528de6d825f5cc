package model

import (
	"time"

	"gorm.io/datatypes"
)

// Document is one persisted game object. Every collection shares this table;
// the typed shape of Fields is owned by the game-object layer.
type Document struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	Collection string         `gorm:"index:idx_doc_collection;size:32;not null" json:"collection"`
	Fields     datatypes.JSON `json:"fields"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Document) TableName() string { return "documents" }
