// Package gormstore persists game objects as JSON documents in a single
// gorm-managed table.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/kasuganosora/beastiary/model"
	"github.com/kasuganosora/beastiary/store"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store implements store.Store over model.Document.
type Store struct {
	db *gorm.DB
}

// New wraps db. The documents table must already be migrated.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func marshal(f store.Fields) (datatypes.JSON, error) {
	if f == nil {
		f = store.Fields{}
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("gormstore: marshal: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func unmarshal(raw datatypes.JSON) (store.Fields, error) {
	f := store.Fields{}
	if len(raw) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("gormstore: unmarshal: %w", err)
	}
	return f, nil
}

func (s *Store) Insert(ctx context.Context, collection string, fields store.Fields) (string, error) {
	raw, err := marshal(fields)
	if err != nil {
		return "", err
	}
	doc := &model.Document{ID: uuid.NewString(), Collection: collection, Fields: raw}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return "", err
	}
	return doc.ID, nil
}

func (s *Store) find(tx *gorm.DB, collection, id string) (*model.Document, error) {
	var doc model.Document
	err := tx.Where("id = ? AND collection = ?", id, collection).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) FindByID(ctx context.Context, collection, id string) (store.Fields, error) {
	doc, err := s.find(s.db.WithContext(ctx), collection, id)
	if err != nil {
		return nil, err
	}
	return unmarshal(doc.Fields)
}

// UpdateFields merges fields into the stored document inside one transaction.
func (s *Store) UpdateFields(ctx context.Context, collection, id string, fields store.Fields) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := s.find(tx, collection, id)
		if err != nil {
			return err
		}
		current, err := unmarshal(doc.Fields)
		if err != nil {
			return err
		}
		raw, err := marshal(store.Merge(current, fields))
		if err != nil {
			return err
		}
		return tx.Model(&model.Document{}).
			Where("id = ? AND collection = ?", id, collection).
			Update("fields", raw).Error
	})
}

func (s *Store) DeleteByID(ctx context.Context, collection, id string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND collection = ?", id, collection).
		Delete(&model.Document{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// FindMany returns the documents of collection matching filter. String
// equality is pushed into SQL through a JSON path expression; other value
// types compare differently across dialects and are matched in Go.
func (s *Store) FindMany(ctx context.Context, collection string, filter store.Filter) ([]store.Record, error) {
	q := s.db.WithContext(ctx).Where("collection = ?", collection)
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := filter[k].(string); ok {
			q = q.Where(datatypes.JSONQuery("fields").Equals(v, k))
		}
	}

	var docs []model.Document
	if err := q.Order("id").Find(&docs).Error; err != nil {
		return nil, err
	}
	out := make([]store.Record, 0, len(docs))
	for _, d := range docs {
		f, err := unmarshal(d.Fields)
		if err != nil {
			return nil, err
		}
		if store.Matches(f, filter) {
			out = append(out, store.Record{ID: d.ID, Fields: f})
		}
	}
	return out, nil
}
