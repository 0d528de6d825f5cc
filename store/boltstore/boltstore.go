// Package boltstore persists game objects in a bbolt file, one bucket per collection.
package boltstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/beastiary/store"
	bolt "go.etcd.io/bbolt"
)

// Store implements store.Store on top of bbolt.
type Store struct {
	db *bolt.DB
}

// Open initializes the bbolt file, creating its directory if needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Insert(_ context.Context, collection string, fields store.Fields) (string, error) {
	if fields == nil {
		fields = store.Fields{}
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		return b.Put([]byte(id), payload)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func get(tx *bolt.Tx, collection, id string) (store.Fields, error) {
	b := tx.Bucket([]byte(collection))
	if b == nil {
		return nil, store.ErrNotFound
	}
	v := b.Get([]byte(id))
	if v == nil {
		return nil, store.ErrNotFound
	}
	f := store.Fields{}
	if err := json.Unmarshal(v, &f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Store) FindByID(_ context.Context, collection, id string) (store.Fields, error) {
	var out store.Fields
	err := s.db.View(func(tx *bolt.Tx) error {
		f, err := get(tx, collection, id)
		out = f
		return err
	})
	return out, err
}

func (s *Store) UpdateFields(_ context.Context, collection, id string, fields store.Fields) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		current, err := get(tx, collection, id)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(store.Merge(current, fields))
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(collection)).Put([]byte(id), payload)
	})
}

func (s *Store) DeleteByID(_ context.Context, collection, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil || b.Get([]byte(id)) == nil {
			return store.ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

func (s *Store) FindMany(_ context.Context, collection string, filter store.Filter) ([]store.Record, error) {
	var out []store.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			f := store.Fields{}
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			if store.Matches(f, filter) {
				out = append(out, store.Record{ID: string(k), Fields: f})
			}
			return nil
		})
	})
	return out, err
}
