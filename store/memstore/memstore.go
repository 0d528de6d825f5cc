// Package memstore is an in-process document store. It backs the "memory"
// database mode and doubles as the fake used by game-object tests.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/kasuganosora/beastiary/store"
)

// Counts tallies calls per operation.
type Counts struct {
	Inserts  int
	Finds    int
	Updates  int
	Deletes  int
	FindMany int
}

// Store keeps deep copies of every document keyed by collection and id.
type Store struct {
	mu     sync.Mutex
	data   map[string]map[string]store.Fields
	counts Counts

	failWrites error // returned by UpdateFields instead of writing
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: make(map[string]map[string]store.Fields)}
}

func clone(f store.Fields) (store.Fields, error) {
	var out store.Fields
	if err := store.Decode(f, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = store.Fields{}
	}
	return out, nil
}

func (s *Store) Insert(_ context.Context, collection string, fields store.Fields) (string, error) {
	cp, err := clone(fields)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts.Inserts++
	col, ok := s.data[collection]
	if !ok {
		col = make(map[string]store.Fields)
		s.data[collection] = col
	}
	id := uuid.NewString()
	col[id] = cp
	return id, nil
}

func (s *Store) FindByID(_ context.Context, collection, id string) (store.Fields, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts.Finds++
	f, ok := s.data[collection][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(f)
}

func (s *Store) UpdateFields(_ context.Context, collection, id string, fields store.Fields) error {
	cp, err := clone(fields)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts.Updates++
	if s.failWrites != nil {
		return s.failWrites
	}
	f, ok := s.data[collection][id]
	if !ok {
		return store.ErrNotFound
	}
	s.data[collection][id] = store.Merge(f, cp)
	return nil
}

func (s *Store) DeleteByID(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts.Deletes++
	if _, ok := s.data[collection][id]; !ok {
		return store.ErrNotFound
	}
	delete(s.data[collection], id)
	return nil
}

func (s *Store) FindMany(_ context.Context, collection string, filter store.Filter) ([]store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts.FindMany++
	ids := make([]string, 0, len(s.data[collection]))
	for id := range s.data[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []store.Record
	for _, id := range ids {
		f := s.data[collection][id]
		if !store.Matches(f, filter) {
			continue
		}
		cp, err := clone(f)
		if err != nil {
			return nil, err
		}
		out = append(out, store.Record{ID: id, Fields: cp})
	}
	return out, nil
}

// Counts returns a snapshot of the call counters.
func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

// FailWrites makes subsequent UpdateFields calls fail with err; nil restores normal writes.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = err
}

// ErrInjected is a convenience error for FailWrites.
var ErrInjected = errors.New("memstore: injected write failure")
