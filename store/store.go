package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record id does not exist in a collection.
var ErrNotFound = errors.New("store: record not found")

// Fields is a persisted document body in JSON value space
// (numbers decode as float64, dates as RFC 3339 strings).
type Fields map[string]any

// Filter matches records whose fields equal every given value. An empty filter matches all.
type Filter map[string]any

// Record is one document returned by FindMany.
type Record struct {
	ID     string
	Fields Fields
}

// Store is the backing document store consumed by the game-object layer.
type Store interface {
	Insert(ctx context.Context, collection string, fields Fields) (string, error)
	FindByID(ctx context.Context, collection, id string) (Fields, error)
	UpdateFields(ctx context.Context, collection, id string, fields Fields) error
	DeleteByID(ctx context.Context, collection, id string) error
	FindMany(ctx context.Context, collection string, filter Filter) ([]Record, error)
}

// Encode converts a typed document into Fields.
func Encode(v any) (Fields, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	var f Fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	return f, nil
}

// Decode fills a typed document from Fields.
func Decode(f Fields, v any) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("store: decode: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("store: decode: %w", err)
	}
	return nil
}

// Merge returns base overlaid with patch. Neither argument is modified.
func Merge(base, patch Fields) Fields {
	out := make(Fields, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Matches reports whether f satisfies filter. Values are compared in JSON form
// so that an int filter value matches a float64 field.
func Matches(f Fields, filter Filter) bool {
	for k, want := range filter {
		got, ok := f[k]
		if !ok {
			return false
		}
		a, errA := json.Marshal(got)
		b, errB := json.Marshal(want)
		if errA != nil || errB != nil || string(a) != string(b) {
			return false
		}
	}
	return true
}
