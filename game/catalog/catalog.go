// Package catalog loads the species catalog from YAML and seeds it into the
// game store.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/kasuganosora/beastiary/game/beastiary"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Entry is one species as written in the catalog file.
type Entry struct {
	CommonNames    []string         `yaml:"commonNames"`
	ScientificName string           `yaml:"scientificName"`
	Description    string           `yaml:"description"`
	Rarity         int              `yaml:"rarity"`
	BaseValue      int              `yaml:"baseValue"`
	Cards          []beastiary.Card `yaml:"cards"`
	Token          string           `yaml:"token"`
}

// Doc converts the entry into a species document.
func (e Entry) Doc() beastiary.SpeciesDoc {
	cards := e.Cards
	if cards == nil {
		cards = []beastiary.Card{}
	}
	return beastiary.SpeciesDoc{
		CommonNames:    e.CommonNames,
		ScientificName: strings.TrimSpace(e.ScientificName),
		Description:    e.Description,
		Rarity:         e.Rarity,
		BaseValue:      e.BaseValue,
		Cards:          cards,
		Token:          e.Token,
	}
}

// File is a parsed catalog.
type File struct {
	Species []Entry `yaml:"species"`
}

// Parse decodes a catalog. Unknown keys are rejected and every species
// needs a scientific name that is unique within the file.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	f := &File{}
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	seen := make(map[string]int, len(f.Species))
	for i, e := range f.Species {
		name := strings.TrimSpace(e.ScientificName)
		if name == "" {
			return nil, fmt.Errorf("catalog: species #%d: scientificName is required", i+1)
		}
		if len(e.CommonNames) == 0 {
			return nil, fmt.Errorf("catalog: species %q: at least one common name is required", name)
		}
		if prev, ok := seen[strings.ToLower(name)]; ok {
			return nil, fmt.Errorf("catalog: species %q defined twice (#%d and #%d)", name, prev+1, i+1)
		}
		seen[strings.ToLower(name)] = i
	}
	return f, nil
}

// LoadFile reads and parses the catalog at path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadFS reads and parses the catalog name from fsys.
func LoadFS(fsys fs.FS, name string) (*File, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", name, err)
	}
	return Parse(data)
}

// SpeciesStore is the part of the game the seeder writes to.
type SpeciesStore interface {
	FindSpecies(ctx context.Context, scientificName string) (*beastiary.Species, bool, error)
	CreateSpecies(ctx context.Context, doc beastiary.SpeciesDoc) (*beastiary.Species, error)
}

// Result counts what Seed did.
type Result struct {
	Created  int
	Existing int
}

// Seed creates every species in f that the store does not know yet by
// scientific name. Existing species are never modified, so seeding the same
// file twice is a no-op.
func Seed(ctx context.Context, dst SpeciesStore, f *File, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var res Result
	for _, e := range f.Species {
		doc := e.Doc()
		_, ok, err := dst.FindSpecies(ctx, doc.ScientificName)
		if err != nil {
			return res, fmt.Errorf("catalog: find %q: %w", doc.ScientificName, err)
		}
		if ok {
			res.Existing++
			continue
		}
		s, err := dst.CreateSpecies(ctx, doc)
		if err != nil {
			return res, fmt.Errorf("catalog: create %q: %w", doc.ScientificName, err)
		}
		res.Created++
		logger.Debug("species seeded", zap.String("species_id", s.ID()), zap.String("scientific_name", doc.ScientificName))
	}
	logger.Info("catalog seeded", zap.Int("created", res.Created), zap.Int("existing", res.Existing))
	return res, nil
}
