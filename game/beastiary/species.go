package beastiary

import (
	"slices"

	"github.com/kasuganosora/beastiary/gameobject"
)

// Card is one visual variant of a species.
type Card struct {
	ID      string `json:"id" yaml:"id"`
	Rarity  int    `json:"rarity" yaml:"rarity"`
	Special string `json:"special,omitempty" yaml:"special,omitempty"`
}

// SpeciesDoc is the persisted shape of a species. Species are catalog
// entries and never change after creation.
type SpeciesDoc struct {
	CommonNames    []string `json:"commonNames"`
	ScientificName string   `json:"scientificName"`
	Description    string   `json:"description"`
	Rarity         int      `json:"rarity"`
	BaseValue      int      `json:"baseValue"`
	Cards          []Card   `json:"cards"`
	Token          string   `json:"token"`
}

var (
	speciesCommonNames = gameobject.Field[SpeciesDoc, []string]{
		Name:  "commonNames",
		Ref:   func(d *SpeciesDoc) *[]string { return &d.CommonNames },
		Rules: []gameobject.Rule[[]string]{gameobject.Unique[string]()},
	}
	speciesRarity = gameobject.Field[SpeciesDoc, int]{
		Name:  "rarity",
		Ref:   func(d *SpeciesDoc) *int { return &d.Rarity },
		Rules: []gameobject.Rule[int]{gameobject.NonNegative[int]()},
	}
	speciesBaseValue = gameobject.Field[SpeciesDoc, int]{
		Name:  "baseValue",
		Ref:   func(d *SpeciesDoc) *int { return &d.BaseValue },
		Rules: []gameobject.Rule[int]{gameobject.NonNegative[int]()},
	}
	speciesScientificName = gameobject.Field[SpeciesDoc, string]{
		Name:  "scientificName",
		Ref:   func(d *SpeciesDoc) *string { return &d.ScientificName },
		Rules: []gameobject.Rule[string]{gameobject.NotBlank()},
	}
	speciesToken = gameobject.Field[SpeciesDoc, string]{
		Name: "token",
		Ref:  func(d *SpeciesDoc) *string { return &d.Token },
	}
)

// Species is a catalog entry.
type Species struct {
	*gameobject.Record[SpeciesDoc]
}

// CommonNames returns every common name, preferred first.
func (s *Species) CommonNames() []string { return speciesCommonNames.Get(s.Record) }

// CommonName returns the preferred common name.
func (s *Species) CommonName() string {
	names := s.CommonNames()
	if len(names) == 0 {
		return s.ScientificName()
	}
	return names[0]
}

func (s *Species) ScientificName() string { return speciesScientificName.Get(s.Record) }
func (s *Species) Rarity() int            { return speciesRarity.Get(s.Record) }
func (s *Species) BaseValue() int         { return speciesBaseValue.Get(s.Record) }
func (s *Species) Token() string          { return speciesToken.Get(s.Record) }

// Cards returns a copy of the species' card list.
func (s *Species) Cards() []Card {
	var cards []Card
	s.View(func(d *SpeciesDoc) { cards = slices.Clone(d.Cards) })
	return cards
}

// Card looks up a card by id.
func (s *Species) Card(id string) (Card, bool) {
	for _, c := range s.Cards() {
		if c.ID == id {
			return c, true
		}
	}
	return Card{}, false
}

// validateSpecies runs the field rules over a document before it is created.
func validateSpecies(d SpeciesDoc) error {
	if err := speciesScientificName.Check(d.ScientificName); err != nil {
		return err
	}
	if err := speciesCommonNames.Check(d.CommonNames); err != nil {
		return err
	}
	if err := speciesRarity.Check(d.Rarity); err != nil {
		return err
	}
	return speciesBaseValue.Check(d.BaseValue)
}
