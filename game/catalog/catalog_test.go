package catalog

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/kasuganosora/beastiary/config"
	"github.com/kasuganosora/beastiary/game/beastiary"
	"github.com/kasuganosora/beastiary/game/reset"
	"github.com/kasuganosora/beastiary/store/memstore"
	"github.com/kasuganosora/beastiary/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
species:
  - commonNames: [fox]
    scientificName: Vulpes vulpes
    rarity: 4
    baseValue: 10
    token: tail
    cards:
      - id: fox-1
        rarity: 3
      - id: fox-snow
        rarity: 1
        special: winter
  - commonNames: [owl]
    scientificName: Tyto alba
    rarity: 1
    baseValue: 15
`

func newGame(t *testing.T) (*beastiary.Beastiary, *memstore.Store) {
	t.Helper()
	cfg := config.GameConfig{
		WriteDelay:          time.Hour,
		PlayerCacheTimeout:  time.Hour,
		AnimalCacheTimeout:  time.Hour,
		SpeciesCacheTimeout: time.Hour,
		GuildCacheTimeout:   time.Hour,
		EncounterPeriod:     time.Hour,
		CapturePeriod:       time.Hour,
		XpBoostPeriod:       time.Hour,
		DailyCurrencyPeriod: time.Hour,
	}
	st := testutil.SetupTestStore(t)
	return beastiary.New(beastiary.Options{
		Config: cfg,
		Store:  st,
		Timers: testutil.SetupTestScheduler(t),
		Resets: reset.New(reset.PeriodsFromConfig(cfg), nil, nil, testutil.NopLogger()),
		Logger: testutil.NopLogger(),
	}), st
}

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, f.Species, 2)

	fox := f.Species[0]
	assert.Equal(t, "Vulpes vulpes", fox.ScientificName)
	assert.Equal(t, 4, fox.Rarity)
	require.Len(t, fox.Cards, 2)
	assert.Equal(t, beastiary.Card{ID: "fox-snow", Rarity: 1, Special: "winter"}, fox.Cards[1])

	doc := f.Species[1].Doc()
	assert.NotNil(t, doc.Cards)
	assert.Empty(t, doc.Cards)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "species:\n  - commonNames: [a]\n    scientificName: A a\n    colour: red\n",
		"missing name":    "species:\n  - commonNames: [a]\n",
		"no common names": "species:\n  - scientificName: A a\n",
		"duplicate":       "species:\n  - commonNames: [a]\n    scientificName: A a\n  - commonNames: [b]\n    scientificName: a A\n",
		"not yaml":        "species: [",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src))
			assert.Error(t, err)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	f, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, f.Species)
}

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{"species.yaml": {Data: []byte(sample)}}
	f, err := LoadFS(fsys, "species.yaml")
	require.NoError(t, err)
	assert.Len(t, f.Species, 2)

	_, err = LoadFS(fsys, "missing.yaml")
	assert.Error(t, err)
}

func TestLoadFile_Bundled(t *testing.T) {
	f, err := LoadFile("../../data/species.yaml")
	require.NoError(t, err)
	assert.NotEmpty(t, f.Species)
}

func TestSeed_Idempotent(t *testing.T) {
	b, st := newGame(t)
	ctx := context.Background()
	f, err := Parse([]byte(sample))
	require.NoError(t, err)

	res, err := Seed(ctx, b, f, testutil.NopLogger())
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 2}, res)

	res, err = Seed(ctx, b, f, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Existing: 2}, res)
	assert.Equal(t, 2, st.Counts().Inserts)

	fox, ok, err := b.FindSpecies(ctx, "Vulpes vulpes")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fox", fox.CommonName())
	assert.Equal(t, "tail", fox.Token())
	_, ok = fox.Card("fox-snow")
	assert.True(t, ok)
}

func TestSeed_InvalidSpeciesStops(t *testing.T) {
	b, _ := newGame(t)
	f := &File{Species: []Entry{
		{CommonNames: []string{"ok"}, ScientificName: "Okus okus", BaseValue: 1},
		{CommonNames: []string{"bad"}, ScientificName: "Badus badus", BaseValue: -5},
	}}
	res, err := Seed(context.Background(), b, f, nil)
	require.Error(t, err)
	assert.Equal(t, 1, res.Created)
}
