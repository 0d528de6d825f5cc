package encounter

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/beastiary/cache"
	"github.com/kasuganosora/beastiary/config"
	"github.com/kasuganosora/beastiary/game/beastiary"
	"github.com/kasuganosora/beastiary/game/reset"
	"github.com/kasuganosora/beastiary/gameobject"
	"github.com/kasuganosora/beastiary/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRand struct {
	mu sync.Mutex
	v  float64
}

func (r *fixedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.v
}

type fixture struct {
	b      *beastiary.Beastiary
	cache  cache.Cache
	pubsub cache.PubSub
	svc    *Service
	rng    *fixedRand
}

func newFixture(t *testing.T, cooldown time.Duration) *fixture {
	t.Helper()
	cfg := config.GameConfig{
		WriteDelay:              time.Hour,
		PlayerCacheTimeout:      time.Hour,
		AnimalCacheTimeout:      time.Hour,
		SpeciesCacheTimeout:     time.Hour,
		GuildCacheTimeout:       time.Hour,
		EncounterPeriod:         time.Hour,
		EncountersPerPeriod:     2,
		CapturePeriod:           time.Hour,
		CapturesPerPeriod:       1,
		XpBoostPeriod:           time.Hour,
		XpBoostsPerPeriod:       1,
		DailyCurrencyPeriod:     time.Hour,
		MaxCrewSize:             2,
		CollectionSlotsPerLevel: 5,
		MaxTags:                 3,
		BaseLevelCap:            5,
		EssencePerLevelCap:      5,
		TokenDropChance:         2500,
		XpPerEncounter:          5,
		XpPerCapture:            30,
		EncounterGuildCooldown:  cooldown,
	}
	c, ps := testutil.SetupTestCache(t)
	rng := &fixedRand{v: 0.99}
	b := beastiary.New(beastiary.Options{
		Config: cfg,
		Store:  testutil.SetupTestStore(t),
		Timers: testutil.SetupTestScheduler(t),
		Resets: reset.New(reset.PeriodsFromConfig(cfg), nil, nil, testutil.NopLogger()),
		Rand:   rng,
		Logger: testutil.NopLogger(),
	})
	return &fixture{
		b:      b,
		cache:  c,
		pubsub: ps,
		rng:    rng,
		svc:    New(Options{Beastiary: b, Cache: c, PubSub: ps, Rand: rng, Logger: testutil.NopLogger()}),
	}
}

func (f *fixture) addSpecies(t *testing.T, name string, rarity int) *beastiary.Species {
	t.Helper()
	s, err := f.b.CreateSpecies(context.Background(), beastiary.SpeciesDoc{
		CommonNames:    []string{name},
		ScientificName: "Testus " + name,
		Rarity:         rarity,
		BaseValue:      10,
		Cards:          []beastiary.Card{{ID: name + "-1", Rarity: 1}},
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) player(t *testing.T, userID string) *beastiary.Player {
	t.Helper()
	p, err := f.b.PlayerFor(context.Background(), userID, "guild-1")
	require.NoError(t, err)
	return p
}

func TestPick_WeightedByRarity(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	fox := f.addSpecies(t, "fox", 1)
	owl := f.addSpecies(t, "owl", 3)
	f.addSpecies(t, "ghost", 0)
	require.NoError(t, f.svc.LoadRarityTable(ctx))

	counts := map[string]int{}
	for i := 0; i < 100; i++ {
		id, err := f.svc.pick(float64(i) / 100)
		require.NoError(t, err)
		counts[id]++
	}
	assert.Equal(t, 25, counts[fox.ID()])
	assert.Equal(t, 75, counts[owl.ID()])
	assert.Len(t, counts, 2)
}

func TestPick_EmptyTable(t *testing.T) {
	f := newFixture(t, time.Minute)
	require.NoError(t, f.svc.LoadRarityTable(context.Background()))
	_, err := f.svc.pick(0.5)
	assert.True(t, gameobject.IsCode(err, gameobject.CodeContract))
}

func TestPickCard(t *testing.T) {
	cards := []beastiary.Card{{ID: "a", Rarity: 1}, {ID: "b", Rarity: 3}}
	assert.Equal(t, "a", pickCard(cards, 0))
	assert.Equal(t, "a", pickCard(cards, 0.2))
	assert.Equal(t, "b", pickCard(cards, 0.25))
	assert.Equal(t, "b", pickCard(cards, 0.99))
	assert.Equal(t, "", pickCard(nil, 0.5))
	assert.Equal(t, "x", pickCard([]beastiary.Card{{ID: "x"}}, 0.5))
}

func TestSpawnAndCapture(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	fox := f.addSpecies(t, "fox", 1)
	require.NoError(t, f.svc.LoadRarityTable(ctx))
	alice := f.player(t, "alice")
	bob := f.player(t, "bob")

	enc, err := f.svc.Spawn(ctx, alice)
	require.NoError(t, err)
	assert.Same(t, fox, enc.Species)
	assert.Equal(t, "", enc.Animal.OwnerID())
	assert.Equal(t, "guild-1", enc.Animal.GuildID())
	assert.Equal(t, "fox-1", enc.Animal.CardID())
	assert.Equal(t, 1, alice.EncountersLeft())

	// The guild is cooling down for everyone.
	_, err = f.svc.Spawn(ctx, bob)
	assert.ErrorIs(t, err, ErrCooldown)
	assert.Equal(t, 2, bob.EncountersLeft())

	a, err := f.svc.Capture(ctx, bob, enc.Animal.ID())
	require.NoError(t, err)
	assert.True(t, a.OwnedBy(bob))
	assert.True(t, bob.InCollection(a.ID()))
	assert.Equal(t, 0, bob.CapturesLeft())

	_, err = f.svc.Capture(ctx, alice, enc.Animal.ID())
	assert.True(t, gameobject.IsCode(err, gameobject.CodeNotFound))
	assert.False(t, alice.InCollection(a.ID()))

	board, err := f.svc.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, Standing{Rank: 1, PlayerID: bob.ID(), Captures: 1}, board[0])
}

func TestSpawn_Announced(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fox := f.addSpecies(t, "fox", 1)
	require.NoError(t, f.svc.LoadRarityTable(ctx))

	msgs, unsub, err := f.pubsub.Subscribe(ctx, Channel)
	require.NoError(t, err)
	defer unsub()

	enc, err := f.svc.Spawn(ctx, f.player(t, "alice"))
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		var ann Announcement
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ann))
		assert.Equal(t, "guild-1", ann.GuildID)
		assert.Equal(t, enc.Animal.ID(), ann.AnimalID)
		assert.Equal(t, fox.ID(), ann.SpeciesID)
		assert.Equal(t, "fox-1", ann.CardID)
	case <-time.After(time.Second):
		t.Fatal("no spawn announcement")
	}
}

func TestCapture_FailureReleasesClaim(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	fox := f.addSpecies(t, "fox", 1)
	require.NoError(t, f.svc.LoadRarityTable(ctx))
	alice := f.player(t, "alice")
	bob := f.player(t, "bob")
	_, err := bob.CaptureAnimal(ctx, fox, "fox-1")
	require.NoError(t, err)
	require.Equal(t, 0, bob.CapturesLeft())

	enc, err := f.svc.Spawn(ctx, alice)
	require.NoError(t, err)

	_, err = f.svc.Capture(ctx, bob, enc.Animal.ID())
	assert.True(t, gameobject.IsCode(err, gameobject.CodeInsufficientResource))

	a, err := f.svc.Capture(ctx, alice, enc.Animal.ID())
	require.NoError(t, err)
	assert.True(t, a.OwnedBy(alice))
}

func TestSpawn_NoEncountersReleasesCooldown(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	f.addSpecies(t, "fox", 1)
	require.NoError(t, f.svc.LoadRarityTable(ctx))
	alice := f.player(t, "alice")
	require.NoError(t, alice.EncounterAnimal())
	require.NoError(t, alice.EncounterAnimal())

	_, err := f.svc.Spawn(ctx, alice)
	assert.True(t, gameobject.IsCode(err, gameobject.CodeInsufficientResource))
	assert.Equal(t, 0, f.b.Animals.Len())

	_, err = f.svc.Spawn(ctx, f.player(t, "bob"))
	assert.NoError(t, err)
}

func TestSpawn_OtherGuildUnaffected(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	f.addSpecies(t, "fox", 1)
	require.NoError(t, f.svc.LoadRarityTable(ctx))

	_, err := f.svc.Spawn(ctx, f.player(t, "alice"))
	require.NoError(t, err)
	carol, err := f.b.PlayerFor(ctx, "carol", "guild-2")
	require.NoError(t, err)
	_, err = f.svc.Spawn(ctx, carol)
	assert.NoError(t, err)
}

func TestExpiredEncounterFlees(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	ctx := context.Background()
	f.addSpecies(t, "fox", 1)
	require.NoError(t, f.svc.LoadRarityTable(ctx))
	alice := f.player(t, "alice")

	enc, err := f.svc.Spawn(ctx, alice)
	require.NoError(t, err)
	id := enc.Animal.ID()

	require.Eventually(t, func() bool {
		ok, err := f.cache.Exists(ctx, wildKey(id))
		return err == nil && !ok
	}, time.Second, 5*time.Millisecond)

	_, err = f.svc.Capture(ctx, alice, id)
	assert.True(t, gameobject.IsCode(err, gameobject.CodeNotFound))

	require.NoError(t, f.svc.Flee(ctx, id))
	_, err = f.b.Animals.FetchByID(ctx, id)
	assert.True(t, gameobject.IsCode(err, gameobject.CodeNotFound))
}

func TestFlee_LeavesCapturedAnimal(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	f.addSpecies(t, "fox", 1)
	require.NoError(t, f.svc.LoadRarityTable(ctx))
	alice := f.player(t, "alice")

	enc, err := f.svc.Spawn(ctx, alice)
	require.NoError(t, err)
	_, err = f.svc.Capture(ctx, alice, enc.Animal.ID())
	require.NoError(t, err)

	require.NoError(t, f.svc.Flee(ctx, enc.Animal.ID()))
	a, err := f.b.Animals.FetchByID(ctx, enc.Animal.ID())
	require.NoError(t, err)
	assert.True(t, a.OwnedBy(alice))
}

func TestLeaderboard_Order(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	empty, err := f.svc.Leaderboard(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = f.cache.ZIncrBy(ctx, leaderboardKey, 3, "p1")
	require.NoError(t, err)
	_, err = f.cache.ZIncrBy(ctx, leaderboardKey, 7, "p2")
	require.NoError(t, err)
	_, err = f.cache.ZIncrBy(ctx, leaderboardKey, 1, "p3")
	require.NoError(t, err)

	board, err := f.svc.Leaderboard(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []Standing{
		{Rank: 1, PlayerID: "p2", Captures: 7},
		{Rank: 2, PlayerID: "p1", Captures: 3},
	}, board)
}
