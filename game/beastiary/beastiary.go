// Package beastiary holds the game's domain entities and the root context
// that owns their caches.
package beastiary

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/kasuganosora/beastiary/audit"
	"github.com/kasuganosora/beastiary/config"
	"github.com/kasuganosora/beastiary/game/reset"
	"github.com/kasuganosora/beastiary/gameobject"
	"github.com/kasuganosora/beastiary/store"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Collection names in the backing store.
const (
	PlayersCollection = "players"
	AnimalsCollection = "animals"
	SpeciesCollection = "species"
	GuildsCollection  = "guilds"
)

// Rand supplies uniform values in [0,1).
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// DefaultRand returns the process-wide source.
func DefaultRand() Rand { return globalRand{} }

// Options configures a Beastiary.
type Options struct {
	Config config.GameConfig
	Store  store.Store
	Timers gameobject.Timers
	Resets *reset.Coordinator
	// Rand defaults to math/rand/v2.
	Rand Rand
	// Audit defaults to audit.Nop.
	Audit  audit.Logger
	Logger *zap.Logger
}

// Beastiary is the root context: every entity cache and shared service lives
// here and is handed to the entities that need it.
type Beastiary struct {
	cfg    config.GameConfig
	resets *reset.Coordinator
	rng    Rand
	audit  audit.Logger
	logger *zap.Logger

	players *gameobject.Collection[PlayerDoc]
	animals *gameobject.Collection[AnimalDoc]
	species *gameobject.Collection[SpeciesDoc]
	guilds  *gameobject.Collection[GuildDoc]

	Players *gameobject.Cache[*Player]
	Animals *gameobject.Cache[*Animal]
	Species *gameobject.Cache[*Species]
	Guilds  *gameobject.Cache[*Guild]

	// lookupMu serializes get-or-create of players and guilds.
	lookupMu sync.Mutex
}

// New wires the collections and caches.
func New(opts Options) *Beastiary {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Beastiary{
		cfg:    opts.Config,
		resets: opts.Resets,
		rng:    opts.Rand,
		audit:  opts.Audit,
		logger: logger,
	}
	if b.rng == nil {
		b.rng = globalRand{}
	}
	if b.audit == nil {
		b.audit = audit.Nop{}
	}
	delay := opts.Config.WriteDelay
	b.players = gameobject.NewCollection[PlayerDoc](PlayersCollection, opts.Store, opts.Timers, delay, logger)
	b.animals = gameobject.NewCollection[AnimalDoc](AnimalsCollection, opts.Store, opts.Timers, delay, logger)
	b.species = gameobject.NewCollection[SpeciesDoc](SpeciesCollection, opts.Store, opts.Timers, delay, logger)
	b.guilds = gameobject.NewCollection[GuildDoc](GuildsCollection, opts.Store, opts.Timers, delay, logger)

	b.Players = gameobject.NewCache(gameobject.CacheOptions[*Player]{
		Name:    PlayersCollection,
		Timeout: opts.Config.PlayerCacheTimeout,
		Load: func(ctx context.Context, id string) (*Player, error) {
			rec, err := b.players.Load(ctx, id)
			if err != nil {
				return nil, err
			}
			return b.newPlayer(rec), nil
		},
		Timers: opts.Timers,
		Logger: logger,
	})
	b.Animals = gameobject.NewCache(gameobject.CacheOptions[*Animal]{
		Name:    AnimalsCollection,
		Timeout: opts.Config.AnimalCacheTimeout,
		Load: func(ctx context.Context, id string) (*Animal, error) {
			rec, err := b.animals.Load(ctx, id)
			if err != nil {
				return nil, err
			}
			return b.newAnimal(rec), nil
		},
		AfterLoad: func(ctx context.Context, a *Animal) error {
			return a.loadReferences(ctx)
		},
		Timers: opts.Timers,
		Logger: logger,
	})
	b.Species = gameobject.NewCache(gameobject.CacheOptions[*Species]{
		Name:    SpeciesCollection,
		Timeout: opts.Config.SpeciesCacheTimeout,
		Load: func(ctx context.Context, id string) (*Species, error) {
			rec, err := b.species.Load(ctx, id)
			if err != nil {
				return nil, err
			}
			return &Species{Record: rec}, nil
		},
		Timers: opts.Timers,
		Logger: logger,
	})
	b.Guilds = gameobject.NewCache(gameobject.CacheOptions[*Guild]{
		Name:    GuildsCollection,
		Timeout: opts.Config.GuildCacheTimeout,
		Load: func(ctx context.Context, id string) (*Guild, error) {
			rec, err := b.guilds.Load(ctx, id)
			if err != nil {
				return nil, err
			}
			return &Guild{Record: rec}, nil
		},
		Timers: opts.Timers,
		Logger: logger,
	})
	return b
}

// Config returns the game tunables.
func (b *Beastiary) Config() config.GameConfig { return b.cfg }

// Resets returns the reset coordinator.
func (b *Beastiary) Resets() *reset.Coordinator { return b.resets }

// CreatePlayer persists a new player for a chat member.
func (b *Beastiary) CreatePlayer(ctx context.Context, userID, chatGuildID string) (*Player, error) {
	rec, err := b.players.Create(ctx, newPlayerDoc(userID, chatGuildID))
	if err != nil {
		return nil, err
	}
	return b.Players.Insert(ctx, b.newPlayer(rec))
}

// PlayerFor returns the player for a chat member, creating it on first use.
func (b *Beastiary) PlayerFor(ctx context.Context, userID, chatGuildID string) (*Player, error) {
	b.lookupMu.Lock()
	defer b.lookupMu.Unlock()

	if p, ok := b.Players.FindMatching(func(p *Player) bool {
		return p.UserID() == userID && p.GuildID() == chatGuildID
	}); ok {
		return p, nil
	}
	ids, err := b.players.FindIDs(ctx, store.Filter{"userId": userID, "guildId": chatGuildID})
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		return b.Players.FetchByID(ctx, ids[0])
	}
	b.logger.Info("creating player", zap.String("user", userID), zap.String("guild", chatGuildID))
	return b.CreatePlayer(ctx, userID, chatGuildID)
}

// GuildFor returns the settings for a chat server, creating defaults on first use.
func (b *Beastiary) GuildFor(ctx context.Context, chatGuildID string) (*Guild, error) {
	b.lookupMu.Lock()
	defer b.lookupMu.Unlock()

	if g, ok := b.Guilds.FindMatching(func(g *Guild) bool {
		return g.ChatGuildID() == chatGuildID
	}); ok {
		return g, nil
	}
	ids, err := b.guilds.FindIDs(ctx, store.Filter{"guildId": chatGuildID})
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		return b.Guilds.FetchByID(ctx, ids[0])
	}
	rec, err := b.guilds.Create(ctx, GuildDoc{ChatGuildID: chatGuildID, Prefix: b.cfg.DefaultPrefix})
	if err != nil {
		return nil, err
	}
	return b.Guilds.Insert(ctx, &Guild{Record: rec})
}

// CreateSpecies validates and persists a catalog entry.
func (b *Beastiary) CreateSpecies(ctx context.Context, doc SpeciesDoc) (*Species, error) {
	if err := validateSpecies(doc); err != nil {
		return nil, err
	}
	rec, err := b.species.Create(ctx, doc)
	if err != nil {
		return nil, err
	}
	return b.Species.Insert(ctx, &Species{Record: rec})
}

// FindSpecies looks a species up by scientific name.
func (b *Beastiary) FindSpecies(ctx context.Context, scientificName string) (*Species, bool, error) {
	ids, err := b.species.FindIDs(ctx, store.Filter{"scientificName": scientificName})
	if err != nil || len(ids) == 0 {
		return nil, false, err
	}
	s, err := b.Species.FetchByID(ctx, ids[0])
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// AllSpecies loads every catalog entry in id order.
func (b *Beastiary) AllSpecies(ctx context.Context) ([]*Species, error) {
	ids, err := b.species.FindIDs(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]*Species, 0, len(ids))
	for _, id := range ids {
		s, err := b.Species.FetchByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// CreateAnimal persists a new animal. Its species must exist; an owner, if
// set, must too.
func (b *Beastiary) CreateAnimal(ctx context.Context, doc AnimalDoc) (*Animal, error) {
	if err := validateAnimal(doc); err != nil {
		return nil, err
	}
	rec, err := b.animals.Create(ctx, doc)
	if err != nil {
		return nil, err
	}
	a, err := b.Animals.Insert(ctx, b.newAnimal(rec))
	if err != nil {
		// The record is unusable without its references.
		if derr := rec.Delete(ctx); derr != nil {
			b.logger.Error("orphaned animal left in store", zap.String("id", rec.ID()), zap.Error(derr))
		}
		return nil, err
	}
	return a, nil
}

// Stats reports every cache's counters.
func (b *Beastiary) Stats() []gameobject.CacheStats {
	return []gameobject.CacheStats{
		b.Players.Stats(),
		b.Animals.Stats(),
		b.Species.Stats(),
		b.Guilds.Stats(),
	}
}

// Shutdown flushes and evicts every cached entity. It must run before the
// scheduler stops, since stopping drops pending write timers.
func (b *Beastiary) Shutdown(ctx context.Context) error {
	err := multierr.Combine(
		b.Animals.DrainAll(ctx),
		b.Players.DrainAll(ctx),
		b.Guilds.DrainAll(ctx),
		b.Species.DrainAll(ctx),
	)
	// Records evicted from a cache can still be mutated by holders of the
	// old pointer; their changes are only reachable through the collections.
	err = multierr.Combine(err,
		b.animals.FlushAll(ctx),
		b.players.FlushAll(ctx),
		b.guilds.FlushAll(ctx),
		b.species.FlushAll(ctx),
	)
	if err != nil {
		b.logger.Error("shutdown left unsaved entities", zap.Error(err))
	}
	return err
}
