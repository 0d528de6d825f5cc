// Package encounter spawns wild animals into guilds and lets players capture
// them.
package encounter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kasuganosora/beastiary/audit"
	"github.com/kasuganosora/beastiary/cache"
	"github.com/kasuganosora/beastiary/game/beastiary"
	"github.com/kasuganosora/beastiary/gameobject"
	"go.uber.org/zap"
)

// Channel is the pub/sub channel on which spawns are announced.
const Channel = "encounters"

const (
	cooldownKeyPrefix = "encounter:cooldown:"
	wildKeyPrefix     = "encounter:wild:"
	claimKeyPrefix    = "encounter:claim:"
	leaderboardKey    = "leaderboard:captures"
)

// ErrCooldown is returned by Spawn while the guild is still cooling down.
var ErrCooldown = &gameobject.Error{Code: gameobject.CodeInsufficientResource, Op: "spawn",
	Err: errors.New("guild encounter cooldown")}

// Options configures a Service.
type Options struct {
	Beastiary *beastiary.Beastiary
	Cache     cache.Cache
	PubSub    cache.PubSub // optional
	Rand      beastiary.Rand
	Audit     audit.Logger
	Logger    *zap.Logger
}

// Service owns the rarity table and the encounter lifecycle.
type Service struct {
	b      *beastiary.Beastiary
	cache  cache.Cache
	pubsub cache.PubSub
	rng    beastiary.Rand
	audit  audit.Logger
	logger *zap.Logger

	mu      sync.RWMutex
	weights []weighted
	total   int
}

type weighted struct {
	speciesID string
	weight    int
}

// Encounter is a spawned wild animal.
type Encounter struct {
	Animal   *beastiary.Animal
	Species  *beastiary.Species
	Expires  time.Time
	Receipts []beastiary.Receipt
}

// Announcement is the payload published on Channel for each spawn.
type Announcement struct {
	GuildID   string    `json:"guild_id"`
	AnimalID  string    `json:"animal_id"`
	SpeciesID string    `json:"species_id"`
	CardID    string    `json:"card_id"`
	Expires   time.Time `json:"expires"`
}

// Standing is one leaderboard row.
type Standing struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"player_id"`
	Captures int    `json:"captures"`
}

// New creates a Service. Call LoadRarityTable before spawning.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}
	if opts.Rand == nil {
		opts.Rand = beastiary.DefaultRand()
	}
	return &Service{
		b:      opts.Beastiary,
		cache:  opts.Cache,
		pubsub: opts.PubSub,
		rng:    opts.Rand,
		audit:  opts.Audit,
		logger: opts.Logger,
	}
}

// LoadRarityTable (re)builds the weighted species table. A species'
// rarity is its weight; species with rarity 0 never spawn.
func (s *Service) LoadRarityTable(ctx context.Context) error {
	all, err := s.b.AllSpecies(ctx)
	if err != nil {
		return fmt.Errorf("load rarity table: %w", err)
	}
	weights := make([]weighted, 0, len(all))
	total := 0
	for _, sp := range all {
		if r := sp.Rarity(); r > 0 {
			weights = append(weights, weighted{speciesID: sp.ID(), weight: r})
			total += r
		}
	}
	s.mu.Lock()
	s.weights, s.total = weights, total
	s.mu.Unlock()
	s.logger.Info("rarity table loaded", zap.Int("species", len(weights)), zap.Int("total_weight", total))
	return nil
}

// pick maps r in [0,1) onto a species id.
func (s *Service) pick(r float64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.total == 0 {
		return "", gameobject.Errorf(gameobject.CodeContract, "spawn", "rarity table is empty")
	}
	target := int(r * float64(s.total))
	for _, w := range s.weights {
		if target < w.weight {
			return w.speciesID, nil
		}
		target -= w.weight
	}
	return s.weights[len(s.weights)-1].speciesID, nil
}

// pickCard chooses a card weighted by its rarity, or "" for a species
// without cards.
func pickCard(cards []beastiary.Card, r float64) string {
	total := 0
	for _, c := range cards {
		total += max(c.Rarity, 0)
	}
	if total == 0 {
		if len(cards) > 0 {
			return cards[0].ID
		}
		return ""
	}
	target := int(r * float64(total))
	for _, c := range cards {
		if target < max(c.Rarity, 0) {
			return c.ID
		}
		target -= max(c.Rarity, 0)
	}
	return cards[len(cards)-1].ID
}

func cooldownKey(chatGuildID string) string { return cooldownKeyPrefix + chatGuildID }
func wildKey(animalID string) string       { return wildKeyPrefix + animalID }
func claimKey(animalID string) string      { return claimKeyPrefix + animalID }

// Spawn consumes one of p's encounters and places a wild animal in the
// player's guild. The guild then cools down for the configured period and
// the animal can be captured until the cooldown ends.
func (s *Service) Spawn(ctx context.Context, p *beastiary.Player) (*Encounter, error) {
	cooldown := s.b.Config().EncounterGuildCooldown
	guildID := p.GuildID()
	ok, err := s.cache.SetNX(ctx, cooldownKey(guildID), p.ID(), cooldown)
	if err != nil {
		return nil, gameobject.Wrap(gameobject.CodePersistence, "spawn", err)
	}
	if !ok {
		return nil, ErrCooldown
	}
	release := func() {
		if err := s.cache.Del(ctx, cooldownKey(guildID)); err != nil {
			s.logger.Warn("release encounter cooldown", zap.String("guild_id", guildID), zap.Error(err))
		}
	}

	speciesID, err := s.pick(s.rng.Float64())
	if err != nil {
		release()
		return nil, err
	}
	species, err := s.b.Species.FetchByID(ctx, speciesID)
	if err != nil {
		release()
		return nil, err
	}
	if err := p.EncounterAnimal(); err != nil {
		release()
		return nil, err
	}
	a, err := s.b.CreateAnimal(ctx, beastiary.AnimalDoc{
		SpeciesID: species.ID(),
		CardID:    pickCard(species.Cards(), s.rng.Float64()),
		GuildID:   guildID,
		Tags:      []string{},
	})
	if err != nil {
		release()
		if rerr := p.AddExtraEncounters(1); rerr != nil {
			s.logger.Error("refund encounter", zap.String("player_id", p.ID()), zap.Error(rerr))
		}
		return nil, err
	}
	if err := s.cache.Set(ctx, wildKey(a.ID()), guildID, cooldown); err != nil {
		s.logger.Warn("mark wild animal", zap.String("animal_id", a.ID()), zap.Error(err))
	}

	receipts, err := p.AwardCrewExperience(ctx, s.b.Config().XpPerEncounter)
	if err != nil {
		s.logger.Warn("encounter crew experience", zap.String("player_id", p.ID()), zap.Error(err))
	}
	s.audit.Log(audit.Entry{
		Action:    audit.ActionEncounter,
		PlayerID:  p.ID(),
		AnimalID:  a.ID(),
		SpeciesID: species.ID(),
		GuildID:   guildID,
	})
	enc := &Encounter{
		Animal:   a,
		Species:  species,
		Expires:  s.b.Resets().Now().Add(cooldown),
		Receipts: receipts,
	}
	s.announce(ctx, enc)
	return enc, nil
}

func (s *Service) announce(ctx context.Context, enc *Encounter) {
	if s.pubsub == nil {
		return
	}
	payload, err := json.Marshal(Announcement{
		GuildID:   enc.Animal.GuildID(),
		AnimalID:  enc.Animal.ID(),
		SpeciesID: enc.Species.ID(),
		CardID:    enc.Animal.CardID(),
		Expires:   enc.Expires,
	})
	if err != nil {
		s.logger.Error("marshal spawn announcement", zap.Error(err))
		return
	}
	if err := s.pubsub.Publish(ctx, Channel, string(payload)); err != nil {
		s.logger.Warn("publish spawn", zap.String("animal_id", enc.Animal.ID()), zap.Error(err))
	}
}

// Capture gives the wild animal to p. It fails with NOT_FOUND once the
// encounter has expired or another player has claimed it.
func (s *Service) Capture(ctx context.Context, p *beastiary.Player, animalID string) (*beastiary.Animal, error) {
	live, err := s.cache.Exists(ctx, wildKey(animalID))
	if err != nil {
		return nil, gameobject.Wrap(gameobject.CodePersistence, "capture", err)
	}
	if !live {
		return nil, gameobject.Errorf(gameobject.CodeNotFound, "capture", "no wild animal %s", animalID)
	}
	claimed, err := s.cache.SetNX(ctx, claimKey(animalID), p.ID(), s.b.Config().EncounterGuildCooldown)
	if err != nil {
		return nil, gameobject.Wrap(gameobject.CodePersistence, "capture", err)
	}
	if !claimed {
		return nil, gameobject.Errorf(gameobject.CodeNotFound, "capture", "wild animal %s already claimed", animalID)
	}
	a, err := s.capture(ctx, p, animalID)
	if err != nil {
		if derr := s.cache.Del(ctx, claimKey(animalID)); derr != nil {
			s.logger.Warn("release capture claim", zap.String("animal_id", animalID), zap.Error(derr))
		}
		return nil, err
	}
	if err := s.cache.Del(ctx, wildKey(animalID)); err != nil {
		s.logger.Warn("clear wild animal", zap.String("animal_id", animalID), zap.Error(err))
	}
	if _, err := s.cache.ZIncrBy(ctx, leaderboardKey, 1, p.ID()); err != nil {
		s.logger.Warn("leaderboard update", zap.String("player_id", p.ID()), zap.Error(err))
	}
	if _, err := p.AwardCrewExperience(ctx, s.b.Config().XpPerCapture); err != nil {
		s.logger.Warn("capture crew experience", zap.String("player_id", p.ID()), zap.Error(err))
	}
	return a, nil
}

func (s *Service) capture(ctx context.Context, p *beastiary.Player, animalID string) (*beastiary.Animal, error) {
	a, err := s.b.Animals.FetchByID(ctx, animalID)
	if err != nil {
		return nil, err
	}
	if err := p.CaptureWild(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Flee removes a wild animal nobody caught. Owned animals and animals
// being captured are left alone.
func (s *Service) Flee(ctx context.Context, animalID string) error {
	claimed, err := s.cache.SetNX(ctx, claimKey(animalID), "flee", s.b.Config().EncounterGuildCooldown)
	if err != nil {
		return gameobject.Wrap(gameobject.CodePersistence, "flee", err)
	}
	if !claimed {
		return nil
	}
	if err := s.cache.Del(ctx, wildKey(animalID)); err != nil {
		return gameobject.Wrap(gameobject.CodePersistence, "flee", err)
	}
	a, err := s.b.Animals.FetchByID(ctx, animalID)
	if err != nil {
		return err
	}
	if a.OwnerID() != "" {
		return nil
	}
	return s.b.Animals.Delete(ctx, animalID)
}

// Leaderboard returns the top n players by captures from encounters.
func (s *Service) Leaderboard(ctx context.Context, n int) ([]Standing, error) {
	if n <= 0 {
		return nil, nil
	}
	members, err := s.cache.ZRevRange(ctx, leaderboardKey, 0, int64(n-1))
	if err != nil {
		if cache.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Standing, 0, len(members))
	for i, m := range members {
		score, err := s.cache.ZScore(ctx, leaderboardKey, m)
		if err != nil {
			return nil, err
		}
		out = append(out, Standing{Rank: i + 1, PlayerID: m, Captures: int(score)})
	}
	return out, nil
}
