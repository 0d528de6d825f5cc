package beastiary

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kasuganosora/beastiary/audit"
	"github.com/kasuganosora/beastiary/config"
	"github.com/kasuganosora/beastiary/game/reset"
	"github.com/kasuganosora/beastiary/gameobject"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PlayerDoc is the persisted shape of a player.
type PlayerDoc struct {
	UserID  string `json:"userId"`
	GuildID string `json:"guildId"`

	Scraps                 int      `json:"scraps"`
	CollectionUpgradeLevel int      `json:"collectionUpgradeLevel"`
	CollectionAnimalIDs    []string `json:"collectionAnimalIds"`
	CrewAnimalIDs          []string `json:"crewAnimalIds"`
	FavoriteAnimalID       string   `json:"favoriteAnimalId"`

	LastDailyCurrencyReset time.Time `json:"lastDailyCurrencyReset"`

	FreeCapturesLeft  int       `json:"freeCapturesLeft"`
	ExtraCapturesLeft int       `json:"extraCapturesLeft"`
	LastCaptureReset  time.Time `json:"lastCaptureReset"`
	TotalCaptures     int       `json:"totalCaptures"`

	FreeEncountersLeft  int       `json:"freeEncountersLeft"`
	ExtraEncountersLeft int       `json:"extraEncountersLeft"`
	LastEncounterReset  time.Time `json:"lastEncounterReset"`
	TotalEncounters     int       `json:"totalEncounters"`

	FreeXpBoostsLeft  int       `json:"freeXpBoostsLeft"`
	ExtraXpBoostsLeft int       `json:"extraXpBoostsLeft"`
	LastXpBoostReset  time.Time `json:"lastXpBoostReset"`
	TotalXpBoosts     int       `json:"totalXpBoosts"`

	TokenSpeciesIDs []string       `json:"tokenSpeciesIds"`
	Essence         map[string]int `json:"essence"`
}

func newPlayerDoc(userID, chatGuildID string) PlayerDoc {
	return PlayerDoc{
		UserID:              userID,
		GuildID:             chatGuildID,
		CollectionAnimalIDs: []string{},
		CrewAnimalIDs:       []string{},
		TokenSpeciesIDs:     []string{},
		Essence:             map[string]int{},
	}
}

func intField(name string, ref func(*PlayerDoc) *int) gameobject.Field[PlayerDoc, int] {
	return gameobject.Field[PlayerDoc, int]{
		Name:  name,
		Ref:   ref,
		Rules: []gameobject.Rule[int]{gameobject.NonNegative[int]()},
	}
}

func timeField(name string, ref func(*PlayerDoc) *time.Time) gameobject.Field[PlayerDoc, time.Time] {
	return gameobject.Field[PlayerDoc, time.Time]{Name: name, Ref: ref}
}

func idListField(name string, ref func(*PlayerDoc) *[]string) gameobject.Field[PlayerDoc, []string] {
	return gameobject.Field[PlayerDoc, []string]{
		Name:  name,
		Ref:   ref,
		Rules: []gameobject.Rule[[]string]{gameobject.Unique[string]()},
	}
}

var (
	playerScraps       = intField("scraps", func(d *PlayerDoc) *int { return &d.Scraps })
	playerUpgradeLevel = intField("collectionUpgradeLevel", func(d *PlayerDoc) *int { return &d.CollectionUpgradeLevel })
	playerCollection   = idListField("collectionAnimalIds", func(d *PlayerDoc) *[]string { return &d.CollectionAnimalIDs })
	playerCrew         = idListField("crewAnimalIds", func(d *PlayerDoc) *[]string { return &d.CrewAnimalIDs })
	playerTokens       = idListField("tokenSpeciesIds", func(d *PlayerDoc) *[]string { return &d.TokenSpeciesIDs })
	playerFavorite     = gameobject.Field[PlayerDoc, string]{
		Name: "favoriteAnimalId",
		Ref:  func(d *PlayerDoc) *string { return &d.FavoriteAnimalID },
	}
	playerEssence = gameobject.Field[PlayerDoc, map[string]int]{
		Name:  "essence",
		Ref:   func(d *PlayerDoc) *map[string]int { return &d.Essence },
		Rules: []gameobject.Rule[map[string]int]{gameobject.NonNegativeValues[string, int]()},
	}
	playerLastDailyCurrency = timeField("lastDailyCurrencyReset", func(d *PlayerDoc) *time.Time { return &d.LastDailyCurrencyReset })
)

// pool describes one time-gated resource: a free allowance refilled at each
// reset boundary and an extra allowance that never resets.
type pool struct {
	kind  reset.Kind
	free  gameobject.Field[PlayerDoc, int]
	extra gameobject.Field[PlayerDoc, int]
	total gameobject.Field[PlayerDoc, int]
	last  gameobject.Field[PlayerDoc, time.Time]
	quota func(config.GameConfig) int
}

var (
	capturePool = pool{
		kind:  reset.Captures,
		free:  intField("freeCapturesLeft", func(d *PlayerDoc) *int { return &d.FreeCapturesLeft }),
		extra: intField("extraCapturesLeft", func(d *PlayerDoc) *int { return &d.ExtraCapturesLeft }),
		total: intField("totalCaptures", func(d *PlayerDoc) *int { return &d.TotalCaptures }),
		last:  timeField("lastCaptureReset", func(d *PlayerDoc) *time.Time { return &d.LastCaptureReset }),
		quota: func(c config.GameConfig) int { return c.CapturesPerPeriod },
	}
	encounterPool = pool{
		kind:  reset.Encounters,
		free:  intField("freeEncountersLeft", func(d *PlayerDoc) *int { return &d.FreeEncountersLeft }),
		extra: intField("extraEncountersLeft", func(d *PlayerDoc) *int { return &d.ExtraEncountersLeft }),
		total: intField("totalEncounters", func(d *PlayerDoc) *int { return &d.TotalEncounters }),
		last:  timeField("lastEncounterReset", func(d *PlayerDoc) *time.Time { return &d.LastEncounterReset }),
		quota: func(c config.GameConfig) int { return c.EncountersPerPeriod },
	}
	xpBoostPool = pool{
		kind:  reset.XpBoosts,
		free:  intField("freeXpBoostsLeft", func(d *PlayerDoc) *int { return &d.FreeXpBoostsLeft }),
		extra: intField("extraXpBoostsLeft", func(d *PlayerDoc) *int { return &d.ExtraXpBoostsLeft }),
		total: intField("totalXpBoosts", func(d *PlayerDoc) *int { return &d.TotalXpBoosts }),
		last:  timeField("lastXpBoostReset", func(d *PlayerDoc) *time.Time { return &d.LastXpBoostReset }),
		quota: func(c config.GameConfig) int { return c.XpBoostsPerPeriod },
	}
)

// Player is one chat member's game state.
type Player struct {
	*gameobject.Record[PlayerDoc]
	b *Beastiary

	// ops serializes operations that span a store call, such as capture and
	// release, so their capacity and ownership checks stay valid until they
	// commit.
	ops sync.Mutex
}

func (b *Beastiary) newPlayer(rec *gameobject.Record[PlayerDoc]) *Player {
	return &Player{Record: rec, b: b}
}

func (p *Player) UserID() string {
	var id string
	p.View(func(d *PlayerDoc) { id = d.UserID })
	return id
}

func (p *Player) GuildID() string {
	var id string
	p.View(func(d *PlayerDoc) { id = d.GuildID })
	return id
}

func (p *Player) Scraps() int { return playerScraps.Get(p.Record) }

// AddScraps adds n scraps. A negative n that would overdraw fails with
// INSUFFICIENT_RESOURCE.
func (p *Player) AddScraps(n int) error {
	return playerScraps.Update(p.Record, func(v int) (int, error) {
		if v+n < 0 {
			return v, insufficient("scraps", fmt.Errorf("have %d, need %d", v, -n))
		}
		return v + n, nil
	})
}

func (p *Player) CollectionUpgradeLevel() int { return playerUpgradeLevel.Get(p.Record) }

// UpgradeCollection raises the collection upgrade level by one.
func (p *Player) UpgradeCollection() error {
	return playerUpgradeLevel.Update(p.Record, gameobject.Delta(1))
}

func insufficient(field string, err error) error {
	return &gameobject.Error{Code: gameobject.CodeInsufficientResource, Op: "consume", Field: field, Err: err}
}

func contract(op string, err error) error {
	return &gameobject.Error{Code: gameobject.CodeContract, Op: op, Err: err}
}

// ----- time-gated pools -----

func (p *Player) resetDue(d gameobject.Doc[PlayerDoc], pl pool) bool {
	return pl.last.Get(d).Before(p.b.resets.LastReset(pl.kind))
}

// applyReset refills the free allowance if the player's last reset predates
// the current boundary.
func (p *Player) applyReset(tx *gameobject.Tx[PlayerDoc], pl pool) error {
	if !p.resetDue(tx, pl) {
		return nil
	}
	if err := pl.free.Set(tx, pl.quota(p.b.cfg)); err != nil {
		return err
	}
	return pl.last.Set(tx, p.b.resets.Now())
}

// freeLeft reads a free allowance, applying a due reset first.
func (p *Player) freeLeft(pl pool) int {
	if p.resetDue(p.Record, pl) {
		err := p.Atomically(func(tx *gameobject.Tx[PlayerDoc]) error {
			return p.applyReset(tx, pl)
		})
		if err != nil && !gameobject.IsCode(err, gameobject.CodeContract) {
			p.b.logger.Error("applying reset failed",
				zap.String("id", p.ID()), zap.String("kind", string(pl.kind)), zap.Error(err))
		}
	}
	return pl.free.Get(p.Record)
}

// consume takes one unit, free allowance first.
func (p *Player) consume(tx *gameobject.Tx[PlayerDoc], pl pool) error {
	if err := p.applyReset(tx, pl); err != nil {
		return err
	}
	switch {
	case pl.free.Get(tx) > 0:
		if err := pl.free.Update(tx, gameobject.Delta(-1)); err != nil {
			return err
		}
	case pl.extra.Get(tx) > 0:
		if err := pl.extra.Update(tx, gameobject.Delta(-1)); err != nil {
			return err
		}
	default:
		return insufficient(string(pl.kind), fmt.Errorf("no %s left", pl.kind))
	}
	return pl.total.Update(tx, gameobject.Delta(1))
}

func (p *Player) FreeCapturesLeft() int   { return p.freeLeft(capturePool) }
func (p *Player) FreeEncountersLeft() int { return p.freeLeft(encounterPool) }
func (p *Player) FreeXpBoostsLeft() int   { return p.freeLeft(xpBoostPool) }

func (p *Player) ExtraCapturesLeft() int   { return capturePool.extra.Get(p.Record) }
func (p *Player) ExtraEncountersLeft() int { return encounterPool.extra.Get(p.Record) }
func (p *Player) ExtraXpBoostsLeft() int   { return xpBoostPool.extra.Get(p.Record) }

func (p *Player) TotalCaptures() int   { return capturePool.total.Get(p.Record) }
func (p *Player) TotalEncounters() int { return encounterPool.total.Get(p.Record) }
func (p *Player) TotalXpBoosts() int   { return xpBoostPool.total.Get(p.Record) }

func (p *Player) LastCaptureReset() time.Time   { return capturePool.last.Get(p.Record) }
func (p *Player) LastEncounterReset() time.Time { return encounterPool.last.Get(p.Record) }
func (p *Player) LastXpBoostReset() time.Time   { return xpBoostPool.last.Get(p.Record) }

func (p *Player) CapturesLeft() int   { return p.FreeCapturesLeft() + p.ExtraCapturesLeft() }
func (p *Player) EncountersLeft() int { return p.FreeEncountersLeft() + p.ExtraEncountersLeft() }
func (p *Player) XpBoostsLeft() int   { return p.FreeXpBoostsLeft() + p.ExtraXpBoostsLeft() }

func (p *Player) HasCaptures() bool   { return p.CapturesLeft() > 0 }
func (p *Player) HasEncounters() bool { return p.EncountersLeft() > 0 }
func (p *Player) HasXpBoost() bool    { return p.XpBoostsLeft() > 0 }

// CanCapture reports whether a capture would currently succeed.
func (p *Player) CanCapture() bool { return p.HasCaptures() && !p.CollectionFull() }

// AddExtraCaptures grants n non-resetting captures.
func (p *Player) AddExtraCaptures(n int) error {
	return capturePool.extra.Update(p.Record, gameobject.Delta(n))
}

// AddExtraEncounters grants n non-resetting encounters.
func (p *Player) AddExtraEncounters(n int) error {
	return encounterPool.extra.Update(p.Record, gameobject.Delta(n))
}

// AddExtraXpBoosts grants n non-resetting xp boosts.
func (p *Player) AddExtraXpBoosts(n int) error {
	return xpBoostPool.extra.Update(p.Record, gameobject.Delta(n))
}

// EncounterAnimal consumes one encounter.
func (p *Player) EncounterAnimal() error {
	return p.Atomically(func(tx *gameobject.Tx[PlayerDoc]) error {
		return p.consume(tx, encounterPool)
	})
}

// UseXpBoost consumes one xp boost and awards its experience to the crew.
func (p *Player) UseXpBoost(ctx context.Context) ([]Receipt, error) {
	err := p.Atomically(func(tx *gameobject.Tx[PlayerDoc]) error {
		return p.consume(tx, xpBoostPool)
	})
	if err != nil {
		return nil, err
	}
	return p.AwardCrewExperience(ctx, p.b.cfg.XpPerBoost)
}

// HasDailyCurrencyReset reports whether daily currency can be claimed.
func (p *Player) HasDailyCurrencyReset() bool {
	return playerLastDailyCurrency.Get(p.Record).Before(p.b.resets.LastReset(reset.DailyCurrency))
}

// ClaimDailyCurrency pays out the daily scraps once per period and returns
// the amount.
func (p *Player) ClaimDailyCurrency() (int, error) {
	amount := p.b.cfg.DailyCurrencyAmount
	err := p.Atomically(func(tx *gameobject.Tx[PlayerDoc]) error {
		if !playerLastDailyCurrency.Get(tx).Before(p.b.resets.LastReset(reset.DailyCurrency)) {
			return insufficient("dailyCurrency", errors.New("already claimed this period"))
		}
		if err := playerLastDailyCurrency.Set(tx, p.b.resets.Now()); err != nil {
			return err
		}
		return playerScraps.Update(tx, gameobject.Delta(amount))
	})
	if err != nil {
		return 0, err
	}
	p.b.audit.Log(audit.Entry{
		Action:   audit.ActionDailyCurrency,
		PlayerID: p.ID(),
		GuildID:  p.GuildID(),
		Detail:   map[string]int{"scraps": amount},
	})
	return amount, nil
}

// ----- collection and crew -----

// CollectionSizeLimit is the number of animals the collection can hold.
func (p *Player) CollectionSizeLimit() int {
	return (p.CollectionUpgradeLevel() + 1) * p.b.cfg.CollectionSlotsPerLevel
}

func (p *Player) collectionLimit(d gameobject.Doc[PlayerDoc]) int {
	return (playerUpgradeLevel.Get(d) + 1) * p.b.cfg.CollectionSlotsPerLevel
}

func (p *Player) CollectionIDs() []string { return playerCollection.Get(p.Record) }
func (p *Player) CrewIDs() []string       { return playerCrew.Get(p.Record) }

func (p *Player) CollectionFull() bool { return len(p.CollectionIDs()) >= p.CollectionSizeLimit() }
func (p *Player) CrewFull() bool       { return len(p.CrewIDs()) >= p.b.cfg.MaxCrewSize }

// InCollection reports whether animalID is in the collection.
func (p *Player) InCollection(animalID string) bool {
	return slices.Contains(p.CollectionIDs(), animalID)
}

// InCrew reports whether animalID is in the crew.
func (p *Player) InCrew(animalID string) bool {
	return slices.Contains(p.CrewIDs(), animalID)
}

func idAt(ids []string, position int) (string, bool) {
	if position < 0 || position >= len(ids) {
		return "", false
	}
	return ids[position], true
}

// CollectionIDAt returns the animal id at a zero-based collection position.
func (p *Player) CollectionIDAt(position int) (string, bool) { return idAt(p.CollectionIDs(), position) }

// CrewIDAt returns the animal id at a zero-based crew position.
func (p *Player) CrewIDAt(position int) (string, bool) { return idAt(p.CrewIDs(), position) }

func insertAt(field string, list []string, ids []string, position int) ([]string, error) {
	if position < 0 {
		position = len(list)
	}
	if position > len(list) {
		return list, &gameobject.Error{Code: gameobject.CodeInvalidValue, Field: field,
			Err: fmt.Errorf("position %d out of range [0,%d]", position, len(list))}
	}
	return slices.Insert(list, position, ids...), nil
}

func (p *Player) addToCollection(tx gameobject.Doc[PlayerDoc], ids []string, position int) error {
	limit := p.collectionLimit(tx)
	return playerCollection.Update(tx, func(list []string) ([]string, error) {
		if len(list)+len(ids) > limit {
			return list, insufficient("collectionAnimalIds", fmt.Errorf("collection holds %d of %d", len(list), limit))
		}
		return insertAt(playerCollection.Name, list, ids, position)
	})
}

// AddAnimalToCollection appends an animal id to the collection.
func (p *Player) AddAnimalToCollection(animalID string) error {
	return p.addToCollection(p.Record, []string{animalID}, -1)
}

// InsertIntoCollection inserts ids before position. A negative position appends.
func (p *Player) InsertIntoCollection(ids []string, position int) error {
	return p.addToCollection(p.Record, ids, position)
}

func (p *Player) addToCrew(ids []string, position int) error {
	return p.Atomically(func(tx *gameobject.Tx[PlayerDoc]) error {
		collection := playerCollection.Get(tx)
		for _, id := range ids {
			if !slices.Contains(collection, id) {
				return contract("crew", fmt.Errorf("animal %s is not in the collection", id))
			}
		}
		return playerCrew.Update(tx, func(list []string) ([]string, error) {
			if len(list)+len(ids) > p.b.cfg.MaxCrewSize {
				return list, insufficient("crewAnimalIds", fmt.Errorf("crew holds %d of %d", len(list), p.b.cfg.MaxCrewSize))
			}
			return insertAt(playerCrew.Name, list, ids, position)
		})
	})
}

// AddAnimalToCrew appends a collection animal to the crew.
func (p *Player) AddAnimalToCrew(animalID string) error {
	return p.addToCrew([]string{animalID}, -1)
}

// InsertIntoCrew inserts collection animals into the crew before position.
func (p *Player) InsertIntoCrew(ids []string, position int) error {
	return p.addToCrew(ids, position)
}

func removeID(list []string, id string) []string {
	return slices.DeleteFunc(list, func(e string) bool { return e == id })
}

// RemoveFromCollection drops id from the collection. The crew is untouched.
func (p *Player) RemoveFromCollection(animalID string) error {
	return playerCollection.Update(p.Record, func(list []string) ([]string, error) {
		return removeID(list, animalID), nil
	})
}

// RemoveFromCrew drops id from the crew.
func (p *Player) RemoveFromCrew(animalID string) error {
	return playerCrew.Update(p.Record, func(list []string) ([]string, error) {
		return removeID(list, animalID), nil
	})
}

func removePositions(list []string, positions []int) ([]string, []string, error) {
	removed := make([]string, 0, len(positions))
	drop := make(map[int]bool, len(positions))
	for _, pos := range positions {
		if pos < 0 || pos >= len(list) {
			return list, nil, fmt.Errorf("position %d out of range [0,%d)", pos, len(list))
		}
		if !drop[pos] {
			drop[pos] = true
			removed = append(removed, list[pos])
		}
	}
	kept := make([]string, 0, len(list)-len(drop))
	for i, id := range list {
		if !drop[i] {
			kept = append(kept, id)
		}
	}
	return kept, removed, nil
}

func (p *Player) removeAt(f gameobject.Field[PlayerDoc, []string], positions []int) ([]string, error) {
	var removed []string
	err := f.Update(p.Record, func(list []string) ([]string, error) {
		kept, r, err := removePositions(list, positions)
		if err != nil {
			return list, &gameobject.Error{Code: gameobject.CodeInvalidValue, Field: f.Name, Err: err}
		}
		removed = r
		return kept, nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// RemoveFromCollectionAt removes the animals at the given positions and
// returns their ids in the order the positions were given.
func (p *Player) RemoveFromCollectionAt(positions []int) ([]string, error) {
	return p.removeAt(playerCollection, positions)
}

// RemoveFromCrewAt removes the crew members at the given positions.
func (p *Player) RemoveFromCrewAt(positions []int) ([]string, error) {
	return p.removeAt(playerCrew, positions)
}

func (p *Player) FavoriteAnimalID() string { return playerFavorite.Get(p.Record) }

// SetFavorite marks a collection animal as favorite. An empty id clears it.
func (p *Player) SetFavorite(animalID string) error {
	return p.Atomically(func(tx *gameobject.Tx[PlayerDoc]) error {
		if animalID != "" && !slices.Contains(playerCollection.Get(tx), animalID) {
			return contract("favorite", fmt.Errorf("animal %s is not in the collection", animalID))
		}
		return playerFavorite.Set(tx, animalID)
	})
}

// ----- tokens and essence -----

func (p *Player) TokenSpeciesIDs() []string { return playerTokens.Get(p.Record) }

// HasToken reports whether the player holds the species' token.
func (p *Player) HasToken(speciesID string) bool {
	return slices.Contains(p.TokenSpeciesIDs(), speciesID)
}

// GiveToken grants the species' token. Granting a held token is a CONTRACT error.
func (p *Player) GiveToken(speciesID string) error {
	return giveToken(p.Record, speciesID)
}

func giveToken(d gameobject.Doc[PlayerDoc], speciesID string) error {
	return playerTokens.Update(d, func(list []string) ([]string, error) {
		if slices.Contains(list, speciesID) {
			return list, contract("giveToken", fmt.Errorf("token for species %s already held", speciesID))
		}
		return append(list, speciesID), nil
	})
}

// Essence returns the player's essence for a species.
func (p *Player) Essence(speciesID string) int {
	return playerEssence.Get(p.Record)[speciesID]
}

// EssenceBySpecies returns a copy of every essence counter.
func (p *Player) EssenceBySpecies() map[string]int {
	return playerEssence.Get(p.Record)
}

// AddEssence adds n essence for a species. The result may not go negative.
func (p *Player) AddEssence(speciesID string, n int) error {
	return addEssence(p.Record, speciesID, n)
}

func addEssence(d gameobject.Doc[PlayerDoc], speciesID string, n int) error {
	return playerEssence.Update(d, func(m map[string]int) (map[string]int, error) {
		if m == nil {
			m = map[string]int{}
		}
		m[speciesID] += n
		return m, nil
	})
}

// SpeciesLevelCap is the highest level the player's animals of a species can reach.
func (p *Player) SpeciesLevelCap(speciesID string) int {
	return levelCap(p.b.cfg, p.Essence(speciesID))
}

func levelCap(cfg config.GameConfig, essence int) int {
	if cfg.EssencePerLevelCap <= 0 {
		return cfg.BaseLevelCap
	}
	return cfg.BaseLevelCap + essence/cfg.EssencePerLevelCap
}

// ----- animals -----

// CaptureAnimal spends a capture and creates a new animal of species owned
// by the player. The player must have a capture left and room in the
// collection.
func (p *Player) CaptureAnimal(ctx context.Context, species *Species, cardID string) (*Animal, error) {
	if _, ok := species.Card(cardID); !ok && (cardID != "" || len(species.Cards()) > 0) {
		return nil, &gameobject.Error{Code: gameobject.CodeInvalidValue, Op: "capture", Field: "cardId",
			Err: fmt.Errorf("species %s has no card %q", species.ID(), cardID)}
	}
	p.ops.Lock()
	defer p.ops.Unlock()

	if err := p.reserveCapture(); err != nil {
		return nil, err
	}
	a, err := p.b.CreateAnimal(ctx, AnimalDoc{
		SpeciesID: species.ID(),
		CardID:    cardID,
		OwnerID:   p.ID(),
		UserID:    p.UserID(),
		GuildID:   p.GuildID(),
		Tags:      []string{},
	})
	if err != nil {
		p.refundCapture()
		return nil, err
	}
	if err := p.AddAnimalToCollection(a.ID()); err != nil {
		if derr := p.b.Animals.Delete(ctx, a.ID()); derr != nil {
			p.b.logger.Error("capture rollback failed", zap.String("animal", a.ID()), zap.Error(derr))
		}
		p.refundCapture()
		return nil, err
	}
	p.b.audit.Log(audit.Entry{
		Action:    audit.ActionCapture,
		PlayerID:  p.ID(),
		AnimalID:  a.ID(),
		SpeciesID: species.ID(),
		GuildID:   p.GuildID(),
		Detail:    map[string]string{"card": cardID},
	})
	return a, nil
}

// CaptureWild spends a capture and takes ownership of an unowned animal.
func (p *Player) CaptureWild(ctx context.Context, a *Animal) error {
	if a.OwnerID() != "" {
		return contract("capture", fmt.Errorf("animal %s already has an owner", a.ID()))
	}
	p.ops.Lock()
	defer p.ops.Unlock()

	if err := p.reserveCapture(); err != nil {
		return err
	}
	prev := a.Snapshot()
	if err := a.ChangeOwner(ctx, p.ID()); err != nil {
		p.refundCapture()
		return err
	}
	if err := p.AddAnimalToCollection(a.ID()); err != nil {
		if rerr := a.restoreOwnership(ctx, prev); rerr != nil {
			p.b.logger.Error("capture rollback failed", zap.String("animal", a.ID()), zap.Error(rerr))
		}
		p.refundCapture()
		return err
	}
	p.b.audit.Log(audit.Entry{
		Action:    audit.ActionCapture,
		PlayerID:  p.ID(),
		AnimalID:  a.ID(),
		SpeciesID: a.SpeciesID(),
		GuildID:   p.GuildID(),
	})
	return nil
}

// reserveCapture checks for room and consumes a capture. Caller holds p.ops.
func (p *Player) reserveCapture() error {
	return p.Atomically(func(tx *gameobject.Tx[PlayerDoc]) error {
		if limit := p.collectionLimit(tx); len(playerCollection.Get(tx)) >= limit {
			return insufficient("collectionAnimalIds", fmt.Errorf("collection full at %d", limit))
		}
		return p.consume(tx, capturePool)
	})
}

// refundCapture returns a reserved capture as an extra one.
func (p *Player) refundCapture() {
	err := p.Atomically(func(tx *gameobject.Tx[PlayerDoc]) error {
		if err := capturePool.extra.Update(tx, gameobject.Delta(1)); err != nil {
			return err
		}
		return capturePool.total.Update(tx, gameobject.Delta(-1))
	})
	if err != nil {
		p.b.logger.Error("capture refund failed", zap.String("id", p.ID()), zap.Error(err))
	}
}

// FetchAnimal loads an animal from the player's collection or crew. Ids
// whose animal no longer exists are pruned from both lists.
func (p *Player) FetchAnimal(ctx context.Context, animalID string) (*Animal, error) {
	if !p.InCollection(animalID) && !p.InCrew(animalID) {
		return nil, &gameobject.Error{Code: gameobject.CodeNotFound, Op: "fetchAnimal",
			Collection: AnimalsCollection, ID: animalID, Err: errors.New("not in collection")}
	}
	a, err := p.b.Animals.FetchByID(ctx, animalID)
	if gameobject.IsCode(err, gameobject.CodeNotFound) {
		p.b.logger.Warn("pruning missing animal", zap.String("player", p.ID()), zap.String("animal", animalID))
		p.prune(animalID)
	}
	return a, err
}

func (p *Player) prune(animalID string) {
	err := p.Atomically(func(tx *gameobject.Tx[PlayerDoc]) error {
		if err := playerCollection.Update(tx, func(l []string) ([]string, error) { return removeID(l, animalID), nil }); err != nil {
			return err
		}
		if err := playerCrew.Update(tx, func(l []string) ([]string, error) { return removeID(l, animalID), nil }); err != nil {
			return err
		}
		if playerFavorite.Get(tx) == animalID {
			return playerFavorite.Set(tx, "")
		}
		return nil
	})
	if err != nil && !gameobject.IsCode(err, gameobject.CodeContract) {
		p.b.logger.Error("prune failed", zap.String("player", p.ID()), zap.Error(err))
	}
}

// Crew loads every crew animal concurrently, in crew order. Missing animals
// are pruned and skipped.
func (p *Player) Crew(ctx context.Context) ([]*Animal, error) {
	ids := p.CrewIDs()
	found := make([]*Animal, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			a, err := p.FetchAnimal(gctx, id)
			if gameobject.IsCode(err, gameobject.CodeNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("crew animal %s: %w", id, err)
			}
			found[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	crew := make([]*Animal, 0, len(found))
	for _, a := range found {
		if a != nil {
			crew = append(crew, a)
		}
	}
	return crew, nil
}

// AwardCrewExperience gives xp to every crew animal and returns one receipt
// per animal in crew order.
func (p *Player) AwardCrewExperience(ctx context.Context, xp int) ([]Receipt, error) {
	crew, err := p.Crew(ctx)
	if err != nil {
		return nil, err
	}
	receipts := make([]Receipt, 0, len(crew))
	var errs error
	for _, a := range crew {
		r, err := a.AddExperience(ctx, xp)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		receipts = append(receipts, r)
	}
	return receipts, errs
}

// ReleaseAnimal deletes one of the player's animals and pays out its value in
// scraps. Releasing an animal the player does not own is a CONTRACT error and
// changes nothing.
func (p *Player) ReleaseAnimal(ctx context.Context, animalID string) (int, error) {
	p.ops.Lock()
	defer p.ops.Unlock()

	a, err := p.b.Animals.FetchByID(ctx, animalID)
	if err != nil {
		if gameobject.IsCode(err, gameobject.CodeNotFound) {
			p.prune(animalID)
		}
		return 0, err
	}
	if !a.OwnedBy(p) {
		return 0, &gameobject.Error{Code: gameobject.CodeContract, Op: "release",
			Collection: AnimalsCollection, ID: animalID, Err: fmt.Errorf("not owned by player %s", p.ID())}
	}
	value := a.Value()
	speciesID := a.SpeciesID()
	if err := p.b.Animals.Delete(ctx, animalID); err != nil {
		return 0, err
	}
	err = p.Atomically(func(tx *gameobject.Tx[PlayerDoc]) error {
		if err := playerCollection.Update(tx, func(l []string) ([]string, error) { return removeID(l, animalID), nil }); err != nil {
			return err
		}
		if err := playerCrew.Update(tx, func(l []string) ([]string, error) { return removeID(l, animalID), nil }); err != nil {
			return err
		}
		if playerFavorite.Get(tx) == animalID {
			if err := playerFavorite.Set(tx, ""); err != nil {
				return err
			}
		}
		return playerScraps.Update(tx, gameobject.Delta(value))
	})
	if err != nil {
		return 0, err
	}
	p.b.audit.Log(audit.Entry{
		Action:    audit.ActionRelease,
		PlayerID:  p.ID(),
		AnimalID:  animalID,
		SpeciesID: speciesID,
		GuildID:   p.GuildID(),
		Detail:    map[string]int{"scraps": value},
	})
	return value, nil
}

// Summary is a read-only view of a player for admin output.
type Summary struct {
	ID                 string         `json:"id"`
	UserID             string         `json:"user_id"`
	GuildID            string         `json:"guild_id"`
	Scraps             int            `json:"scraps"`
	Collection         []string       `json:"collection"`
	CollectionLimit    int            `json:"collection_limit"`
	Crew               []string       `json:"crew"`
	CapturesLeft       int            `json:"captures_left"`
	EncountersLeft     int            `json:"encounters_left"`
	XpBoostsLeft       int            `json:"xp_boosts_left"`
	TotalCaptures      int            `json:"total_captures"`
	TotalEncounters    int            `json:"total_encounters"`
	Tokens             []string       `json:"tokens"`
	Essence            map[string]int `json:"essence"`
	DailyCurrencyReady bool           `json:"daily_currency_ready"`
}

// Summarize returns the player's current state. Due resets are applied.
func (p *Player) Summarize() Summary {
	tokens := p.TokenSpeciesIDs()
	sort.Strings(tokens)
	return Summary{
		ID:                 p.ID(),
		UserID:             p.UserID(),
		GuildID:            p.GuildID(),
		Scraps:             p.Scraps(),
		Collection:         p.CollectionIDs(),
		CollectionLimit:    p.CollectionSizeLimit(),
		Crew:               p.CrewIDs(),
		CapturesLeft:       p.CapturesLeft(),
		EncountersLeft:     p.EncountersLeft(),
		XpBoostsLeft:       p.XpBoostsLeft(),
		TotalCaptures:      p.TotalCaptures(),
		TotalEncounters:    p.TotalEncounters(),
		Tokens:             tokens,
		Essence:            p.EssenceBySpecies(),
		DailyCurrencyReady: p.HasDailyCurrencyReset(),
	}
}
