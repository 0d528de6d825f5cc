package beastiary

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/kasuganosora/beastiary/audit"
	"github.com/kasuganosora/beastiary/gameobject"
)

// AnimalDoc is the persisted shape of an animal.
type AnimalDoc struct {
	SpeciesID  string   `json:"speciesId"`
	CardID     string   `json:"cardId"`
	OwnerID    string   `json:"ownerId"`
	UserID     string   `json:"userId"`
	GuildID    string   `json:"guildId"`
	Nickname   string   `json:"nickname"`
	Experience int      `json:"experience"`
	Tags       []string `json:"tags"`
}

// nicknameForbidden are chat formatting characters.
const nicknameForbidden = "*_~`|\\"

const maxTagRunes = 24

var (
	animalNickname = gameobject.Field[AnimalDoc, string]{
		Name: "nickname",
		Ref:  func(d *AnimalDoc) *string { return &d.Nickname },
		Rules: []gameobject.Rule[string]{
			gameobject.Forbid(nicknameForbidden),
			gameobject.MaxRunes(32),
		},
	}
	animalExperience = gameobject.Field[AnimalDoc, int]{
		Name:  "experience",
		Ref:   func(d *AnimalDoc) *int { return &d.Experience },
		Rules: []gameobject.Rule[int]{gameobject.NonNegative[int]()},
	}
	animalTags = gameobject.Field[AnimalDoc, []string]{
		Name:  "tags",
		Ref:   func(d *AnimalDoc) *[]string { return &d.Tags },
		Rules: []gameobject.Rule[[]string]{gameobject.Unique[string]()},
	}
	animalOwner = gameobject.Field[AnimalDoc, string]{
		Name: "ownerId",
		Ref:  func(d *AnimalDoc) *string { return &d.OwnerID },
	}
	animalUser = gameobject.Field[AnimalDoc, string]{
		Name: "userId",
		Ref:  func(d *AnimalDoc) *string { return &d.UserID },
	}
	animalGuild = gameobject.Field[AnimalDoc, string]{
		Name: "guildId",
		Ref:  func(d *AnimalDoc) *string { return &d.GuildID },
	}
)

func validateAnimal(d AnimalDoc) error {
	if err := animalNickname.Check(d.Nickname); err != nil {
		return err
	}
	if err := animalExperience.Check(d.Experience); err != nil {
		return err
	}
	return animalTags.Check(d.Tags)
}

// Receipt reports the outcome of one experience gain.
type Receipt struct {
	AnimalID   string `json:"animal_id"`
	XpGiven    int    `json:"xp_given"`
	XpTaken    int    `json:"xp_taken"`
	LevelUp    bool   `json:"level_up"`
	Level      int    `json:"level"`
	Essence    int    `json:"essence"`
	Encounters int    `json:"encounters"`
	Captures   int    `json:"captures"`
	// TokenDropped is set when the drop roll granted the species token.
	TokenDropped bool `json:"token_dropped"`
	// EssenceDropped is the essence granted by the drop roll when the token
	// was already held.
	EssenceDropped int `json:"essence_dropped"`
}

// Animal is one creature, wild or owned.
type Animal struct {
	*gameobject.Record[AnimalDoc]
	b *Beastiary

	speciesRef gameobject.Ref[*Species]
	ownerRef   gameobject.Ref[*Player]

	mu      sync.Mutex
	species *Species
}

func (b *Beastiary) newAnimal(rec *gameobject.Record[AnimalDoc]) *Animal {
	a := &Animal{Record: rec, b: b}
	a.speciesRef = gameobject.Ref[*Species]{
		Name:   "speciesId",
		ID:     a.SpeciesID,
		Source: b.Species,
	}
	a.ownerRef = gameobject.Ref[*Player]{
		Name:     "ownerId",
		ID:       a.OwnerID,
		Source:   b.Players,
		Optional: true,
	}
	return a
}

// loadReferences resolves the mandatory species reference.
func (a *Animal) loadReferences(ctx context.Context) error {
	s, err := a.speciesRef.Must(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.species = s
	a.mu.Unlock()
	return nil
}

// Species returns the species loaded with the animal.
func (a *Animal) Species() *Species {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.species
}

// Owner resolves the owning player. ok is false for a wild animal.
func (a *Animal) Owner(ctx context.Context) (*Player, bool, error) {
	return a.ownerRef.Resolve(ctx)
}

func (a *Animal) SpeciesID() string {
	var id string
	a.View(func(d *AnimalDoc) { id = d.SpeciesID })
	return id
}

func (a *Animal) CardID() string {
	var id string
	a.View(func(d *AnimalDoc) { id = d.CardID })
	return id
}

func (a *Animal) OwnerID() string  { return animalOwner.Get(a.Record) }
func (a *Animal) UserID() string   { return animalUser.Get(a.Record) }
func (a *Animal) GuildID() string  { return animalGuild.Get(a.Record) }
func (a *Animal) Nickname() string { return animalNickname.Get(a.Record) }
func (a *Animal) Experience() int  { return animalExperience.Get(a.Record) }
func (a *Animal) Tags() []string   { return animalTags.Get(a.Record) }

// OwnedBy reports whether p owns the animal.
func (a *Animal) OwnedBy(p *Player) bool {
	return p != nil && a.OwnerID() == p.ID()
}

// DisplayName is the nickname, or the species' common name without one.
func (a *Animal) DisplayName() string {
	if n := a.Nickname(); n != "" {
		return n
	}
	if s := a.Species(); s != nil {
		return s.CommonName()
	}
	return a.ID()
}

// SetNickname renames the animal. Surrounding whitespace is trimmed and an
// empty name clears the nickname.
func (a *Animal) SetNickname(name string) error {
	return animalNickname.Set(a.Record, strings.TrimSpace(name))
}

// AddTag attaches a tag. Tags are lower-cased and unique.
func (a *Animal) AddTag(tag string) error {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" || len([]rune(tag)) > maxTagRunes {
		return &gameobject.Error{Code: gameobject.CodeInvalidValue, Op: "tag", Field: animalTags.Name,
			Err: fmt.Errorf("tag must be 1 to %d characters", maxTagRunes)}
	}
	limit := a.b.cfg.MaxTags
	return animalTags.Update(a.Record, func(tags []string) ([]string, error) {
		if limit > 0 && len(tags) >= limit {
			return tags, &gameobject.Error{Code: gameobject.CodeInsufficientResource, Field: animalTags.Name,
				Err: fmt.Errorf("at most %d tags", limit)}
		}
		return append(tags, tag), nil
	})
}

// RemoveTag detaches a tag if present.
func (a *Animal) RemoveTag(tag string) error {
	tag = strings.ToLower(strings.TrimSpace(tag))
	return animalTags.Update(a.Record, func(tags []string) ([]string, error) {
		return removeID(tags, tag), nil
	})
}

// Level is derived from experience.
func (a *Animal) Level() int { return LevelForExperience(a.Experience()) }

// NextLevelXp is the total experience at which the next level begins.
func (a *Animal) NextLevelXp() int { return ExperienceForLevel(a.Level() + 1) }

// LevelCap is the owner's cap for the species, or the base cap when wild.
func (a *Animal) LevelCap(ctx context.Context) (int, error) {
	owner, ok, err := a.Owner(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return a.b.cfg.BaseLevelCap, nil
	}
	return owner.SpeciesLevelCap(a.SpeciesID()), nil
}

// Value is the animal's worth in scraps.
func (a *Animal) Value() int {
	s := a.Species()
	if s == nil {
		return 0
	}
	return ScaledValue(s.BaseValue(), a.Level())
}

// clampExperience applies xp to an animal at prev experience under a level
// limit. Nothing is gained at or above the limit and a gain crossing it stops
// at the limit's threshold.
func clampExperience(prev, xp, limit int) int {
	if LevelForExperience(prev) >= limit {
		return prev
	}
	next := prev + xp
	if LevelForExperience(next) >= limit {
		next = min(next, ExperienceForLevel(limit))
	}
	return next
}

// AddExperience gives xp to an owned animal. A level-up grants the owner
// essence and bonus encounters and captures in the same step as the xp
// write; if the owner cannot be updated the animal is left unchanged. The
// token drop roll happens on every gain, capped or not.
func (a *Animal) AddExperience(ctx context.Context, xp int) (Receipt, error) {
	receipt := Receipt{AnimalID: a.ID(), XpGiven: xp}
	if xp < 0 {
		return receipt, &gameobject.Error{Code: gameobject.CodeInvalidValue, Op: "addExperience",
			Collection: AnimalsCollection, ID: a.ID(), Field: animalExperience.Name, Err: fmt.Errorf("negative experience %d", xp)}
	}
	owner, ok, err := a.Owner(ctx)
	if err != nil {
		return receipt, err
	}
	if !ok {
		return receipt, &gameobject.Error{Code: gameobject.CodeContract, Op: "addExperience",
			Collection: AnimalsCollection, ID: a.ID(), Err: fmt.Errorf("animal has no owner")}
	}
	speciesID := a.SpeciesID()
	cfg := a.b.cfg

	err = a.Atomically(func(tx *gameobject.Tx[AnimalDoc]) error {
		prev := animalExperience.Get(tx)
		prevLevel := LevelForExperience(prev)
		next := clampExperience(prev, xp, owner.SpeciesLevelCap(speciesID))
		if err := animalExperience.Set(tx, next); err != nil {
			return err
		}
		receipt.XpTaken = next - prev
		receipt.Level = LevelForExperience(next)
		receipt.LevelUp = receipt.Level > prevLevel
		if receipt.LevelUp {
			receipt.Essence = EssenceReward(receipt.Level)
			receipt.Encounters = EncounterReward(receipt.Level, a.b.rng.Float64())
			receipt.Captures = CaptureReward(receipt.Level, a.b.rng.Float64())
		}
		dropped := a.b.rng.Float64()*float64(cfg.TokenDropChance) <= float64(xp)

		return owner.Atomically(func(ptx *gameobject.Tx[PlayerDoc]) error {
			if receipt.LevelUp {
				if err := addEssence(ptx, speciesID, receipt.Essence); err != nil {
					return err
				}
				if err := encounterPool.extra.Update(ptx, gameobject.Delta(receipt.Encounters)); err != nil {
					return err
				}
				if err := capturePool.extra.Update(ptx, gameobject.Delta(receipt.Captures)); err != nil {
					return err
				}
			}
			if !dropped {
				return nil
			}
			if !slices.Contains(playerTokens.Get(ptx), speciesID) {
				receipt.TokenDropped = true
				return giveToken(ptx, speciesID)
			}
			receipt.EssenceDropped = cfg.DuplicateTokenEssence
			return addEssence(ptx, speciesID, cfg.DuplicateTokenEssence)
		})
	})
	if err != nil {
		return Receipt{AnimalID: a.ID(), XpGiven: xp}, err
	}
	a.logReceipt(owner, receipt)
	return receipt, nil
}

func (a *Animal) logReceipt(owner *Player, r Receipt) {
	base := audit.Entry{PlayerID: owner.ID(), AnimalID: a.ID(), SpeciesID: a.SpeciesID(), GuildID: a.GuildID()}
	if r.LevelUp {
		e := base
		e.Action = audit.ActionLevelUp
		e.Detail = r
		a.b.audit.Log(e)
	}
	if r.TokenDropped {
		e := base
		e.Action = audit.ActionTokenDrop
		a.b.audit.Log(e)
	}
	if r.EssenceDropped > 0 {
		e := base
		e.Action = audit.ActionEssenceDrop
		e.Detail = map[string]int{"essence": r.EssenceDropped}
		a.b.audit.Log(e)
	}
}

// restoreOwnership puts back the owner fields and tags of prev.
func (a *Animal) restoreOwnership(ctx context.Context, prev AnimalDoc) error {
	err := a.Atomically(func(tx *gameobject.Tx[AnimalDoc]) error {
		if err := animalOwner.Set(tx, prev.OwnerID); err != nil {
			return err
		}
		if err := animalUser.Set(tx, prev.UserID); err != nil {
			return err
		}
		if err := animalGuild.Set(tx, prev.GuildID); err != nil {
			return err
		}
		return animalTags.Set(tx, prev.Tags)
	})
	if err != nil {
		return err
	}
	return a.loadReferences(ctx)
}

// ChangeOwner transfers the animal to another player. Owner, user and guild
// ids change together with the tags being cleared; references are reloaded
// afterwards.
func (a *Animal) ChangeOwner(ctx context.Context, newOwnerID string) error {
	owner, err := a.b.Players.FetchByID(ctx, newOwnerID)
	if err != nil {
		return err
	}
	previous := a.OwnerID()
	userID, guildID := owner.UserID(), owner.GuildID()
	err = a.Atomically(func(tx *gameobject.Tx[AnimalDoc]) error {
		if err := animalOwner.Set(tx, owner.ID()); err != nil {
			return err
		}
		if err := animalUser.Set(tx, userID); err != nil {
			return err
		}
		if err := animalGuild.Set(tx, guildID); err != nil {
			return err
		}
		return animalTags.Set(tx, []string{})
	})
	if err != nil {
		return err
	}
	if err := a.loadReferences(ctx); err != nil {
		return err
	}
	a.b.audit.Log(audit.Entry{
		Action:    audit.ActionChangeOwner,
		PlayerID:  owner.ID(),
		AnimalID:  a.ID(),
		SpeciesID: a.SpeciesID(),
		GuildID:   guildID,
		Detail:    map[string]string{"previous_owner": previous},
	})
	return nil
}
