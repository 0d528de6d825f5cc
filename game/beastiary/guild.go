package beastiary

import (
	"strings"

	"github.com/kasuganosora/beastiary/gameobject"
)

// GuildDoc is the persisted per-chat-server configuration.
type GuildDoc struct {
	ChatGuildID        string `json:"guildId"`
	Prefix             string `json:"prefix"`
	EncounterChannelID string `json:"encounterChannelId"`
	Premium            bool   `json:"premium"`
}

var (
	guildPrefix = gameobject.Field[GuildDoc, string]{
		Name: "prefix",
		Ref:  func(d *GuildDoc) *string { return &d.Prefix },
		Rules: []gameobject.Rule[string]{
			gameobject.NotBlank(),
			gameobject.MaxRunes(8),
			gameobject.Forbid(" \t\n"),
		},
	}
	guildEncounterChannel = gameobject.Field[GuildDoc, string]{
		Name: "encounterChannelId",
		Ref:  func(d *GuildDoc) *string { return &d.EncounterChannelID },
	}
	guildPremium = gameobject.Field[GuildDoc, bool]{
		Name: "premium",
		Ref:  func(d *GuildDoc) *bool { return &d.Premium },
	}
)

// Guild is one chat server's game settings.
type Guild struct {
	*gameobject.Record[GuildDoc]
}

// ChatGuildID returns the external chat server id.
func (g *Guild) ChatGuildID() string {
	var id string
	g.View(func(d *GuildDoc) { id = d.ChatGuildID })
	return id
}

func (g *Guild) Prefix() string { return guildPrefix.Get(g.Record) }

// SetPrefix changes the command prefix. Blank prefixes and prefixes
// containing whitespace are rejected.
func (g *Guild) SetPrefix(prefix string) error {
	return guildPrefix.Set(g.Record, strings.ToLower(prefix))
}

func (g *Guild) EncounterChannelID() string { return guildEncounterChannel.Get(g.Record) }

// SetEncounterChannel designates the channel encounters spawn in. An empty id
// clears it.
func (g *Guild) SetEncounterChannel(channelID string) error {
	return guildEncounterChannel.Set(g.Record, channelID)
}

func (g *Guild) Premium() bool { return guildPremium.Get(g.Record) }

func (g *Guild) SetPremium(premium bool) error {
	return guildPremium.Set(g.Record, premium)
}
