package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// ConnectionChecker reports whether a voice connection is held for a guild.
// *discordaudio.Transport implements it.
type ConnectionChecker interface {
	Connected(guildID string) bool
}

// Directory answers voice-occupancy and member questions from the gateway
// state cache. discordgo updates the cache before handlers run, so lookups
// made while handling an event already reflect that event.
type Directory struct {
	state *discordgo.State
	conns ConnectionChecker
}

// NewDirectory creates a Directory over state. conns may be nil, in which
// case Connected always reports false.
func NewDirectory(state *discordgo.State, conns ConnectionChecker) *Directory {
	return &Directory{state: state, conns: conns}
}

// Occupants returns the ids of users in channelID, bots included, sorted.
func (d *Directory) Occupants(guildID, channelID string) []string {
	if channelID == "" {
		return nil
	}
	g, err := d.state.Guild(guildID)
	if err != nil {
		return nil
	}

	d.state.RLock()
	defer d.state.RUnlock()
	var out []string
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == channelID {
			out = append(out, vs.UserID)
		}
	}
	slices.Sort(out)
	return out
}

// Connected reports whether the voice transport holds a connection for
// guildID.
func (d *Directory) Connected(guildID string) bool {
	if d.conns == nil {
		return false
	}
	return d.conns.Connected(guildID)
}

// UserChannel returns the voice channel userID is in.
func (d *Directory) UserChannel(guildID, userID string) (string, bool) {
	g, err := d.state.Guild(guildID)
	if err != nil {
		return "", false
	}

	d.state.RLock()
	defer d.state.RUnlock()
	for _, vs := range g.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return vs.ChannelID, true
		}
	}
	return "", false
}

// DisplayName returns the member's guild nickname, global name or username,
// in that order. Unknown members yield "".
func (d *Directory) DisplayName(guildID, userID string) string {
	m, err := d.state.Member(guildID, userID)
	if err != nil {
		return ""
	}
	return memberName(m)
}

// IsBot reports whether userID is a bot account. Unknown members are
// treated as humans.
func (d *Directory) IsBot(guildID, userID string) bool {
	m, err := d.state.Member(guildID, userID)
	if err != nil || m.User == nil {
		return false
	}
	return m.User.Bot
}

// memberName is Member.DisplayName without the nil-User panic.
func memberName(m *discordgo.Member) string {
	if m == nil {
		return ""
	}
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	return m.User.DisplayName()
}

// MemberName returns the name to greet the author of an interaction or
// event by.
func MemberName(m *discordgo.Member, u *discordgo.User) string {
	if name := memberName(m); name != "" {
		return name
	}
	if u != nil {
		return u.DisplayName()
	}
	return ""
}
