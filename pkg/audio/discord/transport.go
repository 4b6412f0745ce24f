// Package discord provides an [audio.Transport] backed by Discord voice
// channels via the bwmarrin/discordgo library. It bridges rendered PCM
// [audio.Clip] values to Discord's Opus voice transport.
//
// The transport requires an active *discordgo.Session owned by the bot
// layer. The bot joins self-deafened: it only ever speaks.
package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/yomiage/pkg/audio"
)

var _ audio.Transport = (*Transport)(nil)

// Transport implements [audio.Transport] using discordgo voice connections.
// Safe for concurrent use.
type Transport struct {
	session *discordgo.Session

	// discordgo keeps one VoiceConnection per guild and hands it back on
	// every ChannelVoiceJoin, so sinks are tracked per guild too.
	mu    sync.Mutex
	sinks map[string]*Sink
}

// New creates a Transport for the given session.
func New(session *discordgo.Session) *Transport {
	return &Transport{session: session, sinks: make(map[string]*Sink)}
}

// Join joins channelID in guildID, self-deafened and unmuted. The returned
// sink owns the voice connection until Close. When guildID already has an
// open sink it is moved to channelID and returned as is.
func (t *Transport) Join(ctx context.Context, guildID, channelID string) (audio.Sink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sinks[guildID]; ok {
		if t.voiceConnection(guildID) == s.vc {
			if err := s.Move(ctx, channelID); err != nil {
				return nil, err
			}
			return s, nil
		}
		// The connection was dropped underneath the sink. Closing it later
		// must not disconnect the fresh connection discordgo files under
		// the same guild.
		s.detached.Store(true)
		delete(t.sinks, guildID)
	}

	vc, err := t.session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}

	s, err := newSink(vc, channelID)
	if err != nil {
		_ = vc.Disconnect()
		return nil, err
	}
	t.track(guildID, s)
	return s, nil
}

// track registers s as guildID's sink until it is closed. Callers hold t.mu.
func (t *Transport) track(guildID string, s *Sink) {
	t.sinks[guildID] = s
	s.onClose = func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.sinks[guildID] == s {
			delete(t.sinks, guildID)
		}
	}
}

func (t *Transport) voiceConnection(guildID string) *discordgo.VoiceConnection {
	t.session.RLock()
	defer t.session.RUnlock()
	return t.session.VoiceConnections[guildID]
}

// Connected reports whether the session currently holds a voice connection
// for guildID.
func (t *Transport) Connected(guildID string) bool {
	t.session.RLock()
	defer t.session.RUnlock()
	_, ok := t.session.VoiceConnections[guildID]
	return ok
}
