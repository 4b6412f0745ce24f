// Package discord provides the Discord bot layer for yomiage. It owns the
// gateway event handlers, routes slash command interactions to registered
// handlers, and turns chat messages and voice-state updates into narration
// work.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/yomiage/internal/narration"
	"github.com/MrWong99/yomiage/internal/presence"
)

// Intents are the gateway intents the bot needs: guild and voice state
// caches, plus message content for narration.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsMessageContent

// eventTimeout bounds the work done for one gateway event.
const eventTimeout = 10 * time.Second

// ErrNotReady is reported by [Bot.Check] until the gateway session is ready.
var ErrNotReady = errors.New("discord: gateway not ready")

// NewSession creates a discordgo session for token with the bot's intents.
// The session is not opened.
func NewSession(token string) (*discordgo.Session, error) {
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	s.Identify.Intents = Intents
	return s, nil
}

// Sessions is the part of the narration registry the bot feeds.
type Sessions interface {
	Get(guildID string) (*narration.Session, bool)
	Enqueue(req narration.Request) error
}

// PresenceHandler reacts to voice-state transitions.
type PresenceHandler interface {
	Handle(ctx context.Context, ev presence.Event) (presence.Rule, error)
}

// GuildSet is the persisted set of activated guilds.
type GuildSet interface {
	IDs() []string
	Contains(id string) bool
	Add(id string) (bool, error)
}

// CommandRegistrar registers slash command definitions for a guild.
// *discordgo.Session implements it.
type CommandRegistrar interface {
	ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

// Config wires a Bot.
type Config struct {
	Session   *discordgo.Session
	Router    *CommandRouter
	Sessions  Sessions
	Presence  PresenceHandler
	Guilds    GuildSet
	BotUserID string

	// AttachmentMarker is spoken in place of each message attachment.
	AttachmentMarker string
}

// Bot owns the gateway event handlers. Construct with [New]; [Bot.Run]
// opens the gateway connection.
type Bot struct {
	session   *discordgo.Session
	registrar CommandRegistrar
	router    *CommandRouter
	sessions  Sessions
	presence  PresenceHandler
	guilds    GuildSet
	botUserID string

	marker atomic.Pointer[string]
	ready  atomic.Bool

	closeOnce sync.Once
	removers  []func()
}

// New creates a Bot and installs its gateway handlers on cfg.Session.
func New(cfg Config) *Bot {
	b := &Bot{
		session:   cfg.Session,
		registrar: cfg.Session,
		router:    cfg.Router,
		sessions:  cfg.Sessions,
		presence:  cfg.Presence,
		guilds:    cfg.Guilds,
		botUserID: cfg.BotUserID,
	}
	b.SetAttachmentMarker(cfg.AttachmentMarker)

	if s := cfg.Session; s != nil {
		b.removers = append(b.removers,
			s.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) { b.onReady(r) }),
			s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) { b.ready.Store(false) }),
			s.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) { b.onGuildCreate(g) }),
			s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) { b.router.Handle(s, i) }),
			s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { b.onMessage(m) }),
			s.AddHandler(func(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) { b.onVoiceState(v) }),
		)
	}
	return b
}

// SetAttachmentMarker replaces the spoken attachment marker. Safe to call
// while events are being handled.
func (b *Bot) SetAttachmentMarker(marker string) {
	b.marker.Store(&marker)
}

func (b *Bot) attachmentMarker() string {
	if p := b.marker.Load(); p != nil {
		return *p
	}
	return ""
}

// Run opens the gateway connection and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	slog.Info("discord gateway connected")
	<-ctx.Done()
	return ctx.Err()
}

// Check reports whether the gateway session is ready. It has the shape of a
// health.Checker function.
func (b *Bot) Check(context.Context) error {
	if !b.ready.Load() {
		return ErrNotReady
	}
	return nil
}

// Close removes the bot's handlers and closes the gateway connection.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		for _, remove := range b.removers {
			remove()
		}
		b.ready.Store(false)
		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}

// onReady registers commands for every guild already in the persisted set.
func (b *Bot) onReady(r *discordgo.Ready) {
	b.ready.Store(true)
	if r.User != nil {
		slog.Info("discord ready", "user", r.User.Username, "guilds", len(r.Guilds))
	}
	for _, id := range b.guilds.IDs() {
		b.registerCommands(id)
	}
}

// onGuildCreate activates guilds the bot has not seen before: the guild is
// persisted and receives the command definitions.
func (b *Bot) onGuildCreate(g *discordgo.GuildCreate) {
	if g.Guild == nil || g.Unavailable || b.guilds.Contains(g.ID) {
		return
	}
	added, err := b.guilds.Add(g.ID)
	if err != nil {
		slog.Error("discord: persist guild", "guild_id", g.ID, "err", err)
	}
	if added || err != nil {
		b.registerCommands(g.ID)
	}
}

func (b *Bot) registerCommands(guildID string) {
	appID := b.botUserID
	cmds := b.router.ApplicationCommands()
	if len(cmds) == 0 || appID == "" {
		return
	}
	registered, err := b.registrar.ApplicationCommandBulkOverwrite(appID, guildID, cmds)
	if err != nil {
		slog.Error("discord: register commands", "guild_id", guildID, "err", err)
		return
	}
	slog.Info("discord commands registered", "guild_id", guildID, "count", len(registered))
}

func (b *Bot) onMessage(m *discordgo.MessageCreate) {
	req, ok := messageRequest(b.sessions, b.botUserID, m.Message, b.attachmentMarker())
	if !ok {
		return
	}
	if err := b.sessions.Enqueue(req); err != nil {
		slog.Debug("discord: message not queued", "guild_id", req.GuildID, "err", err)
	}
}

func (b *Bot) onVoiceState(v *discordgo.VoiceStateUpdate) {
	ev, ok := presenceEvent(v)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	rule, err := b.presence.Handle(ctx, ev)
	if err != nil {
		slog.Warn("discord: presence handling failed",
			"guild_id", ev.GuildID, "user_id", ev.UserID, "rule", rule.String(), "err", err)
	}
}

// presenceEvent converts a gateway voice-state update. Updates without a
// guild are dropped.
func presenceEvent(v *discordgo.VoiceStateUpdate) (presence.Event, bool) {
	if v == nil || v.VoiceState == nil || v.GuildID == "" {
		return presence.Event{}, false
	}
	ev := presence.Event{
		GuildID:     v.GuildID,
		UserID:      v.UserID,
		After:       v.ChannelID,
		DisplayName: MemberName(v.Member, nil),
	}
	if v.BeforeUpdate != nil {
		ev.Before = v.BeforeUpdate.ChannelID
	}
	return ev, true
}

// messageRequest decides whether m is narrated. It is, iff the guild has a
// session whose read channel is m's channel, the bot is in a voice channel,
// and the author is not the bot.
func messageRequest(sessions Sessions, botUserID string, m *discordgo.Message, marker string) (narration.Request, bool) {
	if m == nil || m.GuildID == "" || m.Author == nil || m.Author.ID == botUserID {
		return narration.Request{}, false
	}
	s, ok := sessions.Get(m.GuildID)
	if !ok || s.ReadChannel() != m.ChannelID || s.Sink() == nil {
		return narration.Request{}, false
	}
	text := MessageText(m, marker)
	if text == "" {
		return narration.Request{}, false
	}
	return narration.Request{
		GuildID:   m.GuildID,
		UserID:    m.Author.ID,
		Text:      text,
		Normalize: true,
		Speak:     true,
		Kind:      narration.KindMessage,
	}, true
}

// MessageText is the text narrated for m: its content followed by marker
// once per attachment.
func MessageText(m *discordgo.Message, marker string) string {
	parts := make([]string, 0, 1+len(m.Attachments))
	if c := strings.TrimSpace(m.Content); c != "" {
		parts = append(parts, c)
	}
	if marker != "" {
		for range m.Attachments {
			parts = append(parts, marker)
		}
	}
	return strings.Join(parts, " ")
}
