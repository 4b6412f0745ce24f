package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/yomiage/internal/narration"
	"github.com/MrWong99/yomiage/internal/observe"
	"github.com/MrWong99/yomiage/internal/storage"
)

// Sessions is the part of the session registry the monitor drives.
type Sessions interface {
	Get(guildID string) (*narration.Session, bool)
	Enqueue(req narration.Request) error
	Remove(guildID string) error
	Guilds() []string
}

// Occupancy reports who is in a voice channel according to the gateway's
// state cache.
type Occupancy interface {
	// Occupants returns the ids of users in channelID, bots included.
	Occupants(guildID, channelID string) []string

	// Connected reports whether the voice transport holds a connection for
	// guildID.
	Connected(guildID string) bool

	// IsBot reports whether userID is a bot account.
	IsBot(guildID, userID string) bool
}

// UserConfigs loads greeting settings.
type UserConfigs interface {
	UserConfigOrDefault(ctx context.Context, userID string) (storage.UserConfig, error)
}

// Monitor reacts to occupancy events for every guild. Safe for concurrent
// use; it holds no state of its own beyond its collaborators.
type Monitor struct {
	BotUserID string
	Sessions  Sessions
	Occupancy Occupancy
	Configs   UserConfigs
	Metrics   *observe.Metrics
}

func (m *Monitor) metrics() *observe.Metrics {
	if m.Metrics != nil {
		return m.Metrics
	}
	return observe.DefaultMetrics()
}

// Handle classifies ev and carries out the resulting rule. When
// ev.BotChannel is empty it is filled from the guild's session.
func (m *Monitor) Handle(ctx context.Context, ev Event) (Rule, error) {
	if ev.BotChannel == "" {
		if s, ok := m.Sessions.Get(ev.GuildID); ok {
			ev.BotChannel = s.VoiceChannel()
		}
	}
	rule := Classify(ev, m.BotUserID, m.remaining(ev))
	log := slog.With("guild_id", ev.GuildID, "user_id", ev.UserID, "rule", rule.String())

	switch rule {
	case RuleHello, RuleBye:
		cfg, err := m.Configs.UserConfigOrDefault(ctx, ev.UserID)
		if err != nil {
			return rule, fmt.Errorf("presence: load user config: %w", err)
		}
		greeting, kind := cfg.Hello, narration.KindHello
		if rule == RuleBye {
			greeting, kind = cfg.Bye, narration.KindBye
		}
		name := ev.DisplayName
		if cfg.ReadNickname != nil && *cfg.ReadNickname != "" {
			name = *cfg.ReadNickname
		}
		err = m.Sessions.Enqueue(narration.Request{
			GuildID:   ev.GuildID,
			UserID:    ev.UserID,
			Text:      Greeting(name, greeting),
			Normalize: true,
			Speak:     true,
			Kind:      kind,
		})
		if err != nil {
			return rule, fmt.Errorf("presence: enqueue %s: %w", kind, err)
		}
		m.metrics().RecordGreeting(ctx, string(kind))
		log.Debug("presence: greeting queued")

	case RuleAutoLeave:
		if err := m.Sessions.Remove(ev.GuildID); err != nil {
			log.Warn("presence: auto-leave released sink with error", "err", err)
		}
		m.metrics().RecordGreeting(ctx, rule.String())
		log.Info("presence: channel empty, left voice")
	}
	return rule, nil
}

// remaining counts human users in the bot's channel after ev, excluding the
// leaving user in case the state cache has not caught up yet.
func (m *Monitor) remaining(ev Event) int {
	if ev.BotChannel == "" || m.Occupancy == nil {
		return 0
	}
	n := 0
	for _, id := range m.Occupancy.Occupants(ev.GuildID, ev.BotChannel) {
		if id == m.BotUserID || m.Occupancy.IsBot(ev.GuildID, id) {
			continue
		}
		if id == ev.UserID && ev.After != ev.BotChannel {
			continue
		}
		n++
	}
	return n
}

// Reconcile force-removes sessions the voice transport no longer backs and
// sessions whose channel has emptied without an event reaching us. Without
// an Occupancy there is nothing to check against and it removes nothing.
func (m *Monitor) Reconcile(ctx context.Context) int {
	if m.Occupancy == nil {
		return 0
	}
	removed := 0
	for _, guildID := range m.Sessions.Guilds() {
		s, ok := m.Sessions.Get(guildID)
		if !ok || s.Sink() == nil {
			continue
		}
		reason := ""
		switch {
		case !m.Occupancy.Connected(guildID):
			reason = "voice connection lost"
		case m.remaining(Event{GuildID: guildID, BotChannel: s.VoiceChannel()}) == 0:
			reason = "channel empty"
		default:
			continue
		}
		if err := m.Sessions.Remove(guildID); err != nil {
			slog.Warn("presence: reconcile remove failed", "guild_id", guildID, "err", err)
		}
		m.metrics().RecordGreeting(ctx, RuleAutoLeave.String())
		slog.Warn("presence: session force-removed", "guild_id", guildID, "reason", reason)
		removed++
	}
	return removed
}

// Run reconciles every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Reconcile(ctx)
		}
	}
}
