// Package commands implements the yomiage slash commands.
//
// Each command is a plain function from an [Invocation] to a [Result]. The
// Discord glue in this file extracts the invocation from the interaction,
// answers with the result text, and, when the result asks for it, queues the
// text for narration in the caller's guild.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/yomiage/internal/discord"
	"github.com/MrWong99/yomiage/internal/narration"
	"github.com/MrWong99/yomiage/internal/storage"
	"github.com/MrWong99/yomiage/pkg/audio"
)

// commandTimeout bounds storage and voice work done for one command.
const commandTimeout = 20 * time.Second

// Store is the persistence the commands read and write.
type Store interface {
	UserConfigOrDefault(ctx context.Context, userID string) (storage.UserConfig, error)
	UpdateUserConfig(ctx context.Context, cfg storage.UserConfig) error
	AddDictEntry(ctx context.Context, e storage.DictEntry) error
	RemoveDictEntry(ctx context.Context, word string) (bool, error)
	Speakers(ctx context.Context) ([]storage.Speaker, error)
	Speaker(ctx context.Context, id int64) (storage.Speaker, error)
}

// Sessions is the part of the narration registry the commands drive.
type Sessions interface {
	Get(guildID string) (*narration.Session, bool)
	Attach(guildID string, sink audio.Sink) (*narration.Session, error)
	SetReadChannel(guildID, channelID string)
	Enqueue(req narration.Request) error
	Remove(guildID string) error
}

// Directory answers voice-state and member lookups. *discord.Directory
// implements it.
type Directory interface {
	UserChannel(guildID, userID string) (string, bool)
	Occupants(guildID, channelID string) []string
	DisplayName(guildID, userID string) string
	IsBot(guildID, userID string) bool
}

// Invocation is the command-relevant part of an interaction.
type Invocation struct {
	GuildID     string
	ChannelID   string
	UserID      string
	DisplayName string

	// CanEditDictionary is true when the caller may run /add and /rem.
	CanEditDictionary bool

	// Options holds string option values by name.
	Options map[string]string
}

// Result is what a command answers with.
type Result struct {
	// Text is shown in the channel.
	Text string

	// Speech, when non-empty, is read aloud instead of Text.
	Speech string

	// Read queues the result for narration in the caller's guild.
	Read bool

	// Format runs dictionary substitution and cleanup before speaking.
	Format bool

	// Override forces a voice instead of the caller's stored one.
	Override *narration.Voice

	// Ephemeral shows Text only to the caller.
	Ephemeral bool
}

func (r Result) spoken() string {
	if r.Speech != "" {
		return r.Speech
	}
	return r.Text
}

// Config wires the command set.
type Config struct {
	Store       Store
	Sessions    Sessions
	Transport   audio.Transport
	Directory   Directory
	Permissions *discord.PermissionChecker

	// Rand returns a pseudo-random int in [0, n). Defaults to rand.IntN.
	Rand func(n int) int
}

// Commands holds the dependencies shared by every slash command.
type Commands struct {
	store     Store
	sessions  Sessions
	transport audio.Transport
	dir       Directory
	perms     *discord.PermissionChecker
	intn      func(n int) int
}

// New creates the command set.
func New(cfg Config) *Commands {
	c := &Commands{
		store:     cfg.Store,
		sessions:  cfg.Sessions,
		transport: cfg.Transport,
		dir:       cfg.Directory,
		perms:     cfg.Permissions,
		intn:      cfg.Rand,
	}
	if c.perms == nil {
		c.perms = discord.NewPermissionChecker("")
	}
	if c.intn == nil {
		c.intn = rand.IntN
	}
	return c
}

type textCommand func(ctx context.Context, inv Invocation) (Result, error)

// Register adds every command definition and handler to router.
func (c *Commands) Register(router *discord.CommandRouter) {
	text := map[string]textCommand{
		"join":         c.Join,
		"leave":        c.Leave,
		"mute":         c.Mute,
		"unmute":       c.Unmute,
		"add":          c.Add,
		"rem":          c.Rem,
		"hello":        c.Hello,
		"bye":          c.Bye,
		"set_nickname": c.SetNickname,
		"rand_member":  c.RandMember,
		"help":         c.Help,
	}
	for _, def := range Definitions() {
		switch def.Name {
		case "info":
			router.RegisterCommand(def, c.handleInfo)
		case "set_voice_type":
			router.RegisterCommand(def, c.handleVoiceMenu)
		default:
			fn, ok := text[def.Name]
			if !ok {
				slog.Error("commands: no handler for definition", "command", def.Name)
				continue
			}
			router.RegisterCommand(def, c.handle(fn, def.Name == "join"))
		}
	}
	router.RegisterComponentPrefix(voiceMenuPrefix, c.handleVoiceSelect)
}

// handle adapts a text command to the router. Deferred commands acknowledge
// first and answer with a follow-up, for work that can outlast Discord's
// three second window (joining voice).
func (c *Commands) handle(fn textCommand, deferred bool) discord.HandlerFunc {
	return func(r discord.Responder, i *discordgo.InteractionCreate) {
		inv := c.invocation(i)
		if inv.GuildID == "" {
			discord.RespondError(r, i, "サーバー内で実行してください")
			return
		}
		if deferred {
			discord.DeferReply(r, i)
		}

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		res, err := fn(ctx, inv)
		if err != nil {
			slog.Warn("commands: command failed",
				"command", commandName(i), "guild_id", inv.GuildID, "user_id", inv.UserID, "err", err)
			msg := UserMessage(err)
			if deferred {
				discord.FollowUp(r, i, "⚠️ "+msg)
			} else {
				discord.RespondError(r, i, msg)
			}
			return
		}

		switch {
		case deferred:
			discord.FollowUp(r, i, res.Text)
		case res.Ephemeral:
			discord.RespondEphemeral(r, i, res.Text)
		default:
			discord.Respond(r, i, res.Text)
		}
		c.speak(inv, res)
	}
}

// speak queues res for narration when it asks to be read. A guild without a
// voice connection simply stays silent.
func (c *Commands) speak(inv Invocation, res Result) {
	if !res.Read {
		return
	}
	err := c.sessions.Enqueue(narration.Request{
		GuildID:   inv.GuildID,
		UserID:    inv.UserID,
		Text:      res.spoken(),
		Override:  res.Override,
		Normalize: res.Format,
		Speak:     true,
		Kind:      narration.KindCommand,
	})
	switch {
	case err == nil:
	case errors.Is(err, narration.ErrNoSession), errors.Is(err, narration.ErrNoSink):
		slog.Debug("commands: result not read, bot not in voice", "guild_id", inv.GuildID)
	default:
		slog.Warn("commands: queue result", "guild_id", inv.GuildID, "err", err)
	}
}

// invocation extracts the command-relevant fields of i.
func (c *Commands) invocation(i *discordgo.InteractionCreate) Invocation {
	inv := Invocation{
		GuildID:           i.GuildID,
		ChannelID:         i.ChannelID,
		CanEditDictionary: c.perms.CanEditDictionary(i),
		Options:           make(map[string]string),
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		inv.UserID = i.Member.User.ID
	case i.User != nil:
		inv.UserID = i.User.ID
	}
	inv.DisplayName = discord.MemberName(i.Member, i.User)

	if i.Type == discordgo.InteractionApplicationCommand {
		for _, opt := range i.ApplicationCommandData().Options {
			if opt.Type == discordgo.ApplicationCommandOptionString {
				inv.Options[opt.Name] = opt.StringValue()
			}
		}
	}
	return inv
}

func commandName(i *discordgo.InteractionCreate) string {
	if i.Type == discordgo.InteractionApplicationCommand {
		return i.ApplicationCommandData().Name
	}
	return ""
}

// ─── errors ──────────────────────────────────────────────────────────────────

var (
	// ErrNotInVoice is returned when the caller must be in a voice channel.
	ErrNotInVoice = errors.New("commands: caller is not in a voice channel")

	// ErrNotConnected is returned when the bot has no voice connection in
	// the guild.
	ErrNotConnected = errors.New("commands: bot is not in a voice channel")

	// ErrForbidden is returned when the caller lacks the dictionary editor role.
	ErrForbidden = errors.New("commands: permission denied")

	// ErrEmptyCatalog is returned when no speakers have been synced yet.
	ErrEmptyCatalog = errors.New("commands: speaker catalog is empty")
)

// MissingOptionError reports a required option that was not supplied or was
// blank.
type MissingOptionError struct {
	Name string
}

func (e *MissingOptionError) Error() string {
	return fmt.Sprintf("commands: missing option %q", e.Name)
}

// UserMessage maps err to the short text shown to the caller.
func UserMessage(err error) string {
	var missing *MissingOptionError
	switch {
	case errors.Is(err, ErrNotInVoice):
		return "ボイスチャンネルに参加してから実行してください"
	case errors.Is(err, ErrNotConnected):
		return "ボイスチャンネルに接続していません"
	case errors.Is(err, ErrForbidden):
		return "辞書を編集する権限がありません"
	case errors.Is(err, ErrEmptyCatalog):
		return "話者一覧がまだありません"
	case errors.Is(err, storage.ErrNotFound):
		return "指定された項目が見つかりません"
	case errors.As(err, &missing):
		return fmt.Sprintf("%s を指定してください", missing.Name)
	default:
		return fmt.Sprintf("失敗しました: %v", err)
	}
}

// option returns the trimmed value of a required option.
func (inv Invocation) option(name string) (string, error) {
	v := strings.TrimSpace(inv.Options[name])
	if v == "" {
		return "", &MissingOptionError{Name: name}
	}
	return v, nil
}
