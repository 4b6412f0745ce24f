package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/yomiage/internal/discord"
	"github.com/MrWong99/yomiage/internal/narration"
	"github.com/MrWong99/yomiage/internal/storage"
	"github.com/MrWong99/yomiage/pkg/provider/tts"
)

const (
	voiceMenuPrefix = "voice:"

	// Discord caps select menus at 25 options and messages at 5 rows.
	maxMenuOptions = 25
	maxMenuRows    = 5
)

// Hello sets the caller's join greeting.
func (c *Commands) Hello(ctx context.Context, inv Invocation) (Result, error) {
	text, err := inv.option("text")
	if err != nil {
		return Result{}, err
	}
	if err := c.updateConfig(ctx, inv.UserID, func(cfg *storage.UserConfig) { cfg.Hello = text }); err != nil {
		return Result{}, err
	}
	return Result{Text: fmt.Sprintf("入室時の挨拶を「%s」に設定しました", text), Read: true, Format: true}, nil
}

// Bye sets the caller's leave greeting.
func (c *Commands) Bye(ctx context.Context, inv Invocation) (Result, error) {
	text, err := inv.option("text")
	if err != nil {
		return Result{}, err
	}
	if err := c.updateConfig(ctx, inv.UserID, func(cfg *storage.UserConfig) { cfg.Bye = text }); err != nil {
		return Result{}, err
	}
	return Result{Text: fmt.Sprintf("退室時の挨拶を「%s」に設定しました", text), Read: true, Format: true}, nil
}

// SetNickname sets the name greetings use for the caller. Without a name it
// reverts to the Discord display name.
func (c *Commands) SetNickname(ctx context.Context, inv Invocation) (Result, error) {
	name := strings.TrimSpace(inv.Options["name"])
	err := c.updateConfig(ctx, inv.UserID, func(cfg *storage.UserConfig) {
		if name == "" {
			cfg.ReadNickname = nil
			return
		}
		cfg.ReadNickname = &name
	})
	if err != nil {
		return Result{}, err
	}
	if name == "" {
		return Result{Text: "呼び名をリセットしました", Read: true, Format: true}, nil
	}
	return Result{Text: fmt.Sprintf("呼び名を「%s」に設定しました", name), Read: true, Format: true}, nil
}

func (c *Commands) updateConfig(ctx context.Context, userID string, mutate func(*storage.UserConfig)) error {
	cfg, err := c.store.UserConfigOrDefault(ctx, userID)
	if err != nil {
		return fmt.Errorf("commands: load user config: %w", err)
	}
	mutate(&cfg)
	if err := c.store.UpdateUserConfig(ctx, cfg); err != nil {
		return fmt.Errorf("commands: save user config: %w", err)
	}
	return nil
}

// ─── /info ───────────────────────────────────────────────────────────────────

// Info builds the embed describing the caller's settings.
func (c *Commands) Info(ctx context.Context, inv Invocation) (*discordgo.MessageEmbed, error) {
	cfg, err := c.store.UserConfigOrDefault(ctx, inv.UserID)
	if err != nil {
		return nil, fmt.Errorf("commands: load user config: %w", err)
	}
	speakers, err := c.store.Speakers(ctx)
	if err != nil {
		return nil, fmt.Errorf("commands: load speakers: %w", err)
	}

	nickname := inv.DisplayName
	if cfg.ReadNickname != nil {
		nickname = *cfg.ReadNickname
	}
	return &discordgo.MessageEmbed{
		Fields: []*discordgo.MessageEmbedField{
			{Name: "nickname", Value: orDash(nickname), Inline: true},
			{Name: "voice", Value: voiceName(speakers, cfg.GeneratorType, cfg.VoiceType), Inline: true},
			{Name: "hello", Value: orDash(cfg.Hello), Inline: true},
			{Name: "bye", Value: orDash(cfg.Bye), Inline: true},
		},
	}, nil
}

func (c *Commands) handleInfo(r discord.Responder, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	embed, err := c.Info(ctx, c.invocation(i))
	if err != nil {
		slog.Warn("commands: info failed", "err", err)
		discord.RespondError(r, i, UserMessage(err))
		return
	}
	discord.RespondEmbed(r, i, embed)
}

// voiceName renders a stored voice as "<speaker> <style>", falling back to
// the raw generator and style id when the catalog does not know it.
func voiceName(speakers []storage.Speaker, gen tts.Generator, style int64) string {
	for _, sp := range speakers {
		if sp.Generator == gen && sp.StyleID == style {
			return sp.Name + " " + sp.StyleName
		}
	}
	return fmt.Sprintf("%s %d", gen, style)
}

// Discord rejects embed fields with empty values.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// ─── /set_voice_type ─────────────────────────────────────────────────────────

// VoiceMenus builds the select menus offered by /set_voice_type: one menu
// per generator, split into pages of 25 options. Option values are catalog
// row ids.
func (c *Commands) VoiceMenus(ctx context.Context) ([]discordgo.MessageComponent, error) {
	speakers, err := c.store.Speakers(ctx)
	if err != nil {
		return nil, fmt.Errorf("commands: load speakers: %w", err)
	}

	var rows []discordgo.MessageComponent
	for _, gen := range tts.Generators() {
		var opts []discordgo.SelectMenuOption
		for _, sp := range speakers {
			if sp.Generator != gen {
				continue
			}
			opts = append(opts, discordgo.SelectMenuOption{
				Label: truncateLabel(sp.Name + " " + sp.StyleName),
				Value: strconv.FormatInt(sp.ID, 10),
			})
		}
		for page := 0; len(opts) > 0; page++ {
			n := min(len(opts), maxMenuOptions)
			if len(rows) == maxMenuRows {
				slog.Warn("commands: voice menu truncated", "generator", gen.String(), "dropped", len(opts))
				break
			}
			placeholder := gen.String()
			if page > 0 || len(opts) > maxMenuOptions {
				placeholder = fmt.Sprintf("%s (%d)", gen, page+1)
			}
			rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.SelectMenu{
					MenuType:    discordgo.StringSelectMenu,
					CustomID:    fmt.Sprintf("%s%s:%d", voiceMenuPrefix, gen, page),
					Placeholder: placeholder,
					Options:     opts[:n],
				},
			}})
			opts = opts[n:]
		}
	}
	if len(rows) == 0 {
		return nil, ErrEmptyCatalog
	}
	return rows, nil
}

func (c *Commands) handleVoiceMenu(r discord.Responder, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	rows, err := c.VoiceMenus(ctx)
	if err != nil {
		slog.Warn("commands: set_voice_type failed", "err", err)
		discord.RespondError(r, i, UserMessage(err))
		return
	}
	discord.RespondComponents(r, i, "読み上げに使う声を選んでください", rows)
}

// SelectVoice stores the catalog entry with the given id as the caller's
// voice and answers with a sample spoken in that voice.
func (c *Commands) SelectVoice(ctx context.Context, inv Invocation, value string) (Result, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return Result{}, fmt.Errorf("commands: select voice %q: %w", value, storage.ErrNotFound)
	}
	sp, err := c.store.Speaker(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("commands: select voice %d: %w", id, err)
	}
	err = c.updateConfig(ctx, inv.UserID, func(cfg *storage.UserConfig) {
		cfg.GeneratorType = sp.Generator
		cfg.VoiceType = sp.StyleID
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Text:     fmt.Sprintf("声を「%s %s」に変更しました", sp.Name, sp.StyleName),
		Speech:   "この声で読み上げます",
		Read:     true,
		Format:   true,
		Override: &narration.Voice{Generator: sp.Generator, Style: sp.StyleID},
	}, nil
}

func (c *Commands) handleVoiceSelect(r discord.Responder, i *discordgo.InteractionCreate) {
	values := i.MessageComponentData().Values
	if len(values) == 0 {
		discord.RespondError(r, i, UserMessage(&MissingOptionError{Name: "voice"}))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	inv := c.invocation(i)
	res, err := c.SelectVoice(ctx, inv, values[0])
	if err != nil {
		slog.Warn("commands: voice selection failed", "user_id", inv.UserID, "err", err)
		discord.RespondError(r, i, UserMessage(err))
		return
	}
	discord.UpdateMessage(r, i, res.Text)
	if inv.GuildID != "" {
		c.speak(inv, res)
	}
}

// truncateLabel keeps option labels within Discord's 100 character limit.
func truncateLabel(s string) string {
	r := []rune(s)
	if len(r) <= 100 {
		return s
	}
	return string(r[:99]) + "…"
}
