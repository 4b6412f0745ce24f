package commands

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"
)

func stringOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

// Definitions returns the slash command definitions registered per guild.
func Definitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{Name: "join", Description: "ボイスチャンネルに接続し、このチャンネルを読み上げます"},
		{Name: "leave", Description: "ボイスチャンネルから切断します"},
		{Name: "mute", Description: "読み上げを一時的に止めます"},
		{Name: "unmute", Description: "読み上げを再開します"},
		{
			Name:        "add",
			Description: "辞書に読み方を登録します",
			Options: []*discordgo.ApplicationCommandOption{
				stringOption("word", "単語", true),
				stringOption("read", "読み方", true),
			},
		},
		{
			Name:        "rem",
			Description: "辞書から単語を削除します",
			Options: []*discordgo.ApplicationCommandOption{
				stringOption("word", "単語", true),
			},
		},
		{
			Name:        "hello",
			Description: "入室時の挨拶を設定します",
			Options: []*discordgo.ApplicationCommandOption{
				stringOption("text", "挨拶", true),
			},
		},
		{
			Name:        "bye",
			Description: "退室時の挨拶を設定します",
			Options: []*discordgo.ApplicationCommandOption{
				stringOption("text", "挨拶", true),
			},
		},
		{
			Name:        "set_nickname",
			Description: "挨拶で呼ばれる名前を設定します",
			Options: []*discordgo.ApplicationCommandOption{
				stringOption("name", "呼び名 (省略でリセット)", false),
			},
		},
		{Name: "info", Description: "あなたの読み上げ設定を表示します"},
		{Name: "set_voice_type", Description: "読み上げに使う声を選びます"},
		{Name: "rand_member", Description: "ボイスチャンネルからランダムに一人選びます"},
		{Name: "help", Description: "コマンド一覧を表示します"},
	}
}

// Help lists every command with its description.
func (c *Commands) Help(context.Context, Invocation) (Result, error) {
	var b strings.Builder
	b.WriteString("**コマンド一覧**\n")
	for _, def := range Definitions() {
		b.WriteString("`/")
		b.WriteString(def.Name)
		for _, opt := range def.Options {
			if opt.Required {
				b.WriteString(" <" + opt.Name + ">")
			} else {
				b.WriteString(" [" + opt.Name + "]")
			}
		}
		b.WriteString("` ")
		b.WriteString(def.Description)
		b.WriteString("\n")
	}
	return Result{Text: b.String(), Ephemeral: true}, nil
}
