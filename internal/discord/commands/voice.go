package commands

import (
	"context"
	"fmt"
	"log/slog"
)

// Join connects to the caller's voice channel and starts narrating the
// channel the command was run in. Running it again from another text channel
// only moves the read channel; from another voice channel it moves the
// existing connection there.
func (c *Commands) Join(ctx context.Context, inv Invocation) (Result, error) {
	voiceID, ok := c.dir.UserChannel(inv.GuildID, inv.UserID)
	if !ok {
		return Result{}, ErrNotInVoice
	}

	if s, ok := c.sessions.Get(inv.GuildID); ok {
		if s.VoiceChannel() == voiceID {
			c.sessions.SetReadChannel(inv.GuildID, inv.ChannelID)
			return Result{
				Text:   fmt.Sprintf("<#%s> を読み上げます", inv.ChannelID),
				Speech: "読み上げチャンネルを変更しました",
				Read:   true,
				Format: true,
			}, nil
		}
		// The guild's voice connection is reused; joining again would tear
		// it down under the live sink.
		if sink := s.Sink(); sink != nil {
			if err := sink.Move(ctx, voiceID); err != nil {
				return Result{}, fmt.Errorf("commands: join: %w", err)
			}
			c.sessions.SetReadChannel(inv.GuildID, inv.ChannelID)
			slog.Info("commands: moved voice", "guild_id", inv.GuildID, "voice_channel_id", voiceID, "read_channel_id", inv.ChannelID)
			return Result{
				Text:   fmt.Sprintf("<#%s> に移動しました。<#%s> を読み上げます", voiceID, inv.ChannelID),
				Speech: "移動しました",
				Read:   true,
				Format: true,
			}, nil
		}
	}

	sink, err := c.transport.Join(ctx, inv.GuildID, voiceID)
	if err != nil {
		return Result{}, fmt.Errorf("commands: join: %w", err)
	}
	if _, err := c.sessions.Attach(inv.GuildID, sink); err != nil {
		_ = sink.Close()
		return Result{}, fmt.Errorf("commands: join: %w", err)
	}
	c.sessions.SetReadChannel(inv.GuildID, inv.ChannelID)
	slog.Info("commands: joined voice", "guild_id", inv.GuildID, "voice_channel_id", voiceID, "read_channel_id", inv.ChannelID)

	return Result{
		Text:   fmt.Sprintf("<#%s> に接続しました。<#%s> を読み上げます", voiceID, inv.ChannelID),
		Speech: "接続しました",
		Read:   true,
		Format: true,
	}, nil
}

// Leave disconnects from voice and drops everything still queued.
func (c *Commands) Leave(_ context.Context, inv Invocation) (Result, error) {
	s, ok := c.sessions.Get(inv.GuildID)
	if !ok || s.Sink() == nil {
		return Result{}, ErrNotConnected
	}
	if err := c.sessions.Remove(inv.GuildID); err != nil {
		slog.Warn("commands: leave: release voice", "guild_id", inv.GuildID, "err", err)
	}
	return Result{Text: "切断しました"}, nil
}

// Mute silences the bot without leaving the channel.
func (c *Commands) Mute(_ context.Context, inv Invocation) (Result, error) {
	s, ok := c.sessions.Get(inv.GuildID)
	if !ok || s.Sink() == nil {
		return Result{}, ErrNotConnected
	}
	sink := s.Sink()
	if sink.Muted() {
		return Result{Text: "すでにミュートしています"}, nil
	}
	if err := sink.SetMuted(true); err != nil {
		return Result{}, fmt.Errorf("commands: mute: %w", err)
	}
	return Result{Text: "ミュートしました"}, nil
}

// Unmute resumes narration after Mute.
func (c *Commands) Unmute(_ context.Context, inv Invocation) (Result, error) {
	s, ok := c.sessions.Get(inv.GuildID)
	if !ok || s.Sink() == nil {
		return Result{}, ErrNotConnected
	}
	if err := s.Sink().SetMuted(false); err != nil {
		return Result{}, fmt.Errorf("commands: unmute: %w", err)
	}
	return Result{Text: "ミュートを解除しました", Read: true, Format: true}, nil
}

// RandMember picks a random human in the caller's voice channel.
func (c *Commands) RandMember(_ context.Context, inv Invocation) (Result, error) {
	voiceID, ok := c.dir.UserChannel(inv.GuildID, inv.UserID)
	if !ok {
		return Result{}, ErrNotInVoice
	}

	var humans []string
	for _, id := range c.dir.Occupants(inv.GuildID, voiceID) {
		if !c.dir.IsBot(inv.GuildID, id) {
			humans = append(humans, id)
		}
	}
	if len(humans) == 0 {
		return Result{}, ErrNotInVoice
	}

	picked := humans[c.intn(len(humans))]
	name := c.dir.DisplayName(inv.GuildID, picked)
	if name == "" {
		name = picked
	}
	return Result{
		Text:   fmt.Sprintf("<@%s> さんが選ばれました", picked),
		Speech: name + "さんが選ばれました",
		Read:   true,
		Format: true,
	}, nil
}
