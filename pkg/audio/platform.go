// Package audio defines the voice transport abstraction used by the
// narration pipeline.
//
// The two primary abstractions are:
//
//   - [Transport] joins a voice channel and returns a [Sink].
//   - [Sink] plays fully rendered [Clip] values into that channel, one at a
//     time, and leaves the channel on Close.
//
// Implementations live in platform-specific adapter packages (audio/discord)
// and in audio/mock for tests. The interfaces are intentionally narrow so the
// narration layer never sees provider SDK types.
package audio

import (
	"context"
	"errors"
)

// ErrSinkClosed is returned by [Sink.Play] after the sink has been closed.
var ErrSinkClosed = errors.New("audio: sink closed")

// Sink is an active playback handle on one voice channel.
//
// Implementations must be safe for concurrent use, but callers are expected
// to serialise Play calls; a Sink does not mix overlapping clips.
type Sink interface {
	// ChannelID returns the voice channel this sink is connected to.
	ChannelID() string

	// Play sends clip to the channel and blocks until it has been fully
	// handed to the transport, ctx is cancelled, or the sink is closed.
	Play(ctx context.Context, clip Clip) error

	// SetMuted toggles the bot's own microphone. While muted, Play discards
	// clips without sending them.
	SetMuted(muted bool) error

	// Muted reports the current mute state.
	Muted() bool

	// Move switches the live connection to another voice channel in the
	// same guild. The sink stays open; only ChannelID changes.
	Move(ctx context.Context, channelID string) error

	// Close leaves the voice channel. It is safe to call more than once;
	// subsequent calls are no-ops and return nil.
	Close() error
}

// Transport is the entry point for a voice platform.
//
// Implementations must be safe for concurrent use.
type Transport interface {
	// Join connects to channelID in guildID and returns a live [Sink]. ctx
	// bounds the connection attempt only. A guild holds at most one voice
	// connection, so a Join while a sink for guildID is still open moves
	// and returns that sink.
	Join(ctx context.Context, guildID, channelID string) (Sink, error)
}
