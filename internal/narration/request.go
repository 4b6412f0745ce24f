// Package narration owns per-guild narration state and the playback
// sequencer that turns queued text into speech.
//
// A [Registry] holds at most one [Session] per guild. Each session owns a
// bounded FIFO queue drained by a single worker goroutine, which runs
// normalisation, voice resolution, synthesis and playback for one request at
// a time. Requests for one guild are therefore spoken in arrival order and
// never overlap; guilds do not wait on each other.
package narration

import (
	"github.com/google/uuid"

	"github.com/MrWong99/yomiage/internal/storage"
	"github.com/MrWong99/yomiage/pkg/provider/tts"
)

// Kind classifies where a request came from. It only affects logging and
// metrics.
type Kind string

const (
	KindMessage Kind = "message"
	KindHello   Kind = "hello"
	KindBye     Kind = "bye"
	KindCommand Kind = "command"
)

// Voice is a resolved (generator, style) pair.
type Voice struct {
	Generator tts.Generator
	Style     int64
}

// Request is one unit of text queued for speech.
type Request struct {
	// ID correlates log lines for one utterance. Filled by Enqueue if empty.
	ID string

	GuildID string

	// UserID selects whose stored voice settings apply. May be empty for
	// system notices, in which case the default voice is used.
	UserID string

	Text string

	// Override, when set, wins over the user's stored voice.
	Override *Voice

	// Normalize runs the dictionary and cleanup pass before synthesis.
	Normalize bool

	// Speak is false for results that should only be shown as text.
	Speak bool

	Kind Kind
}

func (r *Request) ensureID() {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
}

// Resolve picks the voice for a request. An explicit override wins, then the
// user's stored config, then def.
func Resolve(override *Voice, cfg *storage.UserConfig, def Voice) Voice {
	switch {
	case override != nil:
		return *override
	case cfg != nil:
		return Voice{Generator: cfg.GeneratorType, Style: cfg.VoiceType}
	default:
		return def
	}
}
