// Package tts defines the Provider interface for speech synthesis backends.
//
// A Provider wraps one synthesis engine (VOICEVOX, COEIROINK, …) and presents
// a uniform batch contract: one request in, one fully rendered [Audio] clip
// out, or a typed failure. Backends differ only in request shape; callers
// select among them by [Generator] tag.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"time"
)

// Speaker identifies one (generator, style) pair exposed by a backend.
type Speaker struct {
	// Generator is the backend that owns this style.
	Generator Generator

	// SpeakerUUID is the backend's speaker identifier. Required by backends
	// that address styles relative to a speaker (COEIROINK).
	SpeakerUUID string

	// StyleID is the numeric style id sent to the backend.
	StyleID int64

	// Name is the human-readable speaker name.
	Name string

	// StyleName is the human-readable style name (e.g., "ノーマル").
	StyleName string
}

// Request is a single synthesis request.
type Request struct {
	// Text is the already-normalised text to speak.
	Text string

	// Speaker selects the voice. Providers reject speakers of another generator.
	Speaker Speaker

	// SpeedScale adjusts speaking rate. 0 means the backend default.
	SpeedScale float64
}

// Audio is a rendered utterance: little-endian 16-bit PCM plus its format.
// The caller owns the buffer and must call [Audio.Release] when done with it.
type Audio struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Release drops the PCM buffer. Safe to call on nil and more than once.
func (a *Audio) Release() {
	if a == nil {
		return
	}
	a.PCM = nil
}

// Duration returns the playback length of the clip.
func (a *Audio) Duration() time.Duration {
	if a == nil || a.SampleRate <= 0 || a.Channels <= 0 {
		return 0
	}
	samples := len(a.PCM) / (2 * a.Channels)
	return time.Duration(samples) * time.Second / time.Duration(a.SampleRate)
}

// Provider is the abstraction over a single synthesis backend.
type Provider interface {
	// Generator reports which backend variant this provider implements.
	Generator() Generator

	// Synthesize renders req.Text with req.Speaker in a single attempt. It
	// never retries; transient failures are returned as *[BackendError].
	Synthesize(ctx context.Context, req Request) (*Audio, error)

	// ListSpeakers returns the backend's current speaker catalogue flattened
	// to one entry per style.
	ListSpeakers(ctx context.Context) ([]Speaker, error)
}
