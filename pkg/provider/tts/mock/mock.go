// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled audio clips to consumers and to verify
// that the correct speaker and normalised text reach the backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Gen:   tts.GeneratorVOICEVOX,
//	    Delay: func(text string) time.Duration { return 5 * time.Millisecond },
//	}
//	audio, _ := p.Synthesize(ctx, tts.Request{Text: "hi", Speaker: spk})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/yomiage/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Request is the request passed to Synthesize.
	Request tts.Request
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Gen is reported by Generator.
	Gen tts.Generator

	// Audio, if non-nil, builds the clip returned for text. When nil, the
	// clip's PCM is the UTF-8 bytes of the text (mono, 24 kHz) so consumers
	// can tell utterances apart.
	Audio func(text string) *tts.Audio

	// Errors maps request text to an error returned instead of audio.
	Errors map[string]error

	// SynthesizeErr, if non-nil, is returned for every request.
	SynthesizeErr error

	// Delay, if non-nil, returns how long Synthesize blocks for text.
	Delay func(text string) time.Duration

	// Speakers is returned by ListSpeakers.
	Speakers []tts.Speaker

	// ListSpeakersErr, if non-nil, is returned by ListSpeakers.
	ListSpeakersErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order of arrival.
	SynthesizeCalls []SynthesizeCall

	// ListSpeakersCalls counts calls to ListSpeakers.
	ListSpeakersCalls int
}

// Generator implements tts.Provider.
func (p *Provider) Generator() tts.Generator { return p.Gen }

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Request: req})
	delay := p.Delay
	build := p.Audio
	err := p.SynthesizeErr
	if e, ok := p.Errors[req.Text]; ok {
		err = e
	}
	p.mu.Unlock()

	if delay != nil {
		if d := delay(req.Text); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, err
	}
	if build != nil {
		return build(req.Text), nil
	}
	return &tts.Audio{PCM: []byte(req.Text), SampleRate: 24000, Channels: 1}, nil
}

// ListSpeakers implements tts.Provider.
func (p *Provider) ListSpeakers(context.Context) ([]tts.Speaker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListSpeakersCalls++
	if p.ListSpeakersErr != nil {
		return nil, p.ListSpeakersErr
	}
	out := make([]tts.Speaker, len(p.Speakers))
	copy(out, p.Speakers)
	return out, nil
}

// Calls returns a snapshot of recorded Synthesize calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListSpeakersCalls = 0
}
