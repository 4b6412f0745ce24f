package narration

import (
	"context"

	"github.com/MrWong99/yomiage/internal/observe"
	"github.com/MrWong99/yomiage/internal/storage"
	"github.com/MrWong99/yomiage/internal/textnorm"
	"github.com/MrWong99/yomiage/pkg/provider/tts"
)

// Synthesizer renders text with a voice. *synth.Client implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, gen tts.Generator, style int64) (*tts.Audio, error)
}

// ConfigSource is the subset of storage.Store the worker reads from.
type ConfigSource interface {
	UserConfigOrDefault(ctx context.Context, userID string) (storage.UserConfig, error)
	Dict(ctx context.Context) ([]storage.DictEntry, error)
}

// Pipeline bundles the collaborators every session worker uses.
type Pipeline struct {
	Store        ConfigSource
	Normalizer   *textnorm.Normalizer
	Synth        Synthesizer
	DefaultVoice Voice
	Metrics      *observe.Metrics
}

func (p *Pipeline) metrics() *observe.Metrics {
	if p.Metrics != nil {
		return p.Metrics
	}
	return observe.DefaultMetrics()
}

// dictEntries converts stored entries for the normaliser.
func dictEntries(in []storage.DictEntry) []textnorm.Entry {
	out := make([]textnorm.Entry, len(in))
	for i, e := range in {
		out[i] = textnorm.Entry{Word: e.Word, Read: e.Read}
	}
	return out
}
