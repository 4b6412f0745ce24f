package app

import (
	"golang.org/x/time/rate"

	"github.com/MrWong99/yomiage/internal/config"
	"github.com/MrWong99/yomiage/internal/observe"
	"github.com/MrWong99/yomiage/internal/resilience"
	"github.com/MrWong99/yomiage/internal/synth"
	"github.com/MrWong99/yomiage/pkg/provider/tts"
	"github.com/MrWong99/yomiage/pkg/provider/tts/coeiroink"
	"github.com/MrWong99/yomiage/pkg/provider/tts/voicevox"
)

// RegisterBackends adds the built-in synthesis engines to reg.
func RegisterBackends(reg *config.Registry) {
	reg.Register(tts.GeneratorVOICEVOX, func(e config.GeneratorEntry) (tts.Provider, error) {
		p, err := voicevox.New(e.BaseURL, voicevox.WithTimeout(e.Timeout))
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	reg.Register(tts.GeneratorCOEIROINK, func(e config.GeneratorEntry) (tts.Provider, error) {
		p, err := coeiroink.New(e.BaseURL, coeiroink.WithTimeout(e.Timeout))
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// BuildBackends instantiates every enabled generator in cfg.
func BuildBackends(cfg config.GeneratorsConfig) (map[tts.Generator]tts.Provider, error) {
	reg := config.NewRegistry()
	RegisterBackends(reg)
	return reg.CreateEnabled(cfg)
}

// NewSynthClient wraps backends with the pacing and breaker settings from
// cfg. Backends are registered in tag order so logs and checks are stable.
func NewSynthClient(catalog synth.Catalog, backends map[tts.Generator]tts.Provider, cfg config.GeneratorsConfig, m *observe.Metrics) *synth.Client {
	opts := []synth.Option{synth.WithMetrics(m)}
	for _, gen := range tts.Generators() {
		p, ok := backends[gen]
		if !ok {
			continue
		}
		opts = append(opts, synth.WithBackend(p, backendConfig(cfg.Entry(gen))))
	}
	return synth.New(catalog, opts...)
}

func backendConfig(e config.GeneratorEntry) synth.BackendConfig {
	return synth.BackendConfig{
		RateLimit:  rate.Limit(e.RateLimit),
		Burst:      e.Burst,
		SpeedScale: e.SpeedScale,
		Breaker: resilience.CircuitBreakerConfig{
			MaxFailures:  e.Breaker.MaxFailures,
			ResetTimeout: e.Breaker.ResetTimeout,
		},
	}
}
