package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/yomiage/internal/health"
	"github.com/MrWong99/yomiage/internal/observe"
	"github.com/MrWong99/yomiage/internal/resilience"
	"github.com/MrWong99/yomiage/pkg/provider/tts"
)

// newHandler builds the probe and scrape routes. Storage and the gateway are
// required for readiness; each synthesis backend only degrades it.
func (a *App) newHandler() http.Handler {
	checkers := []health.Checker{
		{Name: "storage", Check: a.store.Ping},
		{Name: "discord", Check: a.gateway.Check},
	}
	for _, gen := range a.synth.Generators() {
		checkers = append(checkers, health.Checker{
			Name:     strings.ToLower(gen.String()),
			Check:    a.breakerCheck(gen),
			Optional: true,
		})
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// breakerCheck fails while gen's circuit breaker is open.
func (a *App) breakerCheck(gen tts.Generator) func(context.Context) error {
	return func(context.Context) error {
		state, ok := a.synth.BreakerState(gen)
		if !ok {
			return fmt.Errorf("%s not configured", gen)
		}
		if state == resilience.StateOpen {
			return fmt.Errorf("%s circuit open", gen)
		}
		return nil
	}
}
