// Package synth routes synthesis requests to the backend selected by their
// generator tag.
//
// [Client] validates every (generator, style) pair against a snapshot of the
// speaker catalogue before calling out, paces each backend with a token
// bucket and isolates backends from each other with one circuit breaker per
// generator. Calls are single-attempt: failures are returned to the caller,
// which drops the utterance.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/MrWong99/yomiage/internal/observe"
	"github.com/MrWong99/yomiage/internal/resilience"
	"github.com/MrWong99/yomiage/internal/storage"
	"github.com/MrWong99/yomiage/pkg/provider/tts"
)

// DefaultCatalogTTL is how long a catalogue snapshot is trusted before a miss
// triggers a reload from storage.
const DefaultCatalogTTL = 30 * time.Second

// Catalog is the slice of the storage layer the client needs.
type Catalog interface {
	Speakers(ctx context.Context) ([]storage.Speaker, error)
	ReplaceSpeakers(ctx context.Context, gen tts.Generator, speakers []tts.Speaker) error
}

// BackendConfig tunes the guards around one backend.
type BackendConfig struct {
	// RateLimit caps requests per second. Zero disables pacing.
	RateLimit rate.Limit

	// Burst is the token bucket size. Defaults to 1 when RateLimit is set.
	Burst int

	// SpeedScale is forwarded with every request. Zero keeps the backend default.
	SpeedScale float64

	// Breaker configures the backend's circuit breaker. Name and IsFailure
	// are filled in by the client.
	Breaker resilience.CircuitBreakerConfig
}

type backend struct {
	provider tts.Provider
	limiter  *rate.Limiter
	breaker  *resilience.CircuitBreaker
	speed    float64
}

type speakerKey struct {
	gen   tts.Generator
	style int64
}

// Option configures a Client.
type Option func(*Client)

// WithBackend registers p for its generator. A later registration for the
// same generator replaces the earlier one.
func WithBackend(p tts.Provider, cfg BackendConfig) Option {
	return func(c *Client) {
		gen := p.Generator()
		b := &backend{provider: p, speed: cfg.SpeedScale}
		if cfg.RateLimit > 0 {
			burst := cfg.Burst
			if burst <= 0 {
				burst = 1
			}
			b.limiter = rate.NewLimiter(cfg.RateLimit, burst)
		}
		bc := cfg.Breaker
		bc.Name = gen.String()
		bc.IsFailure = isBackendFailure
		b.breaker = resilience.NewCircuitBreaker(bc)
		c.backends[gen] = b
	}
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithCatalogTTL overrides [DefaultCatalogTTL].
func WithCatalogTTL(d time.Duration) Option {
	return func(c *Client) { c.ttl = d }
}

// Client is safe for concurrent use.
type Client struct {
	catalog  Catalog
	backends map[tts.Generator]*backend
	metrics  *observe.Metrics
	ttl      time.Duration
	now      func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	speakers map[speakerKey]tts.Speaker
	loadedAt time.Time
}

// New creates a Client backed by catalog.
func New(catalog Catalog, opts ...Option) *Client {
	c := &Client{
		catalog:  catalog,
		backends: make(map[tts.Generator]*backend),
		ttl:      DefaultCatalogTTL,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Generators returns the configured generators in tag order.
func (c *Client) Generators() []tts.Generator {
	var out []tts.Generator
	for _, g := range tts.Generators() {
		if _, ok := c.backends[g]; ok {
			out = append(out, g)
		}
	}
	return out
}

// BreakerState reports the circuit state of gen's backend.
func (c *Client) BreakerState(gen tts.Generator) (resilience.State, bool) {
	b, ok := c.backends[gen]
	if !ok {
		return resilience.StateOpen, false
	}
	return b.breaker.State(), true
}

// Synthesize renders text with the given voice. Validation failures return
// *[tts.UnknownGeneratorError] or *[UnknownSpeakerError] without touching the
// network; an open breaker returns [ErrBackendUnavailable].
func (c *Client) Synthesize(ctx context.Context, text string, gen tts.Generator, style int64) (*tts.Audio, error) {
	if !gen.IsValid() {
		_, err := tts.GeneratorFromID(int64(gen))
		return nil, err
	}
	b, ok := c.backends[gen]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not configured", ErrBackendUnavailable, gen)
	}
	spk, err := c.lookup(ctx, gen, style)
	if err != nil {
		c.metrics.RecordProviderError(ctx, gen.String(), "unknown_speaker")
		return nil, err
	}

	ctx, span := observe.StartSpan(ctx, "synth.synthesize",
		trace.WithAttributes(
			attribute.String("generator", gen.String()),
			attribute.Int64("style_id", style),
			attribute.Int("chars", len([]rune(text))),
		),
	)
	defer span.End()

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("synth: %s: wait for rate limit: %w", gen, err)
		}
	}

	start := time.Now()
	clip, err := resilience.Do(b.breaker, func() (*tts.Audio, error) {
		return b.provider.Synthesize(ctx, tts.Request{Text: text, Speaker: spk, SpeedScale: b.speed})
	})
	c.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("generator", gen.String())))

	switch {
	case err == nil:
		c.metrics.RecordProviderRequest(ctx, gen.String(), "ok")
		return clip, nil
	case errors.Is(err, resilience.ErrCircuitOpen):
		c.metrics.RecordProviderRequest(ctx, gen.String(), "rejected")
		span.SetStatus(codes.Error, "circuit open")
		observe.Logger(ctx).Debug("synth: backend rejected by breaker", "generator", gen.String())
		return nil, fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, gen, err)
	default:
		c.metrics.RecordProviderRequest(ctx, gen.String(), "error")
		c.metrics.RecordProviderError(ctx, gen.String(), errorKind(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		observe.Logger(ctx).Warn("synth: synthesis failed", "generator", gen.String(), "style_id", style, "err", err)
		return nil, fmt.Errorf("synth: %s style %d: %w", gen, style, err)
	}
}

// Speakers returns gen's slice of the current catalogue snapshot.
func (c *Client) Speakers(ctx context.Context, gen tts.Generator) ([]tts.Speaker, error) {
	if err := c.ensureFresh(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []tts.Speaker
	for k, s := range c.speakers {
		if k.gen == gen {
			out = append(out, s)
		}
	}
	return out, nil
}

// Refresh reloads the catalogue snapshot from storage. Concurrent callers
// share one load.
func (c *Client) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("catalog", func() (any, error) {
		rows, err := c.catalog.Speakers(ctx)
		if err != nil {
			return nil, fmt.Errorf("synth: load speaker catalogue: %w", err)
		}
		snap := make(map[speakerKey]tts.Speaker, len(rows))
		for _, r := range rows {
			snap[speakerKey{r.Generator, r.StyleID}] = r.Speaker
		}
		c.mu.Lock()
		c.speakers = snap
		c.loadedAt = c.now()
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

// SyncCatalog lists the speakers of every configured backend and stores them.
// Backends are queried concurrently; one failing backend does not prevent
// the others from being stored. The snapshot is reloaded afterwards.
func (c *Client) SyncCatalog(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for gen, b := range c.backends {
		g.Go(func() error {
			speakers, err := b.provider.ListSpeakers(gctx)
			if err == nil {
				err = c.catalog.ReplaceSpeakers(gctx, gen, speakers)
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("synth: sync %s speakers: %w", gen, err))
				mu.Unlock()
				return nil
			}
			slog.Info("synth: speaker catalogue synced", "generator", gen.String(), "speakers", len(speakers))
			return nil
		})
	}
	_ = g.Wait()

	if err := c.Refresh(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Client) lookup(ctx context.Context, gen tts.Generator, style int64) (tts.Speaker, error) {
	key := speakerKey{gen, style}
	c.mu.RLock()
	spk, ok := c.speakers[key]
	stale := c.speakers == nil || c.now().Sub(c.loadedAt) >= c.ttl
	c.mu.RUnlock()
	if ok {
		return spk, nil
	}
	if stale {
		if err := c.Refresh(ctx); err != nil {
			return tts.Speaker{}, err
		}
		c.mu.RLock()
		spk, ok = c.speakers[key]
		c.mu.RUnlock()
		if ok {
			return spk, nil
		}
	}
	return tts.Speaker{}, &UnknownSpeakerError{Generator: gen, Style: style}
}

func (c *Client) ensureFresh(ctx context.Context) error {
	c.mu.RLock()
	stale := c.speakers == nil || c.now().Sub(c.loadedAt) >= c.ttl
	c.mu.RUnlock()
	if !stale {
		return nil
	}
	return c.Refresh(ctx)
}

// isBackendFailure counts transport and server-side failures against a
// backend's breaker. Client errors and cancellation do not.
func isBackendFailure(err error) bool {
	if !resilience.DefaultIsFailure(err) {
		return false
	}
	var be *tts.BackendError
	if errors.As(err, &be) {
		return be.StatusCode == 0 || be.StatusCode >= 500
	}
	return !errors.Is(err, tts.ErrSpeakerMismatch)
}

func errorKind(err error) string {
	var be *tts.BackendError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &be) && be.StatusCode == 0:
		return "transport"
	case errors.As(err, &be):
		return "status"
	default:
		return "other"
	}
}
