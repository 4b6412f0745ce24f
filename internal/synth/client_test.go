package synth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/yomiage/internal/observe"
	"github.com/MrWong99/yomiage/internal/resilience"
	"github.com/MrWong99/yomiage/internal/storage"
	"github.com/MrWong99/yomiage/pkg/provider/tts"
	"github.com/MrWong99/yomiage/pkg/provider/tts/mock"
)

var (
	zundamon  = tts.Speaker{Generator: tts.GeneratorVOICEVOX, StyleID: 3, Name: "ずんだもん", StyleName: "ノーマル"}
	tsukuyomi = tts.Speaker{
		Generator: tts.GeneratorCOEIROINK, SpeakerUUID: "3c37646f-3881-5374-2a83-149267990abc",
		StyleID: 0, Name: "つくよみちゃん", StyleName: "れいせい",
	}
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newSyncedClient(t *testing.T, cfg BackendConfig) (*Client, *mock.Provider, *mock.Provider) {
	t.Helper()
	vv := &mock.Provider{Gen: tts.GeneratorVOICEVOX, Speakers: []tts.Speaker{zundamon}}
	co := &mock.Provider{Gen: tts.GeneratorCOEIROINK, Speakers: []tts.Speaker{tsukuyomi}}
	c := New(storage.NewMemStore(storage.StandardDefaults),
		WithBackend(vv, cfg),
		WithBackend(co, cfg),
		WithMetrics(testMetrics(t)),
	)
	if err := c.SyncCatalog(context.Background()); err != nil {
		t.Fatalf("SyncCatalog: %v", err)
	}
	return c, vv, co
}

func TestSynthesize_RoutesByGenerator(t *testing.T) {
	t.Parallel()

	c, vv, co := newSyncedClient(t, BackendConfig{SpeedScale: 1.2})
	ctx := context.Background()

	clip, err := c.Synthesize(ctx, "こんにちは", tts.GeneratorCOEIROINK, 0)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(clip.PCM) != "こんにちは" {
		t.Errorf("PCM = %q", clip.PCM)
	}
	if got := len(vv.Calls()); got != 0 {
		t.Errorf("VOICEVOX calls = %d, want 0", got)
	}
	calls := co.Calls()
	if len(calls) != 1 {
		t.Fatalf("COEIROINK calls = %d, want 1", len(calls))
	}
	req := calls[0].Request
	if req.Speaker.SpeakerUUID != tsukuyomi.SpeakerUUID {
		t.Errorf("SpeakerUUID = %q, want catalogue uuid", req.Speaker.SpeakerUUID)
	}
	if req.SpeedScale != 1.2 {
		t.Errorf("SpeedScale = %v, want 1.2", req.SpeedScale)
	}
}

func TestSynthesize_ValidationFailsFast(t *testing.T) {
	t.Parallel()

	c, vv, co := newSyncedClient(t, BackendConfig{})
	ctx := context.Background()

	tests := []struct {
		name  string
		gen   tts.Generator
		style int64
		want  error
	}{
		{"unknown style", tts.GeneratorVOICEVOX, 999, ErrUnknownSpeaker},
		{"style of other generator", tts.GeneratorCOEIROINK, 3, ErrUnknownSpeaker},
		{"unknown generator", tts.Generator(7), 1, tts.ErrUnknownGenerator},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Synthesize(ctx, "x", tc.gen, tc.style)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
	var use *UnknownSpeakerError
	_, err := c.Synthesize(ctx, "x", tts.GeneratorVOICEVOX, 42)
	if !errors.As(err, &use) || use.Style != 42 || use.Generator != tts.GeneratorVOICEVOX {
		t.Errorf("err = %#v, want *UnknownSpeakerError{VOICEVOX, 42}", err)
	}
	if n := len(vv.Calls()) + len(co.Calls()); n != 0 {
		t.Errorf("backend calls = %d, want 0", n)
	}
}

func TestSynthesize_UnconfiguredBackend(t *testing.T) {
	t.Parallel()

	vv := &mock.Provider{Gen: tts.GeneratorVOICEVOX}
	c := New(storage.NewMemStore(storage.StandardDefaults), WithBackend(vv, BackendConfig{}), WithMetrics(testMetrics(t)))
	_, err := c.Synthesize(context.Background(), "x", tts.GeneratorCOEIROINK, 0)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}
	if got := c.Generators(); len(got) != 1 || got[0] != tts.GeneratorVOICEVOX {
		t.Errorf("Generators = %v, want [VOICEVOX]", got)
	}
}

func TestSynthesize_BreakerIsolatesFailingBackend(t *testing.T) {
	t.Parallel()

	c, vv, _ := newSyncedClient(t, BackendConfig{
		Breaker: resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	vv.SynthesizeErr = &tts.BackendError{Generator: tts.GeneratorVOICEVOX, Op: "synthesis", StatusCode: 503}
	ctx := context.Background()

	for range 2 {
		var be *tts.BackendError
		if _, err := c.Synthesize(ctx, "x", tts.GeneratorVOICEVOX, 3); !errors.As(err, &be) {
			t.Fatalf("err = %v, want *tts.BackendError", err)
		}
	}
	if _, err := c.Synthesize(ctx, "x", tts.GeneratorVOICEVOX, 3); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}
	if got := len(vv.Calls()); got != 2 {
		t.Errorf("VOICEVOX calls = %d, want 2", got)
	}
	if st, _ := c.BreakerState(tts.GeneratorVOICEVOX); st != resilience.StateOpen {
		t.Errorf("breaker = %v, want open", st)
	}

	if _, err := c.Synthesize(ctx, "x", tts.GeneratorCOEIROINK, 0); err != nil {
		t.Errorf("COEIROINK affected by VOICEVOX breaker: %v", err)
	}
}

func TestSynthesize_ClientErrorsDoNotTrip(t *testing.T) {
	t.Parallel()

	c, vv, _ := newSyncedClient(t, BackendConfig{
		Breaker: resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	vv.SynthesizeErr = &tts.BackendError{Generator: tts.GeneratorVOICEVOX, Op: "audio_query", StatusCode: 422}

	for range 3 {
		_, _ = c.Synthesize(context.Background(), "x", tts.GeneratorVOICEVOX, 3)
	}
	if st, _ := c.BreakerState(tts.GeneratorVOICEVOX); st != resilience.StateClosed {
		t.Errorf("breaker = %v, want closed", st)
	}
	if got := len(vv.Calls()); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestSynthesize_RateLimitHonoursContext(t *testing.T) {
	t.Parallel()

	c, vv, _ := newSyncedClient(t, BackendConfig{RateLimit: 0.001, Burst: 1})
	ctx := context.Background()
	if _, err := c.Synthesize(ctx, "first", tts.GeneratorVOICEVOX, 3); err != nil {
		t.Fatalf("first: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := c.Synthesize(ctx, "second", tts.GeneratorVOICEVOX, 3); err == nil {
		t.Fatal("second call was not rate limited")
	}
	if got := len(vv.Calls()); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestSyncCatalog_PartialFailure(t *testing.T) {
	t.Parallel()

	store := storage.NewMemStore(storage.StandardDefaults)
	vv := &mock.Provider{Gen: tts.GeneratorVOICEVOX, Speakers: []tts.Speaker{zundamon}}
	co := &mock.Provider{Gen: tts.GeneratorCOEIROINK, ListSpeakersErr: errors.New("connection refused")}
	c := New(store, WithBackend(vv, BackendConfig{}), WithBackend(co, BackendConfig{}), WithMetrics(testMetrics(t)))

	if err := c.SyncCatalog(context.Background()); err == nil {
		t.Fatal("SyncCatalog succeeded with a failing backend")
	}
	rows, err := store.Speakers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].StyleID != 3 {
		t.Errorf("stored = %+v, want only the VOICEVOX speaker", rows)
	}
	if _, err := c.Synthesize(context.Background(), "x", tts.GeneratorVOICEVOX, 3); err != nil {
		t.Errorf("synthesis after partial sync: %v", err)
	}
	got, err := c.Speakers(context.Background(), tts.GeneratorVOICEVOX)
	if err != nil || len(got) != 1 {
		t.Errorf("Speakers = %v, %v", got, err)
	}
}

// countingCatalog counts snapshot loads.
type countingCatalog struct {
	*storage.MemStore
	mu    sync.Mutex
	loads int
}

func (c *countingCatalog) Speakers(ctx context.Context) ([]storage.Speaker, error) {
	c.mu.Lock()
	c.loads++
	c.mu.Unlock()
	return c.MemStore.Speakers(ctx)
}

func (c *countingCatalog) Loads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

func TestLookup_ReloadsOnlyWhenStale(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cat := &countingCatalog{MemStore: storage.NewMemStore(storage.StandardDefaults)}
	_ = cat.ReplaceSpeakers(ctx, tts.GeneratorVOICEVOX, []tts.Speaker{zundamon})

	now := time.Unix(1_700_000_000, 0)
	c := New(cat, WithBackend(&mock.Provider{Gen: tts.GeneratorVOICEVOX}, BackendConfig{}),
		WithMetrics(testMetrics(t)), WithCatalogTTL(time.Minute))
	c.now = func() time.Time { return now }

	if _, err := c.Synthesize(ctx, "x", tts.GeneratorVOICEVOX, 3); err != nil {
		t.Fatal(err)
	}
	if cat.Loads() != 1 {
		t.Fatalf("loads = %d, want 1", cat.Loads())
	}

	// A style added behind the client's back is unknown until the snapshot expires.
	extra := zundamon
	extra.StyleID = 1
	_ = cat.ReplaceSpeakers(ctx, tts.GeneratorVOICEVOX, []tts.Speaker{zundamon, extra})
	if _, err := c.Synthesize(ctx, "x", tts.GeneratorVOICEVOX, 1); !errors.Is(err, ErrUnknownSpeaker) {
		t.Fatalf("err = %v, want ErrUnknownSpeaker while snapshot is fresh", err)
	}
	if cat.Loads() != 1 {
		t.Errorf("loads = %d, want 1", cat.Loads())
	}

	now = now.Add(time.Minute)
	if _, err := c.Synthesize(ctx, "x", tts.GeneratorVOICEVOX, 1); err != nil {
		t.Fatalf("after expiry: %v", err)
	}
	if cat.Loads() != 2 {
		t.Errorf("loads = %d, want 2", cat.Loads())
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&tts.BackendError{Op: "synthesis", Err: context.DeadlineExceeded}, "timeout"},
		{&tts.BackendError{Op: "synthesis", Err: errors.New("dial tcp: refused")}, "transport"},
		{&tts.BackendError{Op: "synthesis", StatusCode: 500}, "status"},
		{errors.New("boom"), "other"},
	}
	for _, tc := range tests {
		if got := errorKind(tc.err); got != tc.want {
			t.Errorf("errorKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestSynthesize_SpanCarriesUtterance(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	c, _, _ := newSyncedClient(t, BackendConfig{})
	ctx := observe.WithUtterance(context.Background(), observe.Utterance{GuildID: "g-span", RequestID: "req-span"})
	if _, err := c.Synthesize(ctx, "こんにちは", tts.GeneratorVOICEVOX, 3); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	var found bool
	for _, s := range exp.GetSpans() {
		if s.Name != "synth.synthesize" {
			continue
		}
		attrs := map[string]string{}
		for _, kv := range s.Attributes {
			attrs[string(kv.Key)] = kv.Value.Emit()
		}
		if attrs["guild_id"] != "g-span" {
			continue
		}
		found = true
		if attrs["request_id"] != "req-span" || attrs["generator"] != "VOICEVOX" || attrs["style_id"] != "3" {
			t.Errorf("span attributes = %v", attrs)
		}
	}
	if !found {
		t.Error("no synth.synthesize span tagged with the utterance")
	}
}
