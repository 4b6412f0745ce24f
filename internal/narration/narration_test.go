package narration

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/yomiage/internal/observe"
	"github.com/MrWong99/yomiage/internal/storage"
	"github.com/MrWong99/yomiage/internal/textnorm"
	audiomock "github.com/MrWong99/yomiage/pkg/audio/mock"
	"github.com/MrWong99/yomiage/pkg/provider/tts"
	ttsmock "github.com/MrWong99/yomiage/pkg/provider/tts/mock"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

// fakeSynth adapts a tts mock to the Synthesizer interface and adds gates
// that hold a request until the test releases it.
type fakeSynth struct {
	backend *ttsmock.Provider

	mu    sync.Mutex
	gates map[string]chan struct{}
	voice []Voice
}

func newFakeSynth() *fakeSynth {
	return &fakeSynth{backend: &ttsmock.Provider{}, gates: make(map[string]chan struct{})}
}

func (f *fakeSynth) gate(text string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[text] = ch
	return ch
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string, gen tts.Generator, style int64) (*tts.Audio, error) {
	f.mu.Lock()
	g := f.gates[text]
	f.voice = append(f.voice, Voice{Generator: gen, Style: style})
	f.mu.Unlock()
	if g != nil {
		<-g
	}
	return f.backend.Synthesize(ctx, tts.Request{
		Text:    text,
		Speaker: tts.Speaker{Generator: gen, StyleID: style},
	})
}

func (f *fakeSynth) voices() []Voice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Voice(nil), f.voice...)
}

func newTestPipeline(t *testing.T, synth Synthesizer) (*Pipeline, *storage.MemStore) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	store := storage.NewMemStore(storage.StandardDefaults)
	return &Pipeline{
		Store:        store,
		Normalizer:   textnorm.New(textnorm.DefaultOptions()),
		Synth:        synth,
		DefaultVoice: Voice{Generator: tts.GeneratorVOICEVOX, Style: 1},
		Metrics:      m,
	}, store
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func speak(guild, text string) Request {
	return Request{GuildID: guild, Text: text, Speak: true, Kind: KindMessage}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ─── Resolve ─────────────────────────────────────────────────────────────────

func TestResolve(t *testing.T) {
	t.Parallel()

	def := Voice{Generator: tts.GeneratorVOICEVOX, Style: 1}
	cfg := &storage.UserConfig{GeneratorType: tts.GeneratorCOEIROINK, VoiceType: 7}
	override := &Voice{Generator: tts.GeneratorVOICEVOX, Style: 42}

	tests := []struct {
		name     string
		override *Voice
		cfg      *storage.UserConfig
		want     Voice
	}{
		{"override wins", override, cfg, *override},
		{"user config", nil, cfg, Voice{tts.GeneratorCOEIROINK, 7}},
		{"default", nil, nil, def},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Resolve(tc.override, tc.cfg, def); got != tc.want {
				t.Errorf("Resolve = %+v, want %+v", got, tc.want)
			}
		})
	}
}

// ─── Playback sequencer ──────────────────────────────────────────────────────

func TestSession_OrderPreservedUnderVariableLatency(t *testing.T) {
	t.Parallel()

	synth := newFakeSynth()
	synth.backend.Delay = func(string) time.Duration {
		return time.Duration(rand.IntN(5)) * time.Millisecond
	}
	p, _ := newTestPipeline(t, synth)
	reg := NewRegistry(p, WithQueueSize(100))
	t.Cleanup(func() { _ = reg.Close() })

	sink := &audiomock.Sink{Channel: "vc"}
	if _, err := reg.Attach("g1", sink); err != nil {
		t.Fatal(err)
	}

	var want []string
	for i := range 30 {
		text := fmt.Sprintf("r%02d", i)
		want = append(want, text)
		if err := reg.Enqueue(speak("g1", text)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	waitFor(t, "all clips played", func() bool { return len(sink.PlayedTexts()) == len(want) })
	if got := sink.PlayedTexts(); !equalStrings(got, want) {
		t.Errorf("played order = %v, want %v", got, want)
	}
}

func TestSession_AtMostOnePlaybackUnderConcurrentEnqueue(t *testing.T) {
	t.Parallel()

	synth := newFakeSynth()
	synth.backend.Delay = func(string) time.Duration { return time.Duration(rand.IntN(2)) * time.Millisecond }
	p, _ := newTestPipeline(t, synth)
	reg := NewRegistry(p, WithQueueSize(1000))
	t.Cleanup(func() { _ = reg.Close() })

	sink := &audiomock.Sink{Channel: "vc", PlayDelay: time.Millisecond}
	if _, err := reg.Attach("g1", sink); err != nil {
		t.Fatal(err)
	}

	const producers, each = 8, 10
	var wg sync.WaitGroup
	for prod := range producers {
		wg.Go(func() {
			for i := range each {
				_ = reg.Enqueue(speak("g1", fmt.Sprintf("p%d-%d", prod, i)))
			}
		})
	}
	wg.Wait()

	waitFor(t, "all clips played", func() bool { return len(sink.PlayedTexts()) == producers*each })
	if got := sink.MaxConcurrent(); got != 1 {
		t.Errorf("max concurrent plays = %d, want 1", got)
	}

	// Per producer, arrival order is preserved.
	last := make(map[string]int)
	for _, text := range sink.PlayedTexts() {
		var prod, idx int
		_, _ = fmt.Sscanf(text, "p%d-%d", &prod, &idx)
		key := fmt.Sprint(prod)
		if prev, ok := last[key]; ok && idx < prev {
			t.Errorf("producer %d played %d after %d", prod, idx, prev)
		}
		last[key] = idx
	}
}

func TestSession_FailedSynthesisIsSkipped(t *testing.T) {
	t.Parallel()

	synth := newFakeSynth()
	synth.backend.Errors = map[string]error{
		"two": &tts.BackendError{Generator: tts.GeneratorVOICEVOX, Op: "synthesis", StatusCode: 500},
	}
	p, _ := newTestPipeline(t, synth)
	reg := NewRegistry(p)
	t.Cleanup(func() { _ = reg.Close() })

	sink := &audiomock.Sink{Channel: "vc"}
	_, _ = reg.Attach("g1", sink)
	for _, text := range []string{"one", "two", "three"} {
		if err := reg.Enqueue(speak("g1", text)); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, "three synth calls", func() bool { return len(synth.backend.Calls()) == 3 })
	waitFor(t, "two clips played", func() bool { return len(sink.PlayedTexts()) == 2 })
	if got := sink.PlayedTexts(); !equalStrings(got, []string{"one", "three"}) {
		t.Errorf("played = %v, want [one three]", got)
	}
}

func TestSession_PlaybackFailureDoesNotStall(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, newFakeSynth())
	reg := NewRegistry(p)
	t.Cleanup(func() { _ = reg.Close() })

	sink := &audiomock.Sink{Channel: "vc", PlayErr: errors.New("udp hiccup")}
	_, _ = reg.Attach("g1", sink)
	_ = reg.Enqueue(speak("g1", "a"))
	_ = reg.Enqueue(speak("g1", "b"))

	waitFor(t, "both attempted", func() bool { return len(sink.PlayedTexts()) == 2 })
}

func TestSession_QueueOverflowDropsOldest(t *testing.T) {
	t.Parallel()

	synth := newFakeSynth()
	release := synth.gate("block")
	p, _ := newTestPipeline(t, synth)
	reg := NewRegistry(p, WithQueueSize(2))
	t.Cleanup(func() { _ = reg.Close() })

	sink := &audiomock.Sink{Channel: "vc"}
	s, _ := reg.Attach("g1", sink)

	_ = reg.Enqueue(speak("g1", "block"))
	waitFor(t, "worker busy", s.Playing)

	for _, text := range []string{"a", "b", "c"} {
		if err := reg.Enqueue(speak("g1", text)); err != nil {
			t.Fatalf("Enqueue(%s): %v", text, err)
		}
	}
	if got := s.Pending(); got != 2 {
		t.Errorf("Pending = %d, want 2", got)
	}
	close(release)

	waitFor(t, "remaining played", func() bool { return len(sink.PlayedTexts()) == 3 })
	if got := sink.PlayedTexts(); !equalStrings(got, []string{"block", "b", "c"}) {
		t.Errorf("played = %v, want [block b c]", got)
	}
}

func TestSession_NormalizationAndVoice(t *testing.T) {
	t.Parallel()

	synth := newFakeSynth()
	p, store := newTestPipeline(t, synth)
	ctx := context.Background()
	_ = store.AddDictEntry(ctx, storage.DictEntry{Word: "ROI", Read: "アールオーアイ"})
	_ = store.UpdateUserConfig(ctx, storage.UserConfig{
		UserID: "u1", GeneratorType: tts.GeneratorCOEIROINK, VoiceType: 9,
	})

	reg := NewRegistry(p)
	t.Cleanup(func() { _ = reg.Close() })
	sink := &audiomock.Sink{Channel: "vc"}
	_, _ = reg.Attach("g1", sink)

	_ = reg.Enqueue(Request{GuildID: "g1", UserID: "u1", Text: "ROIが上がった", Normalize: true, Speak: true})
	_ = reg.Enqueue(Request{GuildID: "g1", UserID: "u1", Text: "ROI", Speak: true,
		Override: &Voice{Generator: tts.GeneratorVOICEVOX, Style: 3}})
	_ = reg.Enqueue(Request{GuildID: "g1", Text: "notice", Speak: true})
	_ = reg.Enqueue(Request{GuildID: "g1", Text: "text only", Speak: false})
	_ = reg.Enqueue(Request{GuildID: "g1", Text: "<@123>", Normalize: true, Speak: true})
	_ = reg.Enqueue(Request{GuildID: "g1", Text: "end", Speak: true})

	waitFor(t, "end played", func() bool { return len(sink.PlayedTexts()) == 4 })
	want := []string{"アールオーアイが上がった", "ROI", "notice", "end"}
	if got := sink.PlayedTexts(); !equalStrings(got, want) {
		t.Errorf("played = %v, want %v", got, want)
	}
	voices := synth.voices()
	wantVoices := []Voice{
		{tts.GeneratorCOEIROINK, 9},
		{tts.GeneratorVOICEVOX, 3},
		{tts.GeneratorVOICEVOX, 1},
		{tts.GeneratorVOICEVOX, 1},
	}
	if len(voices) != len(wantVoices) {
		t.Fatalf("synth calls = %v, want %v", voices, wantVoices)
	}
	for i := range wantVoices {
		if voices[i] != wantVoices[i] {
			t.Errorf("voice[%d] = %+v, want %+v", i, voices[i], wantVoices[i])
		}
	}
}

// ─── Registry lifecycle ──────────────────────────────────────────────────────

func TestRegistry_RemoveDrainsQueueAndReleasesSink(t *testing.T) {
	t.Parallel()

	synth := newFakeSynth()
	p, _ := newTestPipeline(t, synth)
	reg := NewRegistry(p)

	sink := &audiomock.Sink{Channel: "vc", PlayDelay: time.Hour}
	s, _ := reg.Attach("g1", sink)
	for i := range 5 {
		_ = reg.Enqueue(speak("g1", fmt.Sprint(i)))
	}
	waitFor(t, "first clip playing", func() bool { return len(sink.PlayedTexts()) == 1 })

	if err := reg.Remove("g1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !sink.Closed() {
		t.Error("sink not closed by Remove")
	}
	if got := s.Pending(); got != 0 {
		t.Errorf("Pending after Remove = %d, want 0", got)
	}
	if _, ok := reg.Get("g1"); ok {
		t.Error("session still registered")
	}

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after Remove")
	}
	if got := len(sink.PlayedTexts()); got != 1 {
		t.Errorf("played %d clips, want only the in-flight one", got)
	}
	if err := s.Enqueue(speak("g1", "late")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Enqueue after Remove = %v, want ErrSessionClosed", err)
	}
}

func TestRegistry_RemoveDuringSynthesisDiscardsResult(t *testing.T) {
	t.Parallel()

	synth := newFakeSynth()
	release := synth.gate("slow")
	p, _ := newTestPipeline(t, synth)
	reg := NewRegistry(p)

	sink := &audiomock.Sink{Channel: "vc"}
	s, _ := reg.Attach("g1", sink)
	_ = reg.Enqueue(speak("g1", "slow"))
	waitFor(t, "synthesis started", func() bool { return len(synth.voices()) == 1 })

	_ = reg.Remove("g1")
	close(release)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not exit")
	}
	if got := sink.PlayedTexts(); len(got) != 0 {
		t.Errorf("played %v after removal, want nothing", got)
	}
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, newFakeSynth())
	reg := NewRegistry(p)
	if err := reg.Remove("absent"); err != nil {
		t.Errorf("Remove(absent) = %v", err)
	}
	sink := &audiomock.Sink{Channel: "vc"}
	_, _ = reg.Attach("g1", sink)
	_ = reg.Remove("g1")
	if err := reg.Remove("g1"); err != nil {
		t.Errorf("second Remove = %v", err)
	}
	if sink.CallCountClose != 1 {
		t.Errorf("sink closed %d times, want 1", sink.CallCountClose)
	}
}

func TestRegistry_EnqueueErrors(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, newFakeSynth())
	reg := NewRegistry(p)
	t.Cleanup(func() { _ = reg.Close() })

	if err := reg.Enqueue(speak("nope", "x")); !errors.Is(err, ErrNoSession) {
		t.Errorf("unknown guild: err = %v, want ErrNoSession", err)
	}
	reg.SetReadChannel("g1", "text-1")
	if err := reg.Enqueue(speak("g1", "x")); !errors.Is(err, ErrNoSink) {
		t.Errorf("no sink: err = %v, want ErrNoSink", err)
	}
	s, _ := reg.Get("g1")
	if s.ReadChannel() != "text-1" {
		t.Errorf("ReadChannel = %q", s.ReadChannel())
	}
}

func TestRegistry_AttachReplacesSink(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, newFakeSynth())
	reg := NewRegistry(p)
	t.Cleanup(func() { _ = reg.Close() })

	first := &audiomock.Sink{Channel: "vc-1"}
	second := &audiomock.Sink{Channel: "vc-2"}
	_, _ = reg.Attach("g1", first)
	s, _ := reg.Attach("g1", second)
	if !first.Closed() {
		t.Error("previous sink not closed")
	}
	if s.VoiceChannel() != "vc-2" {
		t.Errorf("VoiceChannel = %q, want vc-2", s.VoiceChannel())
	}
}

func TestRegistry_AttachSameSinkKeepsIt(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, newFakeSynth())
	reg := NewRegistry(p)
	t.Cleanup(func() { _ = reg.Close() })

	sink := &audiomock.Sink{Channel: "vc-1"}
	_, _ = reg.Attach("g1", sink)
	if err := sink.Move(context.Background(), "vc-2"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	s, err := reg.Attach("g1", sink)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if sink.Closed() {
		t.Error("re-attaching the live sink closed it")
	}
	if s.VoiceChannel() != "vc-2" {
		t.Errorf("VoiceChannel = %q, want vc-2", s.VoiceChannel())
	}
}

func TestRegistry_GuildsAreIndependent(t *testing.T) {
	t.Parallel()

	synth := newFakeSynth()
	release := synth.gate("stuck")
	p, _ := newTestPipeline(t, synth)
	reg := NewRegistry(p)
	t.Cleanup(func() {
		close(release)
		_ = reg.Close()
	})

	stuck := &audiomock.Sink{Channel: "vc"}
	free := &audiomock.Sink{Channel: "vc"}
	_, _ = reg.Attach("g1", stuck)
	_, _ = reg.Attach("g2", free)

	_ = reg.Enqueue(speak("g1", "stuck"))
	_ = reg.Enqueue(speak("g2", "hello"))

	waitFor(t, "other guild played", func() bool { return len(free.PlayedTexts()) == 1 })
	if reg.Len() != 2 {
		t.Errorf("Len = %d, want 2", reg.Len())
	}
}
