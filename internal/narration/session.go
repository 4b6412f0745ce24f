package narration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/yomiage/internal/observe"
	"github.com/MrWong99/yomiage/internal/storage"
	"github.com/MrWong99/yomiage/pkg/audio"
)

var (
	// ErrSessionClosed is returned when enqueueing into a removed session.
	ErrSessionClosed = errors.New("narration: session closed")

	// ErrNoSink is returned when a session has no voice connection to play into.
	ErrNoSink = errors.New("narration: no voice sink attached")

	// ErrNoSession is returned by Registry.Enqueue for an unknown guild.
	ErrNoSession = errors.New("narration: no session for guild")
)

// Session is the narration state of one guild. All exported methods are safe
// for concurrent use.
type Session struct {
	guildID  string
	pipeline *Pipeline
	capacity int

	mu          sync.Mutex
	readChannel string
	sink        audio.Sink
	queue       []Request
	playing     bool
	closed      bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// onDrop observes each evicted request. Set by the registry.
	onDrop func(Request)
}

func newSession(guildID string, p *Pipeline, capacity int) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		guildID:  guildID,
		pipeline: p,
		capacity: capacity,
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// GuildID returns the guild this session belongs to.
func (s *Session) GuildID() string { return s.guildID }

// ReadChannel returns the narrated text channel, or "" when none is set.
func (s *Session) ReadChannel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readChannel
}

// SetReadChannel sets the narrated text channel. "" disables message narration.
func (s *Session) SetReadChannel(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readChannel = channelID
}

// Sink returns the attached voice sink, or nil.
func (s *Session) Sink() audio.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink
}

// VoiceChannel returns the voice channel of the attached sink, or "".
func (s *Session) VoiceChannel() string {
	if sink := s.Sink(); sink != nil {
		return sink.ChannelID()
	}
	return ""
}

// Attach installs sink as the session's voice output. A previously attached
// sink is closed.
func (s *Session) Attach(sink audio.Sink) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	prev := s.sink
	s.sink = sink
	s.mu.Unlock()

	if prev != nil && prev != sink {
		return prev.Close()
	}
	return nil
}

// Pending returns the number of queued, not yet started requests.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Playing reports whether the worker is processing a request right now.
func (s *Session) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Done is closed once the worker goroutine has exited after removal.
func (s *Session) Done() <-chan struct{} { return s.done }

// Enqueue appends req without blocking. When the queue is full the oldest
// pending request is dropped to make room.
func (s *Session) Enqueue(req Request) error {
	req.ensureID()
	if req.GuildID == "" {
		req.GuildID = s.guildID
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.sink == nil {
		s.mu.Unlock()
		return ErrNoSink
	}
	var dropped *Request
	if s.capacity > 0 && len(s.queue) >= s.capacity {
		d := s.queue[0]
		dropped = &d
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, req)
	s.mu.Unlock()

	if dropped != nil && s.onDrop != nil {
		s.onDrop(*dropped)
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// close stops the worker, drops every pending request and releases the sink.
// It returns the discarded requests. Safe to call more than once.
func (s *Session) close() ([]Request, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil
	}
	s.closed = true
	discarded := s.queue
	s.queue = nil
	sink := s.sink
	s.sink = nil
	s.mu.Unlock()

	s.cancel()
	if sink != nil {
		return discarded, sink.Close()
	}
	return discarded, nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// next pops the head of the queue and marks the session as playing.
func (s *Session) next() (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return Request{}, false
	}
	req := s.queue[0]
	s.queue[0] = Request{}
	s.queue = s.queue[1:]
	s.playing = true
	return req, true
}

func (s *Session) finish() {
	s.mu.Lock()
	s.playing = false
	s.mu.Unlock()
}

// run is the session's single worker loop.
func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}
		for {
			req, ok := s.next()
			if !ok {
				break
			}
			s.process(req)
			s.finish()
		}
	}
}

// process runs one request through normalisation, resolution, synthesis and
// playback. Every failure is logged and contained to this request.
func (s *Session) process(req Request) {
	m := s.pipeline.metrics()
	ctx := observe.WithUtterance(s.ctx, observe.Utterance{
		GuildID:   req.GuildID,
		RequestID: req.ID,
		Kind:      string(req.Kind),
	})
	ctx, span := observe.StartSpan(ctx, "narration.utterance")
	defer span.End()
	log := observe.Logger(ctx)

	status := observe.StatusPlayed
	defer func() { m.RecordUtterance(ctx, string(req.Kind), status) }()

	if !req.Speak {
		status = observe.StatusSkipped
		return
	}

	var cfg *storage.UserConfig
	if req.UserID != "" && s.pipeline.Store != nil {
		c, err := s.pipeline.Store.UserConfigOrDefault(ctx, req.UserID)
		if err != nil {
			log.Warn("narration: user config unavailable, using default voice", "user_id", req.UserID, "err", err)
		} else {
			cfg = &c
		}
	}

	text := req.Text
	if req.Normalize && s.pipeline.Normalizer != nil {
		var dict []storage.DictEntry
		if s.pipeline.Store != nil {
			d, err := s.pipeline.Store.Dict(ctx)
			if err != nil {
				log.Warn("narration: dictionary unavailable, normalising without it", "err", err)
			}
			dict = d
		}
		text = s.pipeline.Normalizer.Normalize(text, dictEntries(dict))
	}
	if strings.TrimSpace(text) == "" {
		status = observe.StatusSkipped
		return
	}

	voice := Resolve(req.Override, cfg, s.pipeline.DefaultVoice)

	// The synthesis call is not bound to the session: if the session is
	// removed meanwhile, the call finishes and its result is discarded.
	clip, err := s.pipeline.Synth.Synthesize(context.WithoutCancel(ctx), text, voice.Generator, voice.Style)
	if err != nil {
		status = observe.StatusFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		log.Warn("narration: synthesis failed, skipping utterance",
			"generator", voice.Generator.String(), "style_id", voice.Style, "err", err)
		return
	}
	defer clip.Release()

	if s.isClosed() {
		status = observe.StatusDiscarded
		log.Debug("narration: session removed during synthesis, discarding clip")
		return
	}
	sink := s.Sink()
	if sink == nil {
		status = observe.StatusFailed
		log.Warn("narration: no sink to play into", "err", ErrNoSink)
		return
	}

	start := time.Now()
	err = sink.Play(ctx, audio.Clip{PCM: clip.PCM, SampleRate: clip.SampleRate, Channels: clip.Channels})
	m.PlaybackDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("kind", string(req.Kind))))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, audio.ErrSinkClosed) {
			status = observe.StatusDiscarded
			return
		}
		status = observe.StatusFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, "playback failed")
		log.Warn("narration: playback failed", "err", err)
		return
	}
	log.Debug("narration: utterance played", "chars", len([]rune(text)), "audio", clip.Duration())
}
