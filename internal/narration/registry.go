package narration

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/yomiage/internal/observe"
	"github.com/MrWong99/yomiage/pkg/audio"
)

// DefaultQueueSize bounds each guild's pending queue.
const DefaultQueueSize = 32

// Option configures a Registry.
type Option func(*Registry)

// WithQueueSize sets the per-guild queue capacity. Values below 1 are ignored.
func WithQueueSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// Registry maps guild ids to sessions. It is the only owner of sessions.
// Safe for concurrent use; the registry lock guards only the map and is never
// held across network or playback calls.
type Registry struct {
	pipeline  *Pipeline
	queueSize int

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry whose sessions use p.
func NewRegistry(p *Pipeline, opts ...Option) *Registry {
	r := &Registry{
		pipeline:  p,
		queueSize: DefaultQueueSize,
		sessions:  make(map[string]*Session),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// GetOrCreate returns the session for guildID, starting one if needed.
func (r *Registry) GetOrCreate(guildID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[guildID]; ok {
		return s
	}
	s := newSession(guildID, r.pipeline, r.queueSize)
	s.onDrop = func(req Request) {
		r.pipeline.metrics().QueueDropped.Add(context.Background(), 1)
		slog.Warn("narration: queue full, dropped oldest request",
			"guild_id", guildID, "request_id", req.ID, "kind", string(req.Kind))
	}
	r.sessions[guildID] = s
	r.pipeline.metrics().ActiveSessions.Add(context.Background(), 1)
	return s
}

// Get returns the session for guildID if one exists.
func (r *Registry) Get(guildID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[guildID]
	return s, ok
}

// Remove tears down guildID's session: pending requests are discarded, the
// worker is cancelled and the voice sink is closed before Remove returns.
// Removing an absent guild is a no-op.
func (r *Registry) Remove(guildID string) error {
	r.mu.Lock()
	s, ok := r.sessions[guildID]
	if ok {
		delete(r.sessions, guildID)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	m := r.pipeline.metrics()
	m.ActiveSessions.Add(context.Background(), -1)
	discarded, err := s.close()
	for _, req := range discarded {
		m.RecordUtterance(context.Background(), string(req.Kind), observe.StatusDiscarded)
	}
	slog.Info("narration: session removed", "guild_id", guildID, "discarded", len(discarded))
	return err
}

// SetReadChannel sets the narrated text channel of guildID, creating the
// session if needed. channelID "" clears it.
func (r *Registry) SetReadChannel(guildID, channelID string) {
	r.GetOrCreate(guildID).SetReadChannel(channelID)
}

// Attach installs sink on guildID's session, creating it if needed.
func (r *Registry) Attach(guildID string, sink audio.Sink) (*Session, error) {
	s := r.GetOrCreate(guildID)
	if err := s.Attach(sink); err != nil {
		return nil, err
	}
	return s, nil
}

// Enqueue queues req on its guild's session.
func (r *Registry) Enqueue(req Request) error {
	s, ok := r.Get(req.GuildID)
	if !ok {
		return ErrNoSession
	}
	return s.Enqueue(req)
}

// Guilds returns the ids of all live sessions.
func (r *Registry) Guilds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close removes every session.
func (r *Registry) Close() error {
	var first error
	for _, id := range r.Guilds() {
		if err := r.Remove(id); err != nil && first == nil {
			first = err
		}
	}
	return first
}
