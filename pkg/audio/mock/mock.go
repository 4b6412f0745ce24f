// Package mock provides in-memory implementations of [audio.Transport] and
// [audio.Sink] for unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on ordering and concurrency, and expose fields that control return
// values.
//
// Typical usage:
//
//	sink := &mock.Sink{Channel: "vc-1", PlayDelay: 5 * time.Millisecond}
//	transport := &mock.Transport{Sink: sink}
//	s, _ := transport.Join(ctx, "guild-1", "vc-1")
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/yomiage/pkg/audio"
)

var (
	_ audio.Transport = (*Transport)(nil)
	_ audio.Sink      = (*Sink)(nil)
)

// ─── Conn ────────────────────────────────────────────────────────────────────

// Conn stands for a platform voice connection that several sinks can wrap.
// Closing any sink over a Conn disconnects it for all of them.
type Conn struct {
	mu          sync.Mutex
	disconnects int
}

func (c *Conn) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
}

// Disconnected reports whether any sink over c has been closed.
func (c *Conn) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects > 0
}

// ─── Sink ────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// Channel is returned by ChannelID.
	Channel string

	// PlayDelay, if positive, is how long each Play call blocks.
	PlayDelay time.Duration

	// PlayErr, if non-nil, is returned by Play after recording the clip.
	PlayErr error

	// CloseErr is returned by the first Close call.
	CloseErr error

	// MoveErr, if non-nil, is returned by Move.
	MoveErr error

	// Conn, if non-nil, is the connection this sink wraps. Close disconnects it.
	Conn *Conn

	// Moves records every channel passed to a successful Move, in order.
	Moves []string

	// Played records every clip handed to Play while unmuted, in order.
	Played []audio.Clip

	// CallCountClose counts Close calls.
	CallCountClose int

	// MaxConcurrentPlays is the highest number of overlapping Play calls seen.
	MaxConcurrentPlays int

	inFlight int
	muted    bool
	closed   bool
}

// ChannelID implements audio.Sink.
func (s *Sink) ChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Channel
}

// Play implements audio.Sink.
func (s *Sink) Play(ctx context.Context, clip audio.Clip) error {
	s.mu.Lock()
	if s.closedLocked() {
		s.mu.Unlock()
		return audio.ErrSinkClosed
	}
	s.inFlight++
	if s.inFlight > s.MaxConcurrentPlays {
		s.MaxConcurrentPlays = s.inFlight
	}
	if !s.muted {
		s.Played = append(s.Played, clip)
	}
	delay, err := s.PlayDelay, s.PlayErr
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// SetMuted implements audio.Sink.
func (s *Sink) SetMuted(muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
	return nil
}

// Muted implements audio.Sink.
func (s *Sink) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Move implements audio.Sink.
func (s *Sink) Move(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedLocked() {
		return audio.ErrSinkClosed
	}
	if s.MoveErr != nil {
		return s.MoveErr
	}
	s.Moves = append(s.Moves, channelID)
	s.Channel = channelID
	return nil
}

// Close implements audio.Sink.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.closed {
		return nil
	}
	s.closed = true
	if s.Conn != nil {
		s.Conn.disconnect()
	}
	return s.CloseErr
}

// Closed reports whether Close has been called on s, or its Conn has been
// disconnected through another sink.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedLocked()
}

func (s *Sink) closedLocked() bool {
	return s.closed || (s.Conn != nil && s.Conn.Disconnected())
}

// PlayedTexts returns the PCM payload of every played clip as a string. Pairs
// with tts/mock, whose default clips carry the synthesised text as PCM.
func (s *Sink) PlayedTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Played))
	for i, c := range s.Played {
		out[i] = string(c.PCM)
	}
	return out
}

// MaxConcurrent returns MaxConcurrentPlays under the lock.
func (s *Sink) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MaxConcurrentPlays
}

// ─── Transport ───────────────────────────────────────────────────────────────

// JoinCall records one invocation of Transport.Join.
type JoinCall struct {
	GuildID   string
	ChannelID string
}

// Transport is a mock implementation of [audio.Transport].
type Transport struct {
	mu sync.Mutex

	// Sink, if non-nil, is returned by every Join call. Otherwise each Join
	// creates a fresh *Sink bound to the requested channel.
	Sink *Sink

	// JoinErr, if non-nil, is returned by Join.
	JoinErr error

	// JoinCalls records every Join call in order.
	JoinCalls []JoinCall

	// Sinks records every sink returned by Join.
	Sinks []*Sink

	// SharedConns makes every Join for a guild wrap the guild's open Conn in
	// a fresh sink, the way platforms keep a single voice connection per
	// guild. Ignored when Sink is set.
	SharedConns bool

	sinkGuilds []string
	conns      map[string]*Conn
}

// Join implements audio.Transport.
func (t *Transport) Join(_ context.Context, guildID, channelID string) (audio.Sink, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.JoinCalls = append(t.JoinCalls, JoinCall{GuildID: guildID, ChannelID: channelID})
	if t.JoinErr != nil {
		return nil, t.JoinErr
	}
	s := t.Sink
	if s == nil {
		s = &Sink{Channel: channelID}
		if t.SharedConns {
			s.Conn = t.conn(guildID)
		}
	}
	t.Sinks = append(t.Sinks, s)
	t.sinkGuilds = append(t.sinkGuilds, guildID)
	return s, nil
}

func (t *Transport) conn(guildID string) *Conn {
	if t.conns == nil {
		t.conns = make(map[string]*Conn)
	}
	c := t.conns[guildID]
	if c == nil || c.Disconnected() {
		c = &Conn{}
		t.conns[guildID] = c
	}
	return c
}

// LastSink returns the most recently joined sink, or nil.
func (t *Transport) LastSink() *Sink {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.Sinks) == 0 {
		return nil
	}
	return t.Sinks[len(t.Sinks)-1]
}

// Connected reports whether the last sink joined for guildID is still open.
func (t *Transport) Connected(guildID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.sinkGuilds) - 1; i >= 0; i-- {
		if t.sinkGuilds[i] == guildID {
			return !t.Sinks[i].Closed()
		}
	}
	return false
}
