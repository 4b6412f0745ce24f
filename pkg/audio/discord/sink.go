package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/yomiage/pkg/audio"
)

var _ audio.Sink = (*Sink)(nil)

// Sink wraps a discordgo.VoiceConnection and adapts it to [audio.Sink].
// Clips are converted to 48 kHz stereo, split into 20 ms frames, Opus
// encoded, and pushed onto OpusSend. discordgo paces OpusSend at the frame
// rate, so Play returns roughly when the clip has finished sounding.
type Sink struct {
	vc *discordgo.VoiceConnection

	chMu      sync.Mutex
	channelID string

	// playMu serialises Play so encoder state and Speaking flags stay coherent.
	playMu sync.Mutex
	enc    *opusEncoder
	conv   audio.FormatConverter

	muted atomic.Bool

	// detached marks a sink whose connection was replaced. Close then leaves
	// the guild's current connection alone.
	detached atomic.Bool

	done      chan struct{}
	closeOnce sync.Once

	// disconnectVC tears down the voice connection and changeChannel moves
	// it. They default to the vc methods and are overridden in tests.
	disconnectVC  func() error
	changeChannel func(channelID string) error

	// onClose runs once after the sink is closed. Set by the transport.
	onClose func()
}

func newSink(vc *discordgo.VoiceConnection, channelID string) (*Sink, error) {
	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}
	s := &Sink{
		vc:           vc,
		channelID:    channelID,
		enc:          enc,
		conv:         audio.FormatConverter{Target: audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}},
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}
	s.changeChannel = func(channelID string) error {
		return vc.ChangeChannel(channelID, false, true)
	}
	return s, nil
}

// ChannelID implements audio.Sink.
func (s *Sink) ChannelID() string {
	s.chMu.Lock()
	defer s.chMu.Unlock()
	return s.channelID
}

// Move implements audio.Sink. The voice connection is kept; Discord moves
// it to channelID, still self-deafened.
func (s *Sink) Move(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return audio.ErrSinkClosed
	default:
	}
	if s.ChannelID() == channelID {
		return nil
	}
	if err := s.changeChannel(channelID); err != nil {
		return fmt.Errorf("discord: move to voice channel %q: %w", channelID, err)
	}
	s.chMu.Lock()
	s.channelID = channelID
	s.chMu.Unlock()
	return nil
}

// Play implements audio.Sink.
func (s *Sink) Play(ctx context.Context, clip audio.Clip) error {
	s.playMu.Lock()
	defer s.playMu.Unlock()

	select {
	case <-s.done:
		return audio.ErrSinkClosed
	default:
	}
	if s.muted.Load() {
		return nil
	}

	clip = s.conv.Convert(clip)
	frames := audio.Frames(clip.PCM, opusFrameBytes)
	if len(frames) == 0 {
		return nil
	}

	s.setSpeaking(true)
	defer s.setSpeaking(false)

	for _, f := range frames {
		opus, err := s.enc.encode(f)
		if err != nil {
			slog.Warn("discord: opus encode error", "channel_id", s.ChannelID(), "error", err)
			continue
		}
		select {
		case s.vc.OpusSend <- opus:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return audio.ErrSinkClosed
		}
	}
	return nil
}

// SetMuted implements audio.Sink. Muting is local: the voice connection
// stays up and clips are discarded until unmuted.
func (s *Sink) SetMuted(muted bool) error {
	s.muted.Store(muted)
	return nil
}

// Muted implements audio.Sink.
func (s *Sink) Muted() bool { return s.muted.Load() }

// Close implements audio.Sink. Safe to call more than once.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.disconnectVC != nil && !s.detached.Load() {
			err = s.disconnectVC()
		}
		if s.onClose != nil {
			s.onClose()
		}
	})
	return err
}

func (s *Sink) setSpeaking(b bool) {
	if err := s.vc.Speaking(b); err != nil {
		slog.Debug("discord: speaking notification error", "speaking", b, "error", err)
	}
}
