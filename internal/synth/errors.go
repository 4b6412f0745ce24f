package synth

import (
	"errors"
	"fmt"

	"github.com/MrWong99/yomiage/pkg/provider/tts"
)

var (
	// ErrUnknownSpeaker is the sentinel wrapped by every [UnknownSpeakerError].
	ErrUnknownSpeaker = errors.New("synth: unknown speaker")

	// ErrBackendUnavailable is returned when a generator is not configured or
	// its circuit breaker is open.
	ErrBackendUnavailable = errors.New("synth: backend unavailable")
)

// UnknownSpeakerError reports a (generator, style) pair missing from the
// speaker catalogue. It is returned before any network call.
type UnknownSpeakerError struct {
	Generator tts.Generator
	Style     int64
}

func (e *UnknownSpeakerError) Error() string {
	return fmt.Sprintf("synth: unknown speaker: %s style %d", e.Generator, e.Style)
}

func (e *UnknownSpeakerError) Unwrap() error { return ErrUnknownSpeaker }
