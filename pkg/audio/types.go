package audio

import "time"

// Clip is a complete utterance ready for playback: little-endian int16 PCM
// with its sample rate and channel count.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Format returns the clip's sample format.
func (c Clip) Format() Format {
	return Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	samples := len(c.PCM) / (2 * c.Channels)
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// Frames splits pcm into chunks of exactly frameBytes bytes. The final chunk
// is zero-padded to full size. Returns nil when pcm is empty or frameBytes is
// not positive.
func Frames(pcm []byte, frameBytes int) [][]byte {
	if len(pcm) == 0 || frameBytes <= 0 {
		return nil
	}
	n := (len(pcm) + frameBytes - 1) / frameBytes
	out := make([][]byte, 0, n)
	for off := 0; off < len(pcm); off += frameBytes {
		end := off + frameBytes
		if end <= len(pcm) {
			out = append(out, pcm[off:end])
			continue
		}
		last := make([]byte, frameBytes)
		copy(last, pcm[off:])
		out = append(out, last)
	}
	return out
}
