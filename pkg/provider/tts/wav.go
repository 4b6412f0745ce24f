package tts

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wavFormatPCM is the WAVE_FORMAT_PCM audio format tag.
const wavFormatPCM = 1

// DecodeWAV extracts the PCM payload and format from a RIFF/WAVE byte slice.
// Both VOICEVOX and COEIROINK answer with 16-bit PCM WAV; any other encoding
// is rejected. The returned Audio aliases wav's backing array.
//
// The chunk list is walked rather than assuming a 44-byte header because
// engines are free to emit extra chunks (LIST, fact) before "data".
func DecodeWAV(wav []byte) (*Audio, error) {
	if len(wav) < 12 {
		return nil, errors.New("tts: wav too short to be a RIFF file")
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, errors.New("tts: not a RIFF/WAVE payload")
	}

	var (
		out      Audio
		foundFmt bool
	)
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return nil, errors.New("tts: truncated wav fmt chunk")
			}
			f := wav[body:]
			if tag := binary.LittleEndian.Uint16(f[0:2]); tag != wavFormatPCM {
				return nil, fmt.Errorf("tts: unsupported wav format tag %d", tag)
			}
			if bits := binary.LittleEndian.Uint16(f[14:16]); bits != 16 {
				return nil, fmt.Errorf("tts: unsupported wav bit depth %d", bits)
			}
			out.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
			out.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return nil, errors.New("tts: wav data chunk before fmt chunk")
			}
			end := body + size
			if end > len(wav) {
				// Streaming writers leave the size field unset; take what is there.
				end = len(wav)
			}
			out.PCM = wav[body:end]
			return &out, nil
		}

		offset = body + size
		if size%2 != 0 {
			offset++
		}
	}
	return nil, errors.New("tts: wav missing data chunk")
}
