package tts

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownGenerator is the sentinel wrapped by every [UnknownGeneratorError].
var ErrUnknownGenerator = errors.New("tts: unknown generator")

// Generator selects a synthesis backend variant. The numeric values are the
// tags persisted in user configuration and must not be renumbered.
type Generator int

const (
	// GeneratorCOEIROINK is the COEIROINK v2 engine.
	GeneratorCOEIROINK Generator = 0

	// GeneratorVOICEVOX is the VOICEVOX engine.
	GeneratorVOICEVOX Generator = 1
)

// Generators lists every known generator in tag order.
func Generators() []Generator {
	return []Generator{GeneratorCOEIROINK, GeneratorVOICEVOX}
}

// String returns the canonical upper-case name of g.
func (g Generator) String() string {
	switch g {
	case GeneratorCOEIROINK:
		return "COEIROINK"
	case GeneratorVOICEVOX:
		return "VOICEVOX"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(g)) + ")"
	}
}

// IsValid reports whether g is one of the known generators.
func (g Generator) IsValid() bool {
	return g == GeneratorCOEIROINK || g == GeneratorVOICEVOX
}

// UnknownGeneratorError reports a generator tag or name outside the closed set.
type UnknownGeneratorError struct {
	Value string
}

func (e *UnknownGeneratorError) Error() string {
	return fmt.Sprintf("tts: unknown generator %q", e.Value)
}

func (e *UnknownGeneratorError) Unwrap() error { return ErrUnknownGenerator }

// ParseGenerator converts a generator name (case-insensitive) into a Generator.
func ParseGenerator(s string) (Generator, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "COEIROINK":
		return GeneratorCOEIROINK, nil
	case "VOICEVOX":
		return GeneratorVOICEVOX, nil
	}
	return 0, &UnknownGeneratorError{Value: s}
}

// GeneratorFromID converts a persisted numeric tag into a Generator.
func GeneratorFromID(id int64) (Generator, error) {
	g := Generator(id)
	if !g.IsValid() {
		return 0, &UnknownGeneratorError{Value: strconv.FormatInt(id, 10)}
	}
	return g, nil
}

// MarshalText implements encoding.TextMarshaler so generators appear by name
// in YAML and JSON.
func (g Generator) MarshalText() ([]byte, error) {
	if !g.IsValid() {
		return nil, &UnknownGeneratorError{Value: strconv.Itoa(int(g))}
	}
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *Generator) UnmarshalText(b []byte) error {
	parsed, err := ParseGenerator(string(b))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
