// Package storage persists per-user narration settings, the pronunciation
// dictionary and the speaker catalogue.
//
// Three implementations share the [Store] contract: [MemStore] for tests and
// throwaway runs, [SQLiteStore] for single-host deployments and
// [PostgresStore] for shared databases. All are safe for concurrent use.
package storage

import (
	"context"
	"errors"

	"github.com/MrWong99/yomiage/pkg/provider/tts"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// UserConfig holds one user's narration preferences.
type UserConfig struct {
	UserID string

	// Hello is spoken when the user joins the bot's voice channel.
	Hello string

	// Bye is spoken when the user leaves the bot's voice channel.
	Bye string

	// ReadNickname overrides the name used in greetings. Nil means use the
	// platform display name.
	ReadNickname *string

	// VoiceType is the backend style id.
	VoiceType int64

	// GeneratorType selects the synthesis backend.
	GeneratorType tts.Generator
}

// DictEntry maps a literal word or phrase to its pronunciation.
type DictEntry struct {
	Word string
	Read string
}

// Speaker is a speaker catalogue row. ID is assigned by the store and is
// stable across catalogue syncs for the same (generator, style) pair.
type Speaker struct {
	ID int64
	tts.Speaker
}

// Defaults are applied when a user has no stored configuration yet.
type Defaults struct {
	Hello     string
	Bye       string
	Generator tts.Generator
	VoiceType int64
}

// StandardDefaults are the greeting and voice defaults used when
// configuration does not override them.
var StandardDefaults = Defaults{
	Hello:     "こんにちは",
	Bye:       "さようなら",
	Generator: tts.GeneratorVOICEVOX,
	VoiceType: 1,
}

// UserConfig returns a fresh configuration for userID populated from d.
func (d Defaults) UserConfig(userID string) UserConfig {
	return UserConfig{
		UserID:        userID,
		Hello:         d.Hello,
		Bye:           d.Bye,
		VoiceType:     d.VoiceType,
		GeneratorType: d.Generator,
	}
}

// Store is the persistence contract used by the narration pipeline and the
// chat commands. Every method may fail with a storage error; callers surface
// those to users rather than swallowing them.
type Store interface {
	// UserConfigOrDefault returns the stored configuration for userID,
	// creating it from the store's defaults on first access.
	UserConfigOrDefault(ctx context.Context, userID string) (UserConfig, error)

	// UpdateUserConfig persists cfg, replacing any existing row.
	UpdateUserConfig(ctx context.Context, cfg UserConfig) error

	// Dict returns every dictionary entry in registration order.
	Dict(ctx context.Context) ([]DictEntry, error)

	// AddDictEntry registers or updates word. Updating keeps the entry's
	// original registration position.
	AddDictEntry(ctx context.Context, e DictEntry) error

	// RemoveDictEntry deletes word and reports whether it existed.
	RemoveDictEntry(ctx context.Context, word string) (bool, error)

	// Speakers returns the whole speaker catalogue ordered by generator, then id.
	Speakers(ctx context.Context) ([]Speaker, error)

	// Speaker returns the catalogue row with the given id, or ErrNotFound.
	Speaker(ctx context.Context, id int64) (Speaker, error)

	// ReplaceSpeakers makes gen's slice of the catalogue equal to speakers.
	// Rows for styles that still exist keep their ids.
	ReplaceSpeakers(ctx context.Context, gen tts.Generator, speakers []tts.Speaker) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}
