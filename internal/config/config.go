// Package config provides the configuration schema, loader, file watcher and
// backend factory registry for yomiage.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/yomiage/pkg/provider/tts"
)

// EnvPrefix prefixes every environment override, e.g. YOMIAGE_DISCORD_TOKEN.
const EnvPrefix = "YOMIAGE_"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to a slog level. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StorageDriver selects the persistence backend.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"
	StorageSQLite   StorageDriver = "sqlite"
	StoragePostgres StorageDriver = "postgres"
)

// IsValid reports whether d is a recognised driver.
func (d StorageDriver) IsValid() bool {
	switch d {
	case StorageMemory, StorageSQLite, StoragePostgres:
		return true
	}
	return false
}

// Config is the root configuration structure. It is loaded from YAML with
// [Load] and then overridden from the environment.
type Config struct {
	Server     ServerConfig     `yaml:"server"     envPrefix:"SERVER_"`
	Discord    DiscordConfig    `yaml:"discord"    envPrefix:"DISCORD_"`
	Narration  NarrationConfig  `yaml:"narration"  envPrefix:"NARRATION_"`
	Generators GeneratorsConfig `yaml:"generators" envPrefix:"GENERATORS_"`
	Storage    StorageConfig    `yaml:"storage"    envPrefix:"STORAGE_"`

	// GuildsFile persists the ids of guilds the bot has been activated in.
	GuildsFile string `yaml:"guilds_file" env:"GUILDS_FILE"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr serves /healthz, /readyz and /metrics. Empty disables it.
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`

	LogLevel LogLevel `yaml:"log_level" env:"LOG_LEVEL"`

	// ReconcileInterval is how often sessions are checked against the voice
	// transport and channel occupancy.
	ReconcileInterval time.Duration `yaml:"reconcile_interval" env:"RECONCILE_INTERVAL"`
}

// DiscordConfig holds the bot credentials.
type DiscordConfig struct {
	Token string `yaml:"token" env:"TOKEN"`

	// EditorRoleID, when set, restricts dictionary edits (/add, /rem) to
	// members holding this role. Empty allows everyone.
	EditorRoleID string `yaml:"editor_role_id" env:"EDITOR_ROLE_ID"`
}

// NarrationConfig tunes text normalisation, queueing and default voices.
type NarrationConfig struct {
	// MaxLength caps normalised text in characters.
	MaxLength int `yaml:"max_length" env:"MAX_LENGTH"`

	// TruncateMarker is appended to truncated text.
	TruncateMarker string `yaml:"truncate_marker" env:"TRUNCATE_MARKER"`

	// QueueSize bounds each guild's pending queue.
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`

	// DefaultGenerator is "VOICEVOX" or "COEIROINK".
	DefaultGenerator string `yaml:"default_generator" env:"DEFAULT_GENERATOR"`

	// DefaultStyle is the style id used for users without a stored voice.
	DefaultStyle *int64 `yaml:"default_style" env:"DEFAULT_STYLE"`

	// Hello and Bye seed new user configs.
	Hello string `yaml:"hello" env:"HELLO"`
	Bye   string `yaml:"bye"   env:"BYE"`

	// AttachmentMarker is spoken for messages carrying attachments.
	AttachmentMarker string `yaml:"attachment_marker" env:"ATTACHMENT_MARKER"`
}

// Generator returns the parsed default generator. Only valid after [Validate].
func (n NarrationConfig) Generator() tts.Generator {
	g, _ := tts.ParseGenerator(n.DefaultGenerator)
	return g
}

// Style returns the default style id.
func (n NarrationConfig) Style() int64 {
	if n.DefaultStyle == nil {
		return 1
	}
	return *n.DefaultStyle
}

// GeneratorsConfig lists the synthesis backends. A backend with an empty
// base URL is disabled.
type GeneratorsConfig struct {
	VOICEVOX  GeneratorEntry `yaml:"voicevox"  envPrefix:"VOICEVOX_"`
	COEIROINK GeneratorEntry `yaml:"coeiroink" envPrefix:"COEIROINK_"`
}

// Entry returns the configuration for gen.
func (g GeneratorsConfig) Entry(gen tts.Generator) GeneratorEntry {
	if gen == tts.GeneratorCOEIROINK {
		return g.COEIROINK
	}
	return g.VOICEVOX
}

// Enabled returns the generators with a base URL, in tag order.
func (g GeneratorsConfig) Enabled() []tts.Generator {
	var out []tts.Generator
	for _, gen := range tts.Generators() {
		if g.Entry(gen).BaseURL != "" {
			out = append(out, gen)
		}
	}
	return out
}

// GeneratorEntry configures one synthesis backend.
type GeneratorEntry struct {
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout"  env:"TIMEOUT"`

	// SpeedScale is forwarded with every request; 0 keeps the engine default.
	SpeedScale float64 `yaml:"speed_scale" env:"SPEED_SCALE"`

	// RateLimit caps requests per second; 0 disables pacing.
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	Burst     int     `yaml:"burst"      env:"BURST"`

	Breaker BreakerConfig `yaml:"breaker" envPrefix:"BREAKER_"`
}

// BreakerConfig tunes a backend's circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"  env:"MAX_FAILURES"`
	ResetTimeout time.Duration `yaml:"reset_timeout" env:"RESET_TIMEOUT"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Driver StorageDriver `yaml:"driver" env:"DRIVER"`

	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `yaml:"dsn" env:"DSN"`

	// DictSeedFile, if set, is a JSON object of word → reading imported on
	// startup when the dictionary is empty.
	DictSeedFile string `yaml:"dict_seed_file" env:"DICT_SEED_FILE"`
}
