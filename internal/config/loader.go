package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/yomiage/internal/textnorm"
	"github.com/MrWong99/yomiage/pkg/provider/tts"
)

// Defaults applied by [ApplyDefaults] to unset fields.
const (
	DefaultListenAddr        = ":8080"
	DefaultReconcileInterval = time.Minute
	DefaultQueueSize         = 32
	DefaultAttachmentMarker  = "添付ファイル"
	DefaultGeneratorTimeout  = 30 * time.Second
	DefaultSQLitePath        = "yomiage.db"
	DefaultGuildsFile        = "guilds.yaml"
)

// LoadDotEnv loads variables from the given .env files (default ".env") into
// the process environment without overriding variables already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: load %q: %w", f, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and validates the result. An empty path skips the
// file and configures from the environment alone.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromReader(bytes.NewReader(nil))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, then applies environment
// overrides and defaults, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with YOMIAGE_* environment variables. Unset
// variables leave the YAML value in place.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ReconcileInterval == 0 {
		cfg.Server.ReconcileInterval = DefaultReconcileInterval
	}

	n := &cfg.Narration
	if n.MaxLength == 0 {
		n.MaxLength = textnorm.DefaultMaxLength
	}
	if n.TruncateMarker == "" {
		n.TruncateMarker = textnorm.DefaultTruncateMarker
	}
	if n.QueueSize == 0 {
		n.QueueSize = DefaultQueueSize
	}
	if n.DefaultGenerator == "" {
		n.DefaultGenerator = tts.GeneratorVOICEVOX.String()
	}
	if n.DefaultStyle == nil {
		style := int64(1)
		n.DefaultStyle = &style
	}
	if n.Hello == "" {
		n.Hello = "こんにちは"
	}
	if n.Bye == "" {
		n.Bye = "さようなら"
	}
	if n.AttachmentMarker == "" {
		n.AttachmentMarker = DefaultAttachmentMarker
	}

	for _, e := range []*GeneratorEntry{&cfg.Generators.VOICEVOX, &cfg.Generators.COEIROINK} {
		if e.Timeout == 0 {
			e.Timeout = DefaultGeneratorTimeout
		}
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageSQLite
	}
	if cfg.Storage.Driver == StorageSQLite && cfg.Storage.DSN == "" {
		cfg.Storage.DSN = DefaultSQLitePath
	}
	if cfg.GuildsFile == "" {
		cfg.GuildsFile = DefaultGuildsFile
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ReconcileInterval < 0 {
		errs = append(errs, fmt.Errorf("server.reconcile_interval %s must not be negative", cfg.Server.ReconcileInterval))
	}

	// Narration
	n := cfg.Narration
	if n.MaxLength < 0 {
		errs = append(errs, fmt.Errorf("narration.max_length %d must be positive", n.MaxLength))
	}
	if n.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("narration.queue_size %d must be positive", n.QueueSize))
	}
	defGen, err := tts.ParseGenerator(n.DefaultGenerator)
	if n.DefaultGenerator != "" && err != nil {
		errs = append(errs, fmt.Errorf("narration.default_generator: %w", err))
	}
	if n.DefaultStyle != nil && *n.DefaultStyle < 0 {
		errs = append(errs, fmt.Errorf("narration.default_style %d must not be negative", *n.DefaultStyle))
	}

	// Generators
	enabled := cfg.Generators.Enabled()
	for _, gen := range tts.Generators() {
		e := cfg.Generators.Entry(gen)
		prefix := "generators." + strings.ToLower(gen.String())
		if e.BaseURL != "" {
			if u, err := url.Parse(e.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				errs = append(errs, fmt.Errorf("%s.base_url %q must be an absolute http(s) URL", prefix, e.BaseURL))
			}
		}
		if e.SpeedScale != 0 && (e.SpeedScale < 0.5 || e.SpeedScale > 2.0) {
			errs = append(errs, fmt.Errorf("%s.speed_scale %.2f is out of range [0.5, 2.0]", prefix, e.SpeedScale))
		}
		if e.RateLimit < 0 {
			errs = append(errs, fmt.Errorf("%s.rate_limit %.2f must not be negative", prefix, e.RateLimit))
		}
		if e.Burst < 0 || e.Breaker.MaxFailures < 0 || e.Breaker.ResetTimeout < 0 || e.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s: burst, timeout and breaker settings must not be negative", prefix))
		}
	}
	switch {
	case len(enabled) == 0:
		slog.Warn("no synthesis generator has a base_url; narration will fail until one is configured")
	case err == nil && cfg.Generators.Entry(defGen).BaseURL == "":
		errs = append(errs, fmt.Errorf("narration.default_generator %s has no base_url configured", defGen))
	}

	// Storage
	if cfg.Storage.Driver != "" && !cfg.Storage.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid; valid values: memory, sqlite, postgres", cfg.Storage.Driver))
	}
	if cfg.Storage.Driver == StoragePostgres && cfg.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn is required when storage.driver is postgres"))
	}

	return errors.Join(errs...)
}

