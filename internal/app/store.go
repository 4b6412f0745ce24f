package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/MrWong99/yomiage/internal/config"
	"github.com/MrWong99/yomiage/internal/storage"
)

// migrator is implemented by the persistent stores.
type migrator interface {
	Migrate(ctx context.Context) error
}

// StoreDefaults derives the first-use user settings from the narration
// config.
func StoreDefaults(cfg config.NarrationConfig) storage.Defaults {
	return storage.Defaults{
		Hello:     cfg.Hello,
		Bye:       cfg.Bye,
		Generator: cfg.Generator(),
		VoiceType: cfg.Style(),
	}
}

// OpenStore opens the store selected by cfg.Driver. The postgres store is
// returned unmigrated; call [Migrate] before use.
func OpenStore(ctx context.Context, cfg config.StorageConfig, defaults storage.Defaults) (storage.Store, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return storage.NewMemStore(defaults), nil
	case config.StorageSQLite:
		s, err := storage.OpenSQLite(ctx, cfg.DSN, defaults)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoragePostgres:
		s, err := storage.OpenPostgres(ctx, cfg.DSN, defaults)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("app: unknown storage driver %q", cfg.Driver)
	}
}

// Migrate applies the schema when store has one. The in-memory store has
// nothing to migrate.
func Migrate(ctx context.Context, store storage.Store) error {
	m, ok := store.(migrator)
	if !ok {
		return nil
	}
	return m.Migrate(ctx)
}

// ImportDictFile loads a read_dict.json style file into store.
func ImportDictFile(ctx context.Context, store storage.Store, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("app: open dictionary %q: %w", path, err)
	}
	defer f.Close()

	n, err := storage.ImportDictJSON(ctx, store, f)
	if err != nil {
		return n, fmt.Errorf("app: import dictionary %q: %w", path, err)
	}
	return n, nil
}

// seedDictionary imports path only when the dictionary is still empty, so
// edits made through /add and /rem survive restarts.
func seedDictionary(ctx context.Context, store storage.Store, path string) error {
	if path == "" {
		return nil
	}
	entries, err := store.Dict(ctx)
	if err != nil {
		return fmt.Errorf("app: read dictionary: %w", err)
	}
	if len(entries) > 0 {
		slog.Debug("dictionary already populated, skipping seed", "entries", len(entries))
		return nil
	}
	n, err := ImportDictFile(ctx, store, path)
	if err != nil {
		return err
	}
	slog.Info("dictionary seeded", "file", path, "entries", n)
	return nil
}
