package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/yomiage/internal/app"
	"github.com/MrWong99/yomiage/internal/config"
	"github.com/MrWong99/yomiage/internal/observe"
	"github.com/MrWong99/yomiage/internal/storage"
	"github.com/MrWong99/yomiage/pkg/provider/tts"
)

// openStore opens and migrates the configured store.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	store, err := app.OpenStore(ctx, cfg.Storage, app.StoreDefaults(cfg.Narration))
	if err != nil {
		return nil, err
	}
	if err := app.Migrate(ctx, store); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newMigrateCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := flags.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(commandContext(cmd), cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", cfg.Storage.Driver)
			return nil
		},
	}
}

func newDictCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dict",
		Short: "Manage the pronunciation dictionary",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import a JSON object of word to reading pairs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.loadConfig()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := app.ImportDictFile(ctx, store, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries from %s\n", n, args[0])
			return nil
		},
	})
	return cmd
}

func newSpeakersCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "speakers",
		Short: "Manage the speaker catalogue",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Fetch speakers from every configured engine and store them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := flags.loadConfig()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			backends, err := app.BuildBackends(cfg.Generators)
			if err != nil {
				return err
			}
			return syncSpeakers(ctx, cmd, store, backends, cfg.Generators)
		},
	})
	return cmd
}

func syncSpeakers(ctx context.Context, cmd *cobra.Command, store storage.Store, backends map[tts.Generator]tts.Provider, gens config.GeneratorsConfig) error {
	if len(backends) == 0 {
		return fmt.Errorf("no generator has a base_url configured")
	}
	client := app.NewSynthClient(store, backends, gens, observe.DefaultMetrics())
	if err := client.SyncCatalog(ctx); err != nil {
		return err
	}
	speakers, err := store.Speakers(ctx)
	if err != nil {
		return err
	}
	counts := make(map[tts.Generator]int)
	for _, sp := range speakers {
		counts[sp.Generator]++
	}
	for _, gen := range client.Generators() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d styles\n", gen, counts[gen])
	}
	return nil
}
