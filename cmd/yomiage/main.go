// Command yomiage is a Discord bot that reads text channel messages aloud in
// voice channels using VOICEVOX or COEIROINK.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/yomiage/internal/config"
)

var version = "dev"

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "yomiage",
		Short:         "Read Discord text channels aloud in voice",
		Version:       version,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	// Without a subcommand the bot runs.
	runCmd := newRunCommand(flags)
	cmd.Args = cobra.NoArgs
	cmd.RunE = runCmd.RunE

	cmd.AddCommand(
		runCmd,
		newMigrateCommand(flags),
		newDictCommand(flags),
		newSpeakersCommand(flags),
	)
	return cmd
}

// loadConfig reads the dotenv file and the YAML config, and installs the
// process logger.
func (f *rootFlags) loadConfig() (*config.Config, *slog.LevelVar, error) {
	if err := config.LoadDotEnv(f.envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", f.configPath)
		}
		return nil, nil, err
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(level))
	return cfg, level, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger writes text logs to stderr. The level can change at runtime via
// config reloads.
func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
