package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/yomiage/internal/app"
	"github.com/MrWong99/yomiage/internal/config"
	"github.com/MrWong99/yomiage/internal/observe"
)

const shutdownTimeout = 15 * time.Second

func newRunCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and start narrating",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, level, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Discord.Token == "" {
				return errors.New("discord.token is required (or set YOMIAGE_DISCORD_TOKEN)")
			}
			return runBot(cmd.Context(), cfg, flags.configPath, level)
		},
	}
}

func runBot(parent context.Context, cfg *config.Config, configPath string, level *slog.LevelVar) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("yomiage starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"storage", cfg.Storage.Driver,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, version)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Synthesis backends ────────────────────────────────────────────────────
	backends, err := app.BuildBackends(cfg.Generators)
	if err != nil {
		return fmt.Errorf("build backends: %w", err)
	}
	printStartupSummary(cfg)

	opts := []app.Option{app.WithLogLevel(level), app.WithMetrics(tel.Metrics)}
	if configPath != "" {
		opts = append(opts, app.WithConfigWatch(configPath))
	}
	application, err := app.New(ctx, cfg, &app.Providers{Backends: backends}, opts...)
	if err != nil {
		return err
	}

	slog.Info("bot ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if runErr != nil {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	slog.Info("startup summary",
		"generators", generatorNames(cfg.Generators),
		"default_voice", fmt.Sprintf("%s/%d", cfg.Narration.Generator(), cfg.Narration.Style()),
		"queue_size", cfg.Narration.QueueSize,
		"max_length", cfg.Narration.MaxLength,
		"guilds_file", cfg.GuildsFile,
	)
}

func generatorNames(cfg config.GeneratorsConfig) string {
	enabled := cfg.Enabled()
	if len(enabled) == 0 {
		return "(none)"
	}
	names := make([]string, len(enabled))
	for i, g := range enabled {
		names[i] = g.String()
	}
	return strings.Join(names, ",")
}
