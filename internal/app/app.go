// Package app wires all yomiage subsystems into a running bot.
//
// The App struct owns the full lifecycle: New opens storage, builds the
// synthesis client, narration registry, presence monitor and Discord bot,
// Run serves the gateway and the HTTP endpoints, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithGateway, WithSession, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/yomiage/internal/config"
	"github.com/MrWong99/yomiage/internal/discord"
	"github.com/MrWong99/yomiage/internal/discord/commands"
	"github.com/MrWong99/yomiage/internal/narration"
	"github.com/MrWong99/yomiage/internal/observe"
	"github.com/MrWong99/yomiage/internal/presence"
	"github.com/MrWong99/yomiage/internal/storage"
	"github.com/MrWong99/yomiage/internal/synth"
	"github.com/MrWong99/yomiage/internal/textnorm"
	"github.com/MrWong99/yomiage/pkg/audio"
	discordaudio "github.com/MrWong99/yomiage/pkg/audio/discord"
	"github.com/MrWong99/yomiage/pkg/provider/tts"
)

const (
	// catalogSyncTimeout bounds the speaker catalogue sync run at startup.
	catalogSyncTimeout = 30 * time.Second

	// httpShutdownTimeout bounds draining of the health/metrics listener.
	httpShutdownTimeout = 5 * time.Second
)

// VoiceTransport joins voice channels and reports which guilds still hold a
// connection.
type VoiceTransport interface {
	audio.Transport
	Connected(guildID string) bool
}

// Gateway is the chat platform connection. *discord.Bot implements it.
type Gateway interface {
	Run(ctx context.Context) error
	Check(ctx context.Context) error
	SetAttachmentMarker(marker string)
	Close() error
}

// Providers holds the synthesis backends keyed by generator. Populated by
// main.go via the config registry.
type Providers struct {
	Backends map[tts.Generator]tts.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	store      storage.Store
	guilds     *config.GuildSet
	normalizer *textnorm.Normalizer
	synth      *synth.Client
	registry   *narration.Registry
	monitor    *presence.Monitor
	session    *discordgo.Session
	transport  VoiceTransport
	gateway    Gateway
	watcher    *config.Watcher
	metrics    *observe.Metrics
	handler    http.Handler

	botUserID  string
	configPath string
	logLevel   *slog.LevelVar

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithStore injects the store instead of opening cfg.Storage.
func WithStore(s storage.Store) Option {
	return func(a *App) { a.store = s }
}

// WithSession injects the discordgo session instead of creating one from
// the bot token. The session is not opened by New.
func WithSession(s *discordgo.Session) Option {
	return func(a *App) { a.session = s }
}

// WithTransport injects the voice transport.
func WithTransport(t VoiceTransport) Option {
	return func(a *App) { a.transport = t }
}

// WithGateway replaces the Discord bot as the gateway Run blocks on.
func WithGateway(g Gateway) Option {
	return func(a *App) { a.gateway = g }
}

// WithBotUserID skips the REST lookup of the bot's own user id.
func WithBotUserID(id string) Option {
	return func(a *App) { a.botUserID = id }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithConfigWatch watches path and applies hot-reloadable changes.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithLogLevel lets config reloads adjust the level of the process logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: storage open and migration,
// dictionary seeding, synthesis client and narration registry construction,
// and Discord handler registration. It does not connect to the gateway.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// On failure, release whatever was already opened.
	ok := false
	defer func() {
		if !ok {
			a.runClosers()
		}
	}()

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Guild set ─────────────────────────────────────────────────────
	guilds, err := config.LoadGuildSet(cfg.GuildsFile)
	if err != nil {
		return nil, fmt.Errorf("app: load guilds: %w", err)
	}
	a.guilds = guilds

	// ── 3. Synthesis + narration ─────────────────────────────────────────
	a.initNarration()

	// ── 4. Discord ───────────────────────────────────────────────────────
	if err := a.initDiscord(); err != nil {
		return nil, fmt.Errorf("app: init discord: %w", err)
	}

	// ── 5. HTTP endpoints ────────────────────────────────────────────────
	a.handler = a.newHandler()

	// ── 6. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.onConfigChange)
		if err != nil {
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
		a.closers = append(a.closers, func() error { w.Stop(); return nil })
	}

	ok = true
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured store unless one was injected, applies the
// schema and seeds the dictionary.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		s, err := OpenStore(ctx, a.cfg.Storage, StoreDefaults(a.cfg.Narration))
		if err != nil {
			return err
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
	}
	if err := Migrate(ctx, a.store); err != nil {
		return err
	}
	return seedDictionary(ctx, a.store, a.cfg.Storage.DictSeedFile)
}

func (a *App) initNarration() {
	n := a.cfg.Narration
	a.normalizer = textnorm.New(textnorm.Options{
		MaxLength:      n.MaxLength,
		TruncateMarker: n.TruncateMarker,
	})
	a.synth = NewSynthClient(a.store, a.providers.Backends, a.cfg.Generators, a.metrics)
	a.registry = narration.NewRegistry(&narration.Pipeline{
		Store:        a.store,
		Normalizer:   a.normalizer,
		Synth:        a.synth,
		DefaultVoice: narration.Voice{Generator: n.Generator(), Style: n.Style()},
		Metrics:      a.metrics,
	}, narration.WithQueueSize(n.QueueSize))
}

// initDiscord builds the session, voice transport, command set and bot.
// The gateway closer is registered last so it runs first.
func (a *App) initDiscord() error {
	if a.session == nil {
		s, err := discord.NewSession(a.cfg.Discord.Token)
		if err != nil {
			return err
		}
		a.session = s
	}
	if a.botUserID == "" {
		u, err := a.session.User("@me")
		if err != nil {
			return fmt.Errorf("look up bot user: %w", err)
		}
		a.botUserID = u.ID
	}
	if a.transport == nil {
		a.transport = discordaudio.New(a.session)
	}

	dir := discord.NewDirectory(a.session.State, a.transport)
	a.monitor = &presence.Monitor{
		BotUserID: a.botUserID,
		Sessions:  a.registry,
		Occupancy: dir,
		Configs:   a.store,
		Metrics:   a.metrics,
	}

	router := discord.NewCommandRouter()
	commands.New(commands.Config{
		Store:       a.store,
		Sessions:    a.registry,
		Transport:   a.transport,
		Directory:   dir,
		Permissions: discord.NewPermissionChecker(a.cfg.Discord.EditorRoleID),
	}).Register(router)

	bot := discord.New(discord.Config{
		Session:          a.session,
		Router:           router,
		Sessions:         a.registry,
		Presence:         a.monitor,
		Guilds:           a.guilds,
		BotUserID:        a.botUserID,
		AttachmentMarker: a.cfg.Narration.AttachmentMarker,
	})
	if a.gateway == nil {
		a.gateway = bot
	}
	a.closers = append(a.closers, a.registry.Close, a.gateway.Close)
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run syncs the speaker catalogue, then serves the gateway, the presence
// reconciler and the HTTP listener until ctx is cancelled or one of them
// fails. When ctx is done, Run returns context.Canceled (or the underlying
// cause).
func (a *App) Run(ctx context.Context) error {
	a.syncCatalog(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.gateway.Run(gctx)
	})
	if interval := a.cfg.Server.ReconcileInterval; interval > 0 {
		g.Go(func() error {
			a.monitor.Run(gctx, interval)
			return nil
		})
	}
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: a.handler, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			slog.Info("http listener started", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), httpShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("app running", "guilds", len(a.guilds.IDs()), "generators", a.synth.Generators())
	return g.Wait()
}

// syncCatalog refreshes the stored speaker catalogue from the live backends.
// A failure is logged, not fatal: the stored catalogue still serves lookups.
func (a *App) syncCatalog(ctx context.Context) {
	if len(a.synth.Generators()) == 0 {
		slog.Warn("no synthesis backends configured")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, catalogSyncTimeout)
	defer cancel()
	if err := a.synth.SyncCatalog(ctx); err != nil {
		slog.Warn("speaker catalogue sync failed", "err", err)
		return
	}
	slog.Info("speaker catalogue synced")
}

// Handler returns the HTTP handler serving /healthz, /readyz and /metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Registry returns the narration session registry.
func (a *App) Registry() *narration.Registry { return a.registry }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order: the gateway first
// so no new work arrives, then the narration sessions, then storage. It respects
// the context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.shutdownOrder() {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) shutdownOrder() []func() error {
	if len(a.closers) == 0 {
		return nil
	}
	ordered := make([]func() error, 0, len(a.closers))
	for i := len(a.closers) - 1; i >= 0; i-- {
		ordered = append(ordered, a.closers[i])
	}
	return ordered
}

func (a *App) runClosers() {
	for _, closer := range a.shutdownOrder() {
		if err := closer(); err != nil {
			slog.Warn("closer error during failed init", "err", err)
		}
	}
}
