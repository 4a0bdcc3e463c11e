// Package app wires all endpointd subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until its context is cancelled, and Shutdown
// releases what New acquired.
//
// For testing, inject doubles via functional options (WithJournal,
// WithMetrics, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/endpointd/internal/channel"
	"github.com/MrWong99/endpointd/internal/config"
	"github.com/MrWong99/endpointd/internal/health"
	"github.com/MrWong99/endpointd/internal/journal"
	"github.com/MrWong99/endpointd/internal/journal/postgres"
	"github.com/MrWong99/endpointd/internal/observe"
	"github.com/MrWong99/endpointd/internal/recog"
	"github.com/MrWong99/endpointd/internal/server"
	"github.com/MrWong99/endpointd/internal/transcript"
	"github.com/MrWong99/endpointd/pkg/provider/stt"
)

const (
	defaultShutdownTimeout = 15 * time.Second
	defaultJournalEntries  = 1000
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	provider  stt.Provider
	corrector *transcript.Corrector
	journal   journal.Journal
	manager   *channel.Manager
	health    *health.Handler
	metrics   *observe.Metrics
	metricsH  http.Handler
	watcher   *config.Watcher
	level     *slog.LevelVar

	listener        net.Listener
	srv             *http.Server
	shutdownTimeout time.Duration

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithJournal injects a journal instead of creating one from config.
func WithJournal(j journal.Journal) Option {
	return func(a *App) { a.journal = j }
}

// WithMetrics overrides the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// WithWatcher runs w alongside the server and applies its changes.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithLevelVar lets configuration reloads change the log level of the
// handler built on lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithShutdownTimeout bounds the HTTP drain in Run. Default: 15s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) { a.shutdownTimeout = d }
}

// New creates an App for cfg that recognises with provider. It opens the
// journal and binds the listen address; nothing is served until Run.
func New(ctx context.Context, cfg *config.Config, provider stt.Provider, opts ...Option) (*App, error) {
	a := &App{
		cfg:             cfg,
		provider:        provider,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Journal ───────────────────────────────────────────────────────
	if err := a.initJournal(ctx); err != nil {
		return nil, fmt.Errorf("app: init journal: %w", err)
	}

	// ── 2. Recognition ───────────────────────────────────────────────────
	a.corrector = transcript.New(cfg.Vocabulary)
	rec := recog.NewProviderRecognizer(provider,
		recog.WithBackendTimeout(cfg.Recognizer.BackendTimeout()),
		recog.WithFormat(cfg.Recognizer.Format()),
		recog.WithLanguage(cfg.Recognizer.Language),
		recog.WithCorrector(a.corrector),
		recog.WithProviderMetrics(a.metrics),
	)

	// ── 3. Channels ──────────────────────────────────────────────────────
	a.manager = channel.NewManager(rec,
		channel.WithJournal(a.journal),
		channel.WithMetrics(a.metrics),
		channel.WithFrameDuration(cfg.Recognizer.FrameDuration()),
		channel.WithDefaults(cfg.Recognizer.Params()),
	)

	// ── 4. Health ────────────────────────────────────────────────────────
	checkers := []health.Checker{health.From("channels", a.manager)}
	if p, ok := provider.(health.Probe); ok {
		checkers = append(checkers, health.From("stt", p))
	}
	a.health = health.New(checkers...)

	// ── 5. HTTP ──────────────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		_ = a.closeAll()
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	slog.Info("app initialised",
		"listen_addr", a.Addr(),
		"vocabulary", len(cfg.Vocabulary),
		"frame_duration", cfg.Recognizer.FrameDuration(),
	)
	return a, nil
}

func (a *App) initJournal(ctx context.Context) error {
	if a.journal != nil {
		return nil
	}
	if dsn := a.cfg.Journal.PostgresDSN; dsn != "" {
		store, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.journal = store
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		slog.Info("journal connected", "backend", "postgres")
		return nil
	}
	size := a.cfg.Journal.MaxEntries
	if size == 0 {
		size = defaultJournalEntries
	}
	a.journal = journal.NewMemory(size)
	slog.Info("journal ready", "backend", "memory", "max_entries", size)
	return nil
}

func (a *App) initServer() error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = config.DefaultListenAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	a.listener = ln

	opts := []server.Option{
		server.WithJournal(a.journal),
		server.WithHealth(a.health),
		server.WithMetrics(a.metrics),
		server.WithFrameBytes(a.cfg.Recognizer.Format().FrameBytes(a.cfg.Recognizer.FrameDuration())),
	}
	if a.metricsH != nil {
		opts = append(opts, server.WithMetricsHandler(a.metricsH))
	}
	a.srv = &http.Server{
		Handler:           server.New(a.manager, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Addr returns the address the HTTP server is bound to.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Manager returns the channel manager.
func (a *App) Manager() *channel.Manager { return a.manager }

// Journal returns the completion journal.
func (a *App) Journal() journal.Journal { return a.journal }

// Corrector returns the transcript corrector.
func (a *App) Corrector() *transcript.Corrector { return a.corrector }

// Run serves HTTP, runs the channel manager and, if configured, the config
// watcher until ctx is cancelled or one of them fails. On return the HTTP
// server has drained and every channel is closed.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.manager.Run(gctx) })

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.srv.ServeTLS(a.listener, tls.CertFile, tls.KeyFile)
		} else {
			err = a.srv.Serve(a.listener)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve http: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.health.SetDraining(true)
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.shutdownTimeout)
		defer cancel()
		if err := a.srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: shutdown http: %w", err)
		}
		return nil
	})

	slog.Info("server ready", "addr", a.Addr())
	return g.Wait()
}

// OnConfigChange applies the hot-reloadable part of a configuration change.
// It is the callback passed to [config.NewWatcher].
func (a *App) OnConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VocabularyChanged {
		a.corrector.SetVocabulary(d.NewVocabulary)
		slog.Info("vocabulary reloaded", "phrases", len(d.NewVocabulary))
	}
	if d.ParamsChanged {
		a.manager.SetDefaults(d.NewParams)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("configuration changes need a restart to take effect", "sections", d.RestartRequired)
	}
	a.cfg = new
}

// Shutdown releases the resources acquired by New. Call it after Run has
// returned. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- a.closeAll() }()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = fmt.Errorf("app: shutdown: %w", ctx.Err())
		}
	})
	return err
}

func (a *App) closeAll() error {
	var errs []error
	if a.listener != nil {
		// Already closed by Serve/Shutdown when Run ran.
		if err := a.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SlogLevel maps a configured log level to its slog level. Unknown or empty
// levels map to info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
