// Package app wires the rehearse subsystems into a running server.
//
// New builds everything the configuration asks for: the script directory,
// the session store, the assessment and speech providers behind their
// circuit breakers, the audio blob directories and the session manager.
// Handler returns the HTTP surface, Run keeps background work going until
// the context ends, and Shutdown flushes sessions and releases resources in
// order.
//
// Tests inject doubles with the With* options; anything not injected is
// created from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrWong99/rehearse/internal/api"
	"github.com/MrWong99/rehearse/internal/blob"
	"github.com/MrWong99/rehearse/internal/config"
	"github.com/MrWong99/rehearse/internal/health"
	"github.com/MrWong99/rehearse/internal/observe"
	"github.com/MrWong99/rehearse/internal/recording"
	"github.com/MrWong99/rehearse/internal/refaudio"
	"github.com/MrWong99/rehearse/internal/resilience"
	"github.com/MrWong99/rehearse/internal/score"
	"github.com/MrWong99/rehearse/internal/script"
	"github.com/MrWong99/rehearse/internal/segment"
	"github.com/MrWong99/rehearse/internal/session"
	"github.com/MrWong99/rehearse/internal/session/store/memstore"
	"github.com/MrWong99/rehearse/internal/session/store/postgres"
	"github.com/MrWong99/rehearse/internal/session/store/sqlite"
	"github.com/MrWong99/rehearse/pkg/audio"
	"github.com/MrWong99/rehearse/pkg/provider/assess"
	"github.com/MrWong99/rehearse/pkg/provider/tts"
)

// Path prefixes the audio directories are served under.
const (
	RecordingsPath = "/recordings"
	RefAudioPath   = "/refaudio"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics

	scripts  script.Source
	dirSrc   *script.DirSource
	store    session.Store
	assessor assess.Provider
	synth    tts.Provider

	assessGroup *resilience.Assessor
	ttsGroup    *resilience.Synthesizer

	recordings *recording.Store
	refAudio   *refaudio.Cache
	manager    *session.Manager
	api        *api.Server
	health     *health.Handler
	checkers   []health.Checker

	// closers run in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithScripts injects a script source instead of reading scripts.dir.
func WithScripts(s script.Source) Option {
	return func(a *App) { a.scripts = s }
}

// WithStore injects a session store instead of opening store.driver.
func WithStore(s session.Store) Option {
	return func(a *App) { a.store = s }
}

// WithAssessor injects the assessment provider. It is still wrapped for
// word segmentation.
func WithAssessor(p assess.Provider) Option {
	return func(a *App) { a.assessor = p }
}

// WithSynthesizer injects the TTS provider used for reference audio.
func WithSynthesizer(p tts.Provider) Option {
	return func(a *App) { a.synth = p }
}

// WithRegistry replaces the provider registry. The default has every
// built-in provider registered.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics sets the metrics recorder. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. On error, anything already opened is closed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		RegisterBuiltinProviders(a.registry)
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	// ── 1. Scripts ───────────────────────────────────────────────────────
	if err := a.initScripts(); err != nil {
		return nil, fmt.Errorf("app: init scripts: %w", err)
	}

	// ── 2. Session store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Providers ─────────────────────────────────────────────────────
	if err := a.initAssessor(ctx); err != nil {
		return nil, fmt.Errorf("app: init assessment: %w", err)
	}
	if err := a.initSynthesizer(ctx); err != nil {
		return nil, fmt.Errorf("app: init tts: %w", err)
	}

	// ── 4. Audio storage ─────────────────────────────────────────────────
	if err := a.initStorage(); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 5. Sessions + API ────────────────────────────────────────────────
	if err := a.initSessions(); err != nil {
		return nil, fmt.Errorf("app: init sessions: %w", err)
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initScripts() error {
	if a.scripts != nil {
		return nil
	}
	src, err := script.NewDirSource(a.cfg.Scripts.Dir)
	if err != nil {
		return err
	}
	a.scripts, a.dirSrc = src, src
	a.closers = append(a.closers, func() error {
		src.Stop()
		return nil
	})
	a.checkers = append(a.checkers, health.Checker{Name: "scripts", Check: func(context.Context) error {
		if src.Len() == 0 {
			return errors.New("no scripts loaded")
		}
		return nil
	}})
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	switch a.cfg.Store.Driver {
	case config.StorePostgres:
		st, pool, err := postgres.Open(ctx, a.cfg.Store.DSN)
		if err != nil {
			return err
		}
		a.store = st
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		a.checkers = append(a.checkers, health.Ping("store", st))
	case config.StoreSQLite:
		st, err := sqlite.Open(ctx, a.cfg.Store.DSN)
		if err != nil {
			return err
		}
		a.store = st
		a.closers = append(a.closers, st.Close)
		a.checkers = append(a.checkers, health.Ping("store", st))
	default:
		slog.Warn("sessions are kept in memory and lost on restart")
		a.store = memstore.New()
	}
	slog.Info("session store ready", "driver", a.cfg.Store.Driver)
	return nil
}

func (a *App) breakerConfig(bc config.BreakerConfig) resilience.BreakerConfig {
	return resilience.BreakerConfig{
		MaxFailures: bc.MaxFailures,
		Cooldown:    bc.Cooldown,
		Probes:      bc.Probes,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("provider circuit changed", "provider", name, "from", from, "to", to)
		},
	}
}

func (a *App) initAssessor(ctx context.Context) error {
	dict := segment.ThaiDictionary()
	if path := a.cfg.Scripts.ThaiWords; path != "" {
		if err := dict.LoadFile(path); err != nil {
			return err
		}
		slog.Info("loaded Thai word list", "path", path, "words", dict.Len())
	}

	if a.assessor == nil {
		group, err := a.buildAssessGroup(ctx)
		if err != nil {
			return err
		}
		a.assessGroup = group
		a.assessor = group
		a.checkers = append(a.checkers, health.Breakers("assess", group.Group().Breakers()...))
	}
	a.assessor = segment.NewAssessor(a.assessor, dict)
	return nil
}

func (a *App) buildAssessGroup(ctx context.Context) (*resilience.Assessor, error) {
	bc := a.breakerConfig(a.cfg.Assess.Breaker)
	var group *resilience.Assessor
	for _, entry := range a.cfg.Assess.Providers {
		p, err := a.registry.CreateAssess(ctx, entry, a.cfg.Assess)
		if err != nil {
			return nil, fmt.Errorf("create assess provider %q: %w", entry.Name, err)
		}
		p = instrumentAssess(entry.Name, p, a.metrics)
		if group == nil {
			group = resilience.NewAssessor(entry.Name, p, bc)
		} else {
			group.AddFallback(entry.Name, p)
		}
		slog.Info("provider created", "kind", "assess", "name", entry.Name)
	}
	if group == nil {
		return nil, errors.New("no assessment provider configured")
	}
	return group, nil
}

func (a *App) initSynthesizer(ctx context.Context) error {
	if a.synth != nil {
		return nil
	}
	bc := a.breakerConfig(a.cfg.TTS.Breaker)
	for _, entry := range a.cfg.TTS.Providers {
		p, err := a.registry.CreateTTS(ctx, entry)
		if err != nil {
			return fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		if c, ok := p.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
		if a.ttsGroup == nil {
			a.ttsGroup = resilience.NewSynthesizer(entry.Name, p, bc)
		} else {
			a.ttsGroup.AddFallback(entry.Name, p)
		}
		slog.Info("provider created", "kind", "tts", "name", entry.Name)
	}
	if a.ttsGroup == nil {
		slog.Info("no tts provider configured; lines without reference audio will have none")
		return nil
	}
	a.synth = a.ttsGroup
	a.checkers = append(a.checkers, health.Breakers("tts", a.ttsGroup.Group().Breakers()...))
	return nil
}

func (a *App) initStorage() error {
	recDir, err := blob.Open(a.cfg.Storage.RecordingsDir)
	if err != nil {
		return err
	}
	a.recordings = recording.New(recDir, RecordingsPath)

	if a.synth == nil {
		return nil
	}
	refDir, err := blob.Open(a.cfg.Storage.RefAudioDir)
	if err != nil {
		return err
	}
	name := "tts"
	if len(a.cfg.TTS.Providers) > 0 {
		name = a.cfg.TTS.Providers[0].Name
	}
	a.refAudio = refaudio.New(a.synth, refDir, RefAudioPath,
		refaudio.WithVoices(a.cfg.TTS.Voices),
		refaudio.WithMetrics(a.metrics),
		refaudio.WithProviderName(name),
	)
	return nil
}

func (a *App) initSessions() error {
	encOpts := []audio.EncoderOption{
		audio.WithTargetFormat(audio.Format{SampleRate: a.cfg.Audio.SampleRate, Channels: a.cfg.Audio.Channels}),
	}
	switch p := a.cfg.Audio.Padding; {
	case p < 0:
		encOpts = append(encOpts, audio.WithPadding(0))
	case p > 0:
		encOpts = append(encOpts, audio.WithPadding(p))
	}
	enc, err := audio.NewEncoder(encOpts...)
	if err != nil {
		return err
	}

	agg, err := score.New()
	if err != nil {
		return err
	}

	mcfg := session.ManagerConfig{
		Scripts:        a.scripts,
		Store:          a.store,
		Encoder:        enc,
		Assessor:       a.assessor,
		Aggregator:     agg,
		Recordings:     a.recordings,
		Metrics:        a.metrics,
		ScoringTimeout: a.cfg.Session.ScoringTimeout,
	}
	// A nil *refaudio.Cache must not become a non-nil interface.
	if a.refAudio != nil {
		mcfg.ReferenceAudio = a.refAudio
	}
	a.manager, err = session.NewManager(mcfg)
	if err != nil {
		return err
	}

	acfg := api.Config{
		Manager: a.manager,
		Scripts: a.scripts,
		Auth: api.AuthConfig{
			Disabled: a.cfg.Auth.Disabled,
			Secret:   []byte(a.cfg.Auth.JWTSecret),
			Issuer:   a.cfg.Auth.Issuer,
			Audience: a.cfg.Auth.Audience,
		},
		Capture:        a.cfg.Audio.Capture,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Recordings:     a.recordings.Handler(),
		Metrics:        a.metrics,
	}
	if a.refAudio != nil {
		acfg.RefAudio = a.refAudio.Handler()
	}
	a.api, err = api.New(acfg)
	if err != nil {
		return err
	}
	a.health = health.New(a.checkers...)
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Manager returns the session manager.
func (a *App) Manager() *session.Manager { return a.manager }

// Handler returns the HTTP handler serving the API, the audio files and the
// health probes.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(a.metrics))
	a.health.Register(r)
	a.api.Routes(r)
	return r
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run keeps the script directory fresh and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.dirSrc != nil && a.cfg.Scripts.ReloadInterval > 0 {
		go a.dirSrc.Watch(ctx, a.cfg.Scripts.ReloadInterval)
	}
	slog.Info("app running")
	<-ctx.Done()
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown flushes every live session and then runs the closers. It
// respects the context deadline: remaining closers are skipped once ctx
// expires and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.manager.Len(), "closers", len(a.closers))

		if err := a.manager.Close(ctx); err != nil {
			slog.Error("sessions not flushed", "err", err)
			shutdownErr = err
		}
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = errors.Join(shutdownErr, ctx.Err())
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

// close releases whatever New opened before failing.
func (a *App) close() {
	for _, c := range a.closers {
		_ = c()
	}
}
