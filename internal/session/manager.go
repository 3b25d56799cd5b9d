package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/rehearse/internal/observe"
	"github.com/MrWong99/rehearse/internal/score"
	"github.com/MrWong99/rehearse/internal/script"
	"github.com/MrWong99/rehearse/pkg/provider/assess"
)

// ErrForbidden is returned when a user asks for another user's session.
var ErrForbidden = errors.New("session: belongs to another user")

// ManagerConfig holds the shared dependencies handed to every engine.
type ManagerConfig struct {
	Scripts        script.Source
	Store          Store
	Encoder        Encoder
	Assessor       assess.Provider
	Aggregator     *score.Aggregator
	Recordings     Recordings
	ReferenceAudio ReferenceAudio
	Metrics        *observe.Metrics
	ScoringTimeout time.Duration
}

// Manager keeps one [Engine] per (user, scenario, character). All methods
// are safe for concurrent use.
type Manager struct {
	cfg ManagerConfig

	mu      sync.Mutex
	engines map[Key]*Engine
	byID    map[string]Key
	loaders map[*script.Script]*script.Loader
}

// NewManager returns a Manager. Scripts, Store, Encoder and Assessor are
// required.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	var errs []error
	if cfg.Scripts == nil {
		errs = append(errs, errors.New("script source is required"))
	}
	if cfg.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if cfg.Encoder == nil {
		errs = append(errs, errors.New("encoder is required"))
	}
	if cfg.Assessor == nil {
		errs = append(errs, errors.New("assessor is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("session: new manager: %w", err)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Manager{
		cfg:     cfg,
		engines: make(map[Key]*Engine),
		byID:    make(map[string]Key),
		loaders: make(map[*script.Script]*script.Loader),
	}, nil
}

// Open returns the running engine for key, loading the stored session or
// creating a new one. A stored session in a different language is restarted
// in the requested one. An idle engine whose script was replaced in the
// source is restarted on the new script, resuming where it fits. Errors
// from the script source ([script.ErrNotFound], [script.ErrMalformedScript])
// are returned unchanged in the chain.
func (m *Manager) Open(ctx context.Context, key Key, languageCode string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.engines[key]; ok {
		snap := e.Snapshot()
		if snap.LanguageCode == languageCode {
			return m.refreshLocked(ctx, key, e, languageCode)
		}
		m.dropLocked(ctx, key, snap.SessionID)
	}

	s, err := m.cfg.Scripts.Get(ctx, key.ScenarioID, key.CharacterID, languageCode)
	if err != nil {
		return nil, fmt.Errorf("session: open: %w", err)
	}

	now := time.Now().UTC()
	stored, err := m.cfg.Store.GetOrCreate(ctx, &Session{
		ID:           uuid.NewString(),
		UserID:       key.UserID,
		ScenarioID:   key.ScenarioID,
		CharacterID:  key.CharacterID,
		LanguageCode: languageCode,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("session: open: %w: %w", ErrPersistence, err)
	}
	if stored.LanguageCode != languageCode {
		slog.Info("session: language changed, starting over",
			"session_id", stored.ID, "from", stored.LanguageCode, "to", languageCode)
		stored.LanguageCode = languageCode
		stored.Transcript = nil
		stored.CurrentLineIndex = 0
		stored.Completed = false
		stored.Score = nil
	}
	return m.startLocked(ctx, key, s, stored)
}

// Get returns the engine for a session ID owned by userID, starting it from
// the store when it is not in memory.
func (m *Manager) Get(ctx context.Context, userID, sessionID string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key, ok := m.byID[sessionID]; ok {
		if key.UserID != userID {
			return nil, ErrForbidden
		}
		return m.engines[key], nil
	}

	stored, err := m.cfg.Store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", sessionID, err)
	}
	if stored.UserID != userID {
		return nil, ErrForbidden
	}
	s, err := m.cfg.Scripts.Get(ctx, stored.ScenarioID, stored.CharacterID, stored.LanguageCode)
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", sessionID, err)
	}
	return m.startLocked(ctx, stored.Key(), s, stored)
}

func (m *Manager) startLocked(ctx context.Context, key Key, s *script.Script, stored *Session) (*Engine, error) {
	e, err := NewEngine(Config{
		Loader:         m.loaderLocked(s),
		Session:        stored,
		Encoder:        m.cfg.Encoder,
		Assessor:       m.cfg.Assessor,
		Aggregator:     m.cfg.Aggregator,
		Store:          m.cfg.Store,
		Recordings:     m.cfg.Recordings,
		ReferenceAudio: m.cfg.ReferenceAudio,
		Metrics:        m.cfg.Metrics,
		ScoringTimeout: m.cfg.ScoringTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := e.Start(ctx); err != nil {
		return nil, err
	}
	m.engines[key] = e
	m.byID[stored.ID] = key
	m.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	return e, nil
}

// loaderLocked returns the loader for s, creating it on first use, so that
// each script is prepared once no matter how many sessions use it.
func (m *Manager) loaderLocked(s *script.Script) *script.Loader {
	if l, ok := m.loaders[s]; ok {
		return l
	}
	l := script.NewLoader(s)
	m.loaders[s] = l
	return l
}

// refreshLocked returns e, or a replacement engine when the source now
// serves a different script for it and e is not busy. A replacement script
// that does not load keeps e.
func (m *Manager) refreshLocked(ctx context.Context, key Key, e *Engine, languageCode string) (*Engine, error) {
	old := e.loader.Script()
	current, err := m.cfg.Scripts.Get(ctx, key.ScenarioID, key.CharacterID, languageCode)
	if err != nil || current == old {
		return e, nil
	}
	if _, err := m.loaderLocked(current).Load(); err != nil {
		observe.Logger(ctx).Warn("session: replacement script does not load, keeping the old one",
			"script", current.ID, "err", err)
		return e, nil
	}
	sess, ok := e.detachIdle(ctx)
	if !ok {
		return e, nil
	}
	m.forgetLocked(ctx, key, sess.ID)
	delete(m.loaders, old)

	observe.Logger(ctx).Info("session: script changed, reloading", "session_id", sess.ID, "script", current.ID)
	return m.startLocked(ctx, key, current, sess)
}

func (m *Manager) dropLocked(ctx context.Context, key Key, sessionID string) {
	if err := m.engines[key].detach(ctx); err != nil {
		slog.Warn("session: flush before unload failed", "session_id", sessionID, "err", err)
	}
	m.forgetLocked(ctx, key, sessionID)
}

func (m *Manager) forgetLocked(ctx context.Context, key Key, sessionID string) {
	delete(m.engines, key)
	delete(m.byID, sessionID)
	m.cfg.Metrics.ActiveSessions.Add(ctx, -1)
}

// Len returns the number of engines in memory.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.engines)
}

// Close flushes pending saves of every engine, detaches and forgets them. It
// returns the joined flush errors.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for key, e := range m.engines {
		if err := e.detach(ctx); err != nil {
			errs = append(errs, err)
		}
		delete(m.engines, key)
		m.cfg.Metrics.ActiveSessions.Add(ctx, -1)
	}
	clear(m.byID)
	return errors.Join(errs...)
}
