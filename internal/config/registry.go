package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/rehearse/pkg/provider/assess"
	"github.com/MrWong99/rehearse/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// AssessFactory builds an assessment provider from its config entry.
type AssessFactory func(ctx context.Context, entry ProviderEntry, cfg AssessConfig) (assess.Provider, error)

// TTSFactory builds a TTS provider from its config entry.
type TTSFactory func(ctx context.Context, entry ProviderEntry) (tts.Provider, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	assess map[string]AssessFactory
	tts    map[string]TTSFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		assess: make(map[string]AssessFactory),
		tts:    make(map[string]TTSFactory),
	}
}

// RegisterAssess registers an assessment provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAssess(name string, f AssessFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assess[name] = f
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, f TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = f
}

// CreateAssess instantiates the assessment provider registered under
// entry.Name. cfg supplies the shared weights and timeout.
func (r *Registry) CreateAssess(ctx context.Context, entry ProviderEntry, cfg AssessConfig) (assess.Provider, error) {
	r.mu.RLock()
	f, ok := r.assess[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: assess/%q", ErrProviderNotRegistered, entry.Name)
	}
	return f(ctx, entry, cfg)
}

// CreateTTS instantiates the TTS provider registered under entry.Name.
func (r *Registry) CreateTTS(ctx context.Context, entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	f, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return f(ctx, entry)
}

// OptionString returns the string option key of e, or "".
func (e ProviderEntry) OptionString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptionFloat returns the numeric option key of e, or 0.
func (e ProviderEntry) OptionFloat(key string) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
