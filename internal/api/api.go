// Package api exposes practice sessions over HTTP.
//
// All routes live under /api/v1 and require an authenticated user (see
// [Authenticate]). Recordings are uploaded whole with POST, or streamed
// chunk by chunk over the capture WebSocket, which drives a
// [capture.Recorder] on the server side. Saved user recordings and
// synthesised reference audio are served from /recordings and /refaudio.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/rehearse/internal/observe"
	"github.com/MrWong99/rehearse/internal/script"
	"github.com/MrWong99/rehearse/internal/session"
	"github.com/MrWong99/rehearse/pkg/audio/capture"
)

// DefaultMaxUploadBytes bounds a single recording upload: a little over a
// minute of 48 kHz stereo 16-bit PCM.
const DefaultMaxUploadBytes = 12 << 20

// Config holds the dependencies of a [Server].
type Config struct {
	Manager *session.Manager
	Scripts script.Source
	Auth    AuthConfig

	// Capture sets the timings of WebSocket recordings.
	Capture capture.Config

	// AllowedOrigins lists host patterns, besides the request host, that may
	// open the capture WebSocket.
	AllowedOrigins []string

	// Recordings and RefAudio serve stored audio files. Nil handlers leave
	// the routes unmounted.
	Recordings http.Handler
	RefAudio   http.Handler

	Metrics        *observe.Metrics
	MaxUploadBytes int64
}

// Server serves the practice API.
type Server struct {
	cfg Config
}

// New returns a Server. Manager and Scripts are required.
func New(cfg Config) (*Server, error) {
	var errs []error
	if cfg.Manager == nil {
		errs = append(errs, errors.New("session manager is required"))
	}
	if cfg.Scripts == nil {
		errs = append(errs, errors.New("script source is required"))
	}
	if !cfg.Auth.Disabled && len(cfg.Auth.Secret) == 0 {
		errs = append(errs, errors.New("jwt secret is required unless auth is disabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Server{cfg: cfg}, nil
}

// Routes registers the API and static audio routes on r.
func (s *Server) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticate(s.cfg.Auth))
		r.Use(Locales)

		r.Get("/scripts/{scenarioID}/{characterID}", s.handleGetScript)
		r.Post("/sessions", s.handleOpenSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/recordings", s.handleUploadRecording)
			r.Post("/restart", s.handleRestart)
			r.Get("/capture", s.handleCapture)
		})
	})
	if s.cfg.Recordings != nil {
		r.Handle("/recordings/*", s.cfg.Recordings)
	}
	if s.cfg.RefAudio != nil {
		r.Handle("/refaudio/*", s.cfg.RefAudio)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
