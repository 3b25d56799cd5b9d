package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/rehearse/internal/script"
	"github.com/MrWong99/rehearse/internal/session"
	"github.com/MrWong99/rehearse/pkg/audio"
)

type openRequest struct {
	ScenarioID   string `json:"scenarioId"`
	CharacterID  string `json:"characterId"`
	LanguageCode string `json:"languageCode"`
}

func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	lang := r.URL.Query().Get("lang")
	if lang == "" {
		badRequest(w, "lang is required")
		return
	}
	sc, err := s.cfg.Scripts.Get(r.Context(), chi.URLParam(r, "scenarioID"), chi.URLParam(r, "characterID"), lang)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := script.Validate(sc); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	req.ScenarioID = strings.TrimSpace(req.ScenarioID)
	req.CharacterID = strings.TrimSpace(req.CharacterID)
	req.LanguageCode = strings.TrimSpace(req.LanguageCode)
	if req.ScenarioID == "" || req.CharacterID == "" || req.LanguageCode == "" {
		badRequest(w, "scenarioId, characterId and languageCode are required")
		return
	}

	key := session.Key{UserID: UserID(r.Context()), ScenarioID: req.ScenarioID, CharacterID: req.CharacterID}
	eng, err := s.cfg.Manager.Open(r.Context(), key, req.LanguageCode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eng.Snapshot())
}

// engine resolves the session in the URL for the calling user. It writes
// the error response itself and returns nil on failure.
func (s *Server) engine(w http.ResponseWriter, r *http.Request) *session.Engine {
	eng, err := s.cfg.Manager.Get(r.Context(), UserID(r.Context()), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return nil
	}
	return eng
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	eng := s.engine(w, r)
	if eng == nil {
		return
	}
	writeJSON(w, http.StatusOK, eng.Snapshot())
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	eng := s.engine(w, r)
	if eng == nil {
		return
	}
	if err := eng.Restart(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eng.Snapshot())
}

// handleUploadRecording scores a complete recording sent as the request
// body. The Content-Type selects the container; headerless PCM takes its
// format from the rate and channels query parameters.
func (s *Server) handleUploadRecording(w http.ResponseWriter, r *http.Request) {
	container, ok := audio.ContainerFromMIME(r.Header.Get("Content-Type"))
	if !ok {
		writeJSON(w, http.StatusUnsupportedMediaType, errorBody{Error: "unsupported audio type", Code: "unsupported_media_type"})
		return
	}
	format, err := formatFromQuery(r, container)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	eng := s.engine(w, r)
	if eng == nil {
		return
	}
	release, err := eng.BeginCapture(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer release()

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "recording is too long", Code: "too_large"})
			return
		}
		badRequest(w, "could not read recording")
		return
	}

	res, err := eng.SubmitRecording(r.Context(), audio.Capture{Data: data, Container: container, Format: format})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func formatFromQuery(r *http.Request, c audio.Container) (audio.Format, error) {
	q := r.URL.Query()
	f := audio.Format{SampleRate: audio.DefaultSampleRate, Channels: 1}
	if c == audio.ContainerWAV {
		return audio.Format{}, nil
	}
	if v := q.Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 2 {
			return f, errors.New("channels must be 1 or 2")
		}
		f.Channels = n
	}
	if v := q.Get("rate"); v != "" && c == audio.ContainerPCM16 {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, errors.New("rate must be a positive integer")
		}
		f.SampleRate = n
	}
	return f, f.CheckSource()
}
