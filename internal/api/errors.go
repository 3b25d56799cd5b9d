package api

import (
	"errors"
	"net/http"

	"github.com/MrWong99/rehearse/internal/observe"
	"github.com/MrWong99/rehearse/internal/script"
	"github.com/MrWong99/rehearse/internal/session"
	"github.com/MrWong99/rehearse/pkg/audio"
	"github.com/MrWong99/rehearse/pkg/audio/capture"
	"github.com/MrWong99/rehearse/pkg/provider/assess"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type failure struct {
	target  error
	status  int
	code    string
	message string
}

// failures maps domain errors onto user-facing responses. The first match
// wins.
var failures = []failure{
	{capture.ErrPermissionDenied, http.StatusForbidden, "permission_denied", "microphone access was denied"},
	{capture.ErrNotRecording, http.StatusConflict, "not_recording", "no recording in progress"},
	{audio.ErrEncodingFailed, http.StatusUnprocessableEntity, "encoding_failed", "recording failed, please try again"},
	{audio.ErrInvalidFormat, http.StatusUnprocessableEntity, "invalid_audio", "recording failed, please try again"},
	{assess.ErrUnavailable, http.StatusServiceUnavailable, "scoring_unavailable", "scoring is unavailable right now, please try again"},
	{assess.ErrInvalidResponse, http.StatusBadGateway, "invalid_scoring_response", "scoring failed, please try again"},
	{script.ErrNotFound, http.StatusNotFound, "not_available", "this conversation is not available"},
	{script.ErrMalformedScript, http.StatusUnprocessableEntity, "malformed_script", "this conversation is not available"},
	{session.ErrWrongState, http.StatusConflict, "wrong_state", "that action is not possible right now"},
	{session.ErrForbidden, http.StatusForbidden, "forbidden", "session not found"},
	{session.ErrNotFound, http.StatusNotFound, "not_found", "session not found"},
}

func classify(err error) (int, errorBody) {
	for _, f := range failures {
		if errors.Is(err, f.target) {
			return f.status, errorBody{Error: f.message, Code: f.code}
		}
	}
	return http.StatusInternalServerError, errorBody{Error: "something went wrong", Code: "internal"}
}

// writeError logs err and writes the matching response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("api: request failed", "path", r.URL.Path, "status", status, "err", err)
	} else {
		log.Info("api: request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: "bad_request"})
}
