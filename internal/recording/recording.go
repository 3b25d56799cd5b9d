// Package recording stores the learner's scored recordings so the transcript
// can play them back.
package recording

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/MrWong99/rehearse/internal/blob"
	"github.com/MrWong99/rehearse/internal/session"
)

var _ session.Recordings = (*Store)(nil)

// Store writes WAV recordings into a [blob.Dir] and returns URLs under
// BaseURL.
type Store struct {
	dir     *blob.Dir
	baseURL string
}

// New returns a Store writing to dir. baseURL is the path the directory is
// served from, e.g. "/recordings".
func New(dir *blob.Dir, baseURL string) *Store {
	return &Store{dir: dir, baseURL: baseURL}
}

// Save implements [session.Recordings]. Every call writes a new file, so a
// line recorded again after a restart never reuses a cached URL.
func (s *Store) Save(_ context.Context, sessionID string, lineIndex int, wav []byte) (string, error) {
	name := fmt.Sprintf("%s-%03d-%s.wav", sessionID, lineIndex, uuid.NewString()[:8])
	if err := s.dir.Write(name, wav); err != nil {
		return "", fmt.Errorf("recording: %w", err)
	}
	return s.baseURL + "/" + name, nil
}

// Handler serves stored recordings.
func (s *Store) Handler() http.Handler {
	return http.StripPrefix(s.baseURL, s.dir.Handler())
}
