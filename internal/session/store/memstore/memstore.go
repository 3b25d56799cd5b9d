// Package memstore is an in-process [session.Store] for tests, the practice
// CLI and single-node deployments that do not need sessions to survive a
// restart.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/rehearse/internal/session"
)

var _ session.Store = (*Store)(nil)

// Store keeps sessions in memory. Stored values are copied on the way in and
// out. The zero value is not usable; call [New].
type Store struct {
	mu    sync.Mutex
	byID  map[string]*session.Session
	byKey map[session.Key]string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		byID:  make(map[string]*session.Session),
		byKey: make(map[session.Key]string),
	}
}

// GetOrCreate implements [session.Store].
func (s *Store) GetOrCreate(_ context.Context, fresh *session.Session) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[fresh.Key()]; ok {
		return s.byID[id].Clone(), nil
	}
	s.putLocked(fresh)
	return fresh.Clone(), nil
}

// Get implements [session.Store].
func (s *Store) Get(_ context.Context, id string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	got, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("memstore: %s: %w", id, session.ErrNotFound)
	}
	return got.Clone(), nil
}

// Upsert implements [session.Store]. A session with a new ID but an existing
// key replaces the old row.
func (s *Store) Upsert(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[sess.Key()]; ok && id != sess.ID {
		delete(s.byID, id)
	}
	s.putLocked(sess)
	return nil
}

func (s *Store) putLocked(sess *session.Session) {
	s.byID[sess.ID] = sess.Clone()
	s.byKey[sess.Key()] = sess.ID
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
