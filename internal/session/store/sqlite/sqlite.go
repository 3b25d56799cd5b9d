// Package sqlite is a single-file [session.Store] built on the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/rehearse/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS practice_sessions (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	scenario_id        TEXT NOT NULL,
	character_id       TEXT NOT NULL,
	language_code      TEXT NOT NULL,
	transcript         TEXT NOT NULL DEFAULT '[]',
	current_line_index INTEGER NOT NULL DEFAULT 0,
	completed          INTEGER NOT NULL DEFAULT 0,
	score              INTEGER,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	UNIQUE (user_id, scenario_id, character_id)
);
`

const columns = `id, user_id, scenario_id, character_id, language_code,
	transcript, current_line_index, completed, score, created_at, updated_at`

// Store is a [session.Store] backed by one SQLite database file.
type Store struct {
	db *sql.DB
}

var _ session.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("session sqlite: open: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("session sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("session sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database. It backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// GetOrCreate implements [session.Store].
func (s *Store) GetOrCreate(ctx context.Context, fresh *session.Session) (*session.Session, error) {
	args, err := values(fresh)
	if err != nil {
		return nil, err
	}
	q := `INSERT INTO practice_sessions (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, scenario_id, character_id) DO UPDATE SET user_id = excluded.user_id
		RETURNING ` + columns
	got, err := scan(s.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, fmt.Errorf("session sqlite: get or create: %w", err)
	}
	return got, nil
}

// Get implements [session.Store].
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	got, err := scan(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM practice_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session sqlite: %s: %w", id, session.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("session sqlite: get: %w", err)
	}
	return got, nil
}

// Upsert implements [session.Store].
func (s *Store) Upsert(ctx context.Context, sess *session.Session) error {
	args, err := values(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO practice_sessions (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			language_code      = excluded.language_code,
			transcript         = excluded.transcript,
			current_line_index = excluded.current_line_index,
			completed          = excluded.completed,
			score              = excluded.score,
			updated_at         = excluded.updated_at`, args...)
	if err != nil {
		return fmt.Errorf("session sqlite: upsert: %w", err)
	}
	return nil
}

func values(s *session.Session) ([]any, error) {
	t := s.Transcript
	if t == nil {
		t = []session.ChatMessage{}
	}
	transcript, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("session sqlite: marshal transcript: %w", err)
	}
	var score sql.NullInt64
	if s.Score != nil {
		score = sql.NullInt64{Int64: int64(*s.Score), Valid: true}
	}
	return []any{
		s.ID, s.UserID, s.ScenarioID, s.CharacterID, s.LanguageCode,
		string(transcript), s.CurrentLineIndex, s.Completed, score,
		s.CreatedAt.UTC().Format(time.RFC3339Nano), s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func scan(row *sql.Row) (*session.Session, error) {
	var (
		s          session.Session
		transcript string
		score      sql.NullInt64
		created    string
		updated    string
	)
	if err := row.Scan(
		&s.ID, &s.UserID, &s.ScenarioID, &s.CharacterID, &s.LanguageCode,
		&transcript, &s.CurrentLineIndex, &s.Completed, &score, &created, &updated,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(transcript), &s.Transcript); err != nil {
		return nil, fmt.Errorf("unmarshal transcript: %w", err)
	}
	if score.Valid {
		v := int(score.Int64)
		s.Score = &v
	}
	var err error
	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if s.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &s, nil
}
