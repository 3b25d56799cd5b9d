// Package postgres is a PostgreSQL-backed [session.Store].
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/rehearse/internal/session"
)

// Schema is the SQL DDL for the practice_sessions table. Execute it via
// [Store.Migrate] or apply it manually during deployment. The unique triple
// lets concurrent first visits share one row.
const Schema = `
CREATE TABLE IF NOT EXISTS practice_sessions (
    id                 TEXT PRIMARY KEY,
    user_id            TEXT NOT NULL,
    scenario_id        TEXT NOT NULL,
    character_id       TEXT NOT NULL,
    language_code      TEXT NOT NULL,
    transcript         JSONB NOT NULL DEFAULT '[]',
    current_line_index INTEGER NOT NULL DEFAULT 0,
    completed          BOOLEAN NOT NULL DEFAULT FALSE,
    score              INTEGER,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (user_id, scenario_id, character_id)
);
CREATE INDEX IF NOT EXISTS idx_practice_sessions_user ON practice_sessions(user_id);
`

const columns = `id, user_id, scenario_id, character_id, language_code,
       transcript, current_line_index, completed, score, created_at, updated_at`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a [session.Store] backed by PostgreSQL. The transcript is stored
// as JSONB.
type Store struct {
	db DB
}

var _ session.Store = (*Store)(nil)

// New returns a Store using db. Call [Store.Migrate] before first use.
func New(db DB) *Store {
	return &Store{db: db}
}

// Open connects a pool to dsn, pings it and applies the schema. The caller
// must close the returned pool.
func Open(ctx context.Context, dsn string) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("session postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("session postgres: ping: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// Migrate executes [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("session postgres: migrate: %w", err)
	}
	return nil
}

// GetOrCreate implements [session.Store]. The insert turns into a no-op
// update on a key conflict so that RETURNING yields the existing row.
func (s *Store) GetOrCreate(ctx context.Context, fresh *session.Session) (*session.Session, error) {
	transcript, err := marshalTranscript(fresh.Transcript)
	if err != nil {
		return nil, err
	}
	q := `
		INSERT INTO practice_sessions (
			id, user_id, scenario_id, character_id, language_code,
			transcript, current_line_index, completed, score, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (user_id, scenario_id, character_id)
		DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING ` + columns

	got, err := scan(s.db.QueryRow(ctx, q,
		fresh.ID, fresh.UserID, fresh.ScenarioID, fresh.CharacterID, fresh.LanguageCode,
		transcript, fresh.CurrentLineIndex, fresh.Completed, fresh.Score, fresh.CreatedAt, fresh.UpdatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("session postgres: get or create: %w", err)
	}
	return got, nil
}

// Get implements [session.Store].
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	q := `SELECT ` + columns + ` FROM practice_sessions WHERE id = $1`
	got, err := scan(s.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session postgres: %s: %w", id, session.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("session postgres: get: %w", err)
	}
	return got, nil
}

// Upsert implements [session.Store].
func (s *Store) Upsert(ctx context.Context, sess *session.Session) error {
	transcript, err := marshalTranscript(sess.Transcript)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO practice_sessions (
			id, user_id, scenario_id, character_id, language_code,
			transcript, current_line_index, completed, score, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			language_code      = EXCLUDED.language_code,
			transcript         = EXCLUDED.transcript,
			current_line_index = EXCLUDED.current_line_index,
			completed          = EXCLUDED.completed,
			score              = EXCLUDED.score,
			updated_at         = EXCLUDED.updated_at`

	_, err = s.db.Exec(ctx, q,
		sess.ID, sess.UserID, sess.ScenarioID, sess.CharacterID, sess.LanguageCode,
		transcript, sess.CurrentLineIndex, sess.Completed, sess.Score, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("session postgres: upsert: %w", err)
	}
	return nil
}

// Ping checks the connection. It backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.db.Exec(ctx, "SELECT 1")
	return err
}

func marshalTranscript(t []session.ChatMessage) ([]byte, error) {
	if t == nil {
		t = []session.ChatMessage{}
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("session postgres: marshal transcript: %w", err)
	}
	return b, nil
}

func scan(row pgx.Row) (*session.Session, error) {
	var (
		s          session.Session
		transcript []byte
	)
	if err := row.Scan(
		&s.ID, &s.UserID, &s.ScenarioID, &s.CharacterID, &s.LanguageCode,
		&transcript, &s.CurrentLineIndex, &s.Completed, &s.Score, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(transcript, &s.Transcript); err != nil {
		return nil, fmt.Errorf("unmarshal transcript: %w", err)
	}
	return &s, nil
}
