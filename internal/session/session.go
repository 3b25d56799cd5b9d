// Package session runs scripted practice conversations.
//
// An [Engine] is the single owner of one [Session]: it seeds the transcript
// from the script, accepts one recording per user turn, scores it, and
// appends the results before moving on to the next prompt. Display surfaces
// read an [Engine.Snapshot] and never mutate the session directly.
//
// A [Manager] keeps one engine per (user, scenario, character) and loads or
// creates the backing session through a [Store].
package session

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/rehearse/internal/script"
	"github.com/MrWong99/rehearse/pkg/provider/assess"
)

var (
	// ErrWrongState is returned when an operation is not allowed in the
	// engine's current state, e.g. submitting while a turn is being scored.
	ErrWrongState = errors.New("session: operation not allowed in current state")

	// ErrPersistence marks a failed save. Engines log it and retry on the
	// next mutation; it only reaches callers of [Engine.Flush].
	ErrPersistence = errors.New("session: persistence failure")

	// ErrNotFound is returned by a [Store] when no session matches.
	ErrNotFound = errors.New("session: not found")
)

// Role is the author of a transcript message.
type Role string

const (
	RoleBot  Role = "bot"
	RoleUser Role = "user"
)

// ChatMessage is one materialized turn of the conversation. Messages are
// only ever appended to a transcript. The scoring fields of a user message
// are set once, when the message is created after a successful assessment.
type ChatMessage struct {
	ID                string         `json:"id"`
	Role              Role           `json:"role"`
	Text              string         `json:"text"`
	Transliteration   string         `json:"transliteration,omitempty"`
	Translation       string         `json:"translation"`
	ReferenceAudioURL string         `json:"referenceAudioUrl,omitempty"`
	UserAudioURL      string         `json:"userAudioUrl,omitempty"`
	Score             *int           `json:"score,omitempty"`
	Feedback          *assess.Result `json:"feedback,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
}

// UserScore returns the score of a scored user message.
func (m ChatMessage) UserScore() (int, bool) {
	if m.Role != RoleUser || m.Score == nil {
		return 0, false
	}
	return *m.Score, true
}

// Key identifies the one session a user has for a scenario and character.
type Key struct {
	UserID      string
	ScenarioID  string
	CharacterID string
}

// Session is the persisted state of one practice conversation.
//
// CurrentLineIndex points at the next unresolved user prompt, or equals the
// script length once Completed is set.
type Session struct {
	ID               string        `json:"id"`
	UserID           string        `json:"userId"`
	ScenarioID       string        `json:"scenarioId"`
	CharacterID      string        `json:"characterId"`
	LanguageCode     string        `json:"languageCode"`
	Transcript       []ChatMessage `json:"transcript"`
	CurrentLineIndex int           `json:"currentLineIndex"`
	Completed        bool          `json:"completed"`
	Score            *int          `json:"score,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// Key returns the identifying triple of s.
func (s *Session) Key() Key {
	return Key{UserID: s.UserID, ScenarioID: s.ScenarioID, CharacterID: s.CharacterID}
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Transcript = cloneTranscript(s.Transcript)
	cp.Score = cloneInt(s.Score)
	return &cp
}

func cloneTranscript(in []ChatMessage) []ChatMessage {
	if in == nil {
		return nil
	}
	out := make([]ChatMessage, len(in))
	for i, m := range in {
		m.Score = cloneInt(m.Score)
		if m.Feedback != nil {
			fb := *m.Feedback
			fb.Words = append([]assess.Word(nil), m.Feedback.Words...)
			m.Feedback = &fb
		}
		out[i] = m
	}
	return out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Store loads and saves sessions.
type Store interface {
	// GetOrCreate returns the session stored under fresh's key, inserting
	// fresh when there is none. Concurrent calls for one key all return the
	// same row.
	GetOrCreate(ctx context.Context, fresh *Session) (*Session, error)

	// Get returns the session with the given ID or [ErrNotFound].
	Get(ctx context.Context, id string) (*Session, error)

	// Upsert writes s, replacing any stored version.
	Upsert(ctx context.Context, s *Session) error
}

// State is the engine's position in the turn cycle.
type State int

const (
	// StateIdle is the state before [Engine.Start].
	StateIdle State = iota

	// StateAwaitingPrompt is held while character lines are being appended
	// and no user prompt is current yet.
	StateAwaitingPrompt

	// StatePromptReady means a user line is current and a recording may be
	// submitted.
	StatePromptReady

	// StateScoring means a recording is being encoded and assessed.
	StateScoring

	// StateComplete is terminal until a restart.
	StateComplete
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingPrompt:
		return "awaiting_prompt"
	case StatePromptReady:
		return "prompt_ready"
	case StateScoring:
		return "scoring"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a read-only view of an engine for display.
type Snapshot struct {
	SessionID        string        `json:"sessionId"`
	ScenarioID       string        `json:"scenarioId"`
	CharacterID      string        `json:"characterId"`
	LanguageCode     string        `json:"languageCode"`
	State            State         `json:"state"`
	Prompt           *script.Line  `json:"prompt,omitempty"`
	Transcript       []ChatMessage `json:"transcript"`
	CurrentLineIndex int           `json:"currentLineIndex"`
	TotalLines       int           `json:"totalLines"`
	Completed        bool          `json:"completed"`
	Score            *int          `json:"score,omitempty"`

	// PendingSave is set while the last save failed and awaits a retry.
	PendingSave bool `json:"pendingSave,omitempty"`
}

// TurnResult is the outcome of a successfully scored recording.
type TurnResult struct {
	// Message is the user message appended for the scored turn.
	Message ChatMessage `json:"message"`

	// Replies are the character lines appended after it.
	Replies []ChatMessage `json:"replies,omitempty"`

	// Completed is set when the turn finished the script.
	Completed bool `json:"completed"`

	Snapshot Snapshot `json:"snapshot"`
}
