// Package script models the bilingual dialogue scripts a learner practises
// and prepares them for the session engine.
//
// A [Script] is authored data: an ordered list of lines that alternate
// between a character and the user. [Load] checks the script and works out
// what the learner sees before their first recording. [Loader] runs that
// preparation exactly once per script instance.
package script

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrMalformedScript is returned when a script cannot be practised: no
	// lines, an odd number of lines, a line missing its target text or
	// translation, or an unknown speaker.
	ErrMalformedScript = errors.New("script: malformed script")

	// ErrNotFound is returned by a [Source] when no script exists for the
	// requested scenario, character and language.
	ErrNotFound = errors.New("script: not available in this language")
)

// Speaker identifies who says a line.
type Speaker string

const (
	SpeakerCharacter Speaker = "character"
	SpeakerUser      Speaker = "user"
)

// Valid reports whether s is a known speaker.
func (s Speaker) Valid() bool {
	return s == SpeakerCharacter || s == SpeakerUser
}

// Line is one turn of a script. Empty strings stand for absent optional
// values.
type Line struct {
	Speaker Speaker `yaml:"speaker" json:"speaker"`

	// TargetText is what is spoken and, for user lines, assessed.
	TargetText string `yaml:"targetText" json:"targetText"`

	// TTSText is the text given to speech synthesis when it differs from
	// TargetText, e.g. in spacing.
	TTSText string `yaml:"ttsText,omitempty" json:"ttsText,omitempty"`

	Transliteration   string `yaml:"transliteration,omitempty" json:"transliteration,omitempty"`
	Translation       string `yaml:"translation" json:"translation"`
	ReferenceAudioURL string `yaml:"referenceAudioUrl,omitempty" json:"referenceAudioUrl,omitempty"`
}

// SynthesisText returns TTSText, or TargetText when TTSText is empty.
func (l Line) SynthesisText() string {
	if strings.TrimSpace(l.TTSText) != "" {
		return l.TTSText
	}
	return l.TargetText
}

// Script is one scenario and character dialogue in one language. Turn order
// is slice order.
type Script struct {
	ID            string `yaml:"id" json:"id"`
	LanguageCode  string `yaml:"languageCode" json:"languageCode"`
	ScenarioID    string `yaml:"scenarioId" json:"scenarioId"`
	CharacterID   string `yaml:"characterId" json:"characterId"`
	SpeakerGender string `yaml:"speakerGender,omitempty" json:"speakerGender,omitempty"`
	Lines         []Line `yaml:"lines" json:"lines"`
}

// Loaded is a script prepared for a session.
type Loaded struct {
	Lines []Line

	// InitialMessages are shown before the first recording: the opening
	// character line when there is one.
	InitialMessages []Line

	// InitialLineIndex is the index of the first line the engine handles.
	InitialLineIndex int
}

// Load validates s and computes the opening state of a session. A script
// that opens with a character line has that line as its single initial
// message and starts at index 1; otherwise it starts at index 0.
func Load(s *Script) (*Loaded, error) {
	if err := Validate(s); err != nil {
		return nil, err
	}
	lines := append([]Line(nil), s.Lines...)
	l := &Loaded{Lines: lines}
	if lines[0].Speaker == SpeakerCharacter {
		l.InitialMessages = lines[:1:1]
		l.InitialLineIndex = 1
	}
	return l, nil
}

// Validate reports every problem with s, joined and wrapped in
// [ErrMalformedScript].
func Validate(s *Script) error {
	if s == nil || len(s.Lines) == 0 {
		return fmt.Errorf("%w: no lines", ErrMalformedScript)
	}
	var errs []error
	if len(s.Lines)%2 != 0 {
		errs = append(errs, fmt.Errorf("%d lines is not a whole number of exchanges", len(s.Lines)))
	}
	for i, l := range s.Lines {
		if !l.Speaker.Valid() {
			errs = append(errs, fmt.Errorf("line %d: unknown speaker %q", i, l.Speaker))
		}
		if strings.TrimSpace(l.TargetText) == "" {
			errs = append(errs, fmt.Errorf("line %d: missing targetText", i))
		}
		if strings.TrimSpace(l.Translation) == "" {
			errs = append(errs, fmt.Errorf("line %d: missing translation", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrMalformedScript, errors.Join(errs...))
	}
	return nil
}

// Loader prepares one script at most once. Every call to [Loader.Load]
// returns the same result, so re-subscribing observers cannot re-seed a
// transcript.
type Loader struct {
	script *Script

	once   sync.Once
	loaded *Loaded
	err    error
}

// NewLoader returns a Loader for s.
func NewLoader(s *Script) *Loader {
	return &Loader{script: s}
}

// Script returns the underlying script.
func (l *Loader) Script() *Script { return l.script }

// Load runs [Load] on the first call and returns the cached outcome after.
func (l *Loader) Load() (*Loaded, error) {
	l.once.Do(func() {
		l.loaded, l.err = Load(l.script)
	})
	return l.loaded, l.err
}
