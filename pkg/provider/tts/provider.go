// Package tts defines the Provider interface for Text-to-Speech backends.
//
// Providers synthesise the reference recording a learner listens to before
// repeating a line. Synthesis is batch: one line of text in, one encoded
// audio file out. Results are cached on disk by the caller, so a provider is
// called at most once per distinct line and voice.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyText is returned when a request carries no text to synthesise.
var ErrEmptyText = errors.New("tts: empty text")

// Gender selects a voice when no explicit voice is configured.
type Gender string

// Voice genders. GenderNeutral lets the provider choose.
const (
	GenderNeutral Gender = ""
	GenderFemale  Gender = "female"
	GenderMale    Gender = "male"
)

// ParseGender maps a script's speaker gender onto a [Gender]. Unknown values
// map to [GenderNeutral].
func ParseGender(s string) Gender {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "female", "f", "woman":
		return GenderFemale
	case "male", "m", "man":
		return GenderMale
	}
	return GenderNeutral
}

// Request is one line of text to synthesise.
type Request struct {
	Text string

	// LanguageCode is a BCP-47 tag such as "th-TH".
	LanguageCode string

	Gender Gender

	// Voice is a provider-specific voice name or ID. When empty the provider
	// picks one from LanguageCode and Gender.
	Voice string
}

// Audio is an encoded audio file.
type Audio struct {
	Data []byte

	// MIMEType is e.g. "audio/mpeg".
	MIMEType string

	// Ext is the file extension including the dot, e.g. ".mp3".
	Ext string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders req.Text as speech. It returns [ErrEmptyText] for
	// blank input.
	Synthesize(ctx context.Context, req Request) (*Audio, error)
}
