// Package assess defines the Provider interface for pronunciation assessment
// backends and the canonical [Result] every backend is normalised into.
//
// A provider receives one validated 16-bit PCM wave file together with the
// reference text the learner was asked to read, and returns per-category and
// per-word scores. Remote backends differ in how they frame the request but
// all of them answer with the NBest response shape understood by
// [Normalize], so implementations are thin transport wrappers around it.
//
// Implementations must be safe for concurrent use.
package assess

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned when the assessment service cannot be reached,
	// times out, or answers with a non-success status. The learner may simply
	// record the prompt again.
	ErrUnavailable = errors.New("assess: scoring unavailable")

	// ErrInvalidResponse is returned when the service answers but the body
	// violates the response contract (no NBest hypotheses, no word list,
	// unknown error types).
	ErrInvalidResponse = errors.New("assess: invalid assessment response")
)

// Request is one utterance to be scored.
type Request struct {
	// Audio is a wave file that has passed audio.Validate.
	Audio []byte

	// ReferenceText is the text the learner was asked to say.
	ReferenceText string

	// LanguageCode is a BCP-47 tag such as "es-ES" or "th-TH".
	LanguageCode string
}

// Provider scores a spoken utterance against its reference text.
type Provider interface {
	// Assess submits req and returns the normalised result. Transport
	// failures wrap [ErrUnavailable]; contract violations wrap
	// [ErrInvalidResponse].
	Assess(ctx context.Context, req Request) (*Result, error)
}
