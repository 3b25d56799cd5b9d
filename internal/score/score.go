// Package score turns assessment results into learner-facing feedback and
// session-level scores.
package score

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"github.com/MrWong99/rehearse/pkg/provider/assess"
)

//go:embed locales/*.json
var localeFS embed.FS

// DefaultLocale is used when a requested locale has no translations.
const DefaultLocale = "en"

// Aggregator renders improvement suggestions from per-word results. It is
// safe for concurrent use.
type Aggregator struct {
	bundle *i18n.Bundle
}

// New returns an Aggregator with the built-in en, es and th messages.
func New() (*Aggregator, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("score: read locales: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("score: read locale %s: %w", e.Name(), err)
		}
		if _, err := bundle.ParseMessageFileBytes(data, e.Name()); err != nil {
			return nil, fmt.Errorf("score: parse locale %s: %w", e.Name(), err)
		}
	}
	return &Aggregator{bundle: bundle}, nil
}

// Locales returns the tags that have translations.
func (a *Aggregator) Locales() []language.Tag {
	return a.bundle.LanguageTags()
}

// SuggestionsFor returns one remark per word whose error type is not None,
// in word order and joined by single spaces. When no word has an error it
// returns a single positive message. locales are tried in order, as in an
// Accept-Language header; English is the fallback. The output depends only
// on the arguments.
func (a *Aggregator) SuggestionsFor(words []assess.Word, locales ...string) string {
	loc := i18n.NewLocalizer(a.bundle, append(locales[:len(locales):len(locales)], DefaultLocale)...)

	var parts []string
	for _, w := range words {
		if w.ErrorType == assess.ErrorNone {
			continue
		}
		parts = append(parts, a.localize(loc, messageFor(w.ErrorType), map[string]any{
			"Word":      w.Word,
			"Score":     w.AccuracyScore,
			"ErrorType": string(w.ErrorType),
		}))
	}
	if len(parts) == 0 {
		return a.localize(loc, "SuggestionPerfect", nil)
	}
	return strings.Join(parts, " ")
}

func messageFor(t assess.ErrorType) string {
	switch t {
	case assess.ErrorOmission:
		return "SuggestionOmission"
	case assess.ErrorMispronunciation:
		return "SuggestionMispronunciation"
	case assess.ErrorUnexpectedBreak:
		return "SuggestionUnexpectedBreak"
	case assess.ErrorMissingBreak:
		return "SuggestionMissingBreak"
	case assess.ErrorMonotone:
		return "SuggestionMonotone"
	default:
		return "SuggestionGeneric"
	}
}

func (a *Aggregator) localize(loc *i18n.Localizer, id string, data map[string]any) string {
	s, err := loc.Localize(&i18n.LocalizeConfig{MessageID: id, TemplateData: data})
	if err != nil {
		slog.Warn("score: missing translation", "id", id, "err", err)
		return id
	}
	return s
}

// Apply fills r.Suggestions from r.Words and returns r.
func (a *Aggregator) Apply(r *assess.Result, locales ...string) *assess.Result {
	if r != nil {
		r.Suggestions = a.SuggestionsFor(r.Words, locales...)
	}
	return r
}

// Scored is a transcript entry that may carry a user score.
type Scored interface {
	// UserScore returns the score of a user message, or false for bot
	// messages and unscored user messages.
	UserScore() (int, bool)
}

// SessionScore returns the rounded arithmetic mean of every user score in
// transcript. It reports false when no message carries a score.
func SessionScore[S Scored](transcript []S) (int, bool) {
	var sum, n int
	for _, m := range transcript {
		if s, ok := m.UserScore(); ok {
			sum += s
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return int(math.Round(float64(sum) / float64(n))), true
}

type localesKey struct{}

// WithLocales stores the preferred UI locales, most preferred first, in ctx.
func WithLocales(ctx context.Context, locales ...string) context.Context {
	return context.WithValue(ctx, localesKey{}, locales)
}

// LocalesFrom returns the locales stored by [WithLocales], or nil.
func LocalesFrom(ctx context.Context) []string {
	l, _ := ctx.Value(localesKey{}).([]string)
	return l
}
