// Package segment splits reference text into the word units a pronunciation
// assessor scores, and maps the assessor's per-word results back onto the
// original text.
//
// Most languages are split on whitespace. Thai has no spaces between words,
// so its reference text is cut with a dictionary longest-match segmenter and
// re-joined with spaces before submission. Every [Token] remembers where it
// came from in the original string, which is what lets [Remap] place each
// scored word under the right characters for display.
package segment

import (
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

// Token is one word unit of a reference text. Offset and Length are in runes
// and index the original, unsegmented string.
type Token struct {
	Text   string
	Offset int
	Length int
}

// Segmenter splits text into word tokens.
type Segmenter interface {
	Segment(text string) []Token

	// Rewrites reports whether the space-joined tokens should replace the
	// reference text sent to the assessor.
	Rewrites() bool
}

// Join returns the token texts separated by single spaces.
func Join(tokens []Token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.Text
	}
	return strings.Join(parts, " ")
}

// BaseLanguage returns the ISO 639 base of a BCP-47 tag, e.g. "th" for
// "th-TH". Unparseable tags fall back to their first subtag, lowercased.
func BaseLanguage(tag string) string {
	if t, err := language.Parse(tag); err == nil {
		base, _ := t.Base()
		return base.String()
	}
	b, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(b)
}

// Whitespace splits on Unicode white space and trims punctuation from both
// ends of each token. Tokens that are nothing but punctuation are dropped.
type Whitespace struct{}

// Rewrites implements [Segmenter]. Whitespace-delimited text is submitted
// unchanged.
func (Whitespace) Rewrites() bool { return false }

// Segment implements [Segmenter].
func (Whitespace) Segment(text string) []Token {
	runes := []rune(text)
	var tokens []Token
	for i := 0; i < len(runes); {
		if unicode.IsSpace(runes[i]) {
			i++
			continue
		}
		start := i
		for i < len(runes) && !unicode.IsSpace(runes[i]) {
			i++
		}
		if tok, ok := trimmedToken(runes, start, i); ok {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// trimmedToken builds a token from runes[start:end] without surrounding
// punctuation.
func trimmedToken(runes []rune, start, end int) (Token, bool) {
	for start < end && isTrim(runes[start]) {
		start++
	}
	for end > start && isTrim(runes[end-1]) {
		end--
	}
	if start == end {
		return Token{}, false
	}
	return Token{Text: string(runes[start:end]), Offset: start, Length: end - start}, true
}

func isTrim(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
