package segment

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"
)

//go:embed words_th.txt
var thaiWords string

// Dictionary is a set of known words used for longest-match cutting.
// It is read-only after construction and safe for concurrent use.
type Dictionary struct {
	words  map[string]struct{}
	maxLen int // longest word, in runes
}

// NewDictionary builds a dictionary from words.
func NewDictionary(words ...string) *Dictionary {
	d := &Dictionary{words: make(map[string]struct{}, len(words))}
	for _, w := range words {
		d.add(w)
	}
	return d
}

// ThaiDictionary returns a new dictionary holding the built-in Thai list.
func ThaiDictionary() *Dictionary {
	d := NewDictionary()
	// The embedded list cannot fail to read.
	_ = d.Load(strings.NewReader(thaiWords))
	return d
}

func (d *Dictionary) add(w string) {
	w = strings.TrimSpace(w)
	if w == "" || strings.HasPrefix(w, "#") {
		return
	}
	d.words[w] = struct{}{}
	if n := utf8.RuneCountInString(w); n > d.maxLen {
		d.maxLen = n
	}
}

// Load adds one word per line from r. Blank lines and lines starting with
// '#' are ignored.
func (d *Dictionary) Load(r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		d.add(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("segment: read word list: %w", err)
	}
	return nil
}

// LoadFile adds the words listed in the file at path.
func (d *Dictionary) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("segment: open word list: %w", err)
	}
	defer f.Close()
	return d.Load(f)
}

// Len returns the number of words.
func (d *Dictionary) Len() int { return len(d.words) }

// longest returns the rune length of the longest dictionary word starting
// at runes[i], or 0.
func (d *Dictionary) longest(runes []rune, i int) int {
	n := min(d.maxLen, len(runes)-i)
	for ; n > 0; n-- {
		if _, ok := d.words[string(runes[i:i+n])]; ok {
			return n
		}
	}
	return 0
}

// Thai cuts Thai script with greedy longest matching against a dictionary.
// Runs of characters that start no known word are kept together as a single
// token. Non-Thai runs (Latin words, digits) are split on white space as
// usual.
type Thai struct {
	Dict *Dictionary
}

// Rewrites implements [Segmenter].
func (Thai) Rewrites() bool { return true }

// Segment implements [Segmenter].
func (s Thai) Segment(text string) []Token {
	runes := []rune(text)
	var (
		tokens  []Token
		unknown = -1 // start of the current run of unmatched Thai
	)
	flush := func(end int) {
		if unknown >= 0 {
			tokens = append(tokens, Token{Text: string(runes[unknown:end]), Offset: unknown, Length: end - unknown})
			unknown = -1
		}
	}

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r) || isTrim(r):
			flush(i)
			i++
		case !unicode.Is(unicode.Thai, r):
			flush(i)
			start := i
			for i < len(runes) && !unicode.IsSpace(runes[i]) && !unicode.Is(unicode.Thai, runes[i]) {
				i++
			}
			if tok, ok := trimmedToken(runes, start, i); ok {
				tokens = append(tokens, tok)
			}
		default:
			if n := s.Dict.longest(runes, i); n > 0 {
				flush(i)
				tokens = append(tokens, Token{Text: string(runes[i : i+n]), Offset: i, Length: n})
				i += n
				continue
			}
			if unknown < 0 {
				unknown = i
			}
			// Keep combining vowels and tone marks with their base consonant.
			i++
			for i < len(runes) && unicode.Is(unicode.Mn, runes[i]) {
				i++
			}
		}
	}
	flush(len(runes))
	return tokens
}

// ForLanguage returns the segmenter for a BCP-47 tag. Thai uses dict; every
// other language uses [Whitespace].
func ForLanguage(tag string, dict *Dictionary) Segmenter {
	if BaseLanguage(tag) == "th" && dict != nil {
		return Thai{Dict: dict}
	}
	return Whitespace{}
}
