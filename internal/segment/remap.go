package segment

import (
	"strings"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/unicode/norm"

	"github.com/MrWong99/rehearse/pkg/provider/assess"
)

const (
	// matchThreshold is the minimum Jaro-Winkler similarity for a returned
	// word to be placed on a reference token.
	matchThreshold = 0.8

	// lookahead is how many reference tokens past the cursor are considered
	// for each returned word.
	lookahead = 3
)

// Remap places each scored word on the reference token it belongs to and
// returns a new slice. Words are matched in order: a cursor walks the
// tokens and each word is compared with the next few tokens by Jaro-Winkler
// similarity on NFC-normalised, lower-cased text. Matched words take the
// token's original text, offset and length. Insertions and words that match
// nothing keep Offset -1.
func Remap(words []assess.Word, tokens []Token) []assess.Word {
	out := make([]assess.Word, len(words))
	cursor := 0
	for i, w := range words {
		w.Offset, w.Length = -1, 0
		if w.ErrorType != assess.ErrorInsertion {
			if k := bestToken(w.Word, tokens, cursor); k >= 0 {
				w.Word = tokens[k].Text
				w.Offset = tokens[k].Offset
				w.Length = tokens[k].Length
				cursor = k + 1
			}
		}
		out[i] = w
	}
	return out
}

func bestToken(word string, tokens []Token, cursor int) int {
	wn := comparable(word)
	best, bestScore := -1, 0.0
	for k := cursor; k < len(tokens) && k < cursor+lookahead; k++ {
		tn := comparable(tokens[k].Text)
		if tn == wn {
			return k
		}
		if s := matchr.JaroWinkler(wn, tn, false); s > bestScore {
			best, bestScore = k, s
		}
	}
	if bestScore < matchThreshold {
		return -1
	}
	return best
}

func comparable(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}
