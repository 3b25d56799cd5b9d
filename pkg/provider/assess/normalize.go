package assess

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// scoreBlock is the PronunciationAssessment object nested in hypotheses and
// words.
type scoreBlock struct {
	AccuracyScore     *float64 `json:"AccuracyScore"`
	FluencyScore      *float64 `json:"FluencyScore"`
	CompletenessScore *float64 `json:"CompletenessScore"`
	PronScore         *float64 `json:"PronScore"`
	ErrorType         string   `json:"ErrorType"`
}

// rawWord accepts both the nested and the flattened word layout.
type rawWord struct {
	Word                    string      `json:"Word"`
	PronunciationAssessment *scoreBlock `json:"PronunciationAssessment"`
	AccuracyScore           *float64    `json:"AccuracyScore"`
	ErrorType               string      `json:"ErrorType"`
}

type rawHypothesis struct {
	Lexical                 string      `json:"Lexical"`
	Display                 string      `json:"Display"`
	PronunciationAssessment *scoreBlock `json:"PronunciationAssessment"`
	AccuracyScore           *float64    `json:"AccuracyScore"`
	FluencyScore            *float64    `json:"FluencyScore"`
	CompletenessScore       *float64    `json:"CompletenessScore"`
	PronScore               *float64    `json:"PronScore"`
	Words                   []rawWord   `json:"Words"`
}

type rawResponse struct {
	RecognitionStatus string          `json:"RecognitionStatus"`
	DisplayText       string          `json:"DisplayText"`
	NBest             []rawHypothesis `json:"NBest"`
	FinalScore        *float64        `json:"finalScore"`
}

// Normalize parses an NBest assessment response and converts its first
// hypothesis into a [Result]. Scores may sit in a nested
// PronunciationAssessment object or directly on the hypothesis and words.
// When the body carries a top-level finalScore it becomes the overall score;
// otherwise the overall score is computed from w.
//
// Word offsets are left at -1; callers that know the reference text map them
// afterwards.
func Normalize(raw []byte, w Weights) (*Result, error) {
	var resp rawResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode body: %v", ErrInvalidResponse, err)
	}
	if len(resp.NBest) == 0 {
		status := resp.RecognitionStatus
		if status == "" {
			status = "no status"
		}
		return nil, fmt.Errorf("%w: response has no NBest hypotheses (%s)", ErrInvalidResponse, status)
	}
	best := resp.NBest[0]
	if best.Words == nil {
		return nil, fmt.Errorf("%w: best hypothesis has no word list", ErrInvalidResponse)
	}

	pa := best.PronunciationAssessment
	if pa == nil {
		pa = &scoreBlock{}
	}
	accuracy, okA := firstScore(pa.AccuracyScore, best.AccuracyScore)
	fluency, okF := firstScore(pa.FluencyScore, best.FluencyScore)
	completeness, okC := firstScore(pa.CompletenessScore, best.CompletenessScore)
	if !okA || !okF || !okC {
		return nil, fmt.Errorf("%w: hypothesis is missing accuracy, fluency or completeness", ErrInvalidResponse)
	}

	res := &Result{
		AccuracyScore:     accuracy,
		FluencyScore:      fluency,
		CompletenessScore: completeness,
		RecognizedText:    recognized(resp, best),
		Words:             make([]Word, 0, len(best.Words)),
	}
	if pron, ok := firstScore(pa.PronScore, best.PronScore); ok {
		res.PronScore = pron
	} else {
		res.PronScore = w.Overall(accuracy, fluency, completeness)
	}
	if resp.FinalScore != nil {
		res.OverallScore = clampScore(*resp.FinalScore)
	} else {
		res.OverallScore = w.Overall(accuracy, fluency, completeness)
	}

	for i, rw := range best.Words {
		word, err := normalizeWord(rw)
		if err != nil {
			return nil, fmt.Errorf("%w: word %d: %v", ErrInvalidResponse, i, err)
		}
		res.Words = append(res.Words, word)
	}
	return res, nil
}

func normalizeWord(rw rawWord) (Word, error) {
	if strings.TrimSpace(rw.Word) == "" {
		return Word{}, errors.New("empty word")
	}
	tag := rw.ErrorType
	var nested *float64
	if rw.PronunciationAssessment != nil {
		nested = rw.PronunciationAssessment.AccuracyScore
		if rw.PronunciationAssessment.ErrorType != "" {
			tag = rw.PronunciationAssessment.ErrorType
		}
	}
	et, err := ParseErrorType(tag)
	if err != nil {
		return Word{}, err
	}
	acc, _ := firstScore(nested, rw.AccuracyScore)
	return Word{
		Word:          rw.Word,
		AccuracyScore: acc,
		ErrorType:     et,
		Offset:        -1,
	}, nil
}

func firstScore(vals ...*float64) (int, bool) {
	for _, v := range vals {
		if v != nil {
			return clampScore(*v), true
		}
	}
	return 0, false
}

func recognized(resp rawResponse, best rawHypothesis) string {
	switch {
	case best.Display != "":
		return best.Display
	case resp.DisplayText != "":
		return resp.DisplayText
	}
	return best.Lexical
}
