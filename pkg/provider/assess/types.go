package assess

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ErrorType classifies what went wrong with a single word.
type ErrorType string

// Error types reported by the assessment service.
const (
	ErrorNone             ErrorType = "None"
	ErrorMispronunciation ErrorType = "Mispronunciation"
	ErrorOmission         ErrorType = "Omission"
	ErrorInsertion        ErrorType = "Insertion"
	ErrorUnexpectedBreak  ErrorType = "UnexpectedBreak"
	ErrorMissingBreak     ErrorType = "MissingBreak"
	ErrorMonotone         ErrorType = "Monotone"
)

var errorTypes = map[string]ErrorType{
	"none":             ErrorNone,
	"mispronunciation": ErrorMispronunciation,
	"omission":         ErrorOmission,
	"insertion":        ErrorInsertion,
	"unexpectedbreak":  ErrorUnexpectedBreak,
	"missingbreak":     ErrorMissingBreak,
	"monotone":         ErrorMonotone,
}

// ParseErrorType maps a service error tag onto an [ErrorType]. Matching is
// case-insensitive and an empty tag means [ErrorNone].
func ParseErrorType(s string) (ErrorType, error) {
	if s == "" {
		return ErrorNone, nil
	}
	if et, ok := errorTypes[strings.ToLower(s)]; ok {
		return et, nil
	}
	return "", fmt.Errorf("unknown error type %q", s)
}

// UnmarshalJSON rejects tags that are not a known [ErrorType].
func (e *ErrorType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	et, err := ParseErrorType(s)
	if err != nil {
		return err
	}
	*e = et
	return nil
}

// Word is the assessment of one word of the reference text.
type Word struct {
	Word          string    `json:"word"`
	AccuracyScore int       `json:"accuracyScore"`
	ErrorType     ErrorType `json:"errorType"`

	// Offset and Length locate the word in the original reference text, in
	// runes. Offset is -1 for inserted words that have no place in it.
	Offset int `json:"offset"`
	Length int `json:"length"`
}

// Result is the canonical outcome of one assessment.
type Result struct {
	OverallScore      int `json:"overallScore"`
	AccuracyScore     int `json:"accuracyScore"`
	FluencyScore      int `json:"fluencyScore"`
	CompletenessScore int `json:"completenessScore"`
	PronScore         int `json:"pronScore"`

	Words []Word `json:"words"`

	// Suggestions is filled in by the score aggregator, not by providers.
	Suggestions string `json:"suggestions,omitempty"`

	// RecognizedText is what the service heard, when it reports it.
	RecognizedText string `json:"recognizedText,omitempty"`
}

// Weights are the relative importance of the three scoring axes in the
// overall score.
type Weights struct {
	Accuracy     float64 `yaml:"accuracy"`
	Fluency      float64 `yaml:"fluency"`
	Completeness float64 `yaml:"completeness"`
}

// DefaultWeights weighs every axis equally.
var DefaultWeights = Weights{Accuracy: 1, Fluency: 1, Completeness: 1}

// Valid reports whether no weight is negative and at least one is positive.
func (w Weights) Valid() bool {
	return w.Accuracy >= 0 && w.Fluency >= 0 && w.Completeness >= 0 &&
		w.Accuracy+w.Fluency+w.Completeness > 0
}

// Overall returns round((a·Wa + f·Wf + c·Wc) / (Wa+Wf+Wc)), clamped to
// [0, 100]. Invalid weights fall back to [DefaultWeights].
func (w Weights) Overall(accuracy, fluency, completeness int) int {
	if !w.Valid() {
		w = DefaultWeights
	}
	sum := float64(accuracy)*w.Accuracy + float64(fluency)*w.Fluency + float64(completeness)*w.Completeness
	return clampScore(sum / (w.Accuracy + w.Fluency + w.Completeness))
}

func clampScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, v))))
}
