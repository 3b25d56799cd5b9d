package segment

import (
	"context"
	"fmt"

	"github.com/MrWong99/rehearse/pkg/provider/assess"
)

var _ assess.Provider = (*Assessor)(nil)

// Assessor wraps an [assess.Provider] so that reference text is segmented
// before submission and the returned words carry offsets into the original
// reference text.
type Assessor struct {
	inner assess.Provider
	dict  *Dictionary
}

// NewAssessor decorates inner. dict is used for Thai; nil selects the
// built-in dictionary.
func NewAssessor(inner assess.Provider, dict *Dictionary) *Assessor {
	if dict == nil {
		dict = ThaiDictionary()
	}
	return &Assessor{inner: inner, dict: dict}
}

// Assess implements [assess.Provider].
func (a *Assessor) Assess(ctx context.Context, req assess.Request) (*assess.Result, error) {
	seg := ForLanguage(req.LanguageCode, a.dict)
	tokens := seg.Segment(req.ReferenceText)

	submitted := req
	if seg.Rewrites() && len(tokens) > 0 {
		submitted.ReferenceText = Join(tokens)
	}

	res, err := a.inner.Assess(ctx, submitted)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("%w: empty result", assess.ErrInvalidResponse)
	}
	res.Words = Remap(res.Words, tokens)
	return res, nil
}
