package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/rehearse/pkg/provider/assess"
)

// Assessor fails over between pronunciation assessment backends. Errors
// keep the assess taxonomy: a breaker rejection becomes
// [assess.ErrUnavailable].
type Assessor struct {
	group *Group[assess.Provider]
}

var _ assess.Provider = (*Assessor)(nil)

// NewAssessor returns an Assessor preferring primary.
func NewAssessor(name string, primary assess.Provider, cfg BreakerConfig) *Assessor {
	return &Assessor{group: NewGroup(name, primary, cfg)}
}

// AddFallback registers another backend.
func (a *Assessor) AddFallback(name string, p assess.Provider) { a.group.Add(name, p) }

// Group exposes the underlying group for health reporting.
func (a *Assessor) Group() *Group[assess.Provider] { return a.group }

// Assess implements [assess.Provider].
func (a *Assessor) Assess(ctx context.Context, req assess.Request) (*assess.Result, error) {
	res, err := Call(a.group, isContextErr, func(p assess.Provider) (*assess.Result, error) {
		return p.Assess(ctx, req)
	})
	if err == nil {
		return res, nil
	}
	if errors.Is(err, assess.ErrUnavailable) || errors.Is(err, assess.ErrInvalidResponse) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %w", assess.ErrUnavailable, err)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
