// Package mock provides an in-memory mock implementation of
// [assess.Provider] for use in unit tests.
//
// The mock is safe for concurrent use. It records every Assess call and
// returns the configured result or error.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/rehearse/pkg/provider/assess"
)

// Provider is a mock implementation of [assess.Provider].
type Provider struct {
	mu sync.Mutex

	// Result is returned by Assess when Err is nil. A copy is returned so
	// callers may mutate it.
	Result *assess.Result

	// Err is returned by Assess when non-nil.
	Err error

	// ResultFunc, when set, takes precedence over Result and Err.
	ResultFunc func(req assess.Request) (*assess.Result, error)

	// Calls records every request passed to Assess.
	Calls []assess.Request
}

// Assess implements [assess.Provider].
func (p *Provider) Assess(_ context.Context, req assess.Request) (*assess.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	fn, res, err := p.ResultFunc, p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &assess.Result{}, nil
	}
	cp := *res
	cp.Words = append([]assess.Word(nil), res.Words...)
	return &cp, nil
}

// CallCount returns the number of Assess calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ assess.Provider = (*Provider)(nil)
