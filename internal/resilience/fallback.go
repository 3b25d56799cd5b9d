package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every member of a [Group] failed or was
// skipped by its breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group tries a primary provider and then its fallbacks, in the order they
// were added. Each member has its own [Breaker] built from the same
// configuration.
type Group[T any] struct {
	cfg     BreakerConfig
	members []member[T]
}

// NewGroup returns a Group with primary as its first member.
func NewGroup[T any](name string, primary T, cfg BreakerConfig) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(name, primary)
	return g
}

// Add appends a fallback. Add is not safe to call concurrently with [Call].
func (g *Group[T]) Add(name string, v T) {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{name: name, value: v, breaker: NewBreaker(cfg)})
}

// Names returns the member names in call order.
func (g *Group[T]) Names() []string {
	out := make([]string, len(g.members))
	for i, m := range g.members {
		out[i] = m.name
	}
	return out
}

// Breaker returns the breaker of the named member, or nil.
func (g *Group[T]) Breaker(name string) *Breaker {
	for _, m := range g.members {
		if m.name == name {
			return m.breaker
		}
	}
	return nil
}

// Breakers returns every member's breaker in call order.
func (g *Group[T]) Breakers() []*Breaker {
	out := make([]*Breaker, len(g.members))
	for i, m := range g.members {
		out[i] = m.breaker
	}
	return out
}

// Call runs fn against each member until one succeeds. stop, if non-nil,
// ends the walk early for errors that another provider would repeat (for
// example a cancelled context). When every member fails the result wraps
// [ErrAllFailed] and the last member's error.
func Call[T, R any](g *Group[T], stop func(error) bool, fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for _, m := range g.members {
		var out R
		err := m.breaker.Do(func() error {
			var err error
			out, err = fn(m.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		switch {
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("provider skipped, circuit open", "provider", m.name)
		case stop != nil && stop(err):
			return zero, err
		default:
			slog.Warn("provider failed, trying next", "provider", m.name, "err", err)
		}
	}
	if len(g.members) == 1 {
		return zero, lastErr
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
