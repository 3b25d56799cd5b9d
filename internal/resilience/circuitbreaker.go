// Package resilience guards remote providers with circuit breakers and
// ordered failover.
//
// A [Breaker] stops calling a provider that keeps failing and lets a few
// probe calls through once its cool-down has passed. A [Group] holds a
// primary provider plus fallbacks, each behind its own breaker, and uses the
// first one that answers. [Assessor] and [Synthesizer] are the Group
// specialisations for pronunciation assessment and reference audio.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cool-down ends.
	StateOpen

	// StateHalfOpen lets a limited number of probes through. One failed
	// probe re-opens the breaker; enough successful ones close it.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero values select the defaults.
type BreakerConfig struct {
	// Name labels log lines. Default: "breaker".
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open. Default: 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close.
	// Default: 2.
	Probes int

	// IsFailure decides which errors count against the provider. Default:
	// every error except context cancellation.
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition with the
	// breaker's mutex released.
	OnStateChange func(name string, from, to State)
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name      string
	max       int
	cooldown  time.Duration
	probes    int
	isFailure func(error) bool
	onChange  func(string, State, State)
	now       func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inFlight  int // half-open probes not yet finished
	succeeded int // half-open probes that succeeded
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	b := &Breaker{
		name:      cfg.Name,
		max:       cfg.MaxFailures,
		cooldown:  cfg.Cooldown,
		probes:    cfg.Probes,
		isFailure: cfg.IsFailure,
		onChange:  cfg.OnStateChange,
		now:       time.Now,
	}
	if b.name == "" {
		b.name = "breaker"
	}
	if b.max <= 0 {
		b.max = 5
	}
	if b.cooldown <= 0 {
		b.cooldown = 30 * time.Second
	}
	if b.probes <= 0 {
		b.probes = 2
	}
	if b.isFailure == nil {
		b.isFailure = countsAsFailure
	}
	return b
}

func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Do runs fn unless the breaker is open.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(probe, err)
	return err
}

// admit reports whether a call may proceed and whether it is a probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		b.state, b.inFlight, b.succeeded = StateHalfOpen, 0, 0
		fallthrough
	case StateHalfOpen:
		if b.inFlight+b.succeeded >= b.probes {
			b.mu.Unlock()
			b.changed(from, StateHalfOpen)
			return false, ErrCircuitOpen
		}
		b.inFlight++
		b.mu.Unlock()
		b.changed(from, StateHalfOpen)
		return true, nil
	}
	b.mu.Unlock()
	return false, nil
}

func (b *Breaker) record(probe bool, err error) {
	failed := err != nil && b.isFailure(err)

	b.mu.Lock()
	from := b.state
	if probe {
		b.inFlight--
	}
	switch {
	case b.state == StateHalfOpen && probe && failed:
		b.trip()
	case b.state == StateHalfOpen && probe && err == nil:
		b.succeeded++
		if b.succeeded >= b.probes {
			b.state, b.failures = StateClosed, 0
		}
	case b.state == StateClosed && failed:
		b.failures++
		if b.failures >= b.max {
			b.trip()
		}
	case b.state == StateClosed && err == nil:
		b.failures = 0
	}
	to, failures := b.state, b.failures
	b.mu.Unlock()

	if to == StateOpen && from != StateOpen {
		slog.Warn("circuit breaker opened", "name", b.name, "consecutive_failures", failures, "err", err)
	}
	b.changed(from, to)
}

// trip opens the breaker. b.mu must be held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures = b.max
}

func (b *Breaker) changed(from, to State) {
	if from == to {
		return
	}
	if to != StateOpen {
		slog.Info("circuit breaker state changed", "name", b.name, "from", from, "to", to)
	}
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// State returns the current state. An open breaker whose cool-down has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state, b.failures, b.inFlight, b.succeeded = StateClosed, 0, 0, 0
	b.mu.Unlock()
	b.changed(from, StateClosed)
}
