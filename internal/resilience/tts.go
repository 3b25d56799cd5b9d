package resilience

import (
	"context"

	"github.com/MrWong99/rehearse/pkg/provider/tts"
)

// Synthesizer fails over between text-to-speech backends.
type Synthesizer struct {
	group *Group[tts.Provider]
}

var _ tts.Provider = (*Synthesizer)(nil)

// NewSynthesizer returns a Synthesizer preferring primary.
func NewSynthesizer(name string, primary tts.Provider, cfg BreakerConfig) *Synthesizer {
	return &Synthesizer{group: NewGroup(name, primary, cfg)}
}

// AddFallback registers another backend.
func (s *Synthesizer) AddFallback(name string, p tts.Provider) { s.group.Add(name, p) }

// Group exposes the underlying group for health reporting.
func (s *Synthesizer) Group() *Group[tts.Provider] { return s.group }

// Synthesize implements [tts.Provider]. Empty text is rejected without
// touching any backend.
func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if req.Text == "" {
		return nil, tts.ErrEmptyText
	}
	return Call(s.group, isContextErr, func(p tts.Provider) (*tts.Audio, error) {
		return p.Synthesize(ctx, req)
	})
}
