// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Audio: &tts.Audio{Data: []byte("mp3"), Ext: ".mp3"}}
//	a, _ := p.Synthesize(ctx, tts.Request{Text: "hola"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/rehearse/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by Synthesize. When nil a one-byte MP3 stand-in is
	// returned.
	Audio *tts.Audio

	// Err, if non-nil, is returned instead of Audio.
	Err error

	// Calls records every request passed to Synthesize, in order.
	Calls []tts.Request
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(_ context.Context, req tts.Request) (*tts.Audio, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, req)
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Audio != nil {
		cp := *p.Audio
		return &cp, nil
	}
	return &tts.Audio{Data: []byte{0xFF}, MIMEType: "audio/mpeg", Ext: ".mp3"}, nil
}

// CallCount returns the number of Synthesize calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ tts.Provider = (*Provider)(nil)
