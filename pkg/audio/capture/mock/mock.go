// Package mock provides in-memory mock implementations of the
// [capture.Source] and [capture.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{}
//	rec := capture.NewRecorder(src, cfg)
//	_ = rec.Start(ctx)
//	src.LastStream().Emit([]byte{1, 2})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/rehearse/pkg/audio/capture"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [capture.Stream].
type Stream struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool

	// OnRequestData, when set, is called on every RequestData. Tests use it
	// to emit a tail chunk in response to the final flush.
	OnRequestData func(s *Stream)

	// CloseError is returned by [Stream.Close].
	CloseError error

	// CallCountRequestData records how many times RequestData was called.
	CallCountRequestData int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewStream returns an open Stream with room for 64 queued chunks.
func NewStream() *Stream {
	return &Stream{ch: make(chan []byte, 64)}
}

// Chunks implements [capture.Stream].
func (s *Stream) Chunks() <-chan []byte { return s.ch }

// RequestData implements [capture.Stream].
func (s *Stream) RequestData() {
	s.mu.Lock()
	s.CallCountRequestData++
	fn := s.OnRequestData
	s.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Close implements [capture.Stream]. Returns CloseError.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return s.CloseError
}

// Emit queues chunk for delivery. It reports false if the stream is closed.
func (s *Stream) Emit(chunk []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.ch <- chunk
	return true
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Calls returns the RequestData and Close call counts.
func (s *Stream) Calls() (requestData, closeCalls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountRequestData, s.CallCountClose
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [capture.Source]. Each successful Open
// creates a fresh [Stream] via NewStreamFunc (or [NewStream]).
type Source struct {
	mu sync.Mutex

	// OpenError is returned by [Source.Open] when non-nil.
	OpenError error

	// NewStreamFunc, when set, builds the stream returned by Open.
	NewStreamFunc func() *Stream

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// Streams holds every stream handed out, in order.
	Streams []*Stream
}

// Open implements [capture.Source].
func (s *Source) Open(_ context.Context) (capture.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountOpen++
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	var st *Stream
	if s.NewStreamFunc != nil {
		st = s.NewStreamFunc()
	} else {
		st = NewStream()
	}
	s.Streams = append(s.Streams, st)
	return st, nil
}

// LastStream returns the most recently opened stream, or nil.
func (s *Source) LastStream() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Streams) == 0 {
		return nil
	}
	return s.Streams[len(s.Streams)-1]
}

var (
	_ capture.Source = (*Source)(nil)
	_ capture.Stream = (*Stream)(nil)
)
