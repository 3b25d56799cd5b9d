package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// streamBuffer is the number of chunks a stream queues before pushes fail.
const streamBuffer = 256

// ErrStreamFull is returned by [ChannelSource.Push] when the consumer is
// not keeping up.
var ErrStreamFull = errors.New("capture: stream buffer full")

// chanStream is a [Stream] backed by a buffered channel.
type chanStream struct {
	mu      sync.Mutex
	ch      chan []byte
	closed  bool
	onFlush func()
	onClose func()
}

func newChanStream(onFlush, onClose func()) *chanStream {
	return &chanStream{ch: make(chan []byte, streamBuffer), onFlush: onFlush, onClose: onClose}
}

func (s *chanStream) Chunks() <-chan []byte { return s.ch }

func (s *chanStream) RequestData() {
	if s.onFlush != nil {
		s.onFlush()
	}
}

func (s *chanStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

// send queues a copy of chunk. It reports false when the stream is closed.
func (s *chanStream) send(chunk []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, nil
	}
	select {
	case s.ch <- append([]byte(nil), chunk...):
		return true, nil
	default:
		return true, ErrStreamFull
	}
}

// ─── ChannelSource ────────────────────────────────────────────────────────────

// ChannelSource is a [Source] whose audio is pushed in by the caller, e.g. a
// WebSocket handler relaying chunks recorded in a browser. Access is refused
// until [ChannelSource.SetPermission] grants it.
type ChannelSource struct {
	mu      sync.Mutex
	granted bool
	stream  *chanStream
	onFlush func()
}

// ChannelSourceOption is a functional option for [NewChannelSource].
type ChannelSourceOption func(*ChannelSource)

// WithFlushRequest registers fn to be called whenever the recorder asks for
// buffered data. A WebSocket handler uses it to tell the client to send its
// current partial chunk.
func WithFlushRequest(fn func()) ChannelSourceOption {
	return func(s *ChannelSource) {
		s.onFlush = fn
	}
}

// NewChannelSource returns a ChannelSource with permission not yet granted.
func NewChannelSource(opts ...ChannelSourceOption) *ChannelSource {
	s := &ChannelSource{}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetPermission records the user's answer to the microphone prompt.
func (s *ChannelSource) SetPermission(granted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted = granted
}

// Open implements [Source].
func (s *ChannelSource) Open(_ context.Context) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.granted {
		return nil, ErrPermissionDenied
	}
	var st *chanStream
	st = newChanStream(s.onFlush, func() {
		s.mu.Lock()
		if s.stream == st {
			s.stream = nil
		}
		s.mu.Unlock()
	})
	s.stream = st
	return st, nil
}

// Push delivers a chunk to the open stream. Chunks pushed while no stream is
// open are dropped and Push returns false.
func (s *ChannelSource) Push(chunk []byte) (bool, error) {
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()
	if st == nil {
		return false, nil
	}
	return st.send(chunk)
}

// ─── ReaderSource ─────────────────────────────────────────────────────────────

// DefaultReadSize is the chunk size used by [ReaderSource]: 100 ms of
// 16 kHz mono s16le.
const DefaultReadSize = 3200

// ReaderSource is a [Source] that reads a live byte stream, such as raw PCM
// piped from arecord. A single pump goroutine reads continuously once the
// first stream is opened; bytes read while no stream is open are dropped so
// the producer never stalls between turns.
type ReaderSource struct {
	r        io.Reader
	readSize int

	once    sync.Once
	mu      sync.Mutex
	stream  *chanStream
	readErr error
}

// NewReaderSource returns a ReaderSource over r. A readSize of zero or less
// selects [DefaultReadSize].
func NewReaderSource(r io.Reader, readSize int) *ReaderSource {
	if readSize <= 0 {
		readSize = DefaultReadSize
	}
	return &ReaderSource{r: r, readSize: readSize}
}

// Open implements [Source]. It fails once the reader has returned an error.
func (s *ReaderSource) Open(_ context.Context) (Stream, error) {
	s.once.Do(func() { go s.pump() })

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	var st *chanStream
	st = newChanStream(nil, func() {
		s.mu.Lock()
		if s.stream == st {
			s.stream = nil
		}
		s.mu.Unlock()
	})
	s.stream = st
	return st, nil
}

func (s *ReaderSource) pump() {
	buf := make([]byte, s.readSize)
	for {
		n, err := s.r.Read(buf)
		if n > 0 {
			s.mu.Lock()
			st := s.stream
			s.mu.Unlock()
			if st != nil {
				_, _ = st.send(buf[:n])
			}
		}
		if err != nil {
			s.mu.Lock()
			s.readErr = fmt.Errorf("capture: reader ended: %w", err)
			st := s.stream
			s.mu.Unlock()
			if st != nil {
				_ = st.Close()
			}
			return
		}
	}
}

// compile-time interface assertions
var (
	_ Source = (*ChannelSource)(nil)
	_ Source = (*ReaderSource)(nil)
	_ Stream = (*chanStream)(nil)
)
