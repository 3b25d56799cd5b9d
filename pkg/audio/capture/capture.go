// Package capture records a single spoken utterance from a live audio source.
//
// A [Recorder] wraps a [Source] (a microphone, a WebSocket fed by a browser,
// a pipe from arecord) and produces one contiguous buffer per Start/Stop
// pair. Audio that arrives during the pre-roll window after Start is dropped
// so that the click of the record button and device warm-up are not scored.
// On Stop the recorder asks the source for a final partial chunk and keeps
// listening for the post-roll window so the tail of the last word survives.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrPermissionDenied is returned by [Source.Open] when the user or the
	// device refuses access to the microphone.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrNotRecording is returned by [Recorder.Stop] when no capture is active.
	ErrNotRecording = errors.New("capture: not recording")
)

// Default timings applied to zero-valued [Config] fields.
const (
	DefaultPreRollDelay  = 500 * time.Millisecond
	DefaultPostRollDelay = 300 * time.Millisecond
	DefaultChunkInterval = 500 * time.Millisecond
	DefaultSafetyDelay   = 100 * time.Millisecond
)

// Config controls capture timing. Zero fields take the defaults above; a
// negative delay disables that step.
type Config struct {
	// PreRollDelay is how long after Start incoming audio is discarded.
	PreRollDelay time.Duration `yaml:"pre_roll"`

	// PostRollDelay is how long after Stop audio is still accepted.
	PostRollDelay time.Duration `yaml:"post_roll"`

	// ChunkInterval is how often the source is asked to flush buffered audio.
	ChunkInterval time.Duration `yaml:"chunk_interval"`

	// SafetyDelay is the pause between closing the stream and finalising
	// the buffer, giving in-flight chunks time to land.
	SafetyDelay time.Duration `yaml:"safety_delay"`
}

func (c Config) withDefaults() Config {
	pick := func(v, def time.Duration) time.Duration {
		switch {
		case v == 0:
			return def
		case v < 0:
			return 0
		}
		return v
	}
	c.PreRollDelay = pick(c.PreRollDelay, DefaultPreRollDelay)
	c.PostRollDelay = pick(c.PostRollDelay, DefaultPostRollDelay)
	c.SafetyDelay = pick(c.SafetyDelay, DefaultSafetyDelay)
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = DefaultChunkInterval
	}
	return c
}

// Source opens audio streams. Implementations must be safe for concurrent use.
type Source interface {
	// Open acquires the device and starts delivering audio. It returns
	// [ErrPermissionDenied] (possibly wrapped) when access is refused.
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open audio stream returned by [Source.Open].
type Stream interface {
	// Chunks delivers encoded audio in arrival order. The channel is closed
	// when the stream ends or after Close.
	Chunks() <-chan []byte

	// RequestData asks the source to emit whatever it has buffered so far
	// as a chunk, without waiting for the next natural chunk boundary.
	RequestData()

	// Close releases the device. Calling Close more than once is safe.
	Close() error
}

type state int

const (
	stateIdle state = iota
	stateActive
	stateStopping
)

// Recorder captures one utterance at a time from a [Source].
// All methods are safe for concurrent use.
type Recorder struct {
	src Source
	cfg Config

	mu     sync.Mutex
	state  state
	stream Stream
	buf    bytes.Buffer
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRecorder returns an idle Recorder reading from src.
func NewRecorder(src Source, cfg Config) *Recorder {
	return &Recorder{src: src, cfg: cfg.withDefaults()}
}

// Config returns the effective timing configuration.
func (r *Recorder) Config() Config { return r.cfg }

// Active reports whether a capture is in progress (including while stopping).
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state != stateIdle
}

// Start opens the source and begins recording. It returns immediately;
// audio arriving within PreRollDelay is discarded. Calling Start while a
// capture is in progress does nothing.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateIdle {
		return nil
	}

	stream, err := r.src.Open(ctx)
	if err != nil {
		return fmt.Errorf("capture: open source: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.stream = stream
	r.buf.Reset()
	r.cancel = cancel
	r.done = make(chan struct{})
	r.state = stateActive

	go r.collect(loopCtx, stream, time.Now().Add(r.cfg.PreRollDelay), r.done)
	return nil
}

// Stop ends the capture and returns the recorded bytes. It requests a final
// chunk, keeps accepting audio for PostRollDelay, closes the stream and
// waits SafetyDelay before finalising. The stream is closed even when ctx is
// cancelled part way through, in which case ctx.Err() is returned.
func (r *Recorder) Stop(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	if r.state != stateActive {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	r.state = stateStopping
	stream := r.stream
	r.mu.Unlock()

	stream.RequestData()
	waitErr := sleep(ctx, r.cfg.PostRollDelay)

	closeErr := stream.Close()
	if closeErr != nil {
		slog.Warn("capture: failed to close stream", "err", closeErr)
	}
	if waitErr == nil {
		waitErr = sleep(ctx, r.cfg.SafetyDelay)
	}

	data := r.teardown()
	if waitErr != nil {
		return nil, waitErr
	}
	return data, nil
}

// Close aborts any capture in progress and releases the stream. Recorded
// audio is discarded. A Stop already in progress owns the teardown.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.state != stateActive {
		r.mu.Unlock()
		return nil
	}
	stream := r.stream
	r.state = stateStopping
	r.mu.Unlock()

	err := stream.Close()
	r.teardown()
	return err
}

// teardown stops the collect loop and returns the buffered audio.
func (r *Recorder) teardown() []byte {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	data := bytes.Clone(r.buf.Bytes())
	r.buf.Reset()
	r.stream = nil
	r.cancel = nil
	r.done = nil
	r.state = stateIdle
	return data
}

func (r *Recorder) collect(ctx context.Context, stream Stream, recordFrom time.Time, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.cfg.ChunkInterval)
	defer ticker.Stop()

	chunks := stream.Chunks()
	var discarded int
	for {
		select {
		case <-ctx.Done():
			if discarded > 0 {
				slog.Debug("capture: dropped pre-roll audio", "bytes", discarded)
			}
			return
		case <-ticker.C:
			r.mu.Lock()
			active := r.state == stateActive
			r.mu.Unlock()
			if active {
				stream.RequestData()
			}
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if time.Now().Before(recordFrom) {
				discarded += len(c)
				continue
			}
			r.mu.Lock()
			r.buf.Write(c)
			r.mu.Unlock()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
