package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/rehearse/internal/observe"
	"github.com/MrWong99/rehearse/internal/session"
	"github.com/MrWong99/rehearse/pkg/audio"
	"github.com/MrWong99/rehearse/pkg/audio/capture"
)

// Capture WebSocket protocol.
//
// Client text frames are JSON objects with a "type":
//
//	grant   microphone access was allowed
//	deny    microphone access was refused; aborts a running capture
//	start   begin recording; optional container, rate and channels
//	stop    finish recording and score it
//	cancel  abort the running capture without scoring
//
// Binary frames carry audio chunks for the running capture.
//
// The server answers with "ready" (carrying the snapshot) on connect,
// "recording" after start, "flush" when it wants the client's buffered
// audio, "result" with the scored turn, and "error".
const (
	msgGrant  = "grant"
	msgDeny   = "deny"
	msgStart  = "start"
	msgStop   = "stop"
	msgCancel = "cancel"

	evReady     = "ready"
	evRecording = "recording"
	evFlush     = "flush"
	evResult    = "result"
	evError     = "error"
)

const (
	wsReadLimit    = 1 << 20
	wsWriteTimeout = 5 * time.Second
)

type clientMessage struct {
	Type      string `json:"type"`
	Container string `json:"container,omitempty"`
	Rate      int    `json:"rate,omitempty"`
	Channels  int    `json:"channels,omitempty"`
}

type serverEvent struct {
	Type     string              `json:"type"`
	Snapshot *session.Snapshot   `json:"snapshot,omitempty"`
	Result   *session.TurnResult `json:"result,omitempty"`
	Error    *errorBody          `json:"error,omitempty"`
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	eng := s.engine(w, r)
	if eng == nil {
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
	if err != nil {
		observe.Logger(r.Context()).Warn("api: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(wsReadLimit)

	c := &captureConn{conn: conn, eng: eng}
	c.src = capture.NewChannelSource(capture.WithFlushRequest(func() {
		c.send(context.Background(), serverEvent{Type: evFlush})
	}))
	c.rec = capture.NewRecorder(c.src, s.cfg.Capture)

	err = c.run(r.Context())
	switch {
	case err == nil:
		conn.Close(websocket.StatusNormalClosure, "")
	case websocket.CloseStatus(err) != -1, errors.Is(err, context.Canceled):
	default:
		observe.Logger(r.Context()).Warn("api: capture connection ended", "session_id", eng.ID(), "err", err)
		conn.Close(websocket.StatusInternalError, "")
	}
}

// captureConn is one capture WebSocket bound to an engine.
type captureConn struct {
	conn *websocket.Conn
	eng  *session.Engine
	src  *capture.ChannelSource
	rec  *capture.Recorder

	mu        sync.Mutex
	release   func()
	container audio.Container
	format    audio.Format

	wg sync.WaitGroup
}

func (c *captureConn) run(ctx context.Context) error {
	defer func() {
		_ = c.rec.Close()
		c.wg.Wait()
		c.mu.Lock()
		if c.release != nil {
			c.release()
			c.release = nil
		}
		c.mu.Unlock()
	}()

	snap := c.eng.Snapshot()
	c.send(ctx, serverEvent{Type: evReady, Snapshot: &snap})

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			if _, err := c.src.Push(data); err != nil {
				observe.Logger(ctx).Warn("api: audio chunk dropped", "session_id", c.eng.ID(), "err", err)
			}
			continue
		}
		var m clientMessage
		if err := json.Unmarshal(data, &m); err != nil {
			c.sendError(ctx, errorBody{Error: "invalid message", Code: "bad_request"})
			continue
		}
		c.handle(ctx, m)
	}
}

func (c *captureConn) handle(ctx context.Context, m clientMessage) {
	switch m.Type {
	case msgGrant:
		c.src.SetPermission(true)
	case msgDeny:
		c.src.SetPermission(false)
		c.abort()
	case msgStart:
		c.start(ctx, m)
	case msgStop:
		c.stop(ctx)
	case msgCancel:
		c.abort()
	default:
		c.sendError(ctx, errorBody{Error: "unknown message type", Code: "bad_request"})
	}
}

func (c *captureConn) start(ctx context.Context, m clientMessage) {
	container := audio.ContainerPCM16
	if m.Container != "" {
		container = audio.Container(m.Container)
	}
	if !container.IsValid() {
		c.sendError(ctx, errorBody{Error: "unsupported audio type", Code: "unsupported_media_type"})
		return
	}
	format := audio.Format{SampleRate: audio.DefaultSampleRate, Channels: 1}
	if m.Rate > 0 {
		format.SampleRate = m.Rate
	}
	if m.Channels > 0 {
		format.Channels = m.Channels
	}
	if err := format.CheckSource(); container == audio.ContainerPCM16 && err != nil {
		c.sendError(ctx, errorBody{Error: err.Error(), Code: "bad_request"})
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.release != nil {
		c.sendError(ctx, errorBody{Error: "a recording is already in progress", Code: "wrong_state"})
		return
	}
	release, err := c.eng.BeginCapture(ctx)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	if err := c.rec.Start(ctx); err != nil {
		release()
		c.fail(ctx, err)
		return
	}
	c.release, c.container, c.format = release, container, format
	c.send(ctx, serverEvent{Type: evRecording})
}

// stop finalises the capture in the background so that post-roll chunks
// can still be read off the connection.
func (c *captureConn) stop(ctx context.Context) {
	c.mu.Lock()
	release, container, format := c.release, c.container, c.format
	c.release = nil
	c.mu.Unlock()
	if release == nil {
		c.fail(ctx, capture.ErrNotRecording)
		return
	}

	c.wg.Go(func() {
		defer release()
		data, err := c.rec.Stop(ctx)
		if err != nil {
			c.fail(ctx, err)
			return
		}
		res, err := c.eng.SubmitRecording(ctx, audio.Capture{Data: data, Container: container, Format: format})
		if err != nil {
			c.fail(ctx, err)
			return
		}
		c.send(ctx, serverEvent{Type: evResult, Result: res})
	})
}

func (c *captureConn) abort() {
	c.mu.Lock()
	release := c.release
	c.release = nil
	c.mu.Unlock()
	if release == nil {
		return
	}
	_ = c.rec.Close()
	release()
}

func (c *captureConn) fail(ctx context.Context, err error) {
	_, body := classify(err)
	observe.Logger(ctx).Info("api: capture failed", "session_id", c.eng.ID(), "err", err)
	c.sendError(ctx, body)
}

func (c *captureConn) sendError(ctx context.Context, body errorBody) {
	c.send(ctx, serverEvent{Type: evError, Error: &body})
}

func (c *captureConn) send(ctx context.Context, ev serverEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		observe.Logger(ctx).Debug("api: websocket write failed", "type", ev.Type, "err", err)
	}
}
