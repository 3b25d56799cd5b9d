package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/rehearse/internal/observe"
	"github.com/MrWong99/rehearse/internal/score"
	"github.com/MrWong99/rehearse/internal/script"
	"github.com/MrWong99/rehearse/pkg/audio"
	"github.com/MrWong99/rehearse/pkg/provider/assess"
)

const (
	// DefaultScoringTimeout bounds one assessment call.
	DefaultScoringTimeout = 30 * time.Second

	saveTimeout      = 10 * time.Second
	refAudioParallel = 4
)

// Encoder turns a capture into validated wave bytes. [*audio.Encoder]
// satisfies it.
type Encoder interface {
	Encode(c audio.Capture) ([]byte, error)
}

// Recordings stores the wave file of a scored user turn and returns the URL
// it is served from.
type Recordings interface {
	Save(ctx context.Context, sessionID string, lineIndex int, wav []byte) (string, error)
}

// ReferenceAudio supplies a playable URL for a line that has none.
type ReferenceAudio interface {
	Ensure(ctx context.Context, text, languageCode, gender string) (string, error)
}

// Config holds the dependencies of an [Engine]. Loader, Session, Encoder and
// Assessor are required.
type Config struct {
	Loader   *script.Loader
	Session  *Session
	Encoder  Encoder
	Assessor assess.Provider

	// Aggregator fills in suggestions. Nil leaves them empty.
	Aggregator *score.Aggregator

	// Store persists the session after every change. Nil keeps it in memory.
	Store Store

	Recordings     Recordings
	ReferenceAudio ReferenceAudio

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// ScoringTimeout defaults to [DefaultScoringTimeout].
	ScoringTimeout time.Duration
}

// Engine is the single owner of one session. All methods are safe for
// concurrent use; at most one turn is scored at a time.
type Engine struct {
	loader     *script.Loader
	encoder    Encoder
	assessor   assess.Provider
	agg        *score.Aggregator
	store      Store
	recordings Recordings
	refAudio   ReferenceAudio
	metrics    *observe.Metrics
	timeout    time.Duration
	gender     string

	mu        sync.Mutex
	sess      *Session
	lines     []script.Line
	initial   []script.Line
	state     State
	capturing bool
	dirty     bool
	// detached is set once the manager has let go of the engine; only
	// reads are served after that.
	detached bool
}

// NewEngine returns an idle engine. Call [Engine.Start] before use.
func NewEngine(cfg Config) (*Engine, error) {
	var errs []error
	if cfg.Loader == nil {
		errs = append(errs, errors.New("loader is required"))
	}
	if cfg.Session == nil {
		errs = append(errs, errors.New("session is required"))
	}
	if cfg.Encoder == nil {
		errs = append(errs, errors.New("encoder is required"))
	}
	if cfg.Assessor == nil {
		errs = append(errs, errors.New("assessor is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("session: new engine: %w", err)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.ScoringTimeout <= 0 {
		cfg.ScoringTimeout = DefaultScoringTimeout
	}
	return &Engine{
		loader:     cfg.Loader,
		encoder:    cfg.Encoder,
		assessor:   cfg.Assessor,
		agg:        cfg.Aggregator,
		store:      cfg.Store,
		recordings: cfg.Recordings,
		refAudio:   cfg.ReferenceAudio,
		metrics:    cfg.Metrics,
		timeout:    cfg.ScoringTimeout,
		gender:     cfg.Loader.Script().SpeakerGender,
		sess:       cfg.Session.Clone(),
	}, nil
}

// ID returns the session ID.
func (e *Engine) ID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.ID
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start loads the script and settles the engine on the current prompt. A new
// session is seeded with the script's opening messages; a resumed session
// keeps its transcript and position. A resumed session whose position does
// not fit the script any more is restarted. Calling Start again is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return nil
	}

	loaded, err := e.loader.Load()
	if err != nil {
		return fmt.Errorf("session: load script: %w", err)
	}
	e.lines = e.withReferenceAudio(ctx, loaded.Lines)
	e.initial = e.lines[:len(loaded.InitialMessages)]

	log := observe.Logger(ctx).With("session_id", e.sess.ID)
	fresh := len(e.sess.Transcript) == 0 && e.sess.CurrentLineIndex == 0 && !e.sess.Completed
	switch {
	case fresh:
		e.reset()
		e.persist(ctx, "start")
	case !e.consistent():
		log.Warn("session: stored position does not fit the script, restarting",
			"index", e.sess.CurrentLineIndex, "lines", len(e.lines), "completed", e.sess.Completed)
		e.reset()
		e.persist(ctx, "start")
	}
	e.state = e.settled()
	log.Info("session: started", "state", e.state, "index", e.sess.CurrentLineIndex, "resumed", !fresh)
	return nil
}

// withReferenceAudio returns a copy of lines with a reference audio URL on
// every line that lacks one and can be synthesized. Failures leave the URL
// empty.
func (e *Engine) withReferenceAudio(ctx context.Context, lines []script.Line) []script.Line {
	out := append([]script.Line(nil), lines...)
	if e.refAudio == nil {
		return out
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refAudioParallel)
	for i := range out {
		if out[i].ReferenceAudioURL != "" {
			continue
		}
		g.Go(func() error {
			url, err := e.refAudio.Ensure(gctx, out[i].SynthesisText(), e.sess.LanguageCode, e.gender)
			if err != nil {
				observe.Logger(ctx).Warn("session: reference audio unavailable", "line", i, "err", err)
				return nil
			}
			out[i].ReferenceAudioURL = url
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// consistent reports whether the stored position satisfies the index
// invariant for the loaded script.
func (e *Engine) consistent() bool {
	idx := e.sess.CurrentLineIndex
	if e.sess.Completed {
		return idx == len(e.lines)
	}
	return idx >= 0 && idx < len(e.lines) && e.lines[idx].Speaker == script.SpeakerUser
}

// reset clears the transcript and seeds it from the opening messages.
func (e *Engine) reset() {
	e.sess.Transcript = nil
	e.sess.Completed = false
	e.sess.Score = nil
	for _, l := range e.initial {
		e.sess.Transcript = append(e.sess.Transcript, botMessage(l))
	}
	e.advance(len(e.initial))
}

// advance appends character lines from index next onwards and stops at the
// next user prompt, or completes the session at the end of the script. It
// returns the appended messages.
func (e *Engine) advance(next int) []ChatMessage {
	e.state = StateAwaitingPrompt
	var appended []ChatMessage
	i := next
	for i < len(e.lines) && e.lines[i].Speaker == script.SpeakerCharacter {
		m := botMessage(e.lines[i])
		e.sess.Transcript = append(e.sess.Transcript, m)
		appended = append(appended, m)
		i++
	}
	if i >= len(e.lines) {
		e.sess.CurrentLineIndex = len(e.lines)
		e.sess.Completed = true
		if s, ok := score.SessionScore(e.sess.Transcript); ok {
			e.sess.Score = &s
		}
		return appended
	}
	e.sess.CurrentLineIndex = i
	return appended
}

func (e *Engine) settled() State {
	if e.sess.Completed {
		return StateComplete
	}
	return StatePromptReady
}

func botMessage(l script.Line) ChatMessage {
	return ChatMessage{
		ID:                uuid.NewString(),
		Role:              RoleBot,
		Text:              l.TargetText,
		Transliteration:   l.Transliteration,
		Translation:       l.Translation,
		ReferenceAudioURL: l.ReferenceAudioURL,
		CreatedAt:         time.Now().UTC(),
	}
}

// BeginCapture reserves the engine for one recording. It fails with
// [ErrWrongState] unless a prompt is ready and no other capture is running.
// The returned release function must be called when the capture ends.
func (e *Engine) BeginCapture(ctx context.Context) (release func(), err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return nil, fmt.Errorf("%w: session was closed", ErrWrongState)
	}
	if e.state != StatePromptReady {
		return nil, fmt.Errorf("%w: cannot record while %s", ErrWrongState, e.state)
	}
	if e.capturing {
		return nil, fmt.Errorf("%w: a recording is already in progress", ErrWrongState)
	}
	e.capturing = true
	e.metrics.ActiveCaptures.Add(ctx, 1)

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			e.capturing = false
			e.mu.Unlock()
			e.metrics.ActiveCaptures.Add(context.WithoutCancel(ctx), -1)
		})
	}, nil
}

// SubmitRecording scores raw against the current prompt and advances the
// conversation. It is only allowed in [StatePromptReady].
//
// Encoding, validation and scoring failures return the engine to
// [StatePromptReady] with the transcript and position unchanged, so the same
// prompt can be recorded again. The returned error wraps
// [audio.ErrEncodingFailed], [audio.ErrInvalidFormat],
// [assess.ErrUnavailable] or [assess.ErrInvalidResponse].
func (e *Engine) SubmitRecording(ctx context.Context, raw audio.Capture) (*TurnResult, error) {
	e.mu.Lock()
	if e.detached {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: session was closed", ErrWrongState)
	}
	if e.state != StatePromptReady {
		st := e.state
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot submit while %s", ErrWrongState, st)
	}
	e.state = StateScoring
	idx := e.sess.CurrentLineIndex
	line := e.lines[idx]
	sessionID, lang := e.sess.ID, e.sess.LanguageCode
	e.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "session.SubmitRecording", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("session.line_index", idx),
		attribute.String("session.language", lang),
	))

	wav, res, err := e.scoreTurn(ctx, raw, line, lang)
	if err != nil {
		e.mu.Lock()
		e.state = StatePromptReady
		e.mu.Unlock()
		observe.Logger(ctx).Warn("session: turn not scored", "session_id", sessionID, "index", idx, "err", err)
		observe.EndSpan(span, err)
		return nil, fmt.Errorf("session: turn %d: %w", idx, err)
	}
	defer span.End()

	e.mu.Lock()
	if e.detached {
		e.state = StatePromptReady
		e.mu.Unlock()
		return nil, fmt.Errorf("session: turn %d: %w: session was closed while scoring", idx, ErrWrongState)
	}
	e.mu.Unlock()
	audioURL := e.saveRecording(ctx, sessionID, idx, wav)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		e.state = StatePromptReady
		return nil, fmt.Errorf("session: turn %d: %w: session was closed while scoring", idx, ErrWrongState)
	}

	overall := res.OverallScore
	msg := ChatMessage{
		ID:                uuid.NewString(),
		Role:              RoleUser,
		Text:              line.TargetText,
		Transliteration:   line.Transliteration,
		Translation:       line.Translation,
		ReferenceAudioURL: line.ReferenceAudioURL,
		UserAudioURL:      audioURL,
		Score:             &overall,
		Feedback:          res,
		CreatedAt:         time.Now().UTC(),
	}
	e.sess.Transcript = append(e.sess.Transcript, msg)
	replies := e.advance(idx + 1)
	e.state = e.settled()
	if e.sess.Completed {
		e.metrics.RecordSessionCompleted(ctx, lang)
		observe.Logger(ctx).Info("session: completed", "session_id", sessionID, "score", derefOr(e.sess.Score, -1))
	}
	e.persist(ctx, "submit")

	return &TurnResult{
		Message:   msg,
		Replies:   replies,
		Completed: e.sess.Completed,
		Snapshot:  e.snapshot(),
	}, nil
}

// scoreTurn encodes, validates and assesses one recording.
func (e *Engine) scoreTurn(ctx context.Context, raw audio.Capture, line script.Line, lang string) ([]byte, *assess.Result, error) {
	start := time.Now()
	wav, err := e.encoder.Encode(raw)
	e.metrics.EncodeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		e.metrics.RecordTurn(ctx, lang, observe.OutcomeEncodeError)
		return nil, nil, err
	}
	if v := audio.Validate(wav); !v.IsValid {
		e.metrics.RecordTurn(ctx, lang, observe.OutcomeInvalidWAV)
		return nil, nil, v.Err
	}

	actx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	start = time.Now()
	res, err := e.assessor.Assess(actx, assess.Request{Audio: wav, ReferenceText: line.TargetText, LanguageCode: lang})
	e.metrics.AssessDuration.Record(ctx, time.Since(start).Seconds())
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, assess.ErrUnavailable):
		err = fmt.Errorf("%w: %w", assess.ErrUnavailable, err)
	case err == nil && res == nil:
		err = fmt.Errorf("%w: empty result", assess.ErrInvalidResponse)
	}
	if err != nil {
		e.metrics.RecordTurn(ctx, lang, observe.OutcomeScoreError)
		return nil, nil, err
	}
	if e.agg != nil {
		e.agg.Apply(res, score.LocalesFrom(ctx)...)
	}
	e.metrics.RecordTurn(ctx, lang, observe.OutcomeScored)
	return wav, res, nil
}

func (e *Engine) saveRecording(ctx context.Context, sessionID string, idx int, wav []byte) string {
	if e.recordings == nil {
		return ""
	}
	url, err := e.recordings.Save(ctx, sessionID, idx, wav)
	if err != nil {
		observe.Logger(ctx).Warn("session: recording not stored", "session_id", sessionID, "index", idx, "err", err)
		return ""
	}
	return url
}

// Restart clears the transcript and starts the script from the beginning,
// keeping the session ID. It is refused while a recording is being captured
// or scored.
func (e *Engine) Restart(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return fmt.Errorf("%w: session was closed", ErrWrongState)
	}
	switch e.state {
	case StateIdle, StateAwaitingPrompt, StateScoring:
		return fmt.Errorf("%w: cannot restart while %s", ErrWrongState, e.state)
	case StatePromptReady, StateComplete:
	}
	if e.capturing {
		return fmt.Errorf("%w: cannot restart while recording", ErrWrongState)
	}
	e.reset()
	e.state = e.settled()
	e.persist(ctx, "restart")
	observe.Logger(ctx).Info("session: restarted", "session_id", e.sess.ID)
	return nil
}

// Snapshot returns a copy of the engine's current view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

func (e *Engine) snapshot() Snapshot {
	s := Snapshot{
		SessionID:        e.sess.ID,
		ScenarioID:       e.sess.ScenarioID,
		CharacterID:      e.sess.CharacterID,
		LanguageCode:     e.sess.LanguageCode,
		State:            e.state,
		Transcript:       cloneTranscript(e.sess.Transcript),
		CurrentLineIndex: e.sess.CurrentLineIndex,
		TotalLines:       len(e.lines),
		Completed:        e.sess.Completed,
		Score:            cloneInt(e.sess.Score),
		PendingSave:      e.dirty,
	}
	switch e.state {
	case StatePromptReady, StateScoring:
		p := e.lines[e.sess.CurrentLineIndex]
		s.Prompt = &p
	case StateIdle, StateAwaitingPrompt, StateComplete:
	}
	return s
}

// persist saves the session. A failure marks the engine dirty; the next
// change saves the full state again.
func (e *Engine) persist(ctx context.Context, op string) {
	if e.detached {
		return
	}
	e.sess.UpdatedAt = time.Now().UTC()
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := e.store.Upsert(ctx, e.sess.Clone()); err != nil {
		e.dirty = true
		e.metrics.RecordPersistenceError(ctx, op)
		observe.Logger(ctx).Error("session: save failed, keeping changes in memory",
			"session_id", e.sess.ID, "op", op, "err", fmt.Errorf("%w: %w", ErrPersistence, err))
		return
	}
	e.dirty = false
}

// Flush retries a failed save. It returns nil when nothing is pending.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushLocked(ctx)
}

func (e *Engine) flushLocked(ctx context.Context) error {
	if !e.dirty || e.store == nil {
		return nil
	}
	if err := e.store.Upsert(ctx, e.sess.Clone()); err != nil {
		e.metrics.RecordPersistenceError(ctx, "flush")
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	e.dirty = false
	return nil
}

// detach flushes pending changes and turns the engine read-only. Later
// captures, submissions and restarts fail with [ErrWrongState].
func (e *Engine) detach(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.flushLocked(ctx)
	e.detached = true
	return err
}

// detachIdle detaches the engine unless a recording is being captured or
// scored, and returns a copy of its session. ok is false when the engine is
// busy or already detached.
func (e *Engine) detachIdle(ctx context.Context) (sess *Session, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached || e.capturing || e.state == StateScoring {
		return nil, false
	}
	if err := e.flushLocked(ctx); err != nil {
		observe.Logger(ctx).Warn("session: flush before reload failed", "session_id", e.sess.ID, "err", err)
	}
	e.detached = true
	return e.sess.Clone(), true
}

func derefOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
