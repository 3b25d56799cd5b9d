package session_test

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/rehearse/internal/score"
	"github.com/MrWong99/rehearse/internal/script"
	"github.com/MrWong99/rehearse/internal/session"
	"github.com/MrWong99/rehearse/internal/session/store/memstore"
	"github.com/MrWong99/rehearse/pkg/audio"
	"github.com/MrWong99/rehearse/pkg/provider/assess"
	"github.com/MrWong99/rehearse/pkg/provider/assess/mock"
)

// ─── helpers ──────────────────────────────────────────────────────────────────

func sixLines() *script.Script {
	s := &script.Script{ID: "cafe-es", LanguageCode: "es-ES", ScenarioID: "cafe", CharacterID: "ana"}
	for i := range 6 {
		sp := script.SpeakerCharacter
		if i%2 == 1 {
			sp = script.SpeakerUser
		}
		s.Lines = append(s.Lines, script.Line{
			Speaker:     sp,
			TargetText:  fmt.Sprintf("line %d", i),
			Translation: fmt.Sprintf("translation %d", i),
		})
	}
	return s
}

// speech returns 100 ms of 16 kHz mono PCM.
func speech() audio.Capture {
	pcm := make([]byte, 3200)
	for i := 0; i < len(pcm); i += 2 {
		binary.LittleEndian.PutUint16(pcm[i:], uint16(int16(1000)))
	}
	return audio.Capture{Data: pcm, Container: audio.ContainerPCM16, Format: audio.Format{SampleRate: 16000, Channels: 1}}
}

// sequence returns an assessor that scores turns with the given overall
// scores in order.
func sequence(scores ...int) *mock.Provider {
	var (
		mu sync.Mutex
		n  int
	)
	return &mock.Provider{ResultFunc: func(req assess.Request) (*assess.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		s := scores[n%len(scores)]
		n++
		return &assess.Result{
			OverallScore: s,
			Words:        []assess.Word{{Word: req.ReferenceText, AccuracyScore: s, ErrorType: assess.ErrorNone}},
		}, nil
	}}
}

type badEncoder struct{}

func (badEncoder) Encode(audio.Capture) ([]byte, error) { return []byte("RIFF....not a wave"), nil }

// flakyStore fails the first failures upserts.
type flakyStore struct {
	*memstore.Store
	mu       sync.Mutex
	failures int
	attempts int
}

func (f *flakyStore) Upsert(ctx context.Context, s *session.Session) error {
	f.mu.Lock()
	f.attempts++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return f.Store.Upsert(ctx, s)
}

type engineOpts struct {
	script   *script.Script
	stored   *session.Session
	encoder  session.Encoder
	assessor assess.Provider
	store    session.Store
	agg      *score.Aggregator
	rec      session.Recordings
	ref      session.ReferenceAudio
	timeout  time.Duration
}

func newEngine(t *testing.T, o engineOpts) *session.Engine {
	t.Helper()
	if o.script == nil {
		o.script = sixLines()
	}
	if o.stored == nil {
		o.stored = &session.Session{ID: "sess-1", UserID: "u1", ScenarioID: "cafe", CharacterID: "ana", LanguageCode: o.script.LanguageCode}
	}
	if o.encoder == nil {
		enc, err := audio.NewEncoder()
		if err != nil {
			t.Fatal(err)
		}
		o.encoder = enc
	}
	if o.assessor == nil {
		o.assessor = sequence(80, 90, 70)
	}
	e, err := session.NewEngine(session.Config{
		Loader:         script.NewLoader(o.script),
		Session:        o.stored,
		Encoder:        o.encoder,
		Assessor:       o.assessor,
		Aggregator:     o.agg,
		Store:          o.store,
		Recordings:     o.rec,
		ReferenceAudio: o.ref,
		ScoringTimeout: o.timeout,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func start(t *testing.T, e *session.Engine) {
	t.Helper()
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

// ─── tests ────────────────────────────────────────────────────────────────────

func TestEngine_SixLineScriptCompletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memstore.New()
	e := newEngine(t, engineOpts{store: st})
	start(t, e)

	snap := e.Snapshot()
	if snap.State != session.StatePromptReady || snap.CurrentLineIndex != 1 || len(snap.Transcript) != 1 {
		t.Fatalf("after start: state=%s index=%d transcript=%d", snap.State, snap.CurrentLineIndex, len(snap.Transcript))
	}
	if snap.Prompt == nil || snap.Prompt.TargetText != "line 1" {
		t.Fatalf("prompt: %+v", snap.Prompt)
	}

	var last *session.TurnResult
	for i := range 3 {
		res, err := e.SubmitRecording(ctx, speech())
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		last = res
	}

	snap = e.Snapshot()
	if snap.State != session.StateComplete {
		t.Errorf("state: got %s, want complete", snap.State)
	}
	if len(snap.Transcript) != 6 {
		t.Errorf("transcript: got %d entries, want 6", len(snap.Transcript))
	}
	if snap.CurrentLineIndex != 6 || !snap.Completed {
		t.Errorf("index=%d completed=%v", snap.CurrentLineIndex, snap.Completed)
	}
	if snap.Score == nil || *snap.Score != 80 {
		t.Errorf("session score: got %v, want 80", snap.Score)
	}
	if !last.Completed || len(last.Replies) != 0 {
		t.Errorf("last turn: %+v", last)
	}

	roles := make([]string, len(snap.Transcript))
	for i, m := range snap.Transcript {
		roles[i] = string(m.Role)
	}
	if got := strings.Join(roles, ","); got != "bot,user,bot,user,bot,user" {
		t.Errorf("roles: %s", got)
	}

	saved, err := st.Get(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !saved.Completed || saved.CurrentLineIndex != 6 || len(saved.Transcript) != 6 {
		t.Errorf("saved: completed=%v index=%d transcript=%d", saved.Completed, saved.CurrentLineIndex, len(saved.Transcript))
	}
}

func TestEngine_TurnAppendsReply(t *testing.T) {
	t.Parallel()
	e := newEngine(t, engineOpts{})
	start(t, e)

	res, err := e.SubmitRecording(context.Background(), speech())
	if err != nil {
		t.Fatal(err)
	}
	if res.Message.Role != session.RoleUser || res.Message.Text != "line 1" {
		t.Errorf("message: %+v", res.Message)
	}
	if res.Message.Score == nil || *res.Message.Score != 80 || res.Message.Feedback == nil {
		t.Errorf("message results: score=%v feedback=%v", res.Message.Score, res.Message.Feedback)
	}
	if len(res.Replies) != 1 || res.Replies[0].Text != "line 2" {
		t.Errorf("replies: %+v", res.Replies)
	}
	if res.Snapshot.CurrentLineIndex != 3 || res.Snapshot.Prompt.TargetText != "line 3" {
		t.Errorf("next prompt: index=%d prompt=%+v", res.Snapshot.CurrentLineIndex, res.Snapshot.Prompt)
	}
}

func TestEngine_InvalidAudioLeavesStateUnchanged(t *testing.T) {
	t.Parallel()
	assessor := sequence(80)
	e := newEngine(t, engineOpts{encoder: badEncoder{}, assessor: assessor})
	start(t, e)
	before := e.Snapshot()

	_, err := e.SubmitRecording(context.Background(), speech())
	if !errors.Is(err, audio.ErrInvalidFormat) {
		t.Fatalf("got %v, want ErrInvalidFormat", err)
	}
	after := e.Snapshot()
	if after.State != session.StatePromptReady {
		t.Errorf("state: got %s, want prompt_ready", after.State)
	}
	if after.CurrentLineIndex != before.CurrentLineIndex || len(after.Transcript) != len(before.Transcript) {
		t.Errorf("state moved: index %d→%d, transcript %d→%d",
			before.CurrentLineIndex, after.CurrentLineIndex, len(before.Transcript), len(after.Transcript))
	}
	if assessor.CallCount() != 0 {
		t.Error("invalid audio must not reach the assessor")
	}
}

func TestEngine_EncodingFailure(t *testing.T) {
	t.Parallel()
	e := newEngine(t, engineOpts{})
	start(t, e)

	_, err := e.SubmitRecording(context.Background(), audio.Capture{Container: audio.ContainerWAV, Data: []byte("junk")})
	if !errors.Is(err, audio.ErrEncodingFailed) {
		t.Fatalf("got %v, want ErrEncodingFailed", err)
	}
	if e.State() != session.StatePromptReady {
		t.Errorf("state: %s", e.State())
	}
}

func TestEngine_ScoringFailureAllowsRetry(t *testing.T) {
	t.Parallel()
	assessor := &mock.Provider{Err: fmt.Errorf("azure: %w", assess.ErrUnavailable)}
	e := newEngine(t, engineOpts{assessor: assessor})
	start(t, e)

	if _, err := e.SubmitRecording(context.Background(), speech()); !errors.Is(err, assess.ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
	snap := e.Snapshot()
	if snap.State != session.StatePromptReady || snap.CurrentLineIndex != 1 || len(snap.Transcript) != 1 {
		t.Fatalf("after failure: %s index=%d transcript=%d", snap.State, snap.CurrentLineIndex, len(snap.Transcript))
	}

	assessor.Err = nil
	assessor.Result = &assess.Result{OverallScore: 75}
	res, err := e.SubmitRecording(context.Background(), speech())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if *res.Message.Score != 75 {
		t.Errorf("retry score: %d", *res.Message.Score)
	}
}

type slowAssessor struct{}

func (slowAssessor) Assess(ctx context.Context, _ assess.Request) (*assess.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEngine_ScoringTimeout(t *testing.T) {
	t.Parallel()
	e := newEngine(t, engineOpts{assessor: slowAssessor{}, timeout: 20 * time.Millisecond})
	start(t, e)

	_, err := e.SubmitRecording(context.Background(), speech())
	if !errors.Is(err, assess.ErrUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want ErrUnavailable wrapping DeadlineExceeded", err)
	}
	if e.State() != session.StatePromptReady {
		t.Errorf("state: %s", e.State())
	}
}

func TestEngine_InvalidResponse(t *testing.T) {
	t.Parallel()
	assessor := &mock.Provider{ResultFunc: func(assess.Request) (*assess.Result, error) { return nil, nil }}
	e := newEngine(t, engineOpts{assessor: assessor})
	start(t, e)
	if _, err := e.SubmitRecording(context.Background(), speech()); !errors.Is(err, assess.ErrInvalidResponse) {
		t.Errorf("got %v, want ErrInvalidResponse", err)
	}
}

type blockingAssessor struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingAssessor) Assess(context.Context, assess.Request) (*assess.Result, error) {
	close(b.entered)
	<-b.release
	return &assess.Result{OverallScore: 50}, nil
}

func TestEngine_OneTurnInFlight(t *testing.T) {
	t.Parallel()
	b := &blockingAssessor{entered: make(chan struct{}), release: make(chan struct{})}
	e := newEngine(t, engineOpts{assessor: b})
	start(t, e)

	done := make(chan error, 1)
	go func() {
		_, err := e.SubmitRecording(context.Background(), speech())
		done <- err
	}()
	<-b.entered

	if got := e.Snapshot().State; got != session.StateScoring {
		t.Errorf("state while scoring: %s", got)
	}
	if _, err := e.SubmitRecording(context.Background(), speech()); !errors.Is(err, session.ErrWrongState) {
		t.Errorf("second submit: got %v, want ErrWrongState", err)
	}
	if err := e.Restart(context.Background()); !errors.Is(err, session.ErrWrongState) {
		t.Errorf("restart while scoring: got %v, want ErrWrongState", err)
	}
	if _, err := e.BeginCapture(context.Background()); !errors.Is(err, session.ErrWrongState) {
		t.Errorf("capture while scoring: got %v, want ErrWrongState", err)
	}

	close(b.release)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if got := e.State(); got != session.StatePromptReady {
		t.Errorf("state after turn: %s", got)
	}
}

func TestEngine_WrongState(t *testing.T) {
	t.Parallel()
	e := newEngine(t, engineOpts{})
	if _, err := e.SubmitRecording(context.Background(), speech()); !errors.Is(err, session.ErrWrongState) {
		t.Errorf("before start: got %v", err)
	}
	if err := e.Restart(context.Background()); !errors.Is(err, session.ErrWrongState) {
		t.Errorf("restart before start: got %v", err)
	}
	start(t, e)
	for range 3 {
		if _, err := e.SubmitRecording(context.Background(), speech()); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.SubmitRecording(context.Background(), speech()); !errors.Is(err, session.ErrWrongState) {
		t.Errorf("after completion: got %v", err)
	}
}

func TestEngine_StartIsIdempotent(t *testing.T) {
	t.Parallel()
	e := newEngine(t, engineOpts{})
	start(t, e)
	start(t, e)
	if got := len(e.Snapshot().Transcript); got != 1 {
		t.Errorf("transcript after two starts: %d, want 1", got)
	}
}

func TestEngine_UserFirstScript(t *testing.T) {
	t.Parallel()
	s := sixLines()
	s.Lines = s.Lines[1:5] // user, character, user, character
	e := newEngine(t, engineOpts{script: s})
	start(t, e)

	snap := e.Snapshot()
	if snap.CurrentLineIndex != 0 || len(snap.Transcript) != 0 {
		t.Fatalf("index=%d transcript=%d", snap.CurrentLineIndex, len(snap.Transcript))
	}
	for range 2 {
		if _, err := e.SubmitRecording(context.Background(), speech()); err != nil {
			t.Fatal(err)
		}
	}
	snap = e.Snapshot()
	if !snap.Completed || snap.CurrentLineIndex != 4 || len(snap.Transcript) != 4 {
		t.Errorf("end: completed=%v index=%d transcript=%d", snap.Completed, snap.CurrentLineIndex, len(snap.Transcript))
	}
}

func TestEngine_MalformedScript(t *testing.T) {
	t.Parallel()
	e := newEngine(t, engineOpts{script: &script.Script{ID: "empty"}})
	if err := e.Start(context.Background()); !errors.Is(err, script.ErrMalformedScript) {
		t.Fatalf("got %v, want ErrMalformedScript", err)
	}
	if e.State() != session.StateIdle {
		t.Errorf("state: %s", e.State())
	}
}

func TestEngine_Restart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memstore.New()
	e := newEngine(t, engineOpts{store: st})
	start(t, e)
	for range 3 {
		if _, err := e.SubmitRecording(ctx, speech()); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.Restart(ctx); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	snap := e.Snapshot()
	if snap.State != session.StatePromptReady || snap.Completed || snap.Score != nil {
		t.Errorf("after restart: %+v", snap)
	}
	if snap.CurrentLineIndex != 1 || len(snap.Transcript) != 1 || snap.SessionID != "sess-1" {
		t.Errorf("after restart: index=%d transcript=%d id=%s", snap.CurrentLineIndex, len(snap.Transcript), snap.SessionID)
	}
	saved, _ := st.Get(ctx, "sess-1")
	if saved.Completed || len(saved.Transcript) != 1 {
		t.Errorf("saved after restart: completed=%v transcript=%d", saved.Completed, len(saved.Transcript))
	}
}

func TestEngine_Resume(t *testing.T) {
	t.Parallel()
	ninety := 90
	stored := &session.Session{
		ID: "sess-9", UserID: "u1", ScenarioID: "cafe", CharacterID: "ana", LanguageCode: "es-ES",
		Transcript: []session.ChatMessage{
			{ID: "a", Role: session.RoleBot, Text: "line 0"},
			{ID: "b", Role: session.RoleUser, Text: "line 1", Score: &ninety},
			{ID: "c", Role: session.RoleBot, Text: "line 2"},
		},
		CurrentLineIndex: 3,
	}
	e := newEngine(t, engineOpts{stored: stored})
	start(t, e)

	snap := e.Snapshot()
	if snap.CurrentLineIndex != 3 || len(snap.Transcript) != 3 || snap.Transcript[0].ID != "a" {
		t.Errorf("resume: index=%d transcript=%d", snap.CurrentLineIndex, len(snap.Transcript))
	}
	if snap.Prompt.TargetText != "line 3" {
		t.Errorf("prompt: %+v", snap.Prompt)
	}
}

func TestEngine_ResumeInconsistentRestarts(t *testing.T) {
	t.Parallel()
	stored := &session.Session{
		ID: "sess-9", UserID: "u1", ScenarioID: "cafe", CharacterID: "ana", LanguageCode: "es-ES",
		Transcript:       []session.ChatMessage{{ID: "a", Role: session.RoleBot}},
		CurrentLineIndex: 2, // a character line
	}
	e := newEngine(t, engineOpts{stored: stored})
	start(t, e)
	snap := e.Snapshot()
	if snap.CurrentLineIndex != 1 || snap.Transcript[0].ID == "a" {
		t.Errorf("expected a fresh transcript, got index=%d first=%s", snap.CurrentLineIndex, snap.Transcript[0].ID)
	}
}

func TestEngine_PersistenceFailureRetriedOnNextChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := &flakyStore{Store: memstore.New()}
	e := newEngine(t, engineOpts{store: st})
	start(t, e)

	st.mu.Lock()
	st.failures = 1
	st.mu.Unlock()

	if _, err := e.SubmitRecording(ctx, speech()); err != nil {
		t.Fatalf("a failed save must not fail the turn: %v", err)
	}
	if !e.Snapshot().PendingSave {
		t.Error("PendingSave should be set after a failed save")
	}
	saved, _ := st.Get(ctx, "sess-1")
	if saved.CurrentLineIndex != 1 {
		t.Fatalf("store should still hold the previous state, got index %d", saved.CurrentLineIndex)
	}

	if _, err := e.SubmitRecording(ctx, speech()); err != nil {
		t.Fatal(err)
	}
	if e.Snapshot().PendingSave {
		t.Error("PendingSave should clear after a successful save")
	}
	saved, _ = st.Get(ctx, "sess-1")
	if saved.CurrentLineIndex != 5 || len(saved.Transcript) != 5 {
		t.Errorf("saved: index=%d transcript=%d, want 5 and 5", saved.CurrentLineIndex, len(saved.Transcript))
	}
}

func TestEngine_Flush(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := &flakyStore{Store: memstore.New(), failures: 2}
	e := newEngine(t, engineOpts{store: st})
	start(t, e) // first failure

	if err := e.Flush(ctx); !errors.Is(err, session.ErrPersistence) {
		t.Fatalf("Flush: got %v, want ErrPersistence", err)
	}
	if err := e.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := st.Get(ctx, "sess-1"); err != nil {
		t.Errorf("session not saved: %v", err)
	}
	if err := e.Flush(ctx); err != nil {
		t.Errorf("Flush with nothing pending: %v", err)
	}
}

func TestEngine_Suggestions(t *testing.T) {
	t.Parallel()
	agg, err := score.New()
	if err != nil {
		t.Fatal(err)
	}
	assessor := &mock.Provider{Result: &assess.Result{
		OverallScore: 60,
		Words: []assess.Word{
			{Word: "line", ErrorType: assess.ErrorNone},
			{Word: "1", ErrorType: assess.ErrorOmission},
		},
	}}
	e := newEngine(t, engineOpts{assessor: assessor, agg: agg})
	start(t, e)

	ctx := score.WithLocales(context.Background(), "es")
	res, err := e.SubmitRecording(ctx, speech())
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Message.Feedback.Suggestions; !strings.Contains(got, `"1"`) || !strings.Contains(got, "omisión") {
		t.Errorf("suggestions: %q", got)
	}
}

type fakeRecordings struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func (f *fakeRecordings) Save(_ context.Context, sessionID string, idx int, wav []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url := fmt.Sprintf("/recordings/%s-%d.wav", sessionID, idx)
	f.saved[url] = wav
	return url, nil
}

type fakeRefAudio struct {
	fail string
}

func (f fakeRefAudio) Ensure(_ context.Context, text, lang, _ string) (string, error) {
	if text == f.fail {
		return "", errors.New("tts down")
	}
	return "/refaudio/" + lang + "/" + strings.ReplaceAll(text, " ", "_") + ".mp3", nil
}

func TestEngine_AudioURLs(t *testing.T) {
	t.Parallel()
	s := sixLines()
	s.Lines[3].ReferenceAudioURL = "https://cdn.example/line3.mp3"
	rec := &fakeRecordings{saved: map[string][]byte{}}
	e := newEngine(t, engineOpts{script: s, rec: rec, ref: fakeRefAudio{fail: "line 2"}})
	start(t, e)

	snap := e.Snapshot()
	if got := snap.Transcript[0].ReferenceAudioURL; got != "/refaudio/es-ES/line_0.mp3" {
		t.Errorf("bot line audio: %q", got)
	}
	res, err := e.SubmitRecording(context.Background(), speech())
	if err != nil {
		t.Fatal(err)
	}
	if res.Message.UserAudioURL != "/recordings/sess-1-1.wav" {
		t.Errorf("user audio: %q", res.Message.UserAudioURL)
	}
	if v := audio.Validate(rec.saved[res.Message.UserAudioURL]); !v.IsValid {
		t.Errorf("stored recording is not a valid wave: %v", v.Err)
	}
	if res.Replies[0].ReferenceAudioURL != "" {
		t.Errorf("failed synthesis should leave the URL empty, got %q", res.Replies[0].ReferenceAudioURL)
	}
	if res.Snapshot.Prompt.ReferenceAudioURL != "https://cdn.example/line3.mp3" {
		t.Errorf("authored URL replaced: %q", res.Snapshot.Prompt.ReferenceAudioURL)
	}
}

func TestEngine_BeginCapture(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEngine(t, engineOpts{})
	if _, err := e.BeginCapture(ctx); !errors.Is(err, session.ErrWrongState) {
		t.Errorf("before start: got %v", err)
	}
	start(t, e)

	release, err := e.BeginCapture(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.BeginCapture(ctx); !errors.Is(err, session.ErrWrongState) {
		t.Errorf("second capture: got %v", err)
	}
	if err := e.Restart(ctx); !errors.Is(err, session.ErrWrongState) {
		t.Errorf("restart while recording: got %v", err)
	}
	release()
	release()
	if _, err := e.BeginCapture(ctx); err != nil {
		t.Errorf("after release: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := map[session.State]string{
		session.StateIdle:           "idle",
		session.StateAwaitingPrompt: "awaiting_prompt",
		session.StatePromptReady:    "prompt_ready",
		session.StateScoring:        "scoring",
		session.StateComplete:       "complete",
		session.State(42):           "unknown",
	}
	for st, want := range tests {
		if got := st.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(st), got, want)
		}
	}
}
