package api_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/MrWong99/rehearse/internal/api"
	"github.com/MrWong99/rehearse/internal/score"
	"github.com/MrWong99/rehearse/internal/script"
	"github.com/MrWong99/rehearse/internal/session"
	"github.com/MrWong99/rehearse/internal/session/store/memstore"
	"github.com/MrWong99/rehearse/pkg/audio"
	"github.com/MrWong99/rehearse/pkg/audio/capture"
	"github.com/MrWong99/rehearse/pkg/provider/assess"
	"github.com/MrWong99/rehearse/pkg/provider/assess/mock"
)

// ─── helpers ──────────────────────────────────────────────────────────────────

var secret = []byte("test-secret")

func cafe() *script.Script {
	return &script.Script{
		ID: "cafe-es", LanguageCode: "es-ES", ScenarioID: "cafe", CharacterID: "ana",
		Lines: []script.Line{
			{Speaker: script.SpeakerCharacter, TargetText: "Hola, ¿qué quieres?", Translation: "Hi, what would you like?"},
			{Speaker: script.SpeakerUser, TargetText: "Un café, por favor.", Translation: "A coffee, please."},
			{Speaker: script.SpeakerCharacter, TargetText: "Aquí tienes.", Translation: "Here you go."},
			{Speaker: script.SpeakerUser, TargetText: "Gracias.", Translation: "Thanks."},
		},
	}
}

type options struct {
	assessor assess.Provider
	auth     api.AuthConfig
}

func newServer(t *testing.T, o options) *httptest.Server {
	t.Helper()
	if o.assessor == nil {
		o.assessor = &mock.Provider{Result: &assess.Result{OverallScore: 82}}
	}
	if !o.auth.Disabled && o.auth.Secret == nil {
		o.auth = api.AuthConfig{Disabled: true}
	}
	enc, err := audio.NewEncoder()
	if err != nil {
		t.Fatal(err)
	}
	scripts := script.NewMemSource(cafe())
	m, err := session.NewManager(session.ManagerConfig{
		Scripts:  scripts,
		Store:    memstore.New(),
		Encoder:  enc,
		Assessor: o.assessor,
	})
	if err != nil {
		t.Fatal(err)
	}
	s, err := api.New(api.Config{
		Manager: m,
		Scripts: scripts,
		Auth:    o.auth,
		Capture: capture.Config{PreRollDelay: -1, PostRollDelay: 50 * time.Millisecond, SafetyDelay: -1, ChunkInterval: time.Hour},
	})
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	r := chi.NewRouter()
	s.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func pcm(ms int) []byte {
	out := make([]byte, 32*ms)
	for i := 0; i < len(out); i += 2 {
		binary.LittleEndian.PutUint16(out[i:], uint16(int16(1200)))
	}
	return out
}

type snapshot struct {
	SessionID        string `json:"sessionId"`
	State            string `json:"state"`
	CurrentLineIndex int    `json:"currentLineIndex"`
	Completed        bool   `json:"completed"`
	Transcript       []struct {
		Role string `json:"role"`
		Text string `json:"text"`
	} `json:"transcript"`
}

type turn struct {
	Message struct {
		Text  string `json:"text"`
		Score *int   `json:"score"`
	} `json:"message"`
	Completed bool     `json:"completed"`
	Snapshot  snapshot `json:"snapshot"`
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func do(t *testing.T, method, url, user string, body []byte, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if user != "" {
		req.Header.Set(api.UserHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func open(t *testing.T, srv *httptest.Server, user string) snapshot {
	t.Helper()
	resp := do(t, http.MethodPost, srv.URL+"/api/v1/sessions", user,
		[]byte(`{"scenarioId":"cafe","characterId":"ana","languageCode":"es-ES"}`), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open: status %d", resp.StatusCode)
	}
	return decode[snapshot](t, resp)
}

func upload(t *testing.T, srv *httptest.Server, user, id string) *http.Response {
	t.Helper()
	return do(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+id+"/recordings?rate=16000&channels=1", user,
		pcm(200), http.Header{"Content-Type": {"audio/l16"}})
}

// ─── sessions ─────────────────────────────────────────────────────────────────

func TestOpenSession(t *testing.T) {
	t.Parallel()
	srv := newServer(t, options{})

	snap := open(t, srv, "u1")
	if snap.SessionID == "" {
		t.Fatal("no session id")
	}
	if snap.State != "prompt_ready" || snap.CurrentLineIndex != 1 {
		t.Errorf("state=%s index=%d", snap.State, snap.CurrentLineIndex)
	}
	if len(snap.Transcript) != 1 || snap.Transcript[0].Role != "bot" {
		t.Errorf("transcript: %+v", snap.Transcript)
	}

	again := open(t, srv, "u1")
	if again.SessionID != snap.SessionID {
		t.Errorf("reopen created a new session: %s != %s", again.SessionID, snap.SessionID)
	}
}

func TestOpenSession_BadRequest(t *testing.T) {
	t.Parallel()
	srv := newServer(t, options{})
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing language", `{"scenarioId":"cafe","characterId":"ana"}`},
		{"unknown field", `{"scenarioId":"cafe","characterId":"ana","languageCode":"es-ES","x":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := do(t, http.MethodPost, srv.URL+"/api/v1/sessions", "u1", []byte(tt.body), nil)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestOpenSession_ScriptNotAvailable(t *testing.T) {
	t.Parallel()
	srv := newServer(t, options{})
	resp := do(t, http.MethodPost, srv.URL+"/api/v1/sessions", "u1",
		[]byte(`{"scenarioId":"cafe","characterId":"ana","languageCode":"ja-JP"}`), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", resp.StatusCode)
	}
	if e := decode[apiError](t, resp); e.Code != "not_available" {
		t.Errorf("code: %q", e.Code)
	}
}

func TestGetSession_Ownership(t *testing.T) {
	t.Parallel()
	srv := newServer(t, options{})
	snap := open(t, srv, "u1")

	if resp := do(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+snap.SessionID, "u1", nil, nil); resp.StatusCode != http.StatusOK {
		t.Errorf("owner: status %d", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+snap.SessionID, "u2", nil, nil); resp.StatusCode != http.StatusForbidden {
		t.Errorf("other user: status %d, want 403", resp.StatusCode)
	}
	if resp := do(t, http.MethodGet, srv.URL+"/api/v1/sessions/nope", "u1", nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown id: status %d, want 404", resp.StatusCode)
	}
}

func TestGetScript(t *testing.T) {
	t.Parallel()
	srv := newServer(t, options{})

	resp := do(t, http.MethodGet, srv.URL+"/api/v1/scripts/cafe/ana?lang=es-MX", "u1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	sc := decode[script.Script](t, resp)
	if sc.ID != "cafe-es" || len(sc.Lines) != 4 {
		t.Errorf("script: %+v", sc)
	}

	if resp := do(t, http.MethodGet, srv.URL+"/api/v1/scripts/cafe/ana", "u1", nil, nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing lang: status %d", resp.StatusCode)
	}
}

// ─── recordings ───────────────────────────────────────────────────────────────

func TestUploadRecording_CompletesConversation(t *testing.T) {
	t.Parallel()
	srv := newServer(t, options{})
	id := open(t, srv, "u1").SessionID

	resp := upload(t, srv, "u1", id)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first turn: status %d", resp.StatusCode)
	}
	first := decode[turn](t, resp)
	if first.Message.Text != "Un café, por favor." || first.Message.Score == nil || *first.Message.Score != 82 {
		t.Errorf("message: %+v", first.Message)
	}
	if first.Completed || first.Snapshot.CurrentLineIndex != 3 {
		t.Errorf("after first turn: completed=%v index=%d", first.Completed, first.Snapshot.CurrentLineIndex)
	}

	second := decode[turn](t, upload(t, srv, "u1", id))
	if !second.Completed || second.Snapshot.State != "complete" {
		t.Errorf("after second turn: %+v", second.Snapshot)
	}

	resp = upload(t, srv, "u1", id)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("upload after completion: status %d, want 409", resp.StatusCode)
	}
}

func TestUploadRecording_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		assessor    assess.Provider
		contentType string
		body        []byte
		wantStatus  int
		wantCode    string
	}{
		{"unsupported type", nil, "video/mp4", pcm(100), http.StatusUnsupportedMediaType, "unsupported_media_type"},
		{"empty recording", nil, "audio/l16", nil, http.StatusUnprocessableEntity, "encoding_failed"},
		{"scoring unavailable", &mock.Provider{Err: assess.ErrUnavailable}, "audio/l16", pcm(200), http.StatusServiceUnavailable, "scoring_unavailable"},
		{"bad scoring response", &mock.Provider{Err: assess.ErrInvalidResponse}, "audio/l16", pcm(200), http.StatusBadGateway, "invalid_scoring_response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newServer(t, options{assessor: tt.assessor})
			id := open(t, srv, "u1").SessionID

			resp := do(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+id+"/recordings", "u1",
				tt.body, http.Header{"Content-Type": {tt.contentType}})
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status: got %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if e := decode[apiError](t, resp); e.Code != tt.wantCode {
				t.Errorf("code: got %q, want %q", e.Code, tt.wantCode)
			}

			snap := decode[snapshot](t, do(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+id, "u1", nil, nil))
			if snap.State != "prompt_ready" || len(snap.Transcript) != 1 {
				t.Errorf("failed turn changed the session: %+v", snap)
			}
		})
	}
}

func TestUploadRecording_BadFormatQuery(t *testing.T) {
	t.Parallel()
	srv := newServer(t, options{})
	id := open(t, srv, "u1").SessionID
	for _, query := range []string{"channels=6", "rate=1", "rate=384000"} {
		resp := do(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+id+"/recordings?"+query, "u1",
			pcm(100), http.Header{"Content-Type": {"audio/l16"}})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status got %d, want 400", query, resp.StatusCode)
		}
	}
}

func TestRestart(t *testing.T) {
	t.Parallel()
	srv := newServer(t, options{})
	id := open(t, srv, "u1").SessionID
	upload(t, srv, "u1", id)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/sessions/"+id+"/restart", "u1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	snap := decode[snapshot](t, resp)
	if snap.SessionID != id || snap.CurrentLineIndex != 1 || len(snap.Transcript) != 1 {
		t.Errorf("after restart: %+v", snap)
	}
}

// ─── auth ─────────────────────────────────────────────────────────────────────

func token(t *testing.T, method jwt.SigningMethod, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	srv := newServer(t, options{auth: api.AuthConfig{Secret: secret, Issuer: "rehearse"}})
	hour := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"valid", "Bearer " + token(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1", Issuer: "rehearse", ExpiresAt: hour}), http.StatusOK},
		{"wrong issuer", "Bearer " + token(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1", Issuer: "other", ExpiresAt: hour}), http.StatusUnauthorized},
		{"expired", "Bearer " + token(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1", Issuer: "rehearse", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}), http.StatusUnauthorized},
		{"wrong algorithm", "Bearer " + token(t, jwt.SigningMethodHS512, jwt.RegisteredClaims{Subject: "u1", Issuer: "rehearse", ExpiresAt: hour}), http.StatusUnauthorized},
		{"no subject", "Bearer " + token(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Issuer: "rehearse", ExpiresAt: hour}), http.StatusUnauthorized},
		{"not bearer", "Basic dTE6cHc=", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := http.Header{}
			if tt.header != "" {
				h.Set("Authorization", tt.header)
			}
			resp := do(t, http.MethodGet, srv.URL+"/api/v1/scripts/cafe/ana?lang=es-ES", "", nil, h)
			if resp.StatusCode != tt.want {
				t.Errorf("status: got %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestAuthenticate_DisabledNeedsUserHeader(t *testing.T) {
	t.Parallel()
	srv := newServer(t, options{})
	if resp := do(t, http.MethodGet, srv.URL+"/api/v1/scripts/cafe/ana?lang=es-ES", "", nil, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", resp.StatusCode)
	}
}

func TestNew_RequiresSecret(t *testing.T) {
	t.Parallel()
	_, err := api.New(api.Config{Scripts: script.NewMemSource()})
	if err == nil || !strings.Contains(err.Error(), "jwt secret") {
		t.Errorf("got %v", err)
	}
}

func TestLocales(t *testing.T) {
	t.Parallel()
	var got []string
	h := api.Locales(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = score.LocalesFrom(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "de-DE;q=0.8, th")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if strings.Join(got, ",") != "th,de-DE" {
		t.Errorf("locales: %v", got)
	}
}

func TestUserID_Empty(t *testing.T) {
	t.Parallel()
	if id := api.UserID(context.Background()); id != "" {
		t.Errorf("got %q", id)
	}
	if id := api.UserID(api.WithUserID(context.Background(), "u9")); id != "u9" {
		t.Errorf("got %q", id)
	}
}
