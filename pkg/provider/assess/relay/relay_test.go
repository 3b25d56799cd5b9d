package relay_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/rehearse/pkg/provider/assess"
	"github.com/MrWong99/rehearse/pkg/provider/assess/relay"
)

func TestNew_EmptyURL(t *testing.T) {
	t.Parallel()
	if _, err := relay.New(""); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestAssess_MultipartFields(t *testing.T) {
	t.Parallel()

	type seen struct {
		audio, text, lang, auth string
	}
	got := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("audio")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		audio, _ := io.ReadAll(f)
		got <- seen{string(audio), r.FormValue("text"), r.FormValue("languageCode"), r.Header.Get("Authorization")}
		_, _ = io.WriteString(w, `{"NBest":[{"AccuracyScore":100,"FluencyScore":100,"CompletenessScore":100,"Words":[{"Word":"sawatdee","AccuracyScore":100,"ErrorType":"None"}]}],"finalScore":99}`)
	}))
	t.Cleanup(srv.Close)

	p, err := relay.New(srv.URL, relay.WithBearerToken("tok"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Assess(context.Background(), assess.Request{Audio: []byte("wav"), ReferenceText: "สวัสดี", LanguageCode: "th-TH"})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if res.OverallScore != 99 {
		t.Errorf("OverallScore: got %d, want 99", res.OverallScore)
	}
	s := <-got
	if s.audio != "wav" || s.text != "สวัสดี" || s.lang != "th-TH" || s.auth != "Bearer tok" {
		t.Errorf("request: got %+v", s)
	}
}

func TestAssess_Unavailable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	srv.Close() // connection refused

	p, err := relay.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Assess(context.Background(), assess.Request{Audio: []byte{1}, ReferenceText: "x", LanguageCode: "en"})
	if !errors.Is(err, assess.ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}
}
