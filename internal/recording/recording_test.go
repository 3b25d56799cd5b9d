package recording_test

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/rehearse/internal/blob"
	"github.com/MrWong99/rehearse/internal/recording"
)

func TestSaveAndServe(t *testing.T) {
	t.Parallel()
	dir, err := blob.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := recording.New(dir, "/recordings")

	url, err := s.Save(context.Background(), "sess", 3, []byte("RIFFdata"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(url, "/recordings/sess-003-") || !strings.HasSuffix(url, ".wav") {
		t.Errorf("url: %q", url)
	}

	again, _ := s.Save(context.Background(), "sess", 3, []byte("RIFFdata"))
	if again == url {
		t.Error("second save reused the URL")
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", url, nil))
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != 200 || string(body) != "RIFFdata" {
		t.Errorf("GET %s: %d %q", url, rec.Code, body)
	}
}

func TestSave_BadSessionID(t *testing.T) {
	t.Parallel()
	dir, _ := blob.Open(t.TempDir())
	if _, err := recording.New(dir, "/recordings").Save(context.Background(), "../x", 0, nil); err == nil {
		t.Error("expected error for unsafe session id")
	}
}
