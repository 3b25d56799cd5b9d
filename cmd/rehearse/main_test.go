package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/rehearse/internal/config"
	"github.com/MrWong99/rehearse/pkg/audio"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestWavValidate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	good := filepath.Join(dir, "good.wav")
	bad := filepath.Join(dir, "bad.wav")
	if err := os.WriteFile(good, audio.EncodeWAV(make([]byte, 3200), 16000, 1), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("not a wave file"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "wav", "validate", good)
	if err != nil {
		t.Fatalf("valid file: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ok (16000 Hz, 1 ch, 16-bit, 3200 bytes)") {
		t.Errorf("output: %q", out)
	}

	out, err = execute(t, "wav", "validate", good, bad)
	if err == nil {
		t.Fatal("expected an error for the invalid file")
	}
	if !strings.Contains(out, "bad.wav: invalid") {
		t.Errorf("output: %q", out)
	}
}

func TestScriptsCheck(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	good := filepath.Join(dir, "cafe.yaml")
	odd := filepath.Join(dir, "odd.yaml")
	if err := os.WriteFile(good, []byte(`id: cafe-es
languageCode: es-ES
scenarioId: cafe
characterId: ana
lines:
  - speaker: character
    targetText: "¡Hola! ¿Qué desea?"
    translation: "Hi! What would you like?"
  - speaker: user
    targetText: "Un café, por favor."
    translation: "A coffee, please."
`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(odd, []byte(`id: odd
languageCode: es-ES
scenarioId: odd
characterId: ana
lines:
  - speaker: user
    targetText: "Hola"
    translation: "Hello"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "scripts", "check", good)
	if err != nil {
		t.Fatalf("valid script: %v\n%s", err, out)
	}
	if !strings.Contains(out, "cafe/ana es-ES, 2 lines") {
		t.Errorf("output: %q", out)
	}

	if _, err := execute(t, "scripts", "check", good, odd); err == nil {
		t.Error("expected an error for a script with an odd number of lines")
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{"debug": "DEBUG", "warn": "WARN", "error": "ERROR", "": "INFO"} {
		if got := slogLevel(config.LogLevel(in)).String(); got != want {
			t.Errorf("slogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
