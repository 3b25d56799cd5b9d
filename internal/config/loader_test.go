package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/rehearse/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "missing essentials",
			yaml: `server: {log_level: info}`,
			want: []string{"auth.jwt_secret", "scripts.dir", "assess.providers"},
		},
		{
			name: "bad enums",
			yaml: `
server: {log_level: loud, log_format: xml}
auth: {disabled: true}
scripts: {dir: s}
store: {driver: mongo}
assess: {providers: [{name: azure}]}
`,
			want: []string{"server.log_level", "server.log_format", "store.driver"},
		},
		{
			name: "dsn required",
			yaml: `
auth: {disabled: true}
scripts: {dir: s}
store: {driver: sqlite}
assess: {providers: [{name: azure}]}
`,
			want: []string{"store.dsn"},
		},
		{
			name: "duplicate and nameless providers",
			yaml: `
auth: {disabled: true}
scripts: {dir: s}
assess: {providers: [{name: azure}, {name: azure}]}
tts: {providers: [{api_key: x}]}
`,
			want: []string{"duplicate", "tts.providers[0].name"},
		},
		{
			name: "audio and weights",
			yaml: `
auth: {disabled: true}
scripts: {dir: s}
assess:
  providers: [{name: azure}]
  weights: {accuracy: -1, fluency: 1}
audio: {sample_rate: 8000, channels: 3}
`,
			want: []string{"assess.weights", "audio.sample_rate", "audio.channels"},
		},
		{
			name: "tls half configured",
			yaml: `
server: {tls: {cert_file: c.pem}}
auth: {disabled: true}
scripts: {dir: s}
assess: {providers: [{name: azure}]}
`,
			want: []string{"server.tls"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error should mention %q, got: %v", w, err)
				}
			}
		})
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Setenv("REHEARSE_JWT_SECRET", "example-secret")
	t.Setenv("AZURE_SPEECH_KEY", "example-key")

	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.JWTSecret != "example-secret" {
		t.Errorf("jwt_secret not expanded: %q", cfg.Auth.JWTSecret)
	}
	if got := cfg.Assess.Providers[0]; got.Name != "azure" || got.APIKey != "example-key" {
		t.Errorf("assess provider: %+v", got)
	}
	if cfg.Store.Driver != config.StoreSQLite {
		t.Errorf("store driver: %q", cfg.Store.Driver)
	}
	if cfg.Audio.Capture.PreRollDelay.Milliseconds() != 500 {
		t.Errorf("pre_roll: %v", cfg.Audio.Capture.PreRollDelay)
	}
}
