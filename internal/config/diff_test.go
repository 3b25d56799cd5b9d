package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/rehearse/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Auth:    config.AuthConfig{Disabled: true},
		Scripts: config.ScriptsConfig{Dir: "scripts"},
		Assess:  config.AssessConfig{Providers: []config.ProviderEntry{{Name: "azure", Options: map[string]any{"a": 1}}}},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestDiff_NoChange(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.LogLevelChanged || len(d.RestartRequired) != 0 {
		t.Errorf("diff: %+v", d)
	}
}

func TestDiff_LogLevelIsLive(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug
	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level: %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone should not need a restart: %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.ListenAddr = ":1"
	new.Assess.Providers[0].Options["a"] = 2
	new.Session.ScoringTimeout = time.Second
	d := config.Diff(old, new)
	want := []string{"server", "assess", "session"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
}
