package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/rehearse/pkg/audio"
	"github.com/MrWong99/rehearse/pkg/provider/assess"
)

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultReloadInterval  = 10 * time.Second
	DefaultScoringTimeout  = 30 * time.Second
	DefaultRecordingsDir   = "data/recordings"
	DefaultRefAudioDir     = "data/refaudio"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"assess": {"azure", "relay"},
	"tts":    {"google", "elevenlabs"},
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${VAR} references, decodes a YAML config from r,
// applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(ExpandEnv(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} with values from the
// environment. A bare $ is left alone so DSNs and secrets may contain it.
func ExpandEnv(b []byte) []byte {
	return envRef.ReplaceAllFunc(b, func(m []byte) []byte {
		sub := envRef.FindSubmatch(m)
		if v, ok := os.LookupEnv(string(sub[1])); ok && v != "" {
			return []byte(v)
		}
		return sub[2]
	})
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = LogFormatText
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Scripts.ReloadInterval == 0 {
		c.Scripts.ReloadInterval = DefaultReloadInterval
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreMemory
	}
	if c.Assess.Timeout == 0 {
		c.Assess.Timeout = DefaultScoringTimeout
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = audio.DefaultSampleRate
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = 1
	}
	if c.Storage.RecordingsDir == "" {
		c.Storage.RecordingsDir = DefaultRecordingsDir
	}
	if c.Storage.RefAudioDir == "" {
		c.Storage.RefAudioDir = DefaultRefAudioDir
	}
	if c.Session.ScoringTimeout == 0 {
		c.Session.ScoringTimeout = DefaultScoringTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Auth
	if !cfg.Auth.Disabled && cfg.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required unless auth.disabled is true"))
	}
	if cfg.Auth.Disabled {
		slog.Warn("auth is disabled; the X-User-ID header is trusted as the caller's identity")
	}

	// Scripts
	if cfg.Scripts.Dir == "" {
		errs = append(errs, errors.New("scripts.dir is required"))
	}

	// Store
	if !cfg.Store.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: memory, postgres, sqlite", cfg.Store.Driver))
	}
	if (cfg.Store.Driver == StorePostgres || cfg.Store.Driver == StoreSQLite) && cfg.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", cfg.Store.Driver))
	}

	// Assessment
	if len(cfg.Assess.Providers) == 0 {
		errs = append(errs, errors.New("assess.providers needs at least one entry"))
	}
	errs = append(errs, validateProviders("assess", cfg.Assess.Providers)...)
	if w := cfg.Assess.Weights; w != (assess.Weights{}) && !w.Valid() {
		errs = append(errs, fmt.Errorf("assess.weights %+v must be non-negative with a positive sum", w))
	}
	if cfg.Assess.Timeout < 0 {
		errs = append(errs, errors.New("assess.timeout must not be negative"))
	}

	// TTS
	errs = append(errs, validateProviders("tts", cfg.TTS.Providers)...)

	// Audio
	if r := cfg.Audio.SampleRate; r < audio.MinSampleRate || r > audio.MaxSampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [%d, %d]", r, audio.MinSampleRate, audio.MaxSampleRate))
	}
	if c := cfg.Audio.Channels; c != 1 && c != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1, 2", c))
	}

	// Session
	if cfg.Session.ScoringTimeout < 0 {
		errs = append(errs, errors.New("session.scoring_timeout must not be negative"))
	}

	return errors.Join(errs...)
}

func validateProviders(kind string, entries []ProviderEntry) []error {
	var errs []error
	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		prefix := fmt.Sprintf("%s.providers[%d]", kind, i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of %s.providers[%d]", prefix, e.Name, kind, prev))
		}
		seen[e.Name] = i
		validateProviderName(kind, e.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
