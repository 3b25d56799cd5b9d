// Package config provides the configuration schema, loader, and provider
// registry for the rehearse server.
package config

import (
	"time"

	"github.com/MrWong99/rehearse/pkg/audio/capture"
	"github.com/MrWong99/rehearse/pkg/provider/assess"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// StoreDriver selects the session store backend.
type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StorePostgres StoreDriver = "postgres"
	StoreSQLite   StoreDriver = "sqlite"
)

// IsValid reports whether d is a recognised store driver.
func (d StoreDriver) IsValid() bool {
	switch d {
	case StoreMemory, StorePostgres, StoreSQLite:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Scripts ScriptsConfig `yaml:"scripts"`
	Store   StoreConfig   `yaml:"store"`
	Assess  AssessConfig  `yaml:"assess"`
	TTS     TTSConfig     `yaml:"tts"`
	Audio   AudioConfig   `yaml:"audio"`
	Storage StorageConfig `yaml:"storage"`
	Session SessionConfig `yaml:"session"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is applied again on hot reload.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON log lines. Default text.
	LogFormat LogFormat `yaml:"log_format"`

	// ShutdownTimeout bounds graceful shutdown. Default 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists extra host patterns (e.g. "app.example.com",
	// "*.example.com") allowed to open the capture WebSocket. The request's
	// own host is always allowed.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthConfig controls how API callers are identified.
type AuthConfig struct {
	// Disabled trusts the X-User-ID header instead of a bearer token. For
	// local development only.
	Disabled bool `yaml:"disabled"`

	// JWTSecret verifies HS256 bearer tokens. The user ID is the "sub" claim.
	JWTSecret string `yaml:"jwt_secret"`

	// Issuer, if set, must match the token's "iss" claim.
	Issuer string `yaml:"issuer"`

	// Audience, if set, must be one of the token's "aud" values.
	Audience string `yaml:"audience"`
}

// ScriptsConfig locates the conversation scripts.
type ScriptsConfig struct {
	// Dir holds one YAML or JSON document per script.
	Dir string `yaml:"dir"`

	// ReloadInterval is how often Dir is polled for changes. Zero selects
	// the default of 10s; a negative value disables reloading.
	ReloadInterval time.Duration `yaml:"reload_interval"`

	// ThaiWords is an optional word list added to the built-in Thai
	// segmentation dictionary.
	ThaiWords string `yaml:"thai_words"`
}

// StoreConfig selects where sessions are persisted.
type StoreConfig struct {
	Driver StoreDriver `yaml:"driver"`

	// DSN is the PostgreSQL connection string or the SQLite file path.
	DSN string `yaml:"dsn"`
}

// ProviderEntry is the configuration block shared by all provider types.
// Name selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation.
	Name string `yaml:"name"`

	// APIKey authenticates against the provider, if it needs one.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Region is the cloud region, for providers that are regional.
	Region string `yaml:"region"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// BreakerConfig tunes the circuit breaker placed in front of each provider.
type BreakerConfig struct {
	MaxFailures int           `yaml:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown"`
	Probes      int           `yaml:"probes"`
}

// AssessConfig configures pronunciation assessment.
type AssessConfig struct {
	// Providers are tried in order; the first is the primary.
	Providers []ProviderEntry `yaml:"providers"`

	// Weights blend the accuracy, fluency and completeness axes into the
	// overall score. Zero selects equal weights.
	Weights assess.Weights `yaml:"weights"`

	// Timeout bounds a single assessment request. Default 30s.
	Timeout time.Duration `yaml:"timeout"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// TTSConfig configures reference audio synthesis. With no providers, lines
// without reference audio simply have none.
type TTSConfig struct {
	Providers []ProviderEntry `yaml:"providers"`

	// Voices maps a BCP-47 tag to a provider voice name.
	Voices map[string]string `yaml:"voices"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// AudioConfig controls capture timing and the encoded WAV format.
type AudioConfig struct {
	// SampleRate of the encoded WAV. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels of the encoded WAV. Default 1.
	Channels int `yaml:"channels"`

	// Padding is the silence added to each end. Zero selects the default;
	// a negative value disables padding.
	Padding time.Duration `yaml:"padding"`

	Capture capture.Config `yaml:"capture"`
}

// StorageConfig locates the audio blob directories.
type StorageConfig struct {
	RecordingsDir string `yaml:"recordings_dir"`
	RefAudioDir   string `yaml:"refaudio_dir"`
}

// SessionConfig tunes session engines.
type SessionConfig struct {
	// ScoringTimeout bounds one turn's assessment, including failover.
	// Default 30s.
	ScoringTimeout time.Duration `yaml:"scoring_timeout"`
}
