package app

import (
	"context"
	"log/slog"

	"github.com/MrWong99/rehearse/internal/config"
	"github.com/MrWong99/rehearse/internal/observe"
	"github.com/MrWong99/rehearse/pkg/provider/assess"
	"github.com/MrWong99/rehearse/pkg/provider/assess/azure"
	"github.com/MrWong99/rehearse/pkg/provider/assess/relay"
	"github.com/MrWong99/rehearse/pkg/provider/tts"
	"github.com/MrWong99/rehearse/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/rehearse/pkg/provider/tts/google"
)

// RegisterBuiltinProviders wires every provider that ships with rehearse
// into reg. The names match [config.ValidProviderNames].
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── Assessment ────────────────────────────────────────────────────────────

	reg.RegisterAssess("azure", func(_ context.Context, entry config.ProviderEntry, cfg config.AssessConfig) (assess.Provider, error) {
		opts := []azure.Option{azure.WithTimeout(cfg.Timeout)}
		if entry.Region != "" {
			opts = append(opts, azure.WithRegion(entry.Region))
		}
		if entry.BaseURL != "" {
			opts = append(opts, azure.WithEndpoint(entry.BaseURL))
		}
		if cfg.Weights != (assess.Weights{}) {
			opts = append(opts, azure.WithWeights(cfg.Weights))
		}
		return azure.New(entry.APIKey, opts...)
	})

	reg.RegisterAssess("relay", func(_ context.Context, entry config.ProviderEntry, cfg config.AssessConfig) (assess.Provider, error) {
		opts := []relay.Option{relay.WithTimeout(cfg.Timeout)}
		if entry.APIKey != "" {
			opts = append(opts, relay.WithBearerToken(entry.APIKey))
		}
		if cfg.Weights != (assess.Weights{}) {
			opts = append(opts, relay.WithWeights(cfg.Weights))
		}
		return relay.New(entry.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("google", func(ctx context.Context, entry config.ProviderEntry) (tts.Provider, error) {
		var opts []google.Option
		if path := entry.OptionString("credentials_file"); path != "" {
			opts = append(opts, google.WithCredentialsFile(path))
		}
		if rate := entry.OptionFloat("speaking_rate"); rate > 0 {
			opts = append(opts, google.WithSpeakingRate(rate))
		}
		return google.New(ctx, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(_ context.Context, entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if m := entry.OptionString("model"); m != "" {
			opts = append(opts, elevenlabs.WithModel(m))
		}
		if f, m := entry.OptionString("female_voice"), entry.OptionString("male_voice"); f != "" || m != "" {
			opts = append(opts, elevenlabs.WithVoices(f, m))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// instrumentAssess counts requests and errors per assessment backend.
func instrumentAssess(name string, p assess.Provider, m *observe.Metrics) assess.Provider {
	return assessFunc(func(ctx context.Context, req assess.Request) (*assess.Result, error) {
		res, err := p.Assess(ctx, req)
		if err != nil {
			m.RecordProviderRequest(ctx, name, "assess", "error")
			m.RecordProviderError(ctx, name, "assess")
			return nil, err
		}
		m.RecordProviderRequest(ctx, name, "assess", "ok")
		return res, nil
	})
}

type assessFunc func(ctx context.Context, req assess.Request) (*assess.Result, error)

func (f assessFunc) Assess(ctx context.Context, req assess.Request) (*assess.Result, error) {
	return f(ctx, req)
}
