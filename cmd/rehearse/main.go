// Command rehearse serves the conversation practice API and offers a few
// local tools for working with scripts and recordings.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MrWong99/rehearse/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd().Execute(); err != nil {
		return 1
	}
	return 0
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "rehearse",
		Short:        "Scripted conversation practice with pronunciation scoring",
		Version:      version,
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, practiceCmd(), wavCmd(), scriptsCmd())

	// "serve" is the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}

// commonFlags registers the flags every config-driven command shares.
func commonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("config", "c", "config.yaml", "path to the YAML configuration file")
	f.StringSlice("env-file", []string{".env"}, "dotenv files loaded before the config (missing files are skipped)")
	f.String("log-level", "", "override server.log_level (debug, info, warn, error)")
	f.String("log-format", "", "override server.log_format (text, json)")
}

// viperForCmd binds a command's flags and REHEARSE_* environment variables
// to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())
	v.SetEnvPrefix("REHEARSE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig reads the dotenv files and the YAML config named by the
// command's flags, then applies flag overrides.
func loadConfig(v *viper.Viper) (*config.Config, string, error) {
	if err := config.LoadDotEnv(v.GetStringSlice("env-file")...); err != nil {
		return nil, "", err
	}
	path := v.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, path, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
		}
		return nil, path, err
	}
	if lvl := config.LogLevel(v.GetString("log-level")); lvl != "" {
		if !lvl.IsValid() {
			return nil, path, fmt.Errorf("invalid --log-level %q", lvl)
		}
		cfg.Server.LogLevel = lvl
	}
	if f := config.LogFormat(v.GetString("log-format")); f != "" {
		if !f.IsValid() {
			return nil, path, fmt.Errorf("invalid --log-format %q", f)
		}
		cfg.Server.LogFormat = f
	}
	return cfg, path, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogging installs the default logger. The returned LevelVar can be
// changed later, e.g. on config reload.
func setupLogging(cfg *config.Config) *slog.LevelVar {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(cfg.Server.LogLevel))
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	if cfg.Server.LogFormat == config.LogFormatJSON {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
	return lvl
}
