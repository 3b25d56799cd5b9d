package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// is applied live; everything else listed in RestartRequired needs a
// restart to take effect.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the top-level sections that changed.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"auth", old.Auth, new.Auth},
		{"scripts", old.Scripts, new.Scripts},
		{"store", old.Store, new.Store},
		{"assess", old.Assess, new.Assess},
		{"tts", old.TTS, new.TTS},
		{"audio", old.Audio, new.Audio},
		{"storage", old.Storage, new.Storage},
		{"session", old.Session, new.Session},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
