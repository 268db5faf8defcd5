// Package config loads the server's operational tunables from a TOML file
// (spec.md §1 lists "configuration file parsing" as out of scope for the
// policy core itself, but the ambient server process still needs a config
// layer; it deliberately does not implement the INI blacklist format the
// original server also supported). Grounded on the pack's
// smazurov-videonode/internal/config package: pelletier/go-toml/v2 for
// parsing and fsnotify for live reload (watcher.go).
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the knobs an operator may tune without a rebuild.
type Config struct {
	ConnWatchPeriodMS     int `toml:"conn_watch_period_ms"`
	ConnWatchMaxRetries   int `toml:"conn_watch_max_retries"`
	ProfileSwitchDelayMS  int `toml:"profile_switch_delay_ms"`
	LogLevel              string `toml:"log_level"`
	MetricsListenAddr     string `toml:"metrics_listen_addr"`
	BufferSizeFrames      int `toml:"buffer_size_frames"`
}

// Default returns a Config with the server's built-in defaults, matching
// the named constants in internal/btpolicy.
func Default() Config {
	return Config{
		ConnWatchPeriodMS:    2000,
		ConnWatchMaxRetries:  30,
		ProfileSwitchDelayMS: 500,
		LogLevel:             "info",
		MetricsListenAddr:    ":9150",
		BufferSizeFrames:     512,
	}
}

// Load reads and parses a TOML config file at path, starting from
// Default() so that fields absent from the file keep their built-in
// value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
