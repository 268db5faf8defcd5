package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := Default()
	if cfg.ConnWatchPeriodMS != 2000 || cfg.ConnWatchMaxRetries != 30 || cfg.ProfileSwitchDelayMS != 500 {
		t.Fatalf("got %+v, want the btpolicy package defaults", cfg)
	}
}

func TestLoadOverridesOnlySpecifiedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audiosrvd.toml")
	contents := "log_level = \"debug\"\nconn_watch_max_retries = 10\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("got log level %q, want debug", cfg.LogLevel)
	}
	if cfg.ConnWatchMaxRetries != 10 {
		t.Fatalf("got retries %d, want 10", cfg.ConnWatchMaxRetries)
	}
	if cfg.ConnWatchPeriodMS != 2000 {
		t.Fatalf("got period %d, want default 2000 preserved", cfg.ConnWatchPeriodMS)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load("/nonexistent/audiosrvd.toml"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
