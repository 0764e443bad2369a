package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFillsDefaultsForOmittedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "distrod.toml")
	if err := os.WriteFile(path, []byte(`log_level = "debug"`+"\n"), 0o644); err != nil {
		t.Fatalf("failed to write config fixture: %v", err)
	}
	if err := Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got := Get()
	if got.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", got.LogLevel)
	}
	if got.DefaultRootfs != Default.DefaultRootfs {
		t.Errorf("DefaultRootfs = %q, want the default %q", got.DefaultRootfs, Default.DefaultRootfs)
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "distrod.toml")
	cfg := Default
	cfg.LogLevel = "warn"
	if err := Update(path, cfg); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if Get().LogLevel != "warn" {
		t.Errorf("Get().LogLevel = %q, want warn", Get().LogLevel)
	}

	reloaded := Config{}
	if err := Load(path); err != nil {
		t.Fatalf("Load after Update failed: %v", err)
	}
	reloaded = *Get()
	if reloaded.LogLevel != "warn" {
		t.Errorf("reloaded LogLevel = %q, want warn", reloaded.LogLevel)
	}
}

func TestGetNeverReturnsNil(t *testing.T) {
	if Get() == nil {
		t.Fatal("Get() returned nil before any Load/Update")
	}
}
