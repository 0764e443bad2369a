// Package config holds the process-wide configuration snapshot: the
// default rootfs path, default init argv, log level, and run-state file
// path the CLI's start/exec flags can override. Readers see an immutable
// snapshot; Update only ever swaps it in after a successful write.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/BurntSushi/toml"

	"distrod/internal/runstate"
)

// Config is the on-disk, TOML-encoded configuration.
type Config struct {
	DefaultRootfs string   `toml:"default_rootfs"`
	DefaultInit   []string `toml:"default_init"`
	LogLevel      string   `toml:"log_level"`
	RunStatePath  string   `toml:"run_state_path"`
}

// Default is returned by Get before any file has been loaded, and fills in
// any field a loaded file leaves zero.
var Default = Config{
	DefaultRootfs: "/",
	DefaultInit:   []string{"/sbin/init", "--unit=multi-user.target"},
	LogLevel:      "info",
	RunStatePath:  runstate.DefaultPath,
}

var (
	current  atomic.Pointer[Config]
	writeMux sync.Mutex
)

func init() {
	cfg := Default
	current.Store(&cfg)
}

// Get returns the current immutable snapshot. Concurrent callers always
// see a fully-formed Config, never one mid-update.
func Get() *Config {
	return current.Load()
}

// Load reads path as TOML, filling any fields it omits from Default, and
// installs it as the current snapshot without needing to go through
// Update's backing-file write.
func Load(path string) error {
	cfg := Default
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return fmt.Errorf("failed to decode config file %q: %w", path, err)
	}
	current.Store(&cfg)
	return nil
}

// Update encodes cfg to path under a mutex excluding concurrent writers,
// and only swaps the in-memory snapshot in after the write lands, so a
// reader never observes a config that doesn't match what's on disk.
func Update(path string, cfg Config) error {
	writeMux.Lock()
	defer writeMux.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".distrod-config-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("failed to create a temp file for the config update: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode the updated config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync the updated config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close the updated config temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to install the updated config at %q: %w", path, err)
	}

	c := cfg
	current.Store(&c)
	return nil
}
