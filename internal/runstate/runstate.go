// Package runstate serializes the {rootfs, init_pid} run record that ties
// a container's launch path to its later re-entry (exec) path across
// process boundaries, and provides the advisory lock callers must hold
// around concurrent launch attempts.
package runstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"distrod/internal/distroerr"
	"distrod/internal/paths"
	"distrod/internal/procfile"
)

// DefaultPath is the well-known location of the run record.
const DefaultPath = "/var/run/distrod.json"

// Record is the persisted {rootfs, init_pid} pair.
type Record struct {
	Rootfs  string `json:"rootfs"`
	InitPID uint32 `json:"init_pid"`
}

// Store reads and writes Record at a fixed host path.
type Store struct {
	path string
}

// NewStore returns a Store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns (nil, nil) if the file does not exist. It returns
// distroerr.ErrTampered if the file is not owned by uid=0/gid=0 without
// modifying it. A record whose init_pid does not correspond to a live
// process is stale and is also reported as (nil, nil), per the
// resurrection check.
func (s *Store) Load() (*Record, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", s.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %q: %w", s.path, err)
	}
	if err := checkRootOwned(info); err != nil {
		return nil, err
	}

	var rec Record
	if err := json.NewDecoder(f).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode %q: %w", s.path, err)
	}

	pf, err := procfile.FromPID(rec.InitPID)
	if err != nil {
		if errors.Is(err, distroerr.ErrNotFound) {
			return nil, nil // stale: the recorded init is no longer live.
		}
		return nil, fmt.Errorf("failed to check liveness of pid %d: %w", rec.InitPID, err)
	}
	pf.Close()

	return &rec, nil
}

// Save creates or overwrites the record via create-temp + rename, so a
// concurrent Load always observes either the previous complete record or
// the new complete one, never a partial write.
func (s *Store) Save(rec Record) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".distrod-run-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create a temp file in %q: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if err := json.NewEncoder(tmp).Encode(rec); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode the run record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync the run record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close the run record temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("failed to chmod the run record temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to install the run record at %q: %w", s.path, err)
	}
	return nil
}

// Clear unlinks the record, if present.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func checkRootOwned(info os.FileInfo) error {
	uid, gid, err := fileOwner(info)
	if err != nil {
		return err
	}
	if uid != 0 || gid != 0 {
		return fmt.Errorf("run record is owned by uid=%d gid=%d: %w", uid, gid, distroerr.ErrTampered)
	}
	return nil
}

// ProcHandleFor opens a ProcHandle on rec's init pid.
func (rec Record) ProcHandleFor() (procfileHandle, error) {
	return procfile.FromPID(rec.InitPID)
}

type procfileHandle = *procfile.ProcFile

// LaunchLock is an external advisory lock serializing concurrent launch
// attempts for the same rootfs. RunStateStore's integrity property alone
// only protects readers; writers still need this for mutual exclusion.
type LaunchLock struct {
	flock *flock.Flock
}

// NewLaunchLock returns a LaunchLock backed by a lock file at path.
func NewLaunchLock(path string) *LaunchLock {
	return &LaunchLock{flock: flock.New(path)}
}

// TryLock attempts to acquire the lock without blocking, returning false if
// another launch already holds it.
func (l *LaunchLock) TryLock() (bool, error) {
	ok, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire the launch lock: %w", err)
	}
	return ok, nil
}

// Unlock releases the lock.
func (l *LaunchLock) Unlock() error {
	return l.flock.Unlock()
}

// RootfsHostPath returns rec's rootfs as a HostPath.
func (rec Record) RootfsHostPath() paths.HostPath {
	return paths.NewHostPath(rec.Rootfs)
}
