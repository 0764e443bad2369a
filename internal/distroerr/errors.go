// Package distroerr defines the sentinel errors callers match against with
// errors.Is instead of matching on error strings.
package distroerr

import "errors"

var (
	// ErrNotRunning means no container is currently running for the distro.
	ErrNotRunning = errors.New("no distro is currently running")

	// ErrAlreadyRunning means launch was called while a container is already up.
	ErrAlreadyRunning = errors.New("there is already a running distro")

	// ErrNotFound means a /proc/<pid> entry (or a passwd entry) does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTampered means the run-state record is not owned by uid=0/gid=0.
	ErrTampered = errors.New("the run state file is owned by a non-root user or group")

	// ErrStale means a run-state record points at a pid that is no longer live.
	ErrStale = errors.New("the run state file refers to a process that no longer exists")
)
