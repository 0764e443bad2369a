// Package distro drives a single Linux distribution through its
// Absent/Installed/Running/Stopping lifecycle: launching a rootfs into a
// container, running commands inside it, and stopping it, backed by a
// persisted run record so a separate CLI invocation can reattach to an
// already-running distro.
package distro

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"distrod/internal/container"
	"distrod/internal/credential"
	"distrod/internal/distroerr"
	"distrod/internal/mountinfo"
	"distrod/internal/multifork"
	"distrod/internal/paths"
	"distrod/internal/runstate"
)

// OldRootPath is where the host's original root filesystem is parked
// inside a launched container.
const OldRootPath = "/mnt/distrod_root"

// State is one of a distro's lifecycle states.
type State int

const (
	Absent State = iota
	Installed
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Absent:
		return "Absent"
	case Installed:
		return "Installed"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// Distro is a rootfs paired with its container, if launched.
type Distro struct {
	Rootfs    paths.HostPath
	container *container.Container
}

// GetRunning loads the persisted run record and returns the already-running
// Distro it describes, or nil if none is running (absent or stale record).
func GetRunning() (*Distro, error) {
	store := runstate.NewStore(runstate.DefaultPath)
	rec, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load the run record: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	c, err := container.FromPID(rec.InitPID)
	if err != nil {
		if errors.Is(err, distroerr.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to attach to the running distro's init process: %w", err)
	}
	return &Distro{Rootfs: rec.RootfsHostPath(), container: c}, nil
}

// CurrentState reports the observable lifecycle state of the distro at
// rootfs. It never returns Stopping: that state is only meaningful while a
// Stop call is in flight, not as a polled snapshot.
func CurrentState(rootfs paths.HostPath) (State, error) {
	running, err := GetRunning()
	if err != nil {
		return Absent, err
	}
	if running != nil {
		if running.Rootfs == rootfs {
			return Running, nil
		}
		return installedState(rootfs), nil
	}
	return installedState(rootfs), nil
}

func installedState(rootfs paths.HostPath) State {
	if info, err := os.Stat(rootfs.String()); err == nil && info.IsDir() {
		return Installed
	}
	return Absent
}

// IsInsideRunningDistro reports whether the calling process is itself
// running inside an already-pivoted container, by checking whether any
// live mount is parked under OldRootPath. It is used to refuse a nested
// launch. A failure to read mount info is treated conservatively as "yes".
func IsInsideRunningDistro() bool {
	entries, err := mountinfo.Entries()
	if err != nil {
		return true
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Path, OldRootPath) {
			return true
		}
	}
	return false
}

// Launch brings rootfs from Installed to Running. It refuses to run nested
// inside an already-running distro, and refuses if a distro is already
// running (the caller observed stale state otherwise).
func Launch(rootfs paths.HostPath, initArgv []string) (*Distro, error) {
	if IsInsideRunningDistro() {
		return nil, fmt.Errorf("already running inside a launched distro")
	}
	store := runstate.NewStore(runstate.DefaultPath)
	existing, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to check for an existing run record: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("a distro is already running (init pid %d): %w", existing.InitPID, distroerr.ErrAlreadyRunning)
	}

	c, err := container.Launch(initArgv, rootfs, paths.ContainerPath(OldRootPath))
	if err != nil {
		return nil, fmt.Errorf("failed to launch the container: %w", err)
	}
	if err := store.Save(runstate.Record{Rootfs: rootfs.String(), InitPID: c.InitPID}); err != nil {
		return nil, fmt.Errorf("failed to persist the run record: %w", err)
	}
	return &Distro{Rootfs: rootfs, container: c}, nil
}

// ExecOptions customizes how a command runs inside the distro.
type ExecOptions struct {
	WorkingDirectory string
	Arg0             string
	Cred             *credential.Credential
}

// ExecCommand runs argv inside the distro's namespaces and returns a
// Waiter delivering its exit code.
func (d *Distro) ExecCommand(argv []string, opts ExecOptions) (*multifork.Waiter, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("no command given")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	if opts.Arg0 != "" {
		cmd.Args[0] = opts.Arg0
	}
	cmd.Dir = opts.WorkingDirectory
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	return d.container.ExecCommand(cmd, opts.Cred)
}

// Stop signals the distro's init process to shut down, sigkill forcibly if
// set. It does not clear the persisted run record: init may still be
// tearing down for some time afterward (systemd's shutdown target), and
// Store.Load's liveness check already retires the record lazily once init
// actually exits, the same way the run record outlives a stop call.
func (d *Distro) Stop(sigkill bool) error {
	return d.container.Stop(sigkill)
}
