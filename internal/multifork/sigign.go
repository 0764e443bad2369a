package multifork

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// SetNoninheritableSigIgn installs a no-op handler (not SIG_IGN) for every
// catchable signal in the current process. execve resets handlers
// installed this way to default in the exec'd command, but preserves
// SIG_IGN — using a real handler function instead of SIG_IGN is what makes
// this safe to install in a proxy process without also silencing the
// command it is about to run.
func SetNoninheritableSigIgn() {
	all := make([]os.Signal, 0, 64)
	for i := 1; i < 65; i++ {
		sig := unix.Signal(i)
		switch sig {
		case unix.SIGKILL, unix.SIGSTOP:
			continue // not catchable; registering a handler would just error.
		}
		all = append(all, sig)
	}
	signal.Notify(make(chan os.Signal, 1), all...)
	// signal.Notify alone routes delivery through the Go runtime's signal
	// handler (itself a real handler, never SIG_IGN), which is sufficient:
	// the receiving channel is deliberately never drained, so the process
	// observes the signal being "swallowed" exactly as a do-nothing C
	// handler would, while execve still resets disposition to default for
	// whatever command runs next.
}
