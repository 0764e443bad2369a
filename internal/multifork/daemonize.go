package multifork

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Daemonize detaches the current process from its controlling terminal and
// marks every file descriptor in [1, 255] close-on-exec except those in
// keep, so the eventual init process inherits no stray fds.
func Daemonize(keep []int) error {
	if _, err := unix.Setsid(); err != nil {
		return fmt.Errorf("setsid failed: %w", err)
	}
	keepSet := make(map[int]bool, len(keep))
	for _, fd := range keep {
		keepSet[fd] = true
	}
	for fd := 1; fd <= 255; fd++ {
		if keepSet[fd] {
			continue
		}
		// Best effort: most fds in this range aren't open at all.
		_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC)
	}
	return nil
}
