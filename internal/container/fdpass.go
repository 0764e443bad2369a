package container

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// socketpair creates a connected pair of AF_UNIX/SOCK_STREAM descriptors for
// passing a single fd from a re-exec'd child back to its host caller.
func socketpair() (host, child *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, err
	}
	return os.NewFile(uintptr(fds[0]), "distrod-fd-channel-host"),
		os.NewFile(uintptr(fds[1]), "distrod-fd-channel-child"), nil
}

// sendFd sends a single fd as ancillary data over conn, along with one byte
// of regular payload (some platforms drop SCM_RIGHTS attached to a
// zero-length message).
func sendFd(conn *os.File, fd int) error {
	rights := unix.UnixRights(fd)
	return unix.Sendmsg(int(conn.Fd()), []byte{0}, rights, nil, 0)
}

// recvFd receives a single fd sent by sendFd.
func recvFd(conn *os.File) (int, error) {
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))
	_, oobn, _, _, err := unix.Recvmsg(int(conn.Fd()), buf, oob, 0)
	if err != nil {
		return 0, err
	}
	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return 0, fmt.Errorf("failed to parse the control message: %w", err)
	}
	if len(cmsgs) == 0 {
		return 0, fmt.Errorf("no control message received")
	}
	fds, err := unix.ParseUnixRights(&cmsgs[0])
	if err != nil {
		return 0, fmt.Errorf("failed to parse unix rights: %w", err)
	}
	if len(fds) == 0 {
		return 0, fmt.Errorf("no fd received")
	}
	return fds[0], nil
}
