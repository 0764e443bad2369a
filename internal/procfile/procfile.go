// Package procfile holds an open directory descriptor for /proc/<pid> and
// exposes pid readback plus per-namespace file openers. Because a kernel
// namespace's lifetime is tied to any open fd referring to it, opening one
// of these namespace files keeps the namespace addressable even after the
// task that created it has exited, which is what makes a later setns safe
// without racing the process table.
package procfile

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"distrod/internal/distroerr"
)

// ProcFile owns exactly one open directory fd on /proc/<pid>.
type ProcFile struct {
	dir *os.File
}

// Current opens /proc/self.
func Current() (*ProcFile, error) {
	return openProcDir("self")
}

// FromPID opens /proc/<pid>. It returns distroerr.ErrNotFound if the pid
// directory does not exist.
func FromPID(pid uint32) (*ProcFile, error) {
	return openProcDir(strconv.FormatUint(uint64(pid), 10))
}

func openProcDir(dir string) (*ProcFile, error) {
	f, err := os.OpenFile("/proc/"+dir, os.O_RDONLY|unix.O_DIRECTORY, 0)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("proc dir /proc/%s: %w", dir, distroerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open /proc/%s: %w", dir, err)
	}
	return &ProcFile{dir: f}, nil
}

// FromFd adopts an already-open directory fd on /proc/<pid>, typically
// received over a unix-domain socket via SCM_RIGHTS.
func FromFd(fd int) *ProcFile {
	return &ProcFile{dir: os.NewFile(uintptr(fd), "procfile")}
}

// Fd returns the raw fd backing this handle, for passing over SCM_RIGHTS.
func (p *ProcFile) Fd() int {
	return int(p.dir.Fd())
}

// Close releases the directory fd, dropping the pin this handle held on the
// process's namespace identities.
func (p *ProcFile) Close() error {
	return p.dir.Close()
}

// PID re-reads field 0 of the stat file relative to the directory fd,
// returning the current pid of the task this handle refers to.
func (p *ProcFile) PID() (uint32, error) {
	statFd, err := unix.Openat(int(p.dir.Fd()), "stat", unix.O_RDONLY, 0)
	if err != nil {
		if err == unix.ENOENT {
			return 0, fmt.Errorf("proc stat file: %w", distroerr.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to openat stat: %w", err)
	}
	stat := os.NewFile(uintptr(statFd), "stat")
	defer stat.Close()

	scanner := bufio.NewScanner(stat)
	scanner.Buffer(make([]byte, 0, 4096), 4096)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return 0, fmt.Errorf("failed to read stat: %w", err)
		}
		return 0, fmt.Errorf("empty stat file")
	}
	fields := strings.SplitN(scanner.Text(), " ", 2)
	pid, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to parse pid from stat: %w", err)
	}
	return uint32(pid), nil
}

// IsLive reports whether the task this handle refers to still exists.
func (p *ProcFile) IsLive() bool {
	_, err := p.PID()
	return err == nil
}

// NamespaceKind names one of the namespace files under /proc/<pid>/ns.
type NamespaceKind string

const (
	NamespaceMnt NamespaceKind = "ns/mnt"
	NamespacePID NamespaceKind = "ns/pid"
	NamespaceUTS NamespaceKind = "ns/uts"
)

// OpenNamespace returns an owned fd for one of the process's namespace
// files, e.g. ns/mnt, ns/pid, ns/uts.
func (p *ProcFile) OpenNamespace(kind NamespaceKind) (*os.File, error) {
	fd, err := unix.Openat(int(p.dir.Fd()), string(kind), unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", kind, err)
	}
	return os.NewFile(uintptr(fd), string(kind)), nil
}
