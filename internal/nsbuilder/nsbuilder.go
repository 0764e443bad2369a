// Package nsbuilder enters new mount/pid/uts namespaces, pivots the root
// filesystem, bind-mounts WSL-provided resources and 9p drives, and
// overlays /proc/cmdline with systemd.setenv directives collected from the
// WSL interop environment. It runs inside the final child of the launch
// path, between the daemonize/unshare stage and the eventual execve of
// init.
package nsbuilder

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"distrod/internal/mountinfo"
	"distrod/internal/paths"
	"distrod/internal/wslenv"
)

// wslBinds is the fixed union list of WSL interop resources bound into a
// pivoted container, in order. A missing source is logged and skipped
// rather than failing the launch.
var wslBinds = []struct {
	path   string
	isFile bool
}{
	{"/init", true},
	{"/sys", false},
	{"/dev", false},
	{"/mnt/wsl", false},
	{"/run/WSL", false},
	{"/etc/wsl.conf", true},
	{"/etc/resolv.conf", true},
	{"/proc/sys/fs/binfmt_misc", false},
}

// kernelCmdlinePath is where the container-specific cmdline overlay is
// written before being bind-mounted over /proc/cmdline.
const kernelCmdlinePath = "/run/distrod-cmdline"

// EnterNewNamespace unshares new mount, pid, and uts namespaces. It must
// run before any filesystem work: CLONE_NEWNS first so subsequent mount
// changes are isolated from the host, making the later bind of /proc valid.
func EnterNewNamespace() error {
	if err := unix.Unshare(unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWUTS); err != nil {
		return fmt.Errorf("unshare(NEWNS|NEWPID|NEWUTS) failed: %w", err)
	}
	return nil
}

// Logger is the subset of logrus used for best-effort warnings. It starts
// out as logrus's standard logger; a nil Logger is not replaced by it.
var Logger logrus.FieldLogger = logrus.StandardLogger()

// PrepareFilesystem runs the mode-appropriate filesystem setup: host-base
// root if newRoot is "/", pivoted root otherwise.
func PrepareFilesystem(newRoot paths.HostPath, oldRoot paths.ContainerPath) error {
	if newRoot == "/" {
		if err := prepareHostBaseRoot(oldRoot); err != nil {
			return err
		}
	} else {
		if err := prepareMinimumRoot(newRoot, oldRoot); err != nil {
			return err
		}
		entries, err := mountinfo.Entries()
		if err != nil {
			return fmt.Errorf("failed to retrieve mount entries: %w", err)
		}
		if err := mountWslMountpoints(oldRoot, entries); err != nil {
			return err
		}
		if err := mountKernelCmdline(); err != nil {
			return fmt.Errorf("failed to overwrite the kernel commandline: %w", err)
		}
		umountHostMountpoints(oldRoot, entries)
		return nil
	}
	return mountKernelCmdline()
}

func prepareHostBaseRoot(oldRoot paths.ContainerPath) error {
	savedOldProc := oldRoot.ToHostPath("/").String() + "/proc"
	if err := createMountpointUnlessExist(savedOldProc, false); err != nil {
		return err
	}
	if err := unix.Mount("/proc", savedOldProc, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("failed to mount the old proc on %q: %w", savedOldProc, err)
	}
	return mountNoSourceFS("/proc", "proc")
}

func prepareMinimumRoot(newRoot paths.HostPath, oldRoot paths.ContainerPath) error {
	oldRootAsHostPath := oldRoot.ToHostPath(newRoot)
	if _, err := os.Stat(oldRootAsHostPath.String()); os.IsNotExist(err) {
		if err := os.MkdirAll(oldRootAsHostPath.String(), 0o755); err != nil {
			return fmt.Errorf("failed to create a mount point for the old root %q: %w", oldRootAsHostPath, err)
		}
	}
	if err := unix.Mount(newRoot.String(), newRoot.String(), "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("failed to bind-mount the new root onto itself: %w", err)
	}
	if err := unix.PivotRoot(newRoot.String(), oldRootAsHostPath.String()); err != nil {
		return fmt.Errorf("pivot_root(%q, %q) failed: %w", newRoot, oldRootAsHostPath, err)
	}
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("failed to chdir('/') after pivot_root: %w", err)
	}
	minimumMounts := []struct{ path, fstype string }{
		{"/proc", "proc"},
		{"/tmp", "tmpfs"},
		{"/run", "tmpfs"},
		{"/run/shm", "tmpfs"},
	}
	for _, m := range minimumMounts {
		if err := mountNoSourceFS(m.path, m.fstype); err != nil {
			return err
		}
	}
	return nil
}

func mountNoSourceFS(path, fstype string) error {
	if err := createMountpointUnlessExist(path, false); err != nil {
		return err
	}
	if err := unix.Mount("", path, fstype, 0, ""); err != nil {
		return fmt.Errorf("mount %q (%s) failed: %w", path, fstype, err)
	}
	return nil
}

func mountWslMountpoints(oldRoot paths.ContainerPath, entries []mountinfo.Entry) error {
	oldRootHost := oldRoot.ToHostPath("/")
	for _, bind := range wslBinds {
		source := oldRootHost.String() + bind.path
		if _, err := os.Lstat(source); os.IsNotExist(err) {
			Logger.Warnf("WSL path %q does not exist, skipping bind mount", source)
			continue
		}
		target := bind.path
		if err := createMountpointUnlessExist(target, bind.isFile); err != nil {
			return err
		}
		hostSource := paths.HostPath(source)
		spec := paths.MountSpec{Source: &hostSource, Target: paths.NewContainerPath(target), Data: "bind"}
		Logger.WithField("mount", spec.ToOCIMount()).Debug("bind-mounting a WSL resource")
		if err := unix.Mount(source, target, "", unix.MS_BIND, ""); err != nil {
			return fmt.Errorf("failed to bind-mount the WSL resource %q -> %q: %w", source, target, err)
		}
	}

	// Mount 9p drives, i.e. the Windows drives exported into WSL.
	initSource := oldRootHost.String() + "/init"
	for _, e := range entries {
		if !strings.HasPrefix(e.Path, oldRootHost.String()) {
			continue
		}
		if e.FSType != "9p" {
			continue
		}
		if e.Path == initSource {
			continue // already bound above.
		}
		pathInsideContainer := strings.TrimPrefix(e.Path, oldRootHost.String())
		if pathInsideContainer == "" {
			pathInsideContainer = "/"
		}
		if _, err := os.Stat(pathInsideContainer); os.IsNotExist(err) {
			if err := os.MkdirAll(pathInsideContainer, 0o755); err != nil {
				return fmt.Errorf("failed to create a mount point for %q: %w", pathInsideContainer, err)
			}
		}
		if err := unix.Mount(e.Path, pathInsideContainer, "", unix.MS_BIND, ""); err != nil {
			return fmt.Errorf("failed to bind-mount the Windows drive %q -> %q: %w", e.Path, pathInsideContainer, err)
		}
	}
	return nil
}

// createMountpointUnlessExist implements the mount target preparation
// rule: if the target exists as a symlink and the bind target is a file,
// the symlink is removed first; then, if the target still does not exist,
// it is created as an empty file or directory to match isFile.
func createMountpointUnlessExist(target string, isFile bool) error {
	info, err := os.Lstat(target)
	exists := err == nil
	if exists && info.Mode()&os.ModeSymlink != 0 && isFile {
		if err := os.Remove(target); err != nil {
			return fmt.Errorf("failed to remove the existing symlink at %q before mounting: %w", target, err)
		}
	}
	if _, err := os.Stat(target); os.IsNotExist(err) {
		if isFile {
			f, ferr := os.Create(target)
			if ferr != nil {
				return fmt.Errorf("failed to create a mount point file at %q: %w", target, ferr)
			}
			f.Close()
		} else {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create a mount point directory at %q: %w", target, err)
			}
		}
	}
	return nil
}

// mountKernelCmdline overwrites /proc/cmdline for the container with one
// carrying systemd.setenv= directives for the collected WSL environment.
// Bind-mounting over /proc/cmdline is the only injection point that works
// before any systemd unit file executes.
func mountKernelCmdline() error {
	if err := os.Remove(kernelCmdlinePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove a stale %q: %w", kernelCmdlinePath, err)
	}
	f, err := os.Create(kernelCmdlinePath)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", kernelCmdlinePath, err)
	}
	defer f.Close()
	if err := os.Chown(kernelCmdlinePath, 0, 0); err != nil {
		return fmt.Errorf("failed to chown %q: %w", kernelCmdlinePath, err)
	}

	cmdline, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return fmt.Errorf("failed to read /proc/cmdline: %w", err)
	}
	content := strings.TrimSuffix(string(cmdline), "\n")

	envs, err := wslenv.Collect()
	if err != nil {
		return fmt.Errorf("failed to collect WSL envs: %w", err)
	}
	for _, setenv := range wslenv.ToSystemdSetenvArgs(envs) {
		content += " " + setenv
	}
	content += "\n"

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write the new cmdline: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync the new cmdline: %w", err)
	}

	if err := unix.Mount(kernelCmdlinePath, "/proc/cmdline", "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("failed to bind-mount the cmdline overlay: %w", err)
	}
	return nil
}

// umountHostMountpoints unmounts everything remaining under oldRoot, in
// reverse path-length order so nested mounts are torn down before their
// parents. Individual failures are logged and do not abort the sequence.
func umountHostMountpoints(oldRoot paths.ContainerPath, entries []mountinfo.Entry) {
	oldRootHost := oldRoot.ToHostPath("/").String()
	var toUnmount []string
	for _, e := range entries {
		if e.Path == oldRootHost || !strings.HasPrefix(e.Path, oldRootHost) {
			continue
		}
		toUnmount = append(toUnmount, e.Path)
	}
	sort.Slice(toUnmount, func(i, j int) bool { return len(toUnmount[i]) > len(toUnmount[j]) })
	for _, path := range toUnmount {
		if err := unix.Unmount(path, unix.MNT_DETACH); err != nil {
			Logger.Warnf("failed to unmount %q: %v", path, err)
		}
	}
}
