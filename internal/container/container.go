// Package container builds on multifork and nsbuilder to launch a new
// init process into fresh namespaces, attach to an already-running one,
// run commands inside it, and stop it.
package container

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"distrod/internal/credential"
	"distrod/internal/multifork"
	"distrod/internal/nsbuilder"
	"distrod/internal/paths"
	"distrod/internal/procfile"
)

const (
	stageDaemon = "container-daemon"
	stageInit   = "container-init"
	stageExec   = "container-exec"
)

// launchParams is threaded from Launch into the daemon/init stages through
// environment variables, since a re-exec'd process starts with nothing but
// its argv and env.
type launchParams struct {
	rootfs   string
	oldRoot  string
	initArgv []string
	launchID string
}

const (
	envRootfs   = "DISTROD_LAUNCH_ROOTFS"
	envOldRoot  = "DISTROD_LAUNCH_OLDROOT"
	envInit     = "DISTROD_LAUNCH_INIT"
	envLaunchID = "DISTROD_LAUNCH_ID"
)

func (p launchParams) toEnv() []string {
	return []string{
		envRootfs + "=" + p.rootfs,
		envOldRoot + "=" + p.oldRoot,
		envInit + "=" + joinArgv(p.initArgv),
		envLaunchID + "=" + p.launchID,
	}
}

func launchParamsFromEnv() launchParams {
	return launchParams{
		rootfs:   os.Getenv(envRootfs),
		oldRoot:  os.Getenv(envOldRoot),
		initArgv: splitArgv(os.Getenv(envInit)),
		launchID: os.Getenv(envLaunchID),
	}
}

// joinArgv/splitArgv use a NUL separator: init argv elements never contain
// NUL, unlike spaces.
func joinArgv(argv []string) string {
	out := ""
	for i, a := range argv {
		if i > 0 {
			out += "\x00"
		}
		out += a
	}
	return out
}

func splitArgv(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// Container is a launched or attached-to init process and its pinned
// namespace identities.
type Container struct {
	InitPID  uint32
	initProc *procfile.ProcFile
}

// FromPID attaches to an already-running container by the pid of its init
// process.
func FromPID(pid uint32) (*Container, error) {
	proc, err := procfile.FromPID(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to attach to init process %d: %w", pid, err)
	}
	return &Container{InitPID: pid, initProc: proc}, nil
}

// DefaultInit is used when Launch is not given an explicit init command.
var DefaultInit = []string{"/sbin/init", "--unit=multi-user.target"}

// Launch daemonizes a new init process into fresh mount/pid/uts
// namespaces rooted at rootfs, saving the host's old root at oldRoot
// inside the container. It returns once the init process exists and its
// pid is known; it does not wait for init to finish starting up.
//
// This re-exec's the running binary twice: once to detach and unshare
// namespaces (a process cannot move itself into a pid namespace it just
// created with unshare, only its future children can), and once more,
// born already inside the new namespaces, to prepare the container
// filesystem and finally execve the init program as pid 1.
func Launch(initArgv []string, rootfs paths.HostPath, oldRoot paths.ContainerPath) (*Container, error) {
	if len(initArgv) == 0 {
		initArgv = DefaultInit
	}
	launchID := uuid.NewString()
	params := launchParams{rootfs: rootfs.String(), oldRoot: oldRoot.String(), initArgv: initArgv, launchID: launchID}
	log := logrus.WithField("launch_id", launchID)

	hostConn, daemonConn, err := socketpair()
	if err != nil {
		return nil, fmt.Errorf("failed to create the fd-passing socketpair: %w", err)
	}
	defer hostConn.Close()

	log.WithField("rootfs", params.rootfs).Info("launching container")

	cmd, err := multifork.StageCommand(stageDaemon)
	if err != nil {
		return nil, err
	}
	cmd.Env = append(cmd.Env, params.toEnv()...)
	cmd.ExtraFiles = []*os.File{daemonConn}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, os.Stdout, os.Stderr

	if err := cmd.Start(); err != nil {
		daemonConn.Close()
		return nil, fmt.Errorf("failed to start the daemonizing stage: %w", err)
	}
	daemonConn.Close()
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("the daemonizing stage exited with an error: %w", err)
	}

	initFd, err := recvFd(hostConn)
	if err != nil {
		return nil, fmt.Errorf("failed to receive the init process handle: %w", err)
	}
	initProc := procfile.FromFd(initFd)
	pid, err := initProc.PID()
	if err != nil {
		return nil, fmt.Errorf("failed to get the pid of the init process: %w", err)
	}
	log.WithField("pid", pid).Info("container init process started")
	return &Container{InitPID: pid, initProc: initProc}, nil
}

func init() {
	multifork.RegisterStage(stageDaemon, runDaemonStage)
	multifork.RegisterStage(stageInit, runInitStage)
	multifork.RegisterStage(stageExec, runExecStage)
}

// runDaemonStage is stage A: detach from the controlling terminal, unshare
// fresh namespaces, then re-exec into stage B so the next process is born
// inside them.
func runDaemonStage() error {
	params := launchParamsFromEnv()
	log := logrus.WithField("launch_id", params.launchID)

	conn := os.NewFile(3, "distrod-fd-channel")
	if err := multifork.Daemonize([]int{3}); err != nil {
		return fmt.Errorf("failed to daemonize: %w", err)
	}
	if err := nsbuilder.EnterNewNamespace(); err != nil {
		return fmt.Errorf("failed to enter new namespaces: %w", err)
	}
	log.Debug("entered new namespaces, re-execing into the init stage")

	cmd, err := multifork.StageCommand(stageInit)
	if err != nil {
		return err
	}
	cmd.Env = append(cmd.Env, params.toEnv()...)
	cmd.ExtraFiles = []*os.File{conn}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, os.Stdout, os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start the init stage: %w", err)
	}
	// The init stage is now a detached pid-1 of the new namespaces; this
	// process's job ends here.
	return nil
}

// runInitStage is stage B: born as pid 1 of the new namespaces. It hands
// its own ProcFile back to the host over the inherited socket, prepares
// the container filesystem, then execve's the real init program in its
// own place.
func runInitStage() error {
	conn := os.NewFile(3, "distrod-fd-channel")
	defer conn.Close()

	self, err := procfile.Current()
	if err != nil {
		return fmt.Errorf("failed to open /proc/self: %w", err)
	}
	if err := sendFd(conn, self.Fd()); err != nil {
		self.Close()
		return fmt.Errorf("failed to send the init process handle: %w", err)
	}
	self.Close()

	params := launchParamsFromEnv()
	log := logrus.WithField("launch_id", params.launchID)
	if err := nsbuilder.PrepareFilesystem(paths.HostPath(params.rootfs), paths.ContainerPath(params.oldRoot)); err != nil {
		return fmt.Errorf("failed to prepare the container filesystem: %w", err)
	}

	argv := params.initArgv
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return fmt.Errorf("failed to resolve the init program %q: %w", argv[0], err)
	}
	log.WithField("init", path).Debug("execve-ing the init program as pid 1")
	if err := unix.Exec(path, argv, os.Environ()); err != nil {
		return fmt.Errorf("execve(%q) failed: %w", path, err)
	}
	return nil // unreachable on success
}

// ExecCommand runs cmd inside the container's namespaces, dropping to cred
// if given. It runs cmd via one more re-exec'd stage that setns's into the
// container and then runs cmd as its own child, and returns a Waiter that
// delivers cmd's exit status.
func (c *Container) ExecCommand(cmd *exec.Cmd, cred *credential.Credential) (*multifork.Waiter, error) {
	pipe, err := multifork.NewExitPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create the exit-code pipe: %w", err)
	}

	execID := uuid.NewString()
	proxy, err := multifork.StageCommand(stageExec)
	if err != nil {
		pipe.Read.Close()
		pipe.Write.Close()
		return nil, err
	}
	proxy.Env = append(proxy.Env, execStageParams{
		initPID: c.InitPID,
		argv:    cmd.Args,
		dir:     cmd.Dir,
		cred:    cred,
		execID:  execID,
	}.toEnv()...)
	proxy.ExtraFiles = []*os.File{pipe.Write}
	proxy.Stdin, proxy.Stdout, proxy.Stderr = cmd.Stdin, cmd.Stdout, cmd.Stderr
	if err := proxy.Start(); err != nil {
		pipe.Read.Close()
		pipe.Write.Close()
		return nil, fmt.Errorf("failed to start the exec stage: %w", err)
	}
	pipe.Write.Close()
	logrus.WithFields(logrus.Fields{"exec_id": execID, "pid": c.InitPID}).Debug("running exec against container")
	go func() { _ = proxy.Wait() }()

	return pipe.Waiter(), nil
}

// Stop signals the container's init process to shut down, SIGKILL if
// sigkill is set, SIGINT (a clean shutdown request to systemd) otherwise.
func (c *Container) Stop(sigkill bool) error {
	sig := unix.SIGINT
	if sigkill {
		sig = unix.SIGKILL
	}
	if err := unix.Kill(int(c.InitPID), sig); err != nil {
		return fmt.Errorf("failed to signal the init process %d: %w", c.InitPID, err)
	}
	return nil
}
