package container

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"distrod/internal/credential"
	"distrod/internal/multifork"
	"distrod/internal/procfile"
)

const (
	envExecInitPID = "DISTROD_EXEC_INITPID"
	envExecArgv    = "DISTROD_EXEC_ARGV"
	envExecDir     = "DISTROD_EXEC_DIR"
	envExecUID     = "DISTROD_EXEC_UID"
	envExecGID     = "DISTROD_EXEC_GID"
	envExecGroups  = "DISTROD_EXEC_GROUPS"
	envExecID      = "DISTROD_EXEC_ID"
)

// execStageParams is threaded into the exec stage through the environment.
type execStageParams struct {
	initPID uint32
	argv    []string
	dir     string
	cred    *credential.Credential
	execID  string
}

func (p execStageParams) toEnv() []string {
	env := []string{
		envExecInitPID + "=" + strconv.FormatUint(uint64(p.initPID), 10),
		envExecArgv + "=" + joinArgv(p.argv),
		envExecDir + "=" + p.dir,
		envExecID + "=" + p.execID,
	}
	if p.cred != nil {
		groups := make([]string, len(p.cred.Groups))
		for i, g := range p.cred.Groups {
			groups[i] = strconv.FormatUint(uint64(g), 10)
		}
		env = append(env,
			envExecUID+"="+strconv.FormatUint(uint64(p.cred.UID), 10),
			envExecGID+"="+strconv.FormatUint(uint64(p.cred.GID), 10),
			envExecGroups+"="+strings.Join(groups, ","),
		)
	}
	return env
}

func execStageParamsFromEnv() (execStageParams, error) {
	pid, err := strconv.ParseUint(os.Getenv(envExecInitPID), 10, 32)
	if err != nil {
		return execStageParams{}, fmt.Errorf("failed to parse %s: %w", envExecInitPID, err)
	}
	p := execStageParams{
		initPID: uint32(pid),
		argv:    splitArgv(os.Getenv(envExecArgv)),
		dir:     os.Getenv(envExecDir),
		execID:  os.Getenv(envExecID),
	}
	if uidStr, ok := os.LookupEnv(envExecUID); ok {
		uid, err := strconv.ParseUint(uidStr, 10, 32)
		if err != nil {
			return execStageParams{}, fmt.Errorf("failed to parse %s: %w", envExecUID, err)
		}
		gid, err := strconv.ParseUint(os.Getenv(envExecGID), 10, 32)
		if err != nil {
			return execStageParams{}, fmt.Errorf("failed to parse %s: %w", envExecGID, err)
		}
		var groups []uint32
		if raw := os.Getenv(envExecGroups); raw != "" {
			for _, g := range strings.Split(raw, ",") {
				v, err := strconv.ParseUint(g, 10, 32)
				if err != nil {
					return execStageParams{}, fmt.Errorf("failed to parse a group id in %s: %w", envExecGroups, err)
				}
				groups = append(groups, uint32(v))
			}
		}
		cred := credential.Credential{UID: uint32(uid), GID: uint32(gid), Groups: groups}
		p.cred = &cred
	}
	return p, nil
}

// runExecStage enters the target container's namespaces, drops privilege
// if requested, then runs the requested command as an ordinary child and
// reports its exit status over the inherited pipe fd. This process plays
// the role the original design gave a dedicated proxy: by staying alive
// across the real command's lifetime and never itself being replaced by
// execve, it can always deliver an exit byte even if the command is
// killed by a signal.
func runExecStage() error {
	exitFd := os.NewFile(3, "distrod-exitcode-w")
	defer exitFd.Close()

	code, err := runExecStageInner()
	if err != nil {
		fmt.Fprintf(os.Stderr, "distrod: exec stage failed: %v\n", err)
		code = 127
	}
	_, _ = exitFd.Write([]byte{code})
	return nil
}

func runExecStageInner() (byte, error) {
	params, err := execStageParamsFromEnv()
	if err != nil {
		return 0, err
	}
	log := logrus.WithField("exec_id", params.execID)

	initProc, err := procfile.FromPID(params.initPID)
	if err != nil {
		return 0, fmt.Errorf("failed to attach to the container's init process: %w", err)
	}
	defer initProc.Close()

	for _, kind := range []procfile.NamespaceKind{procfile.NamespaceUTS, procfile.NamespacePID, procfile.NamespaceMnt} {
		nsFile, err := initProc.OpenNamespace(kind)
		if err != nil {
			return 0, fmt.Errorf("failed to open %s: %w", kind, err)
		}
		err = unix.Setns(int(nsFile.Fd()), 0)
		nsFile.Close()
		if err != nil {
			return 0, fmt.Errorf("setns(%s) failed: %w", kind, err)
		}
	}

	if params.cred != nil {
		if err := params.cred.TryDropPrivilege(); err != nil {
			return 0, fmt.Errorf("failed to drop privilege: %w", err)
		}
	}
	multifork.SetNoninheritableSigIgn()

	if len(params.argv) == 0 {
		return 0, fmt.Errorf("no command given")
	}
	path, err := exec.LookPath(params.argv[0])
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %q inside the container: %w", params.argv[0], err)
	}
	cmd := exec.Command(path, params.argv[1:]...)
	cmd.Args[0] = params.argv[0]
	cmd.Dir = params.dir
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	log.WithField("argv0", params.argv[0]).Debug("running command inside the container")
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if exitErr.ExitCode() >= 0 {
				return byte(exitErr.ExitCode()), nil
			}
			return 137, nil // killed by a signal.
		}
		return 0, fmt.Errorf("failed to run %q: %w", params.argv[0], err)
	}
	return 0, nil
}
