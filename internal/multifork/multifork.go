// Package multifork provides the double/triple-fork machinery the launcher
// uses to detach a new init from its invoking process and, separately, to
// re-enter an already-running container's namespaces for exec.
//
// A raw fork(2) with a closure hook run in the child before the next step
// would be the obvious model for this, but Go cannot safely run arbitrary
// user closures between fork and exec — only the limited, allocation-free
// code the runtime itself emits for os/exec's internal fork+exec is safe
// to run in a single-threaded post-fork child. The idiomatic Go substitute
// (the same one runc and containerd's reexec-style binaries use) is to
// re-exec the current binary: each conceptual "fork" becomes a clone+exec
// of /proc/self/exe into a named internal stage, and the hook that would
// have run "in the forked child" instead runs as ordinary top-level code
// at the start of that stage's process. Dispatch must be wired up from
// main() before flag parsing, so a re-exec'd process never reaches normal
// CLI handling.
package multifork

import (
	"fmt"
	"os"
	"os/exec"
)

const stageEnvVar = "DISTROD_INTERNAL_STAGE"

// StageFunc is the body of one re-exec stage: the code that would have run
// "in the forked child" in a raw-fork design.
type StageFunc func() error

var stages = map[string]StageFunc{}

// RegisterStage associates a stage name with the function that should run
// when the binary is re-exec'd into that stage. Call this from an init()
// function so the registration exists before Dispatch runs.
func RegisterStage(name string, fn StageFunc) {
	stages[name] = fn
}

// Dispatch checks whether the current process was re-exec'd into a named
// internal stage and, if so, runs it and terminates the process with its
// result. main() must call this before doing anything else (before flag
// parsing, before any other setup: a re-exec'd process must never fall
// through into normal CLI handling.
func Dispatch() {
	name := os.Getenv(stageEnvVar)
	if name == "" {
		return
	}
	fn, ok := stages[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "distrod: unknown internal stage %q\n", name)
		os.Exit(1)
	}
	if err := fn(); err != nil {
		fmt.Fprintf(os.Stderr, "distrod: internal stage %q failed: %v\n", name, err)
		os.Exit(1)
	}
	os.Exit(0)
}

// StageCommand builds the *exec.Cmd that re-execs the current binary into
// the named stage. The caller is responsible for ExtraFiles, Stdin/Stdout/
// Stderr, and SysProcAttr before calling Start.
func StageCommand(stage string) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve the path to the running binary: %w", err)
	}
	cmd := exec.Command(self)
	cmd.Env = append(os.Environ(), stageEnvVar+"="+stage)
	return cmd, nil
}
