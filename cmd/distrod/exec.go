package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"distrod/internal/credential"
	"distrod/internal/distro"
	"distrod/internal/multifork"
	"distrod/internal/paths"
)

var (
	execArg0       string
	execUser       string
	execUID        int32
	execWorkingDir string
	execRootfs     string
)

var execCmd = &cobra.Command{
	Use:                "exec COMMAND [ARGS...]",
	Short:              "Run a command inside the running distro",
	Args:               cobra.MinimumNArgs(1),
	DisableFlagParsing: false,
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := runExec(args)
		if err != nil {
			return err
		}
		os.Exit(int(code))
		return nil
	},
}

func init() {
	// Everything after COMMAND belongs to COMMAND, not to distrod.
	execCmd.Flags().SetInterspersed(false)
	execCmd.Flags().StringVarP(&execArg0, "arg0", "a", "", "override argv[0] of the executed command")
	execCmd.Flags().StringVarP(&execUser, "user", "u", "", "run as this user, looked up in the distro's /etc/passwd")
	execCmd.Flags().Int32VarP(&execUID, "uid", "i", -1, "run as this uid, falling back to a bare credential if not in /etc/passwd")
	execCmd.Flags().StringVarP(&execWorkingDir, "working-directory", "w", "", "working directory inside the distro")
	execCmd.Flags().StringVarP(&execRootfs, "rootfs", "r", "", "rootfs to launch if no distro is currently running")
}

// runExec finds the running distro, launching one from --rootfs first if
// none is running, resolves the requested credential, and execs argv
// inside it, returning the command's exit code.
func runExec(argv []string) (byte, error) {
	d, err := distro.GetRunning()
	if err != nil {
		return 0, fmt.Errorf("failed to check for a running distro: %w", err)
	}
	if d == nil {
		if execRootfs == "" {
			return 0, fmt.Errorf("no distro is currently running")
		}
		if err := runStart(execRootfs); err != nil {
			return 0, err
		}
		return runExec(argv)
	}

	cred, err := resolveCredential(d.Rootfs)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve the requested credential: %w", err)
	}

	multifork.SetNoninheritableSigIgn()
	waiter, err := d.ExecCommand(argv, distro.ExecOptions{
		WorkingDirectory: execWorkingDir,
		Arg0:             execArg0,
		Cred:             cred,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to exec inside the distro: %w", err)
	}
	return waiter.Wait(), nil
}

func resolveCredential(rootfs paths.HostPath) (*credential.Credential, error) {
	if execUser == "" && execUID < 0 {
		return nil, nil
	}
	passwdPath := paths.ContainerPath("/etc/passwd").ToHostPath(rootfs)
	var uidPtr *uint32
	if execUID >= 0 {
		uid := uint32(execUID)
		uidPtr = &uid
	}
	cred, err := credential.FromPasswdFile(passwdPath.String(), execUser, uidPtr)
	if err == nil {
		return &cred, nil
	}
	if uidPtr != nil {
		fallback := credential.FromUID(*uidPtr)
		return &fallback, nil
	}
	return nil, err
}
