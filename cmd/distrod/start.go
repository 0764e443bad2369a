package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"distrod/internal/config"
	"distrod/internal/distro"
	"distrod/internal/paths"
	"distrod/internal/runstate"
)

var startRootfs string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Launch a distro's init into fresh namespaces",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(startRootfs)
	},
}

func init() {
	startCmd.Flags().StringVarP(&startRootfs, "rootfs", "r", "", "path to the distro's root filesystem (defaults to the configured default)")
}

// runStart serializes concurrent start attempts with the external launch
// lock before delegating to distro.Launch.
func runStart(rootfsFlag string) error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("distrod start needs the root permission")
	}
	rootfs := rootfsFlag
	if rootfs == "" {
		rootfs = config.Get().DefaultRootfs
	}

	lock := runstate.NewLaunchLock(runstate.DefaultPath + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire the launch lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another launch is already in progress")
	}
	defer lock.Unlock()

	d, err := distro.Launch(paths.NewHostPath(rootfs), config.Get().DefaultInit)
	if err != nil {
		return fmt.Errorf("failed to launch the distro: %w", err)
	}
	logrus.Infof("distro launched at %s", d.Rootfs)
	return nil
}
