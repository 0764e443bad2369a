package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"distrod/internal/distro"
)

var stopSigkill bool

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running distro",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := distro.GetRunning()
		if err != nil {
			return fmt.Errorf("failed to check for a running distro: %w", err)
		}
		if d == nil {
			return fmt.Errorf("no distro is currently running")
		}
		return d.Stop(stopSigkill)
	},
}

func init() {
	stopCmd.Flags().BoolVarP(&stopSigkill, "sigkill", "9", false, "kill immediately instead of a clean systemd shutdown")
}
