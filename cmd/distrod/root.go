package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "distrod",
	Short: "distrod launches a Linux distribution's init into fresh WSL namespaces",
	Long: `distrod is a naive init launcher for WSL2: it pivots a distribution's
root filesystem into fresh mount/pid/uts namespaces, runs its init (such
as systemd) there as pid 1, and lets you exec commands into the running
distro or stop it.`,
}

// Execute runs the root command and its subcommands.
func Execute() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level: trace, debug, info, warn, error")
	cobra.OnInitialize(func() {
		lvl, err := logrus.ParseLevel(logLevel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "distrod: invalid log level %q, defaulting to info\n", logLevel)
			lvl = logrus.InfoLevel
		}
		logrus.SetLevel(lvl)
	})

	rootCmd.AddCommand(startCmd, execCmd, stopCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
