package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	logx "netwatch/pkg/logx"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "netwatch",
		Short:         "Per-network connection quality monitor",
		Long:          "netwatch probes the connection on a schedule and appends one line per sample to a log file named after the current Wi-Fi network.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMonitorCmd("speed", "Run throughput speed tests", "5"),
		newMonitorCmd("ping", "Ping a host", "1"),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "netwatch", version)
		},
	}
}

// Execute runs the root command. Any error exits with status 1.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		// The logging service may not exist yet, or is already closed.
		logx.NewConsole("info").Error("netwatch failed", logx.Err(err))
		os.Exit(1)
	}
}
