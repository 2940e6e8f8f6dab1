package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vitalsync/internal/version"
)

// newRootCmd creates the root vitalsyncd command with all subcommands
// attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vitalsyncd",
		Short:         "Multi-device recording synchronization daemon",
		Long:          "vitalsyncd keeps the clocks of phones, webcams and biosensors aligned\nto one reference timeline and coordinates synchronized recording sessions\nacross them.",
		Version:       fmt.Sprintf("vitalsyncd %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newServeCmd(),
		newStatusCmd(),
		newSessionsCmd(),
		newLogsCmd(),
	)

	return cmd
}
