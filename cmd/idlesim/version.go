package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/idle-engine/internal/sim"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build identifier hosts must send in Boot",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), sim.Build)
		},
	}
}
