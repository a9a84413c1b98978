package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(command *cobra.Command, _ []string) {
		fmt.Fprintf(command.OutOrStdout(), "syncpair version %s\n", Version)
	},
}
