package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Fybrk/syncpair/pkg/core"
)

func runMain(command *cobra.Command, _ []string) error {
	node, err := openNode(core.Options{
		Watch: !runConfiguration.noWatch,
		Feed:  runConfiguration.feed,
	})
	if err != nil {
		return err
	}
	defer node.Close()

	ctx, stop := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return node.Run(ctx)
}

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Manage the peer until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runMain,
}

var runConfiguration struct {
	// feed is the address of the observation feed.
	feed string
	// noWatch disables following configuration edits.
	noWatch bool
}

func init() {
	flags := runCommand.Flags()
	flags.StringVar(&runConfiguration.feed, "feed", "", "Serve observations over WebSocket on this address (e.g. 127.0.0.1:8385)")
	flags.BoolVar(&runConfiguration.noWatch, "no-watch", false, "Ignore edits to the configuration file")
}
