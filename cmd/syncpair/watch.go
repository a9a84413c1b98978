package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Fybrk/syncpair/internal/events"
	"github.com/Fybrk/syncpair/internal/feed"
)

func watchMain(command *cobra.Command, _ []string) error {
	address := watchConfiguration.address
	if address == "" {
		cfg, err := loadConfig()
		if err != nil {
			return errors.Wrap(err, "unable to load configuration")
		}
		address = cfg.Engine.Feed
	}
	if address == "" {
		return errors.New("no feed address configured; pass --address or set Feed in [Engine]")
	}

	var only events.Kind
	if watchConfiguration.kind != "" {
		kind, ok := events.ParseKind(watchConfiguration.kind)
		if !ok {
			return errors.Errorf("unknown observation kind: %s", watchConfiguration.kind)
		}
		only = kind
	}

	ctx, stop := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := command.OutOrStdout()
	return feed.Follow(ctx, address, func(event events.Event) {
		if watchConfiguration.kind != "" && event.Kind != only {
			return
		}
		fmt.Fprintf(out, "%s  %s\n", event.Timestamp.Format("15:04:05.000"), event)
	})
}

var watchCommand = &cobra.Command{
	Use:   "watch",
	Short: "Follow a running node's observations",
	Args:  cobra.NoArgs,
	RunE:  watchMain,
}

var watchConfiguration struct {
	address string
	kind    string
}

func init() {
	flags := watchCommand.Flags()
	flags.StringVarP(&watchConfiguration.address, "address", "a", "", "Feed address (defaults to Feed in [Engine])")
	flags.StringVarP(&watchConfiguration.kind, "kind", "k", "", "Only show observations of this kind")
}
