package main

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Fybrk/syncpair/internal/config"
)

func showConfig(w io.Writer, cfg *config.Config) {
	role := "subordinate"
	if cfg.Syncthing.IsServer {
		role = "authority"
	}
	fmt.Fprintf(w, "Config file:  %s\n", cfg.Path())
	fmt.Fprintf(w, "Role:         %s\n", role)
	fmt.Fprintf(w, "Name:         %s\n", cfg.DisplayName())
	fmt.Fprintf(w, "Peer address: %s\n", cfg.PeerAddress())
	fmt.Fprintf(w, "Peer config:  %s\n", cfg.Syncthing.ConfigXML)
	fmt.Fprintf(w, "Update path:  %s\n", cfg.Syncthing.UpdatePath)
	fmt.Fprintf(w, "Log dir:      %s\n", cfg.Syncthing.LogDir)
	fmt.Fprintf(w, "Event cursor: %d\n", cfg.LastEvent())
	fmt.Fprintf(w, "Queue:        capacity %d, %d retries, %s timeout, %s tick\n",
		cfg.Scheduler.Capacity, cfg.Scheduler.MaxRetries, cfg.Scheduler.Timeout, cfg.Scheduler.Tick)
	fmt.Fprintf(w, "Snapshots:    %s\n", cfg.SnapshotsPath())
	if cfg.Engine.Feed != "" {
		fmt.Fprintf(w, "Feed:         ws://%s\n", cfg.Engine.Feed)
	}
	fmt.Fprintf(w, "\nTo customize, edit the config file; a running node picks up name changes.\n")
}

func configMain(command *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return errors.Wrap(err, "unable to load configuration")
	}
	if configConfiguration.role != "" {
		switch configConfiguration.role {
		case "authority", "subordinate":
			if err := cfg.SetRole(configConfiguration.role == "authority"); err != nil {
				return err
			}
		default:
			return errors.Errorf("unknown role: %s", configConfiguration.role)
		}
	}
	if configConfiguration.name != "" {
		if err := cfg.SetName(configConfiguration.name); err != nil {
			return err
		}
	}
	showConfig(command.OutOrStdout(), cfg)
	return nil
}

var configCommand = &cobra.Command{
	Use:   "config",
	Short: "Show or change the service configuration",
	Args:  cobra.NoArgs,
	RunE:  configMain,
}

var configConfiguration struct {
	role string
	name string
}

func init() {
	flags := configCommand.Flags()
	flags.StringVar(&configConfiguration.role, "role", "", "Set the role (authority or subordinate); applies on next start")
	flags.StringVar(&configConfiguration.name, "name", "", "Set the device display name")
}
