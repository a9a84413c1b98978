package main

import (
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Fybrk/syncpair/internal/config"
	"github.com/Fybrk/syncpair/internal/discovery"
	"github.com/Fybrk/syncpair/internal/pairing"
)

// browse is replaced in tests.
var browse = discovery.Browse

func loadConfig() (*config.Config, error) {
	if rootConfiguration.config != "" {
		return config.Load(rootConfiguration.config)
	}
	return config.LoadConfig()
}

func printNodes(w io.Writer, nodes []discovery.Node) {
	if len(nodes) == 0 {
		fmt.Fprintln(w, "No authorities found")
		return
	}
	for _, node := range nodes {
		address := node.Address()
		if address == "" {
			address = "(no IPv4 address)"
		}
		fmt.Fprintf(w, "%-20s  %-24s  %s\n", node.Name, address, node.DeviceID)
	}
}

func discoverMain(command *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return errors.Wrap(err, "unable to load configuration")
	}

	nodes, err := browse(command.Context(), discovery.Config{ScanTimeout: discoverConfiguration.timeout})
	if err != nil {
		return err
	}
	authorities := nodes[:0]
	for _, node := range nodes {
		if node.Role == pairing.RoleAuthority {
			authorities = append(authorities, node)
		}
	}

	out := command.OutOrStdout()
	printNodes(out, authorities)
	if !discoverConfiguration.save {
		return nil
	}

	if len(authorities) != 1 {
		return errors.Errorf("expected exactly one authority to save, found %d", len(authorities))
	}
	address := authorities[0].Address()
	if address == "" {
		return errors.New("authority advertised no IPv4 address")
	}
	if err := cfg.SetPeerAddress(address); err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved %s as the authority address\n", address)
	return nil
}

var discoverCommand = &cobra.Command{
	Use:   "discover",
	Short: "Find authorities advertised on the local network",
	Args:  cobra.NoArgs,
	RunE:  discoverMain,
}

var discoverConfiguration struct {
	timeout time.Duration
	save    bool
}

func init() {
	flags := discoverCommand.Flags()
	flags.DurationVarP(&discoverConfiguration.timeout, "timeout", "t", discovery.DefaultScanTimeout, "How long to browse")
	flags.BoolVar(&discoverConfiguration.save, "save", false, "Store the single authority found as the peer address")
}
