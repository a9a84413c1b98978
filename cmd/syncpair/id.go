package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Fybrk/syncpair/internal/pairing"
	"github.com/Fybrk/syncpair/pkg/core"
)

const qrImageSize = 256

func printCard(w io.Writer, card pairing.Card, qr bool) error {
	text, err := card.Encode()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Device ID:   %s\n", card.DeviceID)
	fmt.Fprintf(w, "Fingerprint: %s\n", pairing.Fingerprint(card.DeviceID))
	fmt.Fprintf(w, "Name:        %s\n", card.DeviceName)
	fmt.Fprintf(w, "Role:        %s\n", card.Role)
	if card.Address != "" {
		fmt.Fprintf(w, "Address:     %s\n", card.Address)
	}
	if card.Expires != 0 {
		fmt.Fprintf(w, "Expires:     %s\n", time.Unix(card.Expires, 0).Format("15:04:05"))
	}
	fmt.Fprintf(w, "Card:        %s\n", text)

	if qr {
		code, err := card.Terminal()
		if err != nil {
			return err
		}
		fmt.Fprintln(w)
		fmt.Fprint(w, code)
	}
	return nil
}

func idMain(command *cobra.Command, _ []string) error {
	node, err := openNode(core.Options{})
	if err != nil {
		return err
	}
	defer node.Close()

	id, err := node.LocalDeviceID(command.Context())
	if err != nil {
		return errors.Wrap(err, "unable to resolve device id")
	}

	cfg := node.Config()
	card := pairing.NewCard(id, cfg.DisplayName(), cfg.PeerAddress(), node.Role(), idConfiguration.ttl)

	if idConfiguration.png != "" {
		image, err := card.PNG(qrImageSize)
		if err != nil {
			return err
		}
		if err := os.WriteFile(idConfiguration.png, image, 0644); err != nil {
			return errors.Wrap(err, "unable to write QR image")
		}
	}
	return printCard(command.OutOrStdout(), card, idConfiguration.qr)
}

var idCommand = &cobra.Command{
	Use:   "id",
	Short: "Show the local device id and its pairing card",
	Args:  cobra.NoArgs,
	RunE:  idMain,
}

var idConfiguration struct {
	qr  bool
	png string
	ttl time.Duration
}

func init() {
	flags := idCommand.Flags()
	flags.BoolVar(&idConfiguration.qr, "qr", false, "Print the pairing card as a QR code")
	flags.StringVar(&idConfiguration.png, "png", "", "Also write the QR code to this PNG file")
	flags.DurationVar(&idConfiguration.ttl, "ttl", 10*time.Minute, "Pairing card lifetime (0 for no expiry)")
}
