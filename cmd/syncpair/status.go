package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Fybrk/syncpair/internal/api"
	"github.com/Fybrk/syncpair/pkg/core"
)

// Output formats.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func renderStatus(w io.Writer, status *api.SystemStatus, role, format string) error {
	switch format {
	case formatText:
		fmt.Fprintf(w, "Device ID:   %s\n", status.MyID)
		fmt.Fprintf(w, "Role:        %s\n", role)
		if started := status.Started(); !started.IsZero() {
			fmt.Fprintf(w, "Started:     %s\n", humanize.Time(started))
		} else {
			fmt.Fprintf(w, "Uptime:      %s\n", time.Duration(status.Uptime)*time.Second)
		}
		fmt.Fprintf(w, "Memory:      %s allocated, %s reserved\n", humanize.IBytes(status.Alloc), humanize.IBytes(status.Sys))
		fmt.Fprintf(w, "Goroutines:  %s\n", humanize.Comma(int64(status.Goroutines)))
		if text := status.DiscoveryErrorText(); text != "" {
			fmt.Fprintf(w, "Discovery:   %s\n", text)
		}
		return nil
	case formatJSON:
		var indented bytes.Buffer
		if err := json.Indent(&indented, status.Raw, "", "  "); err != nil {
			return errors.Wrap(err, "unable to format status")
		}
		indented.WriteByte('\n')
		_, err := indented.WriteTo(w)
		return err
	case formatYAML:
		var document map[string]interface{}
		if err := json.Unmarshal(status.Raw, &document); err != nil {
			return errors.Wrap(err, "unable to format status")
		}
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(document); err != nil {
			return errors.Wrap(err, "unable to format status")
		}
		return encoder.Close()
	default:
		return errors.Errorf("unknown output format: %s", format)
	}
}

func statusMain(command *cobra.Command, _ []string) error {
	if format := statusConfiguration.format; format != formatText && format != formatJSON && format != formatYAML {
		return errors.Errorf("unknown output format: %s", format)
	}

	node, err := openNode(core.Options{})
	if err != nil {
		return err
	}
	defer node.Close()

	status, err := node.Status(command.Context())
	if err != nil {
		return errors.Wrap(err, "unable to query status")
	}
	return renderStatus(command.OutOrStdout(), status, node.Role(), statusConfiguration.format)
}

var statusCommand = &cobra.Command{
	Use:   "status",
	Short: "Show the peer's status report",
	Args:  cobra.NoArgs,
	RunE:  statusMain,
}

var statusConfiguration struct {
	format string
}

func init() {
	flags := statusCommand.Flags()
	flags.StringVarP(&statusConfiguration.format, "format", "f", formatText, "Output format (text, json, yaml)")
}
