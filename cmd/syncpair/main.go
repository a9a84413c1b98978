package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Fybrk/syncpair/pkg/core"
)

// Version is set at build time via ldflags.
var Version = "dev"

var rootCommand = &cobra.Command{
	Use:   "syncpair",
	Short: "Drive a local sync peer as an update authority or subordinate",
	Long: `syncpair manages a sync peer through its REST API. An authority accepts
devices that ask to pair and shares the update folder with them. A
subordinate connects to its authority, accepts the update folder and
reports when the update has arrived.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// rootConfiguration stores the flags shared by every command.
var rootConfiguration struct {
	// config overrides the service configuration path.
	config string
	// logLevel overrides the configured log level.
	logLevel string
}

func init() {
	flags := rootCommand.PersistentFlags()
	flags.StringVarP(&rootConfiguration.config, "config", "c", "", "Service configuration file")
	flags.StringVar(&rootConfiguration.logLevel, "log-level", "", "Log level (disabled, error, warn, info, debug, trace)")

	rootCommand.AddCommand(
		runCommand,
		idCommand,
		statusCommand,
		diagnosticsCommand,
		discoverCommand,
		watchCommand,
		configCommand,
		versionCommand,
	)
}

// openNode assembles a node from the shared flags. Log lines go to
// standard error so that command output stays parseable.
func openNode(options core.Options) (*core.Node, error) {
	options.ConfigPath = rootConfiguration.config
	options.LogLevel = rootConfiguration.logLevel
	if options.LogOutput == nil {
		options.LogOutput = os.Stderr
	}
	return core.New(options)
}

// printError prints an error in red.
func printError(w io.Writer, err error) {
	fmt.Fprintln(w, color.RedString("Error:"), err)
}

func main() {
	if err := rootCommand.ExecuteContext(context.Background()); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}
