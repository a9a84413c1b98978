package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Fybrk/syncpair/internal/storage"
	"github.com/Fybrk/syncpair/pkg/core"
)

func collectMain(command *cobra.Command, _ []string) error {
	node, err := openNode(core.Options{})
	if err != nil {
		return err
	}
	defer node.Close()

	document, err := node.CollectDiagnostics(command.Context())
	if err != nil {
		return err
	}

	out := command.OutOrStdout()
	fmt.Fprintf(out, "Collected %s of diagnostics\n", humanize.Bytes(uint64(len(document))))
	if files := node.Files(); files != nil {
		fmt.Fprintf(out, "Written to %s\n", files.Dir())
	}
	if collectConfiguration.print {
		fmt.Fprintln(out, string(document))
	}
	return nil
}

func listSnapshots(w io.Writer, snapshots []*storage.Snapshot) {
	if len(snapshots) == 0 {
		fmt.Fprintln(w, "No snapshots")
		return
	}
	for _, snapshot := range snapshots {
		fmt.Fprintf(w, "%6d  %-11s  %-16s  %s\n",
			snapshot.ID,
			snapshot.Kind,
			humanize.Time(snapshot.TakenAt),
			humanize.Bytes(uint64(snapshot.Size())),
		)
	}
}

func listMain(command *cobra.Command, _ []string) error {
	node, err := openNode(core.Options{})
	if err != nil {
		return err
	}
	defer node.Close()

	out := command.OutOrStdout()
	if store := node.Snapshots(); store != nil {
		for _, kind := range []string{storage.KindDiagnostics, storage.KindStatus} {
			snapshots, err := store.List(kind, listConfiguration.limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s snapshots:\n", kind)
			listSnapshots(out, snapshots)
		}
	}

	if files := node.Files(); files != nil {
		names, err := files.Files()
		if err != nil {
			return errors.Wrap(err, "unable to list diagnostics files")
		}
		fmt.Fprintf(out, "files in %s:\n", files.Dir())
		if len(names) == 0 {
			fmt.Fprintln(out, "No files")
		}
		for _, name := range names {
			fmt.Fprintf(out, "  %s\n", filepath.Base(name))
		}
	}
	return nil
}

func pruneMain(command *cobra.Command, _ []string) error {
	node, err := openNode(core.Options{})
	if err != nil {
		return err
	}
	defer node.Close()

	store := node.Snapshots()
	if store == nil {
		return errors.New("snapshot store is disabled")
	}
	var removed int64
	for _, kind := range []string{storage.KindDiagnostics, storage.KindStatus} {
		count, err := store.Prune(kind, pruneConfiguration.keep)
		if err != nil {
			return err
		}
		removed += count
	}
	fmt.Fprintf(command.OutOrStdout(), "Removed %s snapshots\n", humanize.Comma(removed))
	return nil
}

var diagnosticsCommand = &cobra.Command{
	Use:   "diagnostics",
	Short: "Collect and inspect diagnostics",
}

var collectCommand = &cobra.Command{
	Use:   "collect",
	Short: "Collect the peer's log and discovery errors",
	Args:  cobra.NoArgs,
	RunE:  collectMain,
}

var collectConfiguration struct {
	print bool
}

var listCommand = &cobra.Command{
	Use:   "list",
	Short: "List stored diagnostics and status snapshots",
	Args:  cobra.NoArgs,
	RunE:  listMain,
}

var listConfiguration struct {
	limit int
}

var pruneCommand = &cobra.Command{
	Use:   "prune",
	Short: "Delete old snapshots",
	Args:  cobra.NoArgs,
	RunE:  pruneMain,
}

var pruneConfiguration struct {
	keep int
}

func init() {
	collectCommand.Flags().BoolVarP(&collectConfiguration.print, "print", "p", false, "Print the collected document")
	listCommand.Flags().IntVarP(&listConfiguration.limit, "limit", "n", 10, "Maximum snapshots per kind (0 for all)")
	pruneCommand.Flags().IntVar(&pruneConfiguration.keep, "keep", 50, "Snapshots to keep per kind")
	diagnosticsCommand.AddCommand(collectCommand, listCommand, pruneCommand)
}
