package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/shrike-backup/shrike/internal/store"
)

func newEntriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "Manage the files and folders to mirror",
	}

	cmd.AddCommand(newEntriesAddCmd())
	cmd.AddCommand(newEntriesRemoveCmd())
	cmd.AddCommand(newEntriesListCmd())
	return cmd
}

func newEntriesAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <path>...",
		Short: "Track one or more files or folders",
		Long: `Add resolves each path to its absolute, symlink-free form and records it as a
file or directory entry. Paths that do not exist or are already tracked are rejected.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fileStore, err := openStore()
			if err != nil {
				return err
			}

			for _, path := range args {
				entry, err := fileStore.AddEntry(path)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "added %s %s (%s)\n", entry.ItemType, entry.Path, entry.ID)
			}
			return nil
		},
	}
}

func newEntriesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"remove"},
		Short:   "Stop tracking entries by ID",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fileStore, err := openStore()
			if err != nil {
				return err
			}

			for _, id := range args {
				if err := fileStore.RemoveEntry(id); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
			}
			return nil
		},
	}
}

func newEntriesListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List tracked entries",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fileStore, err := openStore()
			if err != nil {
				return err
			}
			entries, err := fileStore.LoadItems()
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			if len(entries) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no entries")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tTYPE\tPATH\tLAST SYNCED")
			for _, e := range entries {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.ItemType, e.Path, lastSynced(e))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

func lastSynced(e store.Entry) string {
	if e.LastSynced == nil {
		return "never"
	}
	return humanize.Time(*e.LastSynced)
}
