package cli

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
)

func newSortCommand(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sort [dir]",
		Short: "Print entries in sidebar order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(root, args)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			entries, err := a.IndexService().SortedEntries(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			printSorted(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}
