package cli

import (
	"context"
	"fmt"
	"time"

	"storyindex/internal/core/ports"
	"storyindex/internal/engine/index"

	"github.com/spf13/cobra"
)

type indexOptions struct {
	write  bool
	diff   bool
	strict bool
}

func newIndexCommand(root *rootOptions) *cobra.Command {
	opts := &indexOptions{}
	cmd := &cobra.Command{
		Use:   "index [dir]",
		Short: "Build the story index once",
		Long: `Build the story index for the project and write index.json.

Files that fail to index are reported as problems without failing the run
unless --strict is set.`,
		Example: `  # Index the current project
  storyindex index

  # Show what changed against the previously written index
  storyindex index --diff

  # Index without writing
  storyindex index --write=false ./web`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, root, opts, args)
		},
	}
	cmd.Flags().BoolVar(&opts.write, "write", true, "Write index.json to the configured output")
	cmd.Flags().BoolVar(&opts.diff, "diff", false, "Compare against the previously written index")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Exit with an error when any file fails to index")
	return cmd
}

func runIndex(cmd *cobra.Command, root *rootOptions, opts *indexOptions, args []string) error {
	a, err := openApp(root, args)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	var prev *index.StoryIndex
	if opts.diff {
		if prev, err = a.ReadWrittenIndex(); err != nil {
			return fmt.Errorf("read previous index: %w", err)
		}
	}

	res, err := a.IndexService().RunIndex(cmd.Context(), ports.IndexRequest{Write: opts.write})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Indexed %d entries in %s\n", len(res.Index.Entries), res.Duration.Round(time.Microsecond))
	printSummary(out, res.Summary)
	if res.Written != "" {
		fmt.Fprintf(out, "Wrote %s\n", res.Written)
	}
	if opts.diff {
		printDelta(out, index.Diff(prev, res.Index))
		patch, err := orderDiff(prev, res.Index, "previous", "current")
		if err != nil {
			return err
		}
		fmt.Fprint(out, patch)
	}
	printProblems(out, res.Problems)

	if opts.strict && len(res.Problems) > 0 {
		return fmt.Errorf("%d files failed to index", len(res.Problems))
	}
	return nil
}
