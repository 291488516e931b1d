package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
	"github.com/Aman-CERP/coderecall/internal/index"
)

func newIndexCmd(opts *rootOptions) *cobra.Command {
	var (
		force      bool
		maxFiles   int
		repoID     string
		ref        string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a repository incrementally",
		Long: `Scan a repository, chunk and embed the files that changed since the
last run, and update the vector index.

Unchanged files are skipped by content hash. Deleted files have their
chunks removed. --max-files caps the added plus modified files processed
in one run; the rest are picked up by the next run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			root, err := resolveRoot(args)
			if err != nil {
				return err
			}
			a, err := opts.newApp(ctx, root, logCLI)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			stats, err := a.orch.Index(ctx, index.IndexRequest{
				Root:     root,
				RepoID:   repoID,
				Force:    force,
				MaxFiles: maxFiles,
				Ref:      ref,
			})
			if err != nil {
				if jsonOutput {
					if data, jerr := crerrors.FormatJSON(err); jerr == nil {
						_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
					}
				}
				return err
			}

			out := opts.writer(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(stats)
			}
			out.IndexStats(stats)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-process every file instead of only changed ones")
	cmd.Flags().IntVar(&maxFiles, "max-files", 0, "Cap on added plus modified files for this run (0 = no cap)")
	cmd.Flags().StringVar(&repoID, "repo", "", "Repository id (default: derived from the path)")
	cmd.Flags().StringVar(&ref, "ref", "", "Commit reference to record (default: git HEAD or a snapshot id)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output run statistics as JSON")

	return cmd
}
