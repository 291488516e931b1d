package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/coderecall/internal/index"
)

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	var (
		repoID     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile [path]",
		Short: "Repair drift between the state store and the vector index",
		Long: `Compare the chunk ids the state store records for a repository with
the vectors actually present in the collection.

Orphaned vectors are deleted. Chunks missing from the collection are
reported; the next index run re-embeds their files.`,
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

			if repoID == "" {
				repoID = index.RepoIDForPath(root)
			}
			report, err := a.orch.Reconcile(ctx, repoID)
			if err != nil {
				return err
			}

			out := opts.writer(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(report)
			}
			out.Reconcile(report)
			return nil
		},
	}

	cmd.Flags().StringVar(&repoID, "repo", "", "Repository id (default: derived from the path)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the report as JSON")

	return cmd
}
