package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

// errUnhealthy makes the process exit non-zero after the report is printed.
var errUnhealthy = errors.New("one or more required checks failed")

func newHealthCmd(opts *rootOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the embedder, vector store, state store and host",
		Long: `Run every dependency probe with a per-probe timeout and print the results.

The command exits non-zero when a required probe fails. A degraded result,
such as a missing collection or indexing on fallback vectors, is reported
but does not fail the command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := resolveRoot(nil)
			if err != nil {
				return err
			}
			a, err := opts.newApp(cmd.Context(), root, logCLI)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			report := a.monitor.Run(cmd.Context())

			out := opts.writer(cmd.OutOrStdout())
			if jsonOutput {
				if err := out.JSON(report); err != nil {
					return err
				}
			} else {
				out.Health(report)
			}
			if !report.Healthy() {
				return errUnhealthy
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the report as JSON")

	return cmd
}
