package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/coderecall/pkg/version"
)

func newVersionCmd(opts *rootOptions) *cobra.Command {
	var jsonOutput, shortOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show which coderecall build is running",
		Long: `Show the coderecall version, the commit it was built from, the build time,
and the Go toolchain and platform. Binaries installed with "go install" report
the module version and VCS revision embedded by the toolchain.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch {
			case shortOutput:
				_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Short())
				return err
			case jsonOutput:
				return opts.writer(cmd.OutOrStdout()).JSON(version.GetInfo())
			default:
				_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
				return err
			}
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&shortOutput, "short", false, "Print the version number only")
	cmd.MarkFlagsMutuallyExclusive("json", "short")

	return cmd
}
