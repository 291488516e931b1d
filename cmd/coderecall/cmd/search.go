package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/coderecall/internal/index"
	"github.com/Aman-CERP/coderecall/internal/search"
)

// Output formats for search.
const (
	formatText = "text"
	formatJSON = "json"
)

type searchOptions struct {
	limit      int
	language   string
	repo       string
	here       bool
	pathPrefix string
	format     string
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	so := &searchOptions{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed code",
		Long: `Embed the query and return the closest indexed chunks, best first.

Examples:
  coderecall search "where are passwords hashed"
  coderecall search "retry with backoff" -l go -n 5
  coderecall search "http handler" --here --path-prefix internal/api`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if so.format != formatText && so.format != formatJSON {
				return fmt.Errorf("invalid format %q (use text or json)", so.format)
			}

			root, err := resolveRoot(nil)
			if err != nil {
				return err
			}
			a, err := opts.newApp(cmd.Context(), root, logCLI)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			q := search.Query{
				Text:       strings.Join(args, " "),
				Repository: so.repo,
				Language:   so.language,
				PathPrefix: so.pathPrefix,
				TopK:       so.limit,
			}
			if so.here && q.Repository == "" {
				q.Repository = index.RepoIDForPath(root)
			}

			resp, err := a.engine.Search(cmd.Context(), q)
			if err != nil {
				return err
			}

			out := opts.writer(cmd.OutOrStdout())
			if so.format == formatJSON {
				return out.JSON(resp)
			}
			out.SearchResults(resp)
			return nil
		},
	}

	cmd.Flags().IntVarP(&so.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringVarP(&so.language, "language", "l", "", "Filter by language (go, python, typescript, ...)")
	cmd.Flags().StringVar(&so.repo, "repo", "", "Filter by repository id")
	cmd.Flags().BoolVar(&so.here, "here", false, "Filter to the repository in the working directory")
	cmd.Flags().StringVar(&so.pathPrefix, "path-prefix", "", "Filter to files under this repository-relative path")
	cmd.Flags().StringVarP(&so.format, "format", "f", formatText, "Output format: text or json")

	return cmd
}
