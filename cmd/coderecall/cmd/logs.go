package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/coderecall/internal/logging"
)

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	logFile string
}

func newLogsCmd(opts *rootOptions) *cobra.Command {
	lo := &logsOptions{}

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View coderecall logs",
		Long: `Show the last lines of the coderecall log file, optionally following it.

The log file is logging.file from the configuration, or
~/.coderecall/logs/coderecall.log by default.

Examples:
  coderecall logs                  # last 50 lines
  coderecall logs -f               # follow new entries
  coderecall logs --level warn     # warnings and errors only
  coderecall logs --filter svc-api # lines matching a pattern`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := lo.logFile
			if path == "" {
				path = opts.logPath()
			}

			var pattern *regexp.Regexp
			if lo.filter != "" {
				var err error
				if pattern, err = regexp.Compile(lo.filter); err != nil {
					return fmt.Errorf("invalid filter pattern: %w", err)
				}
			}

			viewer := logging.NewViewer(logging.ViewerConfig{Level: lo.level, Pattern: pattern}, cmd.OutOrStdout())
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Log file: %s\n---\n", path)

			if !lo.follow {
				entries, err := viewer.Tail(path, lo.lines)
				if err != nil {
					return err
				}
				viewer.Print(entries)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			entries := make(chan logging.LogEntry, 100)
			errCh := make(chan error, 1)
			go func() { errCh <- viewer.Follow(ctx, path, entries) }()

			for {
				select {
				case e := <-entries:
					viewer.Print([]logging.LogEntry{e})
				case err := <-errCh:
					return err
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&lo.follow, "follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().IntVarP(&lo.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&lo.level, "level", "", "Minimum level (debug, info, warn, error)")
	cmd.Flags().StringVar(&lo.filter, "filter", "", "Only lines matching this regular expression")
	cmd.Flags().StringVar(&lo.logFile, "file", "", "Log file path (default: configured log file)")

	return cmd
}

// logPath is the log file the configuration in the working directory
// points at, falling back to the default location.
func (o *rootOptions) logPath() string {
	if root, err := resolveRoot(nil); err == nil {
		if cfg, err := o.loadConfig(root); err == nil && cfg.Logging.File != "" {
			return cfg.Logging.File
		}
	}
	return logging.DefaultLogPath()
}
