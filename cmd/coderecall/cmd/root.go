// Package cmd provides the CLI commands for coderecall.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
	"github.com/Aman-CERP/coderecall/internal/profiling"
	"github.com/Aman-CERP/coderecall/pkg/version"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	debug      bool
	logLevel   string
	noColor    bool
	profile    profiling.Options

	profiler *profiling.Session
}

// NewRootCmd creates the root command for the coderecall CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "coderecall",
		Short: "Incremental semantic index over source repositories",
		Long: `coderecall keeps a vector index of one or more source repositories
up to date and answers natural language and code queries against it.

Only files that changed since the last run are re-embedded. Results carry
their repository, path, line range and commit provenance.

Run 'coderecall index' in a repository, then 'coderecall search <query>'.
'coderecall serve' exposes the same operations to agents over MCP.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("coderecall version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Project config file (default: .coderecall.yaml in the repository)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging and mirror logs to stderr")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().StringVar(&opts.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return opts.startProfiling()
	}
	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		return opts.stopProfiling()
	}

	cmd.AddCommand(newInitCmd(opts))
	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newReconcileCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newHealthCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newLogsCmd(opts))
	cmd.AddCommand(newVersionCmd(opts))

	return cmd
}

func (o *rootOptions) startProfiling() error {
	if !o.profile.Enabled() {
		return nil
	}
	s, err := profiling.Start(o.profile)
	if err != nil {
		return fmt.Errorf("failed to start profiling: %w", err)
	}
	o.profiler = s
	return nil
}

func (o *rootOptions) stopProfiling() error {
	if o.profiler == nil {
		return nil
	}
	err := o.profiler.Stop()
	o.profiler = nil
	if err != nil {
		return fmt.Errorf("failed to write profiles: %w", err)
	}
	return nil
}

// Execute runs the root command and prints any error to stderr.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil && !errors.Is(err, errUnhealthy) {
		_, _ = fmt.Fprint(os.Stderr, crerrors.FormatForCLI(err))
	}
	return err
}
