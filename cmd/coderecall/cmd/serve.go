package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/coderecall/internal/index"
	"github.com/Aman-CERP/coderecall/internal/mcp"
	"github.com/Aman-CERP/coderecall/internal/watcher"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		transport string
		watch     bool
	)

	cmd := &cobra.Command{
		Use:   "serve [path]",
		Short: "Serve index, search and health tools over MCP",
		Long: `Start a Model Context Protocol server on stdio.

stdout carries JSON-RPC frames only; logs go to the log file. Tool calls
that name no path act on the given repository (default: the working
directory). With --watch the repository is also kept indexed in the
background while the server runs.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			root, err := resolveRoot(args)
			if err != nil {
				return err
			}
			a, err := opts.newApp(ctx, root, logServer)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			srv, err := mcp.NewServer(mcp.Dependencies{
				Indexer:  a.orch,
				Searcher: a.engine,
				Health:   a.monitor,
			}, mcp.WithRoot(root), mcp.WithLogger(slog.Default()))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			g, gctx := errgroup.WithContext(ctx)

			if watch {
				var events <-chan []watcher.FileEvent
				if w, err := a.startWatcher(gctx); err != nil {
					slog.Warn("watcher_unavailable", slog.String("error", err.Error()))
				} else {
					defer func() { _ = w.Stop() }()
					events = w.Events()
				}
				runner := watcher.NewRunner(a.orch, index.IndexRequest{Root: root},
					watcher.RunnerOptions{PollInterval: a.cfg.Watch.PollInterval})
				g.Go(func() error { return runner.Run(gctx, events) })
			}

			// The client closing stdin ends the session and the background runner.
			g.Go(func() error {
				defer cancel()
				return srv.Serve(gctx, transport)
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport: stdio")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep the repository indexed while serving")

	return cmd
}
