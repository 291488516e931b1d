package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
	"github.com/Aman-CERP/coderecall/internal/index"
	"github.com/Aman-CERP/coderecall/internal/output"
	"github.com/Aman-CERP/coderecall/internal/watcher"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		force    bool
		maxFiles int
		repoID   string
		poll     bool
	)

	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Keep a repository indexed as files change",
		Long: `Index the repository, then re-run an incremental index whenever files
change. Events are debounced so a burst of saves triggers one run.

When file events are unavailable (or with --poll) the repository is
re-indexed on the configured poll interval instead. Stop with Ctrl+C.`,
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

			out := opts.writer(cmd.OutOrStdout())
			var events <-chan []watcher.FileEvent
			if !poll {
				w, err := a.startWatcher(ctx)
				if err != nil {
					slog.Warn("watcher_unavailable", slog.String("error", err.Error()))
					out.Warningf("File events unavailable, polling every %s", a.cfg.Watch.PollInterval)
				} else {
					defer func() {
						if n := w.DroppedBatches(); n > 0 {
							slog.Warn("watch_events_dropped", slog.Uint64("batches", n))
						}
						_ = w.Stop()
					}()
					events = w.Events()
				}
			}

			runner := watcher.NewRunner(a.orch, index.IndexRequest{
				Root:     root,
				RepoID:   repoID,
				Force:    force,
				MaxFiles: maxFiles,
			}, watcher.RunnerOptions{
				PollInterval: a.cfg.Watch.PollInterval,
				OnRun:        func(r watcher.RunResult) { reportRun(out, r) },
			})

			out.Statusf("", "Watching %s (Ctrl+C to stop)", root)
			if err := runner.Run(ctx, events); err != nil {
				return err
			}
			out.Statuses(a.orch.Statuses())
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-process every file on the first run")
	cmd.Flags().IntVar(&maxFiles, "max-files", 0, "Cap on added plus modified files per run (0 = no cap)")
	cmd.Flags().StringVar(&repoID, "repo", "", "Repository id (default: derived from the path)")
	cmd.Flags().BoolVar(&poll, "poll", false, "Poll instead of using file system events")

	return cmd
}

// startWatcher starts an fsnotify watcher on the app root in the
// background. Watcher errors are logged.
func (a *app) startWatcher(ctx context.Context) (*watcher.FSWatcher, error) {
	w, err := watcher.NewFSWatcher(a.scanner, watcher.Options{
		DebounceWindow: a.cfg.Watch.Debounce,
		Scan:           index.ConfigFrom(a.cfg).Scan,
	})
	if err != nil {
		return nil, err
	}

	go func() {
		if err := w.Start(ctx, a.root); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("watcher_stopped", slog.String("error", err.Error()))
		}
	}()
	go func() {
		for err := range w.Errors() {
			slog.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}()
	return w, nil
}

func reportRun(out *output.Writer, r watcher.RunResult) {
	switch {
	case r.Err == nil:
		out.IndexStats(r.Stats)
	case crerrors.GetCode(r.Err) == crerrors.ErrCodeBusy:
		out.Warning("Another run holds the repository, retrying shortly")
	case errors.Is(r.Err, context.Canceled):
	default:
		out.Errorf("Index run failed: %v", r.Err)
	}
}
