package watcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
	"github.com/Aman-CERP/coderecall/internal/index"
)

// Indexer runs one indexing pass. *index.Orchestrator satisfies it.
type Indexer interface {
	Index(ctx context.Context, req index.IndexRequest) (*index.Stats, error)
}

// Trigger names what started a run.
type Trigger string

const (
	TriggerInitial Trigger = "initial"
	TriggerChange  Trigger = "change"
	TriggerPoll    Trigger = "poll"
	TriggerRetry   Trigger = "retry"
)

// RunResult reports one completed or failed run.
type RunResult struct {
	Trigger Trigger
	Events  int
	Stats   *index.Stats
	Err     error
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// PollInterval paces runs when there is no event source. Default: 30s
	PollInterval time.Duration

	// BusyRetry is the delay before retrying a run that found the
	// repository locked. Default: 2s
	BusyRetry time.Duration

	// OnRun is called after every run, from the Run goroutine.
	OnRun func(RunResult)
}

// Runner keeps one repository indexed by running incremental passes on
// change batches.
type Runner struct {
	indexer Indexer
	req     index.IndexRequest
	opts    RunnerOptions
}

// NewRunner creates a runner for req. req.Force is cleared after the
// initial run.
func NewRunner(indexer Indexer, req index.IndexRequest, opts RunnerOptions) *Runner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.BusyRetry <= 0 {
		opts.BusyRetry = 2 * time.Second
	}
	return &Runner{indexer: indexer, req: req, opts: opts}
}

// Run performs an initial run, then one run per batch received from events.
// Batches arriving during a run are merged into the next one. A nil or
// closed events channel switches to polling. Run returns nil when ctx is
// canceled.
func (r *Runner) Run(ctx context.Context, events <-chan []FileEvent) error {
	var retry <-chan time.Time
	var poll *time.Ticker
	var pollC <-chan time.Time

	startPolling := func() {
		if poll == nil {
			slog.Info("watch_polling", slog.Duration("interval", r.opts.PollInterval))
			poll = time.NewTicker(r.opts.PollInterval)
			pollC = poll.C
		}
	}
	defer func() {
		if poll != nil {
			poll.Stop()
		}
	}()
	if events == nil {
		startPolling()
	}

	run := func(trigger Trigger, n int) {
		if r.runOnce(ctx, trigger, n) {
			retry = time.After(r.opts.BusyRetry)
		} else {
			retry = nil
		}
	}

	run(TriggerInitial, 0)
	req := r.req
	req.Force = false
	r.req = req

	for {
		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-events:
			if !ok {
				events = nil
				startPolling()
				continue
			}
			batch = append(batch, drain(events)...)
			if len(batch) == 0 {
				continue
			}
			for _, e := range batch {
				if e.Operation == OpConfigChange {
					slog.Warn("config_changed", slog.String("path", e.Path),
						slog.String("hint", "restart watch to apply configuration changes"))
				}
			}
			run(TriggerChange, len(batch))
		case <-pollC:
			run(TriggerPoll, 0)
		case <-retry:
			run(TriggerRetry, 0)
		}
	}
}

// drain collects batches already waiting so they share one run.
func drain(events <-chan []FileEvent) []FileEvent {
	var out []FileEvent
	for {
		select {
		case batch, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, batch...)
		default:
			return out
		}
	}
}

// runOnce reports whether the run should be retried.
func (r *Runner) runOnce(ctx context.Context, trigger Trigger, events int) bool {
	stats, err := r.indexer.Index(ctx, r.req)
	if r.opts.OnRun != nil {
		r.opts.OnRun(RunResult{Trigger: trigger, Events: events, Stats: stats, Err: err})
	}

	switch {
	case err == nil:
		slog.Info("watch_run_completed",
			slog.String("trigger", string(trigger)),
			slog.Int("events", events),
			slog.Int("files_added", stats.FilesAdded),
			slog.Int("files_modified", stats.FilesModified),
			slog.Int("files_removed", stats.FilesRemoved),
			slog.Duration("duration", stats.Duration),
		)
		return false
	case crerrors.GetCode(err) == crerrors.ErrCodeBusy:
		slog.Info("watch_run_deferred",
			slog.String("trigger", string(trigger)),
			slog.Duration("retry_in", r.opts.BusyRetry),
		)
		return true
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return false
	default:
		attrs := append([]any{
			slog.String("trigger", string(trigger)),
			slog.String("phase", string(index.PhaseOf(err))),
		}, crerrors.LogAttrs(err)...)
		slog.Error("watch_run_failed", attrs...)
		return false
	}
}
