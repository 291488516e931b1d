package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
	"github.com/Aman-CERP/coderecall/internal/scanner"
)

// FSWatcher follows a repository with fsnotify. Paths the scanner would
// ignore never reach the debouncer.
type FSWatcher struct {
	fsw       *fsnotify.Watcher
	scanner   *scanner.Scanner
	debouncer *Debouncer
	events    chan []FileEvent
	errors    chan error
	stopCh    chan struct{}
	root      string
	opts      Options

	mu             sync.RWMutex
	stopped        bool
	droppedBatches atomic.Uint64
}

// NewFSWatcher creates a watcher. It fails when the platform cannot provide
// an fsnotify instance, in which case callers fall back to polling.
func NewFSWatcher(sc *scanner.Scanner, opts Options) (*FSWatcher, error) {
	if sc == nil {
		return nil, crerrors.ValidationError("watcher requires a scanner", nil)
	}
	opts = opts.WithDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &FSWatcher{
		fsw:       fsw,
		scanner:   sc,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}, nil
}

// Start watches root recursively and blocks until ctx is done or Stop is
// called.
func (w *FSWatcher) Start(ctx context.Context, root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	w.mu.Lock()
	w.root = absRoot
	w.mu.Unlock()

	if err := w.addRecursive(absRoot, false); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}
	slog.Debug("watcher_started", slog.String("root", absRoot))

	go w.forwardDebounced()

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *FSWatcher) handle(event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || rel == "." {
		return
	}
	rel = filepath.ToSlash(rel)

	isDir := false
	if info, err := os.Lstat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	if w.scanner.Ignored(w.root, rel, isDir, w.opts.Scan) {
		return
	}

	now := time.Now()
	switch {
	case path.Base(rel) == ".gitignore":
		w.debouncer.Add(FileEvent{Path: rel, Operation: OpGitignoreChange, Timestamp: now})
		return
	case configFileNames[rel]:
		w.debouncer.Add(FileEvent{Path: rel, Operation: OpConfigChange, Timestamp: now})
		return
	}

	var op Operation
	switch {
	case event.Op.Has(fsnotify.Create):
		op = OpCreate
		if isDir {
			// Files written before the watch was added produce no events.
			if err := w.addRecursive(event.Name, true); err != nil {
				w.emitError(err)
			}
		}
	case event.Op.Has(fsnotify.Write):
		op = OpModify
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return
	}

	w.debouncer.Add(FileEvent{Path: rel, Operation: op, IsDir: isDir, Timestamp: now})
}

// addRecursive watches dir and every directory below it that a scan would
// enter. With announce set, files found along the way are reported as
// created.
func (w *FSWatcher) addRecursive(dir string, announce bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if !d.IsDir() {
			if announce && d.Type().IsRegular() && !w.scanner.Ignored(w.root, rel, false, w.opts.Scan) {
				w.debouncer.Add(FileEvent{Path: rel, Operation: OpCreate, Timestamp: time.Now()})
			}
			return nil
		}
		if rel != "." && w.scanner.Ignored(w.root, rel, true, w.opts.Scan) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", rel, err)
		}
		return nil
	})
}

func (w *FSWatcher) forwardDebounced() {
	for {
		select {
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			if len(batch) > 0 {
				w.emitEvents(batch)
			}
		}
	}
}

func (w *FSWatcher) emitEvents(batch []FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}

	select {
	case w.events <- batch:
	default:
		count := w.droppedBatches.Add(1)
		slog.Warn("event buffer full, dropping batch",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("total_dropped_batches", count),
		)
	}
}

func (w *FSWatcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}

	select {
	case w.errors <- err:
	default:
		slog.Warn("watcher_error_dropped", slog.String("error", err.Error()))
	}
}

// Events returns the channel of debounced batches. It is closed by Stop.
func (w *FSWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns non-fatal watcher errors. It is closed by Stop.
func (w *FSWatcher) Errors() <-chan error {
	return w.errors
}

// DroppedBatches returns the number of batches dropped on a full buffer.
func (w *FSWatcher) DroppedBatches() uint64 {
	return w.droppedBatches.Load()
}

// Stop releases the fsnotify instance and closes both channels.
// Safe to call multiple times.
func (w *FSWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)

	w.debouncer.Stop()
	err := w.fsw.Close()

	close(w.events)
	close(w.errors)
	return err
}
