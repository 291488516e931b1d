// Package watcher keeps a repository's index current while it changes.
//
// An FSWatcher follows the working tree with fsnotify, drops paths a scan
// would ignore and debounces the rest into batches. A Runner turns each
// batch into an incremental indexing run, retries when another run holds
// the repository lock and falls back to periodic runs when no event source
// is available.
//
// Usage:
//
//	w, err := watcher.NewFSWatcher(sc, watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	go w.Start(ctx, root)
//
//	r := watcher.NewRunner(orch, index.IndexRequest{Root: root}, watcher.RunnerOptions{})
//	return r.Run(ctx, w.Events())
package watcher
