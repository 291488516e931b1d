package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/coderecall/internal/changes"
	"github.com/Aman-CERP/coderecall/internal/chunk"
	"github.com/Aman-CERP/coderecall/internal/config"
	"github.com/Aman-CERP/coderecall/internal/embed"
	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
	"github.com/Aman-CERP/coderecall/internal/lock"
	"github.com/Aman-CERP/coderecall/internal/scanner"
	"github.com/Aman-CERP/coderecall/internal/state"
	"github.com/Aman-CERP/coderecall/internal/store"
)

var tracer = otel.Tracer("github.com/Aman-CERP/coderecall/internal/index")

// EmbeddingFallback is the embedding metadata value of fallback vectors.
const EmbeddingFallback = store.EmbeddingFallback

// Config tunes indexing runs.
type Config struct {
	// Collection is the vector store collection shared by all repositories.
	Collection string

	// Scan is passed to the scanner on every run.
	Scan scanner.Options

	// RunTimeout aborts a run that takes longer; zero disables it.
	RunTimeout time.Duration

	// Write bounds vector store batches and retries.
	Write store.WriteOptions

	// ChunkWorkers bounds parallel chunking (0 = NumCPU).
	ChunkWorkers int
}

// ConfigFrom derives orchestrator settings from the loaded configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Collection: cfg.VectorStore.Collection,
		Scan: scanner.Options{
			ExcludePatterns:  cfg.Indexing.Exclude,
			RespectGitignore: cfg.Indexing.RespectGitignore,
			MaxFileSize:      cfg.Indexing.MaxFileSize,
			Workers:          cfg.Indexing.Workers,
		},
		RunTimeout: cfg.Indexing.RunTimeout,
		Write: store.WriteOptions{
			BatchSize:   cfg.VectorStore.UpsertBatchSize,
			Concurrency: cfg.VectorStore.UpsertConcurrency,
			MaxRetries:  cfg.VectorStore.MaxRetries,
		},
		ChunkWorkers: cfg.Indexing.Workers,
	}
}

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	Scanner  *scanner.Scanner
	Splitter *chunk.Splitter
	Embedder embed.Embedder
	Vectors  store.VectorStore
	States   state.Store
	// Locker defaults to an in-process locker.
	Locker lock.Locker
	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator sequences indexing runs. At most one run per repository is
// active; a concurrent request is rejected with Busy.
type Orchestrator struct {
	cfg      Config
	scanner  *scanner.Scanner
	splitter *chunk.Splitter
	embedder embed.Embedder
	vectors  store.VectorStore
	states   state.Store
	locker   lock.Locker
	checker  *ConsistencyChecker
	now      func() time.Time

	mu     sync.RWMutex
	status map[string]*Status
}

// NewOrchestrator validates deps and returns an orchestrator.
func NewOrchestrator(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if deps.Scanner == nil {
		return nil, fmt.Errorf("scanner is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if deps.Vectors == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if deps.States == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	splitter := deps.Splitter
	if splitter == nil {
		splitter = chunk.NewSplitter(chunk.DefaultWindowLines, chunk.DefaultOverlapLines)
	}
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		cfg:      cfg,
		scanner:  deps.Scanner,
		splitter: splitter,
		embedder: deps.Embedder,
		vectors:  deps.Vectors,
		states:   deps.States,
		locker:   locker,
		checker:  NewConsistencyChecker(deps.Vectors, cfg.Collection),
		now:      now,
		status:   make(map[string]*Status),
	}, nil
}

// RepoIDForPath derives a stable repository id from its directory.
func RepoIDForPath(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Base(abs) + "-" + hex.EncodeToString(sum[:4])
}

// Index runs one indexing pass for the repository at req.Root.
func (o *Orchestrator) Index(ctx context.Context, req IndexRequest) (*Stats, error) {
	root, err := filepath.Abs(req.Root)
	if err != nil {
		return nil, crerrors.ValidationError("invalid repository path", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, crerrors.ValidationError(fmt.Sprintf("repository root %q is not a directory", req.Root), err)
	}
	repoID := req.RepoID
	if repoID == "" {
		repoID = RepoIDForPath(root)
	}

	lease, err := o.locker.TryAcquire(ctx, repoID)
	if err != nil {
		return nil, err
	}
	defer o.release(repoID, lease)

	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}
	ctx, span := tracer.Start(ctx, "index.run", trace.WithAttributes(
		attribute.String("repository", repoID),
		attribute.Bool("force", req.Force),
	))
	defer span.End()

	o.begin(repoID)
	slog.Info("index_run_started",
		slog.String("repository", repoID),
		slog.String("root", root),
		slog.Bool("force", req.Force),
		slog.Int("max_files", req.MaxFiles))

	r := &run{
		o:      o,
		repoID: repoID,
		root:   root,
		req:    req,
		start:  o.now(),
		stats:  Stats{RepoID: repoID},
	}
	stats, err := r.execute(ctx)
	o.finish(repoID, stats, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		attrs := append([]any{
			slog.String("repository", repoID),
			slog.String("phase", string(PhaseOf(err))),
		}, crerrors.LogAttrs(err)...)
		slog.Error("index_run_failed", attrs...)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("chunks.added", stats.ChunksAdded),
		attribute.Int("chunks.removed", stats.ChunksRemoved),
	)
	slog.Info("index_run_completed",
		slog.String("repository", repoID),
		slog.String("ref", stats.Ref),
		slog.Int("files_scanned", stats.FilesScanned),
		slog.Int("files_changed", stats.FilesAdded+stats.FilesModified+stats.FilesRemoved),
		slog.Int("chunks_added", stats.ChunksAdded),
		slog.Int("chunks_removed", stats.ChunksRemoved),
		slog.Int("fallback_vectors", stats.FallbackVectors),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

// Reconcile deletes vectors the repository's state does not own and
// reports owned chunks missing from the store, without re-indexing.
func (o *Orchestrator) Reconcile(ctx context.Context, repoID string) (*ReconcileReport, error) {
	if repoID == "" {
		return nil, crerrors.ValidationError("repository id is required", nil)
	}
	lease, err := o.locker.TryAcquire(ctx, repoID)
	if err != nil {
		return nil, err
	}
	defer o.release(repoID, lease)

	ctx, span := tracer.Start(ctx, "index.reconcile", trace.WithAttributes(attribute.String("repository", repoID)))
	defer span.End()

	st, ok, err := o.states.Load(ctx, repoID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !ok {
		st = nil
	}

	result, err := o.checker.Check(ctx, repoID, st)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	removed, err := o.checker.Repair(ctx, repoID, result, o.cfg.Write)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	report := &ReconcileReport{
		RepoID:       repoID,
		Checked:      result.Checked,
		Orphans:      len(result.Orphans()),
		Removed:      removed,
		Missing:      len(result.Missing()),
		MissingFiles: result.MissingFiles(),
		Duration:     result.Duration,
	}
	slog.Info("reconcile_completed",
		slog.String("repository", repoID),
		slog.Int("orphans_removed", report.Removed),
		slog.Int("missing", report.Missing))
	return report, nil
}

// Status returns the current status of repoID.
func (o *Orchestrator) Status(repoID string) Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if s, ok := o.status[repoID]; ok {
		return *s
	}
	return Status{RepoID: repoID, Phase: PhaseIdle}
}

// Statuses returns the status of every repository seen by this process.
func (o *Orchestrator) Statuses() []Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Status, 0, len(o.status))
	for _, s := range o.status {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepoID < out[j].RepoID })
	return out
}

func (o *Orchestrator) begin(repoID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.status[repoID]
	if !ok {
		s = &Status{RepoID: repoID}
		o.status[repoID] = s
	}
	s.Phase = PhaseScanning
	s.StartedAt = o.now()
	s.LastError = ""
}

func (o *Orchestrator) setPhase(repoID string, p Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.status[repoID]; ok {
		s.Phase = p
	}
}

func (o *Orchestrator) finish(repoID string, stats *Stats, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.status[repoID]
	if err != nil {
		s.Phase = PhaseError
		s.LastError = err.Error()
		return
	}
	s.Phase = PhaseIdle
	s.LastStats = stats
}

func (o *Orchestrator) release(repoID string, lease lock.Lease) {
	if err := lease.Release(context.Background()); err != nil {
		slog.Warn("lock_release_failed",
			slog.String("repository", repoID),
			slog.String("error", err.Error()))
	}
}

// run carries the working set of one indexing pass.
type run struct {
	o      *Orchestrator
	repoID string
	root   string
	req    IndexRequest
	start  time.Time
	stats  Stats

	ref      string
	prev     *state.RepoState
	next     *state.RepoState
	files    map[string]scanner.File
	check    *CheckResult
	refresh  map[string]string
	changes  changes.ChangeSet
	deferred []string
	chunks   []chunk.Chunk
	records  []store.Record
}

func (r *run) execute(ctx context.Context) (*Stats, error) {
	steps := []struct {
		phase Phase
		fn    func(context.Context) error
	}{
		{PhaseScanning, r.scan},
		{PhaseChunking, r.chunk},
		{PhaseEmbedding, r.embed},
		{PhaseUpserting, r.prepare},
		{PhaseCommitting, r.commit},
	}
	for _, step := range steps {
		if err := r.step(ctx, step.phase, step.fn); err != nil {
			return nil, err
		}
	}
	r.stats.Duration = r.o.now().Sub(r.start)
	return &r.stats, nil
}

func (r *run) step(ctx context.Context, phase Phase, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return runError(r.repoID, phase, err)
	}
	r.o.setPhase(r.repoID, phase)

	ctx, span := tracer.Start(ctx, "index."+string(phase))
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return runError(r.repoID, phase, err)
	}
	return nil
}

// scan loads the previous state, lists files, reconciles the store
// against the previous state and computes the change set.
func (r *run) scan(ctx context.Context) error {
	prev, ok, err := r.o.states.Load(ctx, r.repoID)
	if err != nil {
		return err
	}
	if !ok {
		prev = state.NewRepoState(r.repoID)
	}
	r.prev = prev

	files, scanStats, err := r.o.scanner.Scan(ctx, r.root, r.o.cfg.Scan)
	if err != nil {
		return err
	}
	r.files = make(map[string]scanner.File, len(files))
	current := make(map[string]string, len(files))
	for _, f := range files {
		r.files[f.Path] = f
		current[f.Path] = f.Hash
	}
	r.stats.FilesScanned = len(files)
	r.stats.FilesSkipped = scanStats.Skipped + scanStats.TooLarge + scanStats.Binary + scanStats.Unreadable

	r.ref = r.req.Ref
	if r.ref == "" {
		if ref, ok := scanner.ResolveRef(r.root); ok {
			r.ref = ref
		} else {
			r.ref = scanner.SnapshotRef(r.o.now())
		}
	}
	r.stats.Ref = r.ref

	r.check, err = r.o.checker.Check(ctx, r.repoID, prev)
	if err != nil {
		return err
	}

	cs := changes.Diff(prev.FileHashes, current, r.req.Force)
	if heal := r.check.MissingFiles(); len(heal) > 0 {
		slog.Info("index_healing_missing_vectors",
			slog.String("repository", r.repoID),
			slog.Int("files", len(heal)),
			slog.Int("chunks", len(r.check.Missing())))
		cs = cs.Promote(heal)
	}
	r.refresh, err = r.fallbackChunks(ctx)
	if err != nil {
		return err
	}
	if len(r.refresh) > 0 {
		files := make(map[string]bool)
		for _, path := range r.refresh {
			files[path] = true
		}
		paths := make([]string, 0, len(files))
		for path := range files {
			paths = append(paths, path)
		}
		slog.Info("index_replacing_fallback_vectors",
			slog.String("repository", r.repoID),
			slog.Int("files", len(paths)),
			slog.Int("chunks", len(r.refresh)))
		cs = cs.Promote(paths)
	}
	r.changes, r.deferred = cs.Limit(r.req.MaxFiles)

	r.stats.FilesAdded = len(r.changes.Added)
	r.stats.FilesModified = len(r.changes.Modified)
	r.stats.FilesRemoved = len(r.changes.Removed)
	r.stats.FilesUnchanged = len(r.changes.Unchanged)
	r.stats.FilesDeferred = len(r.deferred)
	return nil
}

// providerChecker is implemented by embedders that know whether their
// provider is reachable. *embed.BatchEmbedder satisfies it.
type providerChecker interface {
	ProviderAvailable() bool
}

// fallbackChunks maps owned chunks stored with fallback vectors to their
// files. It is empty unless the embedder can reach its provider, so a
// provider outage does not re-process the same files on every run.
func (r *run) fallbackChunks(ctx context.Context) (map[string]string, error) {
	pc, ok := r.o.embedder.(providerChecker)
	if !ok || !pc.ProviderAvailable() {
		return nil, nil
	}
	ids, err := r.o.vectors.IDs(ctx, r.o.cfg.Collection, store.Filter{Equals: map[string]string{
		store.MetaRepository: r.repoID,
		store.MetaEmbedding:  EmbeddingFallback,
	}})
	if err != nil {
		return nil, err
	}
	owners := r.prev.ChunkOwners()
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if path, ok := owners[id]; ok {
			out[id] = path
		}
	}
	return out, nil
}

type fileChunks struct {
	path     string
	hash     string
	chunks   []chunk.Chunk
	fallback bool
	skipped  bool
}

// chunk splits every pending file in parallel and builds the next state.
func (r *run) chunk(ctx context.Context) error {
	pending := r.changes.Pending()
	results := make([]fileChunks, len(pending))

	workers := r.o.cfg.ChunkWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range pending {
		f := r.files[path]
		g.Go(func() error {
			res, err := r.chunkFile(gctx, f)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	next := state.NewRepoState(r.repoID)
	next.LastRef = r.ref
	next.IndexedAt = r.o.now()
	keep := func(path string) {
		hash, ok := r.prev.FileHashes[path]
		if !ok {
			return
		}
		next.FileHashes[path] = hash
		if ids := r.prev.FileChunks[path]; len(ids) > 0 {
			next.FileChunks[path] = append([]string(nil), ids...)
		}
	}
	for _, path := range r.changes.Unchanged {
		keep(path)
	}
	for _, path := range r.deferred {
		keep(path)
	}
	for _, res := range results {
		if res.skipped {
			r.stats.FilesSkipped++
			continue
		}
		if res.fallback {
			r.stats.ParseFallbacks++
		}
		next.FileHashes[res.path] = res.hash
		ids := make([]string, 0, len(res.chunks))
		for _, c := range res.chunks {
			ids = append(ids, c.ID)
		}
		if len(ids) > 0 {
			next.FileChunks[res.path] = ids
		}
		r.chunks = append(r.chunks, res.chunks...)
	}
	r.next = next
	r.stats.ChunksProcessed = len(r.chunks)
	return nil
}

// chunkFile reads and splits one file. The hash recorded is the hash of
// the bytes actually chunked. A file that vanished since the scan is
// skipped.
func (r *run) chunkFile(ctx context.Context, f scanner.File) (fileChunks, error) {
	data, err := os.ReadFile(f.AbsPath)
	if err != nil {
		slog.Warn("file_read_failed",
			slog.String("path", f.Path),
			slog.String("error", err.Error()))
		return fileChunks{path: f.Path, skipped: true}, nil
	}

	res, err := r.o.splitter.Split(ctx, f.Path, f.Language, data)
	if err != nil {
		return fileChunks{}, err
	}
	return fileChunks{
		path:     f.Path,
		hash:     scanner.HashBytes(data),
		chunks:   chunk.Bind(r.repoID, f.Path, f.Language, res.Candidates),
		fallback: res.Fallback,
	}, nil
}

// embed vectors every chunk the store does not already hold under this
// repository's ownership, plus owned chunks still on fallback vectors.
// Force re-embeds everything.
func (r *run) embed(ctx context.Context) error {
	owned := r.prev.ChunkOwners()

	var todo []chunk.Chunk
	for _, c := range r.chunks {
		_, refresh := r.refresh[c.ID]
		if _, ok := owned[c.ID]; ok && r.check.Present[c.ID] && !r.req.Force && !refresh {
			continue
		}
		todo = append(todo, c)
	}
	if len(todo) == 0 {
		return nil
	}

	texts := make([]string, len(todo))
	for i, c := range todo {
		texts[i] = c.Content
	}
	vectors, err := r.o.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(todo) {
		return crerrors.InternalError(
			fmt.Sprintf("embedder returned %d vectors for %d texts", len(vectors), len(todo)), nil)
	}

	model := r.o.embedder.ModelName()
	indexedAt := store.FormatIndexedAt(r.next.IndexedAt)
	r.records = make([]store.Record, len(todo))
	for i, c := range todo {
		embedding := model
		if vectors[i].Fallback {
			embedding = EmbeddingFallback
			r.stats.FallbackVectors++
		} else if _, ok := r.refresh[c.ID]; ok {
			r.stats.FallbacksReplaced++
		}
		r.records[i] = store.Record{
			ID:       c.ID,
			Vector:   vectors[i].Values,
			Metadata: chunkMetadata(c, r.ref, indexedAt, embedding),
		}
	}
	r.stats.ChunksEmbedded = len(todo)
	return nil
}

// prepare ensures the collection and validates every vector before any
// write happens.
func (r *run) prepare(ctx context.Context) error {
	if len(r.records) == 0 {
		return nil
	}
	dims := r.o.embedder.Dimensions()
	for _, rec := range r.records {
		if len(rec.Vector) != dims {
			return crerrors.DimensionMismatchError(dims, len(rec.Vector)).
				WithDetail("chunk_id", rec.ID)
		}
	}
	return r.o.vectors.EnsureCollection(ctx, r.o.cfg.Collection, dims)
}

// commit deletes stale vectors, upserts new ones and persists the state,
// in that order.
func (r *run) commit(ctx context.Context) error {
	nextOwned := make(map[string]bool)
	for _, id := range r.next.OwnedChunkIDs() {
		nextOwned[id] = true
	}

	var stale []string
	for _, id := range r.prev.OwnedChunkIDs() {
		if !nextOwned[id] {
			stale = append(stale, id)
		}
	}
	var orphans []string
	for _, id := range r.check.Orphans() {
		if !nextOwned[id] {
			orphans = append(orphans, id)
		}
	}
	remove := append(append([]string(nil), stale...), orphans...)
	sort.Strings(remove)

	write := r.o.cfg.Write
	if len(remove) > 0 {
		if err := store.DeleteBatches(ctx, r.o.vectors, r.o.cfg.Collection, remove, write); err != nil {
			return err
		}
	}
	if len(r.records) > 0 {
		if err := store.UpsertBatches(ctx, r.o.vectors, r.o.cfg.Collection, r.records, write); err != nil {
			return err
		}
	}
	if len(remove) > 0 || len(r.records) > 0 {
		if err := r.o.vectors.Flush(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.o.states.Save(ctx, r.next); err != nil {
		return err
	}

	missing := make(map[string]bool)
	for _, id := range r.check.Missing() {
		missing[id] = true
	}
	for _, rec := range r.records {
		if missing[rec.ID] {
			r.stats.MissingHealed++
		}
	}
	r.stats.ChunksAdded = len(r.records)
	r.stats.ChunksRemoved = len(stale)
	r.stats.OrphansRemoved = len(orphans)
	r.stats.ChunksTotal = len(nextOwned)
	return nil
}

func chunkMetadata(c chunk.Chunk, ref, indexedAt, embedding string) map[string]string {
	meta := map[string]string{
		store.MetaRepository: c.RepoID,
		store.MetaPath:       c.FilePath,
		store.MetaLanguage:   c.Language,
		store.MetaCommitRef:  ref,
		store.MetaStartLine:  strconv.Itoa(c.StartLine),
		store.MetaEndLine:    strconv.Itoa(c.EndLine),
		store.MetaIndexedAt:  indexedAt,
		store.MetaEmbedding:  embedding,
		store.MetaContent:    c.Content,
	}
	if c.Symbol != "" {
		meta[store.MetaSymbol] = c.Symbol
	}
	if c.SymbolType != "" {
		meta[store.MetaSymbolType] = string(c.SymbolType)
	}
	return meta
}
