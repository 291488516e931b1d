package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/coderecall/internal/embed"
	"github.com/Aman-CERP/coderecall/internal/lock"
	"github.com/Aman-CERP/coderecall/internal/scanner"
	"github.com/Aman-CERP/coderecall/internal/state"
	"github.com/Aman-CERP/coderecall/internal/store"
)

const (
	testCollection = "code"
	testDims       = 64
	testRepo       = "repo"
	testRef        = "0123456789abcdef0123456789abcdef01234567"
)

// countingEmbedder embeds with the hash provider and records every text.
type countingEmbedder struct {
	mu       sync.Mutex
	provider *embed.HashProvider
	texts    []string
	calls    int
	dims     int // reported dimension; defaults to the provider's
	err      error
	fallback bool // mark vectors as fallback and report the provider down
	block    chan struct{}
	entered  chan struct{}
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{provider: embed.NewHashProvider(testDims)}
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]embed.Vector, error) {
	if e.entered != nil {
		close(e.entered)
		e.entered = nil
	}
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	e.calls++
	e.texts = append(e.texts, texts...)
	err, fallback := e.err, e.fallback
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	vecs, err := e.provider.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]embed.Vector, len(vecs))
	for i, v := range vecs {
		out[i] = embed.Vector{Values: v, Fallback: fallback}
	}
	return out, nil
}

func (e *countingEmbedder) ProviderAvailable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.fallback
}

func (e *countingEmbedder) setFallback(on bool) {
	e.mu.Lock()
	e.fallback = on
	e.mu.Unlock()
}

func (e *countingEmbedder) Dimensions() int {
	if e.dims > 0 {
		return e.dims
	}
	return testDims
}

func (e *countingEmbedder) ModelName() string { return "static/hash" }

func (e *countingEmbedder) embedded() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.texts)
}

func (e *countingEmbedder) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.texts = nil
	e.calls = 0
}

// countingStore counts write calls on top of the memory store.
type countingStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	upserts  int
	upserted int
	deletes  int
	deleted  int
	ensures  int
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: store.NewMemoryStore()}
}

func (s *countingStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	s.mu.Lock()
	s.ensures++
	s.mu.Unlock()
	return s.MemoryStore.EnsureCollection(ctx, collection, dimension)
}

func (s *countingStore) Upsert(ctx context.Context, collection string, records []store.Record) error {
	s.mu.Lock()
	s.upserts++
	s.upserted += len(records)
	s.mu.Unlock()
	return s.MemoryStore.Upsert(ctx, collection, records)
}

func (s *countingStore) Delete(ctx context.Context, collection string, ids []string) error {
	s.mu.Lock()
	s.deletes++
	s.deleted += len(ids)
	s.mu.Unlock()
	return s.MemoryStore.Delete(ctx, collection, ids)
}

func (s *countingStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts + s.deletes
}

func (s *countingStore) resetCounts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts, s.upserted, s.deletes, s.deleted, s.ensures = 0, 0, 0, 0, 0
}

// failingSaveStore fails Save while fail is set.
type failingSaveStore struct {
	state.Store
	fail bool
}

func (s *failingSaveStore) Save(ctx context.Context, st *state.RepoState) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.Store.Save(ctx, st)
}

type harness struct {
	t        *testing.T
	root     string
	embedder *countingEmbedder
	vectors  *countingStore
	states   *failingSaveStore
	locker   *lock.LocalLocker
	orch     *Orchestrator
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	states, err := state.NewFileStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	sc, err := scanner.New()
	require.NoError(t, err)

	h := &harness{
		t:        t,
		root:     t.TempDir(),
		embedder: newCountingEmbedder(),
		vectors:  newCountingStore(),
		states:   &failingSaveStore{Store: states},
		locker:   lock.NewLocalLocker(),
	}
	cfg := Config{
		Collection: testCollection,
		Write:      store.WriteOptions{BatchSize: 16, Concurrency: 2, MaxRetries: 1},
	}
	for _, o := range opts {
		o(&cfg)
	}
	h.orch, err = NewOrchestrator(cfg, Dependencies{
		Scanner:  sc,
		Embedder: h.embedder,
		Vectors:  h.vectors,
		States:   h.states,
		Locker:   h.locker,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) write(rel, content string) {
	h.t.Helper()
	p := filepath.Join(h.root, filepath.FromSlash(rel))
	require.NoError(h.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(h.t, os.WriteFile(p, []byte(content), 0o644))
}

func (h *harness) remove(rel string) {
	h.t.Helper()
	require.NoError(h.t, os.Remove(filepath.Join(h.root, filepath.FromSlash(rel))))
}

func (h *harness) index(req IndexRequest) (*Stats, error) {
	req.Root = h.root
	if req.RepoID == "" {
		req.RepoID = testRepo
	}
	if req.Ref == "" {
		req.Ref = testRef
	}
	return h.orch.Index(context.Background(), req)
}

func (h *harness) mustIndex(req IndexRequest) *Stats {
	h.t.Helper()
	stats, err := h.index(req)
	require.NoError(h.t, err)
	return stats
}

func (h *harness) state() *state.RepoState {
	h.t.Helper()
	st, ok, err := h.states.Load(context.Background(), testRepo)
	require.NoError(h.t, err)
	require.True(h.t, ok, "state not saved")
	return st
}

func (h *harness) storedIDs(filter store.Filter) []string {
	h.t.Helper()
	if filter.Empty() {
		filter = store.RepositoryFilter(testRepo)
	}
	ids, err := h.vectors.IDs(context.Background(), testCollection, filter)
	require.NoError(h.t, err)
	sort.Strings(ids)
	return ids
}

func pathFilter(path string) store.Filter {
	return store.Filter{Equals: map[string]string{store.MetaRepository: testRepo, store.MetaPath: path}}
}

// pyFile returns a parseable Python file with exactly n lines.
func pyFile(name string, n int) string {
	var b strings.Builder
	for i := 0; i < n/2; i++ {
		fmt.Fprintf(&b, "def %s_%d():\n    return %d\n", name, i, i)
	}
	if n%2 == 1 {
		fmt.Fprintf(&b, "%s_tail = %d\n", name, n)
	}
	return b.String()
}
