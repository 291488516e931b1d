package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/coder/hnsw"
	"github.com/google/renameio"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
)

const (
	hnswFileExt         = ".hnsw"
	hnswSnapshotVersion = 1
)

// HNSWConfig tunes the graph. Zero values use coder/hnsw defaults.
type HNSWConfig struct {
	M        int
	EfSearch int
}

// HNSWStore implements VectorStore on coder/hnsw graphs, one per
// collection. Overwrites and deletes are lazy: the old graph node is
// orphaned and skipped, and the graph is rebuilt on Flush once orphans
// outnumber live nodes. With a directory set, Flush writes one snapshot
// file per collection atomically.
type HNSWStore struct {
	mu          sync.RWMutex
	dir         string
	config      HNSWConfig
	collections map[string]*hnswCollection
	dirty       map[string]bool
	closed      bool
}

type hnswCollection struct {
	dim     int
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64 // string ID -> internal key
	keyMap  map[uint64]string // internal key -> string ID
	entries map[string]hnswEntry
	nextKey uint64
}

type hnswEntry struct {
	Vector   []float32
	Metadata map[string]string
}

// hnswSnapshot is the persisted form of one collection. The graph itself
// is rebuilt on load.
type hnswSnapshot struct {
	Version   int
	Dimension int
	Entries   map[string]hnswEntry
}

var _ VectorStore = (*HNSWStore)(nil)

// NewHNSWStore opens a store persisted under dir, loading any existing
// collections. An empty dir keeps everything in memory.
func NewHNSWStore(dir string, cfg HNSWConfig) (*HNSWStore, error) {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	s := &HNSWStore{
		dir:         dir,
		config:      cfg,
		collections: make(map[string]*hnswCollection),
		dirty:       make(map[string]bool),
	}
	if dir == "" {
		return s, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create vector directory: %w", err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*"+hnswFileExt))
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		name, err := url.PathUnescape(strings.TrimSuffix(filepath.Base(f), hnswFileExt))
		if err != nil {
			continue
		}
		c, err := s.load(f)
		if err != nil {
			return nil, crerrors.New(crerrors.ErrCodeBackendUnavailable,
				fmt.Sprintf("failed to load collection %q", name), err)
		}
		s.collections[name] = c
		slog.Debug("hnsw_collection_loaded",
			slog.String("collection", name),
			slog.Int("vectors", len(c.idMap)))
	}
	return s, nil
}

func (s *HNSWStore) newCollection(dim int) *hnswCollection {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = s.config.M
	graph.EfSearch = s.config.EfSearch
	graph.Ml = 0.25

	return &hnswCollection{
		dim:     dim,
		graph:   graph,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		entries: make(map[string]hnswEntry),
	}
}

// add inserts or replaces one entry. A replaced node stays in the graph
// unmapped; coder/hnsw does not handle deleting its last node well.
func (c *hnswCollection) add(id string, e hnswEntry) {
	if old, ok := c.idMap[id]; ok {
		delete(c.keyMap, old)
	}

	key := c.nextKey
	c.nextKey++

	vec := copyVector(e.Vector)
	normalizeVectorInPlace(vec)
	c.graph.Add(hnsw.MakeNode(key, vec))

	c.idMap[id] = key
	c.keyMap[key] = id
	c.entries[id] = e
}

func (c *hnswCollection) remove(id string) {
	if key, ok := c.idMap[id]; ok {
		delete(c.keyMap, key)
		delete(c.idMap, id)
		delete(c.entries, id)
	}
}

func (c *hnswCollection) orphans() int {
	return c.graph.Len() - len(c.idMap)
}

func (s *HNSWStore) Backend() string { return BackendHNSW }

func (s *HNSWStore) EnsureCollection(_ context.Context, collection string, dimension int) error {
	if dimension <= 0 {
		return invalidInput("dimension must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(BackendHNSW)
	}

	if c, ok := s.collections[collection]; ok {
		if c.dim != dimension {
			return dimensionConflict(c.dim, dimension)
		}
		return nil
	}
	s.collections[collection] = s.newCollection(dimension)
	s.dirty[collection] = true
	return nil
}

func (s *HNSWStore) Upsert(_ context.Context, collection string, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(BackendHNSW)
	}

	c, ok := s.collections[collection]
	if !ok {
		return collectionNotFound(collection)
	}
	for _, r := range records {
		if err := checkDimension(c.dim, r.Vector); err != nil {
			return err
		}
	}
	for _, r := range records {
		c.add(r.ID, hnswEntry{Vector: copyVector(r.Vector), Metadata: copyMeta(r.Metadata)})
	}
	if len(records) > 0 {
		s.dirty[collection] = true
	}
	return nil
}

func (s *HNSWStore) Delete(_ context.Context, collection string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(BackendHNSW)
	}

	c, ok := s.collections[collection]
	if !ok {
		return nil
	}
	for _, id := range ids {
		c.remove(id)
	}
	if len(ids) > 0 {
		s.dirty[collection] = true
	}
	return nil
}

// Query searches the graph, widening the candidate set until topK
// filtered matches are found. Once the candidate set covers the whole
// graph it falls back to an exact scan so filtered queries never miss.
func (s *HNSWStore) Query(_ context.Context, collection string, vector []float32, topK int, filter Filter) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed(BackendHNSW)
	}

	c, ok := s.collections[collection]
	if !ok {
		return []Match{}, nil
	}
	if err := checkDimension(c.dim, vector); err != nil {
		return nil, err
	}
	if topK <= 0 || len(c.idMap) == 0 {
		return []Match{}, nil
	}

	query := copyVector(vector)
	normalizeVectorInPlace(query)

	total := c.graph.Len()
	k := topK + c.orphans()
	if !filter.Empty() {
		k *= 4
	}
	for k < total {
		matches := c.collect(query, c.graph.Search(query, k), filter)
		if len(matches) >= topK {
			return rank(matches, topK), nil
		}
		k *= 2
	}
	return rank(c.scan(query, filter), topK), nil
}

func (c *hnswCollection) collect(query []float32, nodes []hnsw.Node[uint64], filter Filter) []Match {
	matches := make([]Match, 0, len(nodes))
	for _, node := range nodes {
		id, ok := c.keyMap[node.Key]
		if !ok {
			continue
		}
		e := c.entries[id]
		if !filter.Matches(e.Metadata) {
			continue
		}
		matches = append(matches, Match{ID: id, Score: cosine(query, e.Vector), Metadata: copyMeta(e.Metadata)})
	}
	return matches
}

func (c *hnswCollection) scan(query []float32, filter Filter) []Match {
	matches := make([]Match, 0)
	for id, e := range c.entries {
		if filter.Matches(e.Metadata) {
			matches = append(matches, Match{ID: id, Score: cosine(query, e.Vector), Metadata: copyMeta(e.Metadata)})
		}
	}
	return matches
}

func (s *HNSWStore) IDs(_ context.Context, collection string, filter Filter) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed(BackendHNSW)
	}

	var ids []string
	if c, ok := s.collections[collection]; ok {
		for id, e := range c.entries {
			if filter.Matches(e.Metadata) {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *HNSWStore) Stats(_ context.Context, collection string) (CollectionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return CollectionStats{}, errClosed(BackendHNSW)
	}

	c, ok := s.collections[collection]
	if !ok {
		return CollectionStats{Name: collection}, nil
	}
	return CollectionStats{Name: collection, Exists: true, Dimension: c.dim, Count: len(c.idMap)}, nil
}

// Flush compacts and persists every collection changed since the last flush.
func (s *HNSWStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(BackendHNSW)
	}
	return s.flushLocked()
}

func (s *HNSWStore) flushLocked() error {
	for name := range s.dirty {
		c := s.collections[name]
		if c.orphans() > len(c.idMap) {
			s.collections[name] = s.rebuild(c)
			slog.Debug("hnsw_collection_compacted",
				slog.String("collection", name),
				slog.Int("orphans", c.orphans()))
		}
		if s.dir != "" {
			if err := s.save(name, s.collections[name]); err != nil {
				return err
			}
		}
		delete(s.dirty, name)
	}
	return nil
}

// rebuild creates a fresh graph holding only live entries.
func (s *HNSWStore) rebuild(c *hnswCollection) *hnswCollection {
	fresh := s.newCollection(c.dim)
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fresh.add(id, c.entries[id])
	}
	return fresh
}

func (s *HNSWStore) path(collection string) string {
	return filepath.Join(s.dir, url.PathEscape(collection)+hnswFileExt)
}

// save writes the snapshot atomically (temp file + rename).
func (s *HNSWStore) save(name string, c *hnswCollection) error {
	var buf bytes.Buffer
	snap := hnswSnapshot{Version: hnswSnapshotVersion, Dimension: c.dim, Entries: c.entries}
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("encode hnsw snapshot: %w", err)
	}
	if err := renameio.WriteFile(s.path(name), buf.Bytes(), 0o644); err != nil {
		return crerrors.BackendUnavailable(BackendHNSW, err)
	}
	return nil
}

func (s *HNSWStore) load(file string) (*hnswCollection, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var snap hnswSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode hnsw snapshot: %w", err)
	}
	if snap.Version != hnswSnapshotVersion {
		return nil, fmt.Errorf("unsupported hnsw snapshot version %d", snap.Version)
	}

	c := s.newCollection(snap.Dimension)
	ids := make([]string, 0, len(snap.Entries))
	for id := range snap.Entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		e := snap.Entries[id]
		if e.Metadata == nil {
			e.Metadata = map[string]string{}
		}
		c.add(id, e)
	}
	return c, nil
}

// Close flushes pending writes and releases the graphs.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.flushLocked()
	s.closed = true
	s.collections = nil
	return err
}
