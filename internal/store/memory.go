package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an exact, brute-force vector store held in memory.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	closed      bool
}

type memCollection struct {
	dim     int
	records map[string]Record
}

var _ VectorStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (s *MemoryStore) Backend() string { return BackendMemory }

func (s *MemoryStore) EnsureCollection(_ context.Context, collection string, dimension int) error {
	if dimension <= 0 {
		return invalidInput("dimension must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(BackendMemory)
	}

	if c, ok := s.collections[collection]; ok {
		if c.dim != dimension {
			return dimensionConflict(c.dim, dimension)
		}
		return nil
	}
	s.collections[collection] = &memCollection{dim: dimension, records: make(map[string]Record)}
	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, collection string, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(BackendMemory)
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
		c.records[r.ID] = Record{ID: r.ID, Vector: copyVector(r.Vector), Metadata: copyMeta(r.Metadata)}
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, collection string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed(BackendMemory)
	}

	if c, ok := s.collections[collection]; ok {
		for _, id := range ids {
			delete(c.records, id)
		}
	}
	return nil
}

func (s *MemoryStore) Query(_ context.Context, collection string, vector []float32, topK int, filter Filter) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed(BackendMemory)
	}

	c, ok := s.collections[collection]
	if !ok {
		return []Match{}, nil
	}
	if err := checkDimension(c.dim, vector); err != nil {
		return nil, err
	}

	matches := make([]Match, 0)
	for _, r := range c.records {
		if !filter.Matches(r.Metadata) {
			continue
		}
		matches = append(matches, Match{ID: r.ID, Score: cosine(vector, r.Vector), Metadata: copyMeta(r.Metadata)})
	}
	return rank(matches, topK), nil
}

func (s *MemoryStore) IDs(_ context.Context, collection string, filter Filter) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed(BackendMemory)
	}

	var ids []string
	if c, ok := s.collections[collection]; ok {
		for id, r := range c.records {
			if filter.Matches(r.Metadata) {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Stats(_ context.Context, collection string) (CollectionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return CollectionStats{}, errClosed(BackendMemory)
	}

	c, ok := s.collections[collection]
	if !ok {
		return CollectionStats{Name: collection}, nil
	}
	return CollectionStats{Name: collection, Exists: true, Dimension: c.dim, Count: len(c.records)}, nil
}

func (s *MemoryStore) Flush(context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
