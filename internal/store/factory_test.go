package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/coderecall/internal/config"
	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
)

func TestNew_Backends(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     config.VectorStoreConfig
		backend string
	}{
		{"memory", config.VectorStoreConfig{Backend: "memory"}, BackendMemory},
		{"hnsw", config.VectorStoreConfig{Backend: "hnsw", Path: filepath.Join(dir, "hnsw")}, BackendHNSW},
		{"default is hnsw", config.VectorStoreConfig{}, BackendHNSW},
		{"sqlite", config.VectorStoreConfig{Backend: "SQLite", Path: filepath.Join(dir, "v.db")}, BackendSQLite},
		{"qdrant is lazy", config.VectorStoreConfig{Backend: "qdrant", Qdrant: config.QdrantConfig{Host: "127.0.0.1", Port: 1}}, BackendQdrant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs, err := New(tt.cfg)
			require.NoError(t, err)
			defer func() { _ = vs.Close() }()
			assert.Equal(t, tt.backend, vs.Backend())
		})
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(config.VectorStoreConfig{Backend: "faiss"})

	require.Error(t, err)
	re, ok := crerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, crerrors.ErrCodeUnknownBackend, re.Code)
	assert.Contains(t, re.Suggestion, "qdrant")
}

// flakyStore fails the first n writes with BackendUnavailable.
type flakyStore struct {
	*MemoryStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return crerrors.BackendUnavailable("flaky", errors.New("connection refused"))
	}
	return nil
}

func (f *flakyStore) Upsert(ctx context.Context, collection string, records []Record) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.MemoryStore.Upsert(ctx, collection, records)
}

func (f *flakyStore) Delete(ctx context.Context, collection string, ids []string) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.MemoryStore.Delete(ctx, collection, ids)
}

func TestUpsertBatches_RetriesUnavailable(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2}
	require.NoError(t, fs.EnsureCollection(ctx, "code", 3))

	records := []Record{
		rec("a", "r1", "go", "a.go", 1, vec(1, 0, 0)),
		rec("b", "r1", "go", "b.go", 1, vec(0, 1, 0)),
		rec("c", "r1", "go", "c.go", 1, vec(0, 0, 1)),
	}
	err := UpsertBatches(ctx, fs, "code", records, WriteOptions{BatchSize: 2, MaxRetries: 3, InitialDelay: time.Millisecond})

	require.NoError(t, err)
	stats, err := fs.Stats(ctx, "code")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 4, fs.calls)
}

func TestUpsertBatches_GivesUp(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{MemoryStore: NewMemoryStore(), failures: 10}
	require.NoError(t, fs.EnsureCollection(ctx, "code", 3))

	err := UpsertBatches(ctx, fs, "code", []Record{rec("a", "r1", "go", "a.go", 1, vec(1, 0, 0))},
		WriteOptions{MaxRetries: 1, InitialDelay: time.Millisecond})

	require.Error(t, err)
	assert.True(t, errors.Is(err, crerrors.ErrBackendUnavailable))
	assert.Equal(t, 2, fs.calls)
}

func TestUpsertBatches_DoesNotRetryDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{MemoryStore: NewMemoryStore()}
	require.NoError(t, fs.EnsureCollection(ctx, "code", 3))

	err := UpsertBatches(ctx, fs, "code", []Record{rec("a", "r1", "go", "a.go", 1, vec(1, 0))},
		WriteOptions{MaxRetries: 3, InitialDelay: time.Millisecond})

	assert.True(t, errors.Is(err, crerrors.ErrDimensionMismatch))
	assert.Equal(t, 1, fs.calls)
}

func TestDeleteBatches(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{MemoryStore: NewMemoryStore()}
	require.NoError(t, fs.EnsureCollection(ctx, "code", 3))
	require.NoError(t, fs.MemoryStore.Upsert(ctx, "code", []Record{
		rec("a", "r1", "go", "a.go", 1, vec(1, 0, 0)),
		rec("b", "r1", "go", "b.go", 1, vec(0, 1, 0)),
		rec("c", "r1", "go", "c.go", 1, vec(0, 0, 1)),
	}))
	fs.failures = 1

	err := DeleteBatches(ctx, fs, "code", []string{"a", "b", "missing"}, WriteOptions{BatchSize: 2, MaxRetries: 2, InitialDelay: time.Millisecond})

	require.NoError(t, err)
	got, err := fs.IDs(ctx, "code", Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, got)
}
