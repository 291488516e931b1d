package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
)

const testCollection = "conformance"

func vec(xs ...float32) []float32 { return xs }

func rec(id, repo, lang, path string, indexedAt int, v []float32) Record {
	return Record{
		ID:     id,
		Vector: v,
		Metadata: map[string]string{
			MetaRepository: repo,
			MetaLanguage:   lang,
			MetaPath:       path,
			MetaIndexedAt:  fmt.Sprint(indexedAt),
		},
	}
}

func ids(matches []Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.ID
	}
	return out
}

// runConformance checks the semantics every backend must share.
func runConformance(t *testing.T, open func(t *testing.T) VectorStore) {
	ctx := context.Background()

	setup := func(t *testing.T) VectorStore {
		t.Helper()
		vs := open(t)
		require.NoError(t, vs.EnsureCollection(ctx, testCollection, 3))
		return vs
	}

	t.Run("ensure collection is idempotent", func(t *testing.T) {
		vs := setup(t)
		assert.NoError(t, vs.EnsureCollection(ctx, testCollection, 3))

		err := vs.EnsureCollection(ctx, testCollection, 4)
		assert.True(t, errors.Is(err, crerrors.ErrDimensionMismatch))
	})

	t.Run("upsert overwrites by id", func(t *testing.T) {
		vs := setup(t)
		require.NoError(t, vs.Upsert(ctx, testCollection, []Record{rec("a", "r1", "go", "a.go", 1, vec(1, 0, 0))}))
		require.NoError(t, vs.Upsert(ctx, testCollection, []Record{rec("a", "r1", "go", "b.go", 2, vec(0, 1, 0))}))

		stats, err := vs.Stats(ctx, testCollection)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Count)
		assert.Equal(t, 3, stats.Dimension)
		assert.True(t, stats.Exists)

		got, err := vs.Query(ctx, testCollection, vec(0, 1, 0), 5, Filter{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "b.go", got[0].Metadata[MetaPath])
		assert.InDelta(t, 1.0, got[0].Score, 1e-5)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		vs := setup(t)
		require.NoError(t, vs.Upsert(ctx, testCollection, []Record{
			rec("a", "r1", "go", "a.go", 1, vec(1, 0, 0)),
			rec("b", "r1", "go", "b.go", 1, vec(0, 1, 0)),
		}))

		require.NoError(t, vs.Delete(ctx, testCollection, []string{"a", "missing"}))
		require.NoError(t, vs.Delete(ctx, testCollection, []string{"a"}))
		require.NoError(t, vs.Delete(ctx, "no-such-collection", []string{"a"}))

		got, err := vs.IDs(ctx, testCollection, Filter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, got)
	})

	t.Run("filters apply before ranking", func(t *testing.T) {
		vs := setup(t)
		require.NoError(t, vs.Upsert(ctx, testCollection, []Record{
			rec("best-other-repo", "r2", "go", "x.go", 1, vec(1, 0, 0)),
			rec("py", "r1", "python", "src/y.py", 1, vec(0.9, 0.1, 0)),
			rec("go-src", "r1", "go", "src/z.go", 1, vec(0.5, 0.5, 0)),
			rec("go-test", "r1", "go", "test/z.go", 1, vec(0.6, 0.4, 0)),
		}))

		got, err := vs.Query(ctx, testCollection, vec(1, 0, 0), 10, RepositoryFilter("r1"))
		require.NoError(t, err)
		assert.Equal(t, []string{"py", "go-test", "go-src"}, ids(got))
		for _, m := range got {
			assert.Equal(t, "r1", m.Metadata[MetaRepository])
		}

		got, err = vs.Query(ctx, testCollection, vec(1, 0, 0), 10, Filter{
			Equals: map[string]string{MetaRepository: "r1", MetaLanguage: "go"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"go-test", "go-src"}, ids(got))

		got, err = vs.Query(ctx, testCollection, vec(1, 0, 0), 10, Filter{PathPrefix: "src/"})
		require.NoError(t, err)
		assert.Equal(t, []string{"py", "go-src"}, ids(got))

		got, err = vs.Query(ctx, testCollection, vec(1, 0, 0), 1, RepositoryFilter("r1"))
		require.NoError(t, err)
		assert.Equal(t, []string{"py"}, ids(got))
	})

	t.Run("ties prefer most recently indexed", func(t *testing.T) {
		vs := setup(t)
		require.NoError(t, vs.Upsert(ctx, testCollection, []Record{
			rec("old", "r1", "go", "a.go", 100, vec(1, 0, 0)),
			rec("new", "r1", "go", "b.go", 200, vec(1, 0, 0)),
		}))

		got, err := vs.Query(ctx, testCollection, vec(1, 0, 0), 2, Filter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"new", "old"}, ids(got))
	})

	t.Run("missing collection queries are empty", func(t *testing.T) {
		vs := open(t)

		got, err := vs.Query(ctx, "nothing-here", vec(1, 0, 0), 5, Filter{})
		require.NoError(t, err)
		assert.Empty(t, got)

		stats, err := vs.Stats(ctx, "nothing-here")
		require.NoError(t, err)
		assert.False(t, stats.Exists)
		assert.Zero(t, stats.Count)
	})

	t.Run("empty filter result is not an error", func(t *testing.T) {
		vs := setup(t)
		require.NoError(t, vs.Upsert(ctx, testCollection, []Record{rec("a", "r1", "go", "a.go", 1, vec(1, 0, 0))}))

		got, err := vs.Query(ctx, testCollection, vec(1, 0, 0), 5, RepositoryFilter("other"))
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("dimension mismatch is rejected", func(t *testing.T) {
		vs := setup(t)

		err := vs.Upsert(ctx, testCollection, []Record{rec("a", "r1", "go", "a.go", 1, vec(1, 0))})
		assert.True(t, errors.Is(err, crerrors.ErrDimensionMismatch))

		_, err = vs.Query(ctx, testCollection, vec(1, 0, 0, 0), 5, Filter{})
		assert.True(t, errors.Is(err, crerrors.ErrDimensionMismatch))

		n, err := vs.IDs(ctx, testCollection, Filter{})
		require.NoError(t, err)
		assert.Empty(t, n, "a rejected batch writes nothing")
	})

	t.Run("upsert into missing collection fails", func(t *testing.T) {
		vs := open(t)
		err := vs.Upsert(ctx, "missing", []Record{rec("a", "r1", "go", "a.go", 1, vec(1, 0, 0))})
		assert.True(t, errors.Is(err, crerrors.ErrCollectionNotFound))
	})

	t.Run("ids by repository", func(t *testing.T) {
		vs := setup(t)
		require.NoError(t, vs.Upsert(ctx, testCollection, []Record{
			rec("c", "r1", "go", "a.go", 1, vec(1, 0, 0)),
			rec("a", "r1", "go", "b.go", 1, vec(0, 1, 0)),
			rec("b", "r2", "go", "c.go", 1, vec(0, 0, 1)),
		}))

		got, err := vs.IDs(ctx, testCollection, RepositoryFilter("r1"))
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, got)
		assert.NoError(t, vs.Flush(ctx))
	})
}

func TestMemoryStore_Conformance(t *testing.T) {
	runConformance(t, func(t *testing.T) VectorStore {
		vs := NewMemoryStore()
		t.Cleanup(func() { _ = vs.Close() })
		return vs
	})
}

func TestHNSWStore_Conformance(t *testing.T) {
	runConformance(t, func(t *testing.T) VectorStore {
		vs, err := NewHNSWStore(t.TempDir(), HNSWConfig{})
		require.NoError(t, err)
		t.Cleanup(func() { _ = vs.Close() })
		return vs
	})
}

func TestSQLiteStore_Conformance(t *testing.T) {
	runConformance(t, func(t *testing.T) VectorStore {
		vs, err := NewSQLiteStore(t.TempDir() + "/vectors.db")
		require.NoError(t, err)
		t.Cleanup(func() { _ = vs.Close() })
		return vs
	})
}
