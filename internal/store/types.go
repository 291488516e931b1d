// Package store provides the vector store abstraction and its backends:
// an in-memory reference store, an embedded HNSW graph, an embedded SQLite
// table and a remote Qdrant collection. Every backend honors the same
// semantics, enforced by a shared conformance suite.
package store

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Metadata keys written by the indexer and understood by filters.
const (
	MetaRepository = "repository"
	MetaPath       = "path"
	MetaLanguage   = "language"
	MetaSymbol     = "symbol"
	MetaCommitRef  = "commit_ref"
	MetaStartLine  = "start_line"
	MetaEndLine    = "end_line"
	MetaIndexedAt  = "indexed_at"
	MetaEmbedding  = "embedding"
	MetaSymbolType = "symbol_type"
	MetaContent    = "content"
)

// EmbeddingFallback is the embedding metadata value of fallback vectors.
const EmbeddingFallback = "fallback"

// FormatIndexedAt encodes t for the indexed_at metadata key.
func FormatIndexedAt(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

// Record is one vector with its chunk id and metadata.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Filter restricts queries. All Equals entries must match exactly and,
// when PathPrefix is set, the "path" metadata must start with it.
type Filter struct {
	Equals     map[string]string
	PathPrefix string
}

// RepositoryFilter matches every record of one repository.
func RepositoryFilter(repoID string) Filter {
	return Filter{Equals: map[string]string{MetaRepository: repoID}}
}

// Empty reports whether the filter matches everything.
func (f Filter) Empty() bool {
	return len(f.Equals) == 0 && f.PathPrefix == ""
}

// Matches reports whether metadata satisfies the filter.
func (f Filter) Matches(meta map[string]string) bool {
	for k, v := range f.Equals {
		if meta[k] != v {
			return false
		}
	}
	if f.PathPrefix != "" && !strings.HasPrefix(meta[MetaPath], f.PathPrefix) {
		return false
	}
	return true
}

// Match is one query hit. Score is cosine similarity in [-1, 1].
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]string
}

// CollectionStats describes a collection. Exists is false for a
// collection that was never created.
type CollectionStats struct {
	Name      string
	Exists    bool
	Dimension int
	Count     int
}

// VectorStore is the backend-agnostic vector store. Upsert and Delete are
// idempotent, deleting a missing id or querying a missing collection is
// not an error, and filters apply before ranking.
type VectorStore interface {
	// Backend returns the backend name.
	Backend() string

	// EnsureCollection creates the collection when missing. An existing
	// collection with a different dimension is a DimensionMismatch.
	EnsureCollection(ctx context.Context, collection string, dimension int) error

	// Upsert inserts or overwrites records by id.
	Upsert(ctx context.Context, collection string, records []Record) error

	// Delete removes records by id.
	Delete(ctx context.Context, collection string, ids []string) error

	// Query returns up to topK matches ordered by score, then by most
	// recent indexed_at, then by id.
	Query(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]Match, error)

	// IDs lists the ids of records matching filter.
	IDs(ctx context.Context, collection string, filter Filter) ([]string, error)

	// Stats reports the collection's size and dimension.
	Stats(ctx context.Context, collection string) (CollectionStats, error)

	// Flush makes prior writes durable. Backends that persist on every
	// write return nil.
	Flush(ctx context.Context) error

	// Close flushes and releases resources.
	Close() error
}

// rank sorts matches by score, then newest indexed_at, then id, and
// truncates to topK.
func rank(matches []Match, topK int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		ti, tj := indexedAt(matches[i].Metadata), indexedAt(matches[j].Metadata)
		if ti != tj {
			return ti > tj
		}
		return matches[i].ID < matches[j].ID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

func indexedAt(meta map[string]string) int64 {
	n, _ := strconv.ParseInt(meta[MetaIndexedAt], 10, 64)
	return n
}

// cosine returns the cosine similarity of a and b, 0 for zero vectors.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

func copyMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
