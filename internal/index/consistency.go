package index

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/Aman-CERP/coderecall/internal/state"
	"github.com/Aman-CERP/coderecall/internal/store"
)

// InconsistencyType categorizes a difference between RepoState and the
// vector store.
type InconsistencyType int

const (
	// InconsistencyOrphanVector is a stored vector the state does not own.
	InconsistencyOrphanVector InconsistencyType = iota
	// InconsistencyMissingVector is an owned chunk absent from the store.
	InconsistencyMissingVector
)

func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingVector:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected difference.
type Inconsistency struct {
	Type    InconsistencyType
	ChunkID string
	// Path is the owning file for missing vectors.
	Path string
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	Checked         int
	Inconsistencies []Inconsistency
	// Present holds every chunk id the store has for the repository.
	Present  map[string]bool
	Duration time.Duration
}

// Orphans returns the orphaned chunk ids, sorted.
func (r *CheckResult) Orphans() []string {
	return r.ids(InconsistencyOrphanVector)
}

// Missing returns the missing chunk ids, sorted.
func (r *CheckResult) Missing() []string {
	return r.ids(InconsistencyMissingVector)
}

// MissingFiles returns the files owning at least one missing chunk, sorted.
func (r *CheckResult) MissingFiles() []string {
	seen := make(map[string]bool)
	var files []string
	for _, in := range r.Inconsistencies {
		if in.Type == InconsistencyMissingVector && !seen[in.Path] {
			seen[in.Path] = true
			files = append(files, in.Path)
		}
	}
	sort.Strings(files)
	return files
}

func (r *CheckResult) ids(t InconsistencyType) []string {
	var ids []string
	for _, in := range r.Inconsistencies {
		if in.Type == t {
			ids = append(ids, in.ChunkID)
		}
	}
	sort.Strings(ids)
	return ids
}

// ConsistencyChecker compares a repository's owned chunk ids with the
// vector store. RepoState is the source of truth.
type ConsistencyChecker struct {
	vectors    store.VectorStore
	collection string
}

// NewConsistencyChecker creates a checker for one collection.
func NewConsistencyChecker(vectors store.VectorStore, collection string) *ConsistencyChecker {
	return &ConsistencyChecker{vectors: vectors, collection: collection}
}

// Check lists the repository's stored ids and diffs them against st.
// A nil st owns nothing, so every stored id is an orphan.
func (c *ConsistencyChecker) Check(ctx context.Context, repoID string, st *state.RepoState) (*CheckResult, error) {
	start := time.Now()

	ids, err := c.vectors.IDs(ctx, c.collection, store.RepositoryFilter(repoID))
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}

	owners := map[string]string{}
	if st != nil {
		owners = st.ChunkOwners()
	}

	var issues []Inconsistency
	for _, id := range ids {
		if _, ok := owners[id]; !ok {
			issues = append(issues, Inconsistency{Type: InconsistencyOrphanVector, ChunkID: id})
		}
	}
	for id, path := range owners {
		if !present[id] {
			issues = append(issues, Inconsistency{Type: InconsistencyMissingVector, ChunkID: id, Path: path})
		}
	}

	return &CheckResult{
		Checked:         len(owners),
		Inconsistencies: issues,
		Present:         present,
		Duration:        time.Since(start),
	}, nil
}

// Repair deletes orphaned vectors. Missing vectors are healed by the next
// index run, which re-processes their files.
func (c *ConsistencyChecker) Repair(ctx context.Context, repoID string, result *CheckResult, opts store.WriteOptions) (int, error) {
	orphans := result.Orphans()
	if len(orphans) > 0 {
		if err := store.DeleteBatches(ctx, c.vectors, c.collection, orphans, opts); err != nil {
			return 0, err
		}
		if err := c.vectors.Flush(ctx); err != nil {
			return 0, err
		}
		slog.Info("orphan_vectors_deleted",
			slog.String("repository", repoID),
			slog.Int("count", len(orphans)))
	}

	if missing := result.Missing(); len(missing) > 0 {
		slog.Warn("vectors_missing",
			slog.String("repository", repoID),
			slog.Int("missing_count", len(missing)),
			slog.Int("files", len(result.MissingFiles())))
	}
	return len(orphans), nil
}
