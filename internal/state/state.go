// Package state persists one RepoState per repository: the last indexed
// reference, the content hash of every indexed file and the chunk ids each
// file owns in the vector store. A RepoState is always replaced wholesale;
// readers never observe a partially written record.
package state

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/coderecall/internal/config"
	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
)

// Backend names accepted by New.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// HealthRepoID is reserved for store round-trip probes.
const HealthRepoID = "__health__"

// RepoState is the durable record of what has been indexed for a repository.
type RepoState struct {
	RepoID     string              `json:"repo_id"`
	LastRef    string              `json:"last_ref"`
	FileHashes map[string]string   `json:"file_hashes"`
	FileChunks map[string][]string `json:"file_chunks"`
	IndexedAt  time.Time           `json:"indexed_at"`
}

// NewRepoState returns an empty state for repoID.
func NewRepoState(repoID string) *RepoState {
	return &RepoState{
		RepoID:     repoID,
		FileHashes: make(map[string]string),
		FileChunks: make(map[string][]string),
	}
}

// OwnedChunkIDs returns every chunk id owned by the repository, sorted.
func (s *RepoState) OwnedChunkIDs() []string {
	var ids []string
	for _, chunks := range s.FileChunks {
		ids = append(ids, chunks...)
	}
	sort.Strings(ids)
	return slices.Compact(ids)
}

// ChunkOwners maps each owned chunk id to its file path.
func (s *RepoState) ChunkOwners() map[string]string {
	owner := make(map[string]string)
	for path, chunks := range s.FileChunks {
		for _, id := range chunks {
			owner[id] = path
		}
	}
	return owner
}

// Clone returns a deep copy.
func (s *RepoState) Clone() *RepoState {
	c := &RepoState{
		RepoID:     s.RepoID,
		LastRef:    s.LastRef,
		FileHashes: maps.Clone(s.FileHashes),
		FileChunks: make(map[string][]string, len(s.FileChunks)),
		IndexedAt:  s.IndexedAt,
	}
	if c.FileHashes == nil {
		c.FileHashes = make(map[string]string)
	}
	for path, ids := range s.FileChunks {
		c.FileChunks[path] = slices.Clone(ids)
	}
	return c
}

// Validate checks that every file with chunks also has a hash.
func (s *RepoState) Validate() error {
	if strings.TrimSpace(s.RepoID) == "" {
		return crerrors.ValidationError("repo id must not be empty", nil)
	}
	for path := range s.FileChunks {
		if _, ok := s.FileHashes[path]; !ok {
			return crerrors.New(crerrors.ErrCodeStateCorrupt,
				fmt.Sprintf("chunks recorded for %q without a file hash", path), nil).
				WithDetail("repository", s.RepoID)
		}
	}
	return nil
}

// Store persists RepoState records keyed by repository id.
type Store interface {
	// Load returns the stored state, or ok=false when none exists.
	Load(ctx context.Context, repoID string) (st *RepoState, ok bool, err error)
	// Save atomically replaces the state for st.RepoID.
	Save(ctx context.Context, st *RepoState) error
	// Delete removes the state; deleting a missing repository is not an error.
	Delete(ctx context.Context, repoID string) error
	// List returns every stored repository id, sorted.
	List(ctx context.Context) ([]string, error)
	Close() error
}

// New opens the configured state store.
func New(cfg config.StateConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendSQLite, "":
		return NewSQLiteStore(cfg.Path)
	case BackendFile:
		return NewFileStore(cfg.Path)
	default:
		return nil, crerrors.New(crerrors.ErrCodeUnknownBackend,
			fmt.Sprintf("unknown state backend %q", cfg.Backend), nil).
			WithSuggestion("Use one of: sqlite, file")
	}
}

func storeError(op string, err error) error {
	return crerrors.New(crerrors.ErrCodeStateStore, "state store "+op+" failed", err)
}
