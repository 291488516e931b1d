package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
)

const stateFileExt = ".json"

// FileStore keeps one JSON document per repository under a directory.
// Writes go through a temp file and rename, so a crash leaves either the
// old or the new document.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(repoID string) string {
	return filepath.Join(s.dir, url.PathEscape(repoID)+stateFileExt)
}

func (s *FileStore) Load(ctx context.Context, repoID string) (*RepoState, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(s.path(repoID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeError("read", err)
	}

	st := NewRepoState(repoID)
	if err := json.Unmarshal(data, st); err != nil {
		return nil, false, crerrors.New(crerrors.ErrCodeStateCorrupt,
			fmt.Sprintf("failed to parse state for %q", repoID), err).
			WithSuggestion("Delete the state file and re-index with --force")
	}
	if st.FileHashes == nil {
		st.FileHashes = make(map[string]string)
	}
	if st.FileChunks == nil {
		st.FileChunks = make(map[string][]string)
	}
	return st, true, nil
}

func (s *FileStore) Save(ctx context.Context, st *RepoState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := st.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := renameio.WriteFile(s.path(st.RepoID), data, 0o644); err != nil {
		return storeError("write", err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, repoID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(repoID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return storeError("delete", err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, storeError("list", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, stateFileExt) {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(name, stateFileExt))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileStore) Close() error { return nil }
