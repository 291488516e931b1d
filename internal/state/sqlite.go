package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS repo_states (
	repo_id    TEXT PRIMARY KEY,
	last_ref   TEXT NOT NULL,
	indexed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS repo_files (
	repo_id TEXT NOT NULL,
	path    TEXT NOT NULL,
	hash    TEXT NOT NULL,
	PRIMARY KEY (repo_id, path)
);

CREATE TABLE IF NOT EXISTS file_chunks (
	repo_id  TEXT NOT NULL,
	path     TEXT NOT NULL,
	ordinal  INTEGER NOT NULL,
	chunk_id TEXT NOT NULL,
	PRIMARY KEY (repo_id, path, ordinal)
);
`

// SQLiteStore keeps repository state in three tables. Save replaces every
// row for the repository inside one transaction.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = FULL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, repoID string) (*RepoState, bool, error) {
	st := NewRepoState(repoID)

	var indexedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_ref, indexed_at FROM repo_states WHERE repo_id = ?`, repoID).
		Scan(&st.LastRef, &indexedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeError("read", err)
	}
	if indexedAt != 0 {
		st.IndexedAt = time.Unix(0, indexedAt).UTC()
	}

	rows, err := s.db.QueryContext(ctx, `SELECT path, hash FROM repo_files WHERE repo_id = ?`, repoID)
	if err != nil {
		return nil, false, storeError("read", err)
	}
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			_ = rows.Close()
			return nil, false, storeError("read", err)
		}
		st.FileHashes[path] = hash
	}
	if err := rows.Close(); err != nil {
		return nil, false, storeError("read", err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT path, chunk_id FROM file_chunks WHERE repo_id = ? ORDER BY path, ordinal`, repoID)
	if err != nil {
		return nil, false, storeError("read", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var path, id string
		if err := rows.Scan(&path, &id); err != nil {
			return nil, false, storeError("read", err)
		}
		st.FileChunks[path] = append(st.FileChunks[path], id)
	}
	if err := rows.Err(); err != nil {
		return nil, false, storeError("read", err)
	}
	return st, true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, st *RepoState) error {
	if err := st.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("write", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteRepo(ctx, tx, st.RepoID); err != nil {
		return storeError("write", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO repo_states (repo_id, last_ref, indexed_at) VALUES (?, ?, ?)`,
		st.RepoID, st.LastRef, unixNanos(st.IndexedAt)); err != nil {
		return storeError("write", err)
	}

	fileStmt, err := tx.PrepareContext(ctx, `INSERT INTO repo_files (repo_id, path, hash) VALUES (?, ?, ?)`)
	if err != nil {
		return storeError("write", err)
	}
	defer func() { _ = fileStmt.Close() }()
	chunkStmt, err := tx.PrepareContext(ctx, `INSERT INTO file_chunks (repo_id, path, ordinal, chunk_id) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return storeError("write", err)
	}
	defer func() { _ = chunkStmt.Close() }()

	paths := make([]string, 0, len(st.FileHashes))
	for path := range st.FileHashes {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		if _, err := fileStmt.ExecContext(ctx, st.RepoID, path, st.FileHashes[path]); err != nil {
			return storeError("write", err)
		}
		for i, id := range st.FileChunks[path] {
			if _, err := chunkStmt.ExecContext(ctx, st.RepoID, path, i, id); err != nil {
				return storeError("write", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return storeError("commit", err)
	}
	return nil
}

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func deleteRepo(ctx context.Context, tx *sql.Tx, repoID string) error {
	for _, table := range []string{"file_chunks", "repo_files", "repo_states"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE repo_id = ?`, repoID); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, repoID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("delete", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := deleteRepo(ctx, tx, repoID); err != nil {
		return storeError("delete", err)
	}
	if err := tx.Commit(); err != nil {
		return storeError("delete", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT repo_id FROM repo_states ORDER BY repo_id`)
	if err != nil {
		return nil, storeError("list", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeError("list", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
