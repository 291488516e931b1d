package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // pure Go SQLite driver, registers "sqlite"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS collections (
	name      TEXT PRIMARY KEY,
	dimension INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS vectors (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	repository TEXT NOT NULL DEFAULT '',
	language   TEXT NOT NULL DEFAULT '',
	path       TEXT NOT NULL DEFAULT '',
	vector     BLOB NOT NULL,
	metadata   TEXT NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_vectors_repo ON vectors(collection, repository, language);
`

// SQLiteStore keeps vectors in a SQLite table and ranks filtered rows by
// exact cosine similarity. Repository, language and path are columns so
// common filters narrow the scan in SQL.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ VectorStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path. ":memory:" is
// accepted for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
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

	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Backend() string { return BackendSQLite }

func (s *SQLiteStore) dimension(ctx context.Context, collection string) (int, bool, error) {
	var dim int
	err := s.db.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, collection).Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, crerrors.BackendUnavailable(BackendSQLite, err)
	}
	return dim, true, nil
}

func (s *SQLiteStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	if dimension <= 0 {
		return invalidInput("dimension must be positive")
	}
	dim, ok, err := s.dimension(ctx, collection)
	if err != nil {
		return err
	}
	if ok {
		if dim != dimension {
			return dimensionConflict(dim, dimension)
		}
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO collections (name, dimension) VALUES (?, ?)`, collection, dimension); err != nil {
		return crerrors.BackendUnavailable(BackendSQLite, err)
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, collection string, records []Record) error {
	dim, ok, err := s.dimension(ctx, collection)
	if err != nil {
		return err
	}
	if !ok {
		return collectionNotFound(collection)
	}
	for _, r := range records {
		if err := checkDimension(dim, r.Vector); err != nil {
			return err
		}
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return crerrors.BackendUnavailable(BackendSQLite, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (collection, id, repository, language, path, vector, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			repository = excluded.repository,
			language   = excluded.language,
			path       = excluded.path,
			vector     = excluded.vector,
			metadata   = excluded.metadata`)
	if err != nil {
		return crerrors.BackendUnavailable(BackendSQLite, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, collection, r.ID,
			r.Metadata[MetaRepository], r.Metadata[MetaLanguage], r.Metadata[MetaPath],
			encodeVector(r.Vector), string(meta)); err != nil {
			return crerrors.BackendUnavailable(BackendSQLite, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return crerrors.BackendUnavailable(BackendSQLite, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection string, ids []string) error {
	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		batch := ids[start:end]

		args := make([]any, 0, len(batch)+1)
		args = append(args, collection)
		for _, id := range batch {
			args = append(args, id)
		}
		query := `DELETE FROM vectors WHERE collection = ? AND id IN (?` + strings.Repeat(",?", len(batch)-1) + `)`
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return crerrors.BackendUnavailable(BackendSQLite, err)
		}
	}
	return nil
}

// where builds the SQL prefilter for f. Remaining keys are checked in Go.
func where(collection string, f Filter) (string, []any) {
	clauses := []string{"collection = ?"}
	args := []any{collection}
	for _, key := range []string{MetaRepository, MetaLanguage} {
		if v, ok := f.Equals[key]; ok {
			clauses = append(clauses, key+" = ?")
			args = append(args, v)
		}
	}
	if f.PathPrefix != "" {
		clauses = append(clauses, "substr(path, 1, ?) = ?")
		args = append(args, len(f.PathPrefix), f.PathPrefix)
	}
	return strings.Join(clauses, " AND "), args
}

func (s *SQLiteStore) Query(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]Match, error) {
	dim, ok, err := s.dimension(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Match{}, nil
	}
	if err := checkDimension(dim, vector); err != nil {
		return nil, err
	}

	cond, args := where(collection, filter)
	rows, err := s.db.QueryContext(ctx, `SELECT id, vector, metadata FROM vectors WHERE `+cond, args...)
	if err != nil {
		return nil, crerrors.BackendUnavailable(BackendSQLite, err)
	}
	defer func() { _ = rows.Close() }()

	matches := make([]Match, 0)
	for rows.Next() {
		var (
			id, metaJSON string
			blob         []byte
		)
		if err := rows.Scan(&id, &blob, &metaJSON); err != nil {
			return nil, crerrors.BackendUnavailable(BackendSQLite, err)
		}
		meta := map[string]string{}
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", id, err)
		}
		if !filter.Matches(meta) {
			continue
		}
		matches = append(matches, Match{ID: id, Score: cosine(vector, decodeVector(blob)), Metadata: meta})
	}
	if err := rows.Err(); err != nil {
		return nil, crerrors.BackendUnavailable(BackendSQLite, err)
	}
	return rank(matches, topK), nil
}

func (s *SQLiteStore) IDs(ctx context.Context, collection string, filter Filter) ([]string, error) {
	cond, args := where(collection, filter)
	rows, err := s.db.QueryContext(ctx, `SELECT id, metadata FROM vectors WHERE `+cond, args...)
	if err != nil {
		return nil, crerrors.BackendUnavailable(BackendSQLite, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id, metaJSON string
		if err := rows.Scan(&id, &metaJSON); err != nil {
			return nil, crerrors.BackendUnavailable(BackendSQLite, err)
		}
		meta := map[string]string{}
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", id, err)
		}
		if filter.Matches(meta) {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, crerrors.BackendUnavailable(BackendSQLite, err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *SQLiteStore) Stats(ctx context.Context, collection string) (CollectionStats, error) {
	dim, ok, err := s.dimension(ctx, collection)
	if err != nil {
		return CollectionStats{}, err
	}
	if !ok {
		return CollectionStats{Name: collection}, nil
	}
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vectors WHERE collection = ?`, collection).Scan(&count); err != nil {
		return CollectionStats{}, crerrors.BackendUnavailable(BackendSQLite, err)
	}
	return CollectionStats{Name: collection, Exists: true, Dimension: dim, Count: count}, nil
}

// Flush is a no-op; every write commits its own transaction.
func (s *SQLiteStore) Flush(context.Context) error { return nil }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// encodeVector packs float32 values little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
