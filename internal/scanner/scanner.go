package scanner

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

// ignoreCacheSize bounds the number of parsed .gitignore files kept in memory.
const ignoreCacheSize = 1000

// binarySniffLen is how much of a file is checked for NUL bytes.
const binarySniffLen = 8000

// Scanner discovers indexable files. It is safe for concurrent use and
// caches parsed .gitignore files across scans, keyed by path and mtime.
type Scanner struct {
	ignoreCache *lru.Cache[string, *ignoreMatcher]
}

// New creates a new Scanner instance.
func New() (*Scanner, error) {
	cache, err := lru.New[string, *ignoreMatcher](ignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitignore cache: %w", err)
	}
	return &Scanner{ignoreCache: cache}, nil
}

// Scan walks root and returns every indexable file with its content hash,
// sorted by path.
func (s *Scanner) Scan(ctx context.Context, root string, opts Options) ([]File, Stats, error) {
	var stats Stats

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to get absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, stats, fmt.Errorf("root path is not a directory: %s", absRoot)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	var found []File
	walkErr := filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if p == absRoot {
				return err
			}
			stats.Unreadable++
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(absRoot, p)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if s.excludedDir(rel, opts) || (opts.RespectGitignore && s.gitignored(absRoot, rel, true)) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || s.excludedFile(rel, opts) ||
			(opts.RespectGitignore && s.gitignored(absRoot, rel, false)) {
			stats.Skipped++
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			stats.Unreadable++
			return nil
		}
		if fi.Size() > maxSize {
			stats.TooLarge++
			slog.Debug("file_skipped_too_large",
				slog.String("path", rel),
				slog.Int64("size", fi.Size()),
				slog.Int64("max_size", maxSize))
			return nil
		}

		found = append(found, File{
			Path:     rel,
			AbsPath:  p,
			Size:     fi.Size(),
			Language: DetectLanguage(rel),
		})
		return nil
	})
	if walkErr != nil {
		return nil, stats, walkErr
	}

	files, err := s.hashAll(ctx, found, opts.Workers, &stats)
	if err != nil {
		return nil, stats, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, stats, nil
}

type hashOutcome int

const (
	hashOK hashOutcome = iota
	hashBinary
	hashUnreadable
)

func (s *Scanner) hashAll(ctx context.Context, files []File, workers int, stats *Stats) ([]File, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	outcomes := make([]hashOutcome, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			hash, binary, err := HashFile(files[i].AbsPath)
			switch {
			case err != nil:
				outcomes[i] = hashUnreadable
			case binary:
				outcomes[i] = hashBinary
			default:
				files[i].Hash = hash
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := files[:0]
	for i, f := range files {
		switch outcomes[i] {
		case hashBinary:
			stats.Binary++
		case hashUnreadable:
			stats.Unreadable++
		default:
			out = append(out, f)
		}
	}
	return out, nil
}

// HashFile returns the hex sha256 of a file and whether it looks binary.
func HashFile(p string) (string, bool, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return "", false, err
	}
	if isBinary(data) {
		return "", true, nil
	}
	return HashBytes(data), false, nil
}

// HashBytes returns the hex sha256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func isBinary(data []byte) bool {
	if len(data) > binarySniffLen {
		data = data[:binarySniffLen]
	}
	return bytes.IndexByte(data, 0) >= 0
}

// Ignored reports whether a scan of absRoot with opts would pass over rel,
// a slash-separated path relative to the root, either directly or because
// one of its parent directories is excluded.
func (s *Scanner) Ignored(absRoot, rel string, isDir bool, opts Options) bool {
	if rel == "" || rel == "." {
		return false
	}
	parts := splitPath(rel)
	acc := ""
	for i, part := range parts {
		acc = path.Join(acc, part)
		last := i == len(parts)-1
		if !last || isDir {
			if s.excludedDir(acc, opts) || (opts.RespectGitignore && s.gitignored(absRoot, acc, true)) {
				return true
			}
		}
	}
	if isDir {
		return false
	}
	return s.excludedFile(rel, opts) || (opts.RespectGitignore && s.gitignored(absRoot, rel, false))
}

func (s *Scanner) excludedDir(rel string, opts Options) bool {
	for _, pattern := range defaultExcludeDirs {
		if matchPattern(rel, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchPattern(rel, pattern) {
			return true
		}
	}
	return false
}

func (s *Scanner) excludedFile(rel string, opts Options) bool {
	for _, group := range [][]string{sensitiveFilePatterns, defaultExcludeFiles, opts.ExcludePatterns} {
		for _, pattern := range group {
			if matchPattern(rel, pattern) {
				return true
			}
		}
	}
	return false
}

// gitignored checks rel against the .gitignore of every ancestor directory.
func (s *Scanner) gitignored(absRoot, rel string, isDir bool) bool {
	dir := path.Dir(rel)
	ancestors := []string{""}
	if dir != "." {
		acc := ""
		for _, part := range splitPath(dir) {
			acc = path.Join(acc, part)
			ancestors = append(ancestors, acc)
		}
	}

	for _, base := range ancestors {
		m := s.matcherFor(filepath.Join(absRoot, filepath.FromSlash(base)))
		if m == nil {
			continue
		}
		sub := rel
		if base != "" {
			sub = rel[len(base)+1:]
		}
		if m.Match(sub, isDir) {
			return true
		}
	}
	return false
}

func (s *Scanner) matcherFor(dir string) *ignoreMatcher {
	file := filepath.Join(dir, ".gitignore")
	info, err := os.Stat(file)
	if err != nil {
		return nil
	}

	key := file + "@" + strconv.FormatInt(info.ModTime().UnixNano(), 10)
	if m, ok := s.ignoreCache.Get(key); ok {
		return m
	}

	m, err := loadIgnoreFile(file)
	if err != nil {
		return nil
	}
	s.ignoreCache.Add(key, m)
	return m
}

func splitPath(p string) []string {
	var parts []string
	for p != "." && p != "/" && p != "" {
		parts = append([]string{path.Base(p)}, parts...)
		p = path.Dir(p)
	}
	return parts
}

// Default directories to exclude.
var defaultExcludeDirs = []string{
	"**/.git/**",
	"**/.hg/**",
	"**/.svn/**",
	"**/.coderecall/**",
	"**/node_modules/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/.venv/**",
	"**/dist/**",
	"**/build/**",
	"**/target/**",
	"**/.aws/**",
	"**/.ssh/**",
}

// Default files to exclude.
var defaultExcludeFiles = []string{
	"**/*.min.js",
	"**/*.min.css",
	"**/*.map",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
	"**/Cargo.lock",
}

// Sensitive file patterns that are never indexed.
var sensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
}
