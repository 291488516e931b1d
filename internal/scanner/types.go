// Package scanner discovers indexable files in a repository and hashes their
// content. It respects default exclusions, sensitive-file patterns and
// .gitignore rules, and skips binaries, symlinks and oversized files.
package scanner

import (
	"path/filepath"
	"strings"
)

// File is one indexable file with its content hash.
type File struct {
	Path     string // Slash-separated, relative to the repository root
	AbsPath  string
	Size     int64
	Language string
	Hash     string // hex sha256 of the content
}

// Options configures a scan.
type Options struct {
	// ExcludePatterns are extra patterns in the default-exclude syntax.
	ExcludePatterns []string

	// RespectGitignore enables .gitignore parsing.
	RespectGitignore bool

	// MaxFileSize skips files larger than this many bytes (0 = DefaultMaxFileSize).
	MaxFileSize int64

	// Workers bounds concurrent hashing (0 = NumCPU).
	Workers int
}

// Stats counts files the scan passed over.
type Stats struct {
	Skipped    int // excluded by pattern, gitignore or sensitivity
	TooLarge   int
	Binary     int
	Unreadable int
}

// DefaultMaxFileSize is the default maximum file size (1MB).
const DefaultMaxFileSize = 1 << 20

var languageMap = map[string]string{
	".go":    "go",
	".py":    "python",
	".pyi":   "python",
	".js":    "javascript",
	".mjs":   "javascript",
	".cjs":   "javascript",
	".jsx":   "jsx",
	".ts":    "typescript",
	".mts":   "typescript",
	".cts":   "typescript",
	".tsx":   "tsx",
	".rs":    "rust",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".cxx":   "cpp",
	".hpp":   "cpp",
	".hh":    "cpp",
	".rb":    "ruby",
	".php":   "php",
	".cs":    "csharp",
	".kt":    "kotlin",
	".swift": "swift",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".md":    "markdown",
	".mdx":   "markdown",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".toml":  "toml",
	".proto": "protobuf",
	".html":  "html",
	".css":   "css",
}

var filenameMap = map[string]string{
	"dockerfile": "dockerfile",
	"makefile":   "makefile",
}

// DetectLanguage maps a path to a language tag, "text" when unknown.
func DetectLanguage(path string) string {
	base := strings.ToLower(filepath.Base(path))
	if lang, ok := filenameMap[base]; ok {
		return lang
	}
	if lang, ok := languageMap[strings.ToLower(filepath.Ext(base))]; ok {
		return lang
	}
	return "text"
}
