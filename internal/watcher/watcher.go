package watcher

import (
	"time"

	"github.com/Aman-CERP/coderecall/internal/scanner"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file or directory was deleted or renamed away.
	OpDelete
	// OpGitignoreChange indicates a .gitignore file changed. The next
	// incremental run picks up newly ignored and newly unignored files.
	OpGitignoreChange
	// OpConfigChange indicates the project configuration file changed.
	OpConfigChange
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpGitignoreChange:
		return "GITIGNORE_CHANGE"
	case OpConfigChange:
		return "CONFIG_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a file system event.
type FileEvent struct {
	// Path is slash-separated and relative to the watched root.
	Path string

	Operation Operation

	// IsDir is best effort; it is false for deleted directories.
	IsDir bool

	Timestamp time.Time
}

// configFileNames are the project configuration files, relative to the root.
var configFileNames = map[string]bool{
	".coderecall.yaml": true,
	".coderecall.yml":  true,
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the quiet period before a batch is emitted.
	// Default: 200ms
	DebounceWindow time.Duration

	// EventBufferSize is the number of batches buffered for the consumer.
	// Default: 100
	EventBufferSize int

	// Scan holds the exclusion rules shared with indexing runs so the
	// watcher ignores exactly what a scan ignores.
	Scan scanner.Options
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  200 * time.Millisecond,
		EventBufferSize: 100,
		Scan:            scanner.Options{RespectGitignore: true},
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}
