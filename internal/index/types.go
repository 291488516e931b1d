// Package index runs indexing for one repository at a time: scan, diff
// against the stored RepoState, chunk and embed only what changed, write
// the delta to the vector store and commit the new state.
package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
)

// Phase is a step of an indexing run.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseScanning   Phase = "scanning"
	PhaseChunking   Phase = "chunking"
	PhaseEmbedding  Phase = "embedding"
	PhaseUpserting  Phase = "upserting"
	PhaseCommitting Phase = "committing"
	PhaseError      Phase = "error"
)

// Active reports whether a run in this phase holds the repository lock.
func (p Phase) Active() bool {
	switch p {
	case PhaseScanning, PhaseChunking, PhaseEmbedding, PhaseUpserting, PhaseCommitting:
		return true
	}
	return false
}

// RunError reports a failed run and the phase it failed in. The previous
// RepoState is left untouched.
type RunError struct {
	RepoID string
	Phase  Phase
	Err    error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("index %s failed during %s: %v", e.RepoID, e.Phase, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// PhaseOf returns the phase a run failed in, or "" for other errors.
func PhaseOf(err error) Phase {
	var re *RunError
	if errors.As(err, &re) {
		return re.Phase
	}
	return ""
}

// IndexRequest asks for one indexing run.
type IndexRequest struct {
	// Root is the repository directory.
	Root string
	// RepoID defaults to RepoIDForPath(Root).
	RepoID string
	// Force re-processes every file, bypassing the change detector.
	Force bool
	// MaxFiles caps added plus modified files per run; 0 means no cap.
	MaxFiles int
	// Ref overrides the detected reference.
	Ref string
}

// Stats summarizes a completed run.
type Stats struct {
	RepoID string `json:"repo_id"`
	Ref    string `json:"ref"`

	FilesScanned   int `json:"files_scanned"`
	FilesAdded     int `json:"files_added"`
	FilesModified  int `json:"files_modified"`
	FilesRemoved   int `json:"files_removed"`
	FilesUnchanged int `json:"files_unchanged"`
	FilesDeferred  int `json:"files_deferred"`
	FilesSkipped   int `json:"files_skipped"`
	ParseFallbacks int `json:"parse_fallbacks"`

	ChunksProcessed int `json:"chunks_processed"`
	ChunksEmbedded  int `json:"chunks_embedded"`
	ChunksAdded     int `json:"chunks_added"`
	ChunksRemoved   int `json:"chunks_removed"`
	ChunksTotal     int `json:"chunks_total"`
	FallbackVectors int `json:"fallback_vectors"`
	// FallbacksReplaced counts stored fallback vectors replaced by
	// provider vectors in this run.
	FallbacksReplaced int `json:"fallbacks_replaced"`

	OrphansRemoved int `json:"orphans_removed"`
	MissingHealed  int `json:"missing_healed"`

	Duration time.Duration `json:"duration"`
}

// Status is the externally visible state of a repository's runs.
type Status struct {
	RepoID    string    `json:"repo_id"`
	Phase     Phase     `json:"phase"`
	StartedAt time.Time `json:"started_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	LastStats *Stats    `json:"last_stats,omitempty"`
}

// ReconcileReport describes a reconciliation pass.
type ReconcileReport struct {
	RepoID       string        `json:"repo_id"`
	Checked      int           `json:"checked"`
	Orphans      int           `json:"orphans"`
	Removed      int           `json:"removed"`
	Missing      int           `json:"missing"`
	MissingFiles []string      `json:"missing_files,omitempty"`
	Duration     time.Duration `json:"duration"`
}

func runError(repoID string, phase Phase, err error) *RunError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		err = crerrors.New(crerrors.ErrCodeRunTimeout, "indexing run exceeded its time limit", err)
	case errors.Is(err, context.Canceled):
		err = crerrors.New(crerrors.ErrCodeRunCanceled, "indexing run canceled", err)
	}
	return &RunError{RepoID: repoID, Phase: phase, Err: err}
}
