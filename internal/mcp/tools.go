package mcp

import (
	"strings"
	"time"

	"github.com/Aman-CERP/coderecall/internal/health"
	"github.com/Aman-CERP/coderecall/internal/index"
	"github.com/Aman-CERP/coderecall/internal/search"
)

// Tool names.
const (
	ToolIndexRepository     = "index_repository"
	ToolSearchCode          = "search_code"
	ToolReconcileRepository = "reconcile_repository"
	ToolIndexStatus         = "index_status"
	ToolHealth              = "health"
)

// IndexRepositoryInput defines the input schema for the index_repository tool.
type IndexRepositoryInput struct {
	Path     string `json:"path,omitempty" jsonschema:"repository directory; defaults to the server's working root"`
	RepoID   string `json:"repo_id,omitempty" jsonschema:"repository id; derived from the path when omitted"`
	Force    bool   `json:"force,omitempty" jsonschema:"re-process every file instead of only changed ones"`
	MaxFiles int    `json:"max_files,omitempty" jsonschema:"cap on added plus modified files for this run, 0 for no cap"`
}

// IndexRepositoryOutput summarizes one indexing run.
type IndexRepositoryOutput struct {
	RepoID            string `json:"repo_id"`
	Ref               string `json:"ref"`
	FilesScanned      int    `json:"files_scanned"`
	FilesAdded        int    `json:"files_added"`
	FilesModified     int    `json:"files_modified"`
	FilesRemoved      int    `json:"files_removed"`
	FilesUnchanged    int    `json:"files_unchanged"`
	FilesDeferred     int    `json:"files_deferred"`
	ChunksEmbedded    int    `json:"chunks_embedded"`
	ChunksAdded       int    `json:"chunks_added"`
	ChunksRemoved     int    `json:"chunks_removed"`
	ChunksTotal       int    `json:"chunks_total"`
	FallbackVectors   int    `json:"fallback_vectors"`
	FallbacksReplaced int    `json:"fallbacks_replaced"`
	DurationMS        int64  `json:"duration_ms"`
}

// SearchCodeInput defines the input schema for the search_code tool.
type SearchCodeInput struct {
	Query      string `json:"query" jsonschema:"natural language or code query"`
	Repository string `json:"repository,omitempty" jsonschema:"restrict results to one repository id"`
	Language   string `json:"language,omitempty" jsonschema:"restrict results to one language, e.g. go, python, typescript"`
	PathPrefix string `json:"path_prefix,omitempty" jsonschema:"restrict results to files under this repository-relative path"`
	TopK       int    `json:"top_k,omitempty" jsonschema:"maximum number of results, default 10"`
}

// SearchCodeOutput defines the output schema for the search_code tool.
type SearchCodeOutput struct {
	Results       []SearchResultOutput `json:"results" jsonschema:"ranked results, best first"`
	DegradedQuery bool                 `json:"degraded_query,omitempty" jsonschema:"true when the query was embedded with the hash fallback"`
	DurationMS    int64                `json:"duration_ms"`
}

// SearchResultOutput is one ranked hit with provenance.
type SearchResultOutput struct {
	Path       string  `json:"path" jsonschema:"file path relative to the repository root"`
	StartLine  int     `json:"start_line"`
	EndLine    int     `json:"end_line"`
	Score      float64 `json:"score" jsonschema:"cosine similarity, higher is closer"`
	Snippet    string  `json:"snippet"`
	Repository string  `json:"repository"`
	Language   string  `json:"language,omitempty"`
	Symbol     string  `json:"symbol,omitempty"`
	SymbolType string  `json:"symbol_type,omitempty"`
	CommitRef  string  `json:"commit_ref,omitempty"`
	IndexedAt  string  `json:"indexed_at,omitempty"`
	Fallback   bool    `json:"fallback,omitempty" jsonschema:"true when the stored vector is a hash fallback"`
	Truncated  bool    `json:"truncated,omitempty"`
}

// ReconcileRepositoryInput defines the input schema for the reconcile_repository tool.
type ReconcileRepositoryInput struct {
	Path   string `json:"path,omitempty" jsonschema:"repository directory; defaults to the server's working root"`
	RepoID string `json:"repo_id,omitempty" jsonschema:"repository id; derived from the path when omitted"`
}

// ReconcileRepositoryOutput reports a reconciliation pass.
type ReconcileRepositoryOutput struct {
	RepoID       string   `json:"repo_id"`
	Checked      int      `json:"checked"`
	Orphans      int      `json:"orphans"`
	Removed      int      `json:"removed"`
	Missing      int      `json:"missing"`
	MissingFiles []string `json:"missing_files,omitempty"`
	DurationMS   int64    `json:"duration_ms"`
}

// IndexStatusInput defines the input schema for the index_status tool.
type IndexStatusInput struct {
	Path   string `json:"path,omitempty" jsonschema:"repository directory; defaults to the server's working root"`
	RepoID string `json:"repo_id,omitempty" jsonschema:"repository id; derived from the path when omitted"`
}

// IndexStatusOutput reports the run state of one repository.
type IndexStatusOutput struct {
	RepoID    string                 `json:"repo_id"`
	Phase     string                 `json:"phase" jsonschema:"idle, scanning, chunking, embedding, upserting, committing or error"`
	StartedAt string                 `json:"started_at,omitempty"`
	LastError string                 `json:"last_error,omitempty"`
	LastRun   *IndexRepositoryOutput `json:"last_run,omitempty"`
}

// HealthInput defines the input schema for the health tool (no parameters).
type HealthInput struct{}

// HealthOutput is the outcome of one health run.
type HealthOutput struct {
	Status string              `json:"status" jsonschema:"healthy, degraded or unhealthy"`
	Checks []HealthCheckOutput `json:"checks"`
}

// HealthCheckOutput is one probe result.
type HealthCheckOutput struct {
	Name      string `json:"name"`
	Status    string `json:"status" jsonschema:"pass, warn or fail"`
	Required  bool   `json:"required"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

func toIndexOutput(s *index.Stats) *IndexRepositoryOutput {
	if s == nil {
		return nil
	}
	return &IndexRepositoryOutput{
		RepoID:            s.RepoID,
		Ref:               s.Ref,
		FilesScanned:      s.FilesScanned,
		FilesAdded:        s.FilesAdded,
		FilesModified:     s.FilesModified,
		FilesRemoved:      s.FilesRemoved,
		FilesUnchanged:    s.FilesUnchanged,
		FilesDeferred:     s.FilesDeferred,
		ChunksEmbedded:    s.ChunksEmbedded,
		ChunksAdded:       s.ChunksAdded,
		ChunksRemoved:     s.ChunksRemoved,
		ChunksTotal:       s.ChunksTotal,
		FallbackVectors:   s.FallbackVectors,
		FallbacksReplaced: s.FallbacksReplaced,
		DurationMS:        s.Duration.Milliseconds(),
	}
}

func toSearchOutput(resp *search.Response) SearchCodeOutput {
	out := SearchCodeOutput{
		Results:       make([]SearchResultOutput, 0, len(resp.Results)),
		DegradedQuery: resp.DegradedQuery,
		DurationMS:    resp.Duration.Milliseconds(),
	}
	for _, r := range resp.Results {
		res := SearchResultOutput{
			Path:       r.Path,
			StartLine:  r.StartLine,
			EndLine:    r.EndLine,
			Score:      float64(r.Score),
			Snippet:    r.Snippet,
			Repository: r.Repository,
			Language:   r.Language,
			Symbol:     r.Symbol,
			SymbolType: r.SymbolType,
			CommitRef:  r.CommitRef,
			Fallback:   r.Fallback,
			Truncated:  r.Truncated,
		}
		if !r.IndexedAt.IsZero() {
			res.IndexedAt = r.IndexedAt.UTC().Format(time.RFC3339)
		}
		out.Results = append(out.Results, res)
	}
	return out
}

func toReconcileOutput(r *index.ReconcileReport) ReconcileRepositoryOutput {
	return ReconcileRepositoryOutput{
		RepoID:       r.RepoID,
		Checked:      r.Checked,
		Orphans:      r.Orphans,
		Removed:      r.Removed,
		Missing:      r.Missing,
		MissingFiles: r.MissingFiles,
		DurationMS:   r.Duration.Milliseconds(),
	}
}

func toStatusOutput(s index.Status) IndexStatusOutput {
	out := IndexStatusOutput{
		RepoID:    s.RepoID,
		Phase:     string(s.Phase),
		LastError: s.LastError,
		LastRun:   toIndexOutput(s.LastStats),
	}
	if !s.StartedAt.IsZero() {
		out.StartedAt = s.StartedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func toHealthOutput(r *health.Report) HealthOutput {
	out := HealthOutput{Status: r.Status, Checks: make([]HealthCheckOutput, 0, len(r.Checks))}
	for _, c := range r.Checks {
		out.Checks = append(out.Checks, HealthCheckOutput{
			Name:      c.Name,
			Status:    strings.ToLower(c.Status.String()),
			Required:  c.Required,
			Message:   c.Message,
			Error:     c.Error,
			LatencyMS: c.Latency.Milliseconds(),
		})
	}
	return out
}
