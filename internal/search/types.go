// Package search answers free-text queries against the indexed code.
// A query is embedded with the same embedder used for indexing, so both
// live in one vector space, and is then sent to the vector store as a
// filtered nearest-neighbor query.
package search

import "time"

// Query is one search request.
type Query struct {
	// Text is the free-text query. Required.
	Text string

	// Repository restricts results to one repository id.
	Repository string

	// Language restricts results to one language tag (e.g. "go", "python").
	Language string

	// PathPrefix restricts results to files whose repository-relative
	// path starts with it.
	PathPrefix string

	// TopK is the maximum number of results (0 = configured default).
	TopK int
}

// Result is one ranked hit with provenance.
type Result struct {
	ChunkID    string    `json:"chunk_id"`
	Score      float32   `json:"score"`
	Snippet    string    `json:"snippet"`
	Repository string    `json:"repository"`
	Path       string    `json:"path"`
	StartLine  int       `json:"start_line"`
	EndLine    int       `json:"end_line"`
	Language   string    `json:"language,omitempty"`
	Symbol     string    `json:"symbol,omitempty"`
	SymbolType string    `json:"symbol_type,omitempty"`
	CommitRef  string    `json:"commit_ref,omitempty"`
	IndexedAt  time.Time `json:"indexed_at"`

	// Fallback is true when the stored vector is a hash fallback rather
	// than a provider embedding.
	Fallback bool `json:"fallback,omitempty"`

	// Truncated is true when Snippet was cut to the snippet line limit.
	Truncated bool `json:"truncated,omitempty"`
}

// Response is the outcome of one search.
type Response struct {
	Query    Query         `json:"-"`
	Results  []Result      `json:"results"`
	Duration time.Duration `json:"duration"`

	// DegradedQuery is true when the query itself was embedded with a
	// fallback vector; scores are then only meaningful against other
	// fallback vectors.
	DegradedQuery bool `json:"degraded_query,omitempty"`
}
