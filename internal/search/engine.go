package search

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aman-CERP/coderecall/internal/config"
	"github.com/Aman-CERP/coderecall/internal/embed"
	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
	"github.com/Aman-CERP/coderecall/internal/store"
)

var tracer = otel.Tracer("github.com/Aman-CERP/coderecall/internal/search")

// EngineConfig configures the search engine.
type EngineConfig struct {
	// Collection is the vector store collection to query.
	Collection string

	// DefaultTopK applies when a query leaves TopK unset.
	DefaultTopK int

	// MaxTopK caps TopK.
	MaxTopK int

	// SnippetLines bounds the snippet of each result (0 = whole chunk).
	SnippetLines int

	// MaxRetries bounds retries of a vector store query that fails with a
	// retryable error.
	MaxRetries int
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Collection:   config.DefaultCollection,
		DefaultTopK:  DefaultTopK,
		MaxTopK:      MaxTopK,
		SnippetLines: DefaultSnippetLines,
		MaxRetries:   2,
	}
}

// EngineConfigFrom derives engine settings from the loaded configuration.
func EngineConfigFrom(cfg *config.Config) EngineConfig {
	return EngineConfig{
		Collection:   cfg.VectorStore.Collection,
		DefaultTopK:  cfg.Search.DefaultTopK,
		MaxTopK:      cfg.Search.MaxTopK,
		SnippetLines: cfg.Search.SnippetLines,
		MaxRetries:   cfg.VectorStore.MaxRetries,
	}
}

// Engine embeds queries and ranks stored chunks by similarity. It is
// read-only and safe for concurrent use, including while an index run
// writes to the same collection.
type Engine struct {
	embedder    embed.Embedder
	vectors     store.VectorStore
	config      EngineConfig
	instruction string
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithQueryInstruction prefixes every query before embedding. Some
// embedding models expect an instruction on queries but not on documents.
func WithQueryInstruction(prefix string) EngineOption {
	return func(e *Engine) {
		e.instruction = prefix
	}
}

// NewEngine creates a search engine. The embedder must be the one used
// for indexing the collection.
func NewEngine(embedder embed.Embedder, vectors store.VectorStore, cfg EngineConfig, opts ...EngineOption) (*Engine, error) {
	if embedder == nil {
		return nil, crerrors.ValidationError("search engine requires an embedder", nil)
	}
	if vectors == nil {
		return nil, crerrors.ValidationError("search engine requires a vector store", nil)
	}
	def := DefaultEngineConfig()
	if cfg.Collection == "" {
		cfg.Collection = def.Collection
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = def.DefaultTopK
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = def.MaxTopK
	}
	if cfg.DefaultTopK > cfg.MaxTopK {
		cfg.DefaultTopK = cfg.MaxTopK
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	e := &Engine{embedder: embedder, vectors: vectors, config: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the effective engine configuration.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// Search embeds the query text and returns up to TopK results ranked by
// similarity, newest chunk first on equal scores. A collection with no
// matching vectors yields an empty result, not an error.
func (e *Engine) Search(ctx context.Context, q Query) (*Response, error) {
	start := time.Now()
	q, err := validate(q, e.config)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "search", trace.WithAttributes(
		attribute.String("collection", e.config.Collection),
		attribute.String("repository", q.Repository),
		attribute.String("language", q.Language),
		attribute.Int("top_k", q.TopK),
	))
	defer span.End()

	resp, err := e.search(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("search_failed",
			slog.String("query", truncateQuery(q.Text)),
			slog.String("error", err.Error()))
		return nil, err
	}
	resp.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("results", len(resp.Results)))

	slog.Debug("search_completed",
		slog.String("query", truncateQuery(q.Text)),
		slog.String("repository", q.Repository),
		slog.Int("results", len(resp.Results)),
		slog.Bool("degraded_query", resp.DegradedQuery),
		slog.Duration("duration", resp.Duration))
	return resp, nil
}

func (e *Engine) search(ctx context.Context, q Query) (*Response, error) {
	vecs, err := e.embedder.EmbedBatch(ctx, []string{e.instruction + q.Text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, crerrors.InternalError(fmt.Sprintf("embedder returned %d vectors for one query", len(vecs)), nil)
	}
	qv := vecs[0]

	filter := filterFor(q)
	matches, err := crerrors.RetryWithResult(ctx, crerrors.BackendRetryConfig(e.config.MaxRetries), func() ([]store.Match, error) {
		return e.vectors.Query(ctx, e.config.Collection, qv.Values, q.TopK, filter)
	})
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Query:         q,
		Results:       make([]Result, 0, len(matches)),
		DegradedQuery: qv.Fallback,
	}
	for _, m := range matches {
		// Backends filter before ranking; re-checking keeps a misbehaving
		// backend from leaking another repository's chunks.
		if !filter.Matches(m.Metadata) {
			continue
		}
		resp.Results = append(resp.Results, e.toResult(m))
	}
	return resp, nil
}

func (e *Engine) toResult(m store.Match) Result {
	meta := m.Metadata
	text, truncated := snippet(meta[store.MetaContent], e.config.SnippetLines)
	r := Result{
		ChunkID:    m.ID,
		Score:      m.Score,
		Snippet:    text,
		Truncated:  truncated,
		Repository: meta[store.MetaRepository],
		Path:       meta[store.MetaPath],
		StartLine:  atoi(meta[store.MetaStartLine]),
		EndLine:    atoi(meta[store.MetaEndLine]),
		Language:   meta[store.MetaLanguage],
		Symbol:     meta[store.MetaSymbol],
		SymbolType: meta[store.MetaSymbolType],
		CommitRef:  meta[store.MetaCommitRef],
		Fallback:   meta[store.MetaEmbedding] == store.EmbeddingFallback,
	}
	if ns, err := strconv.ParseInt(meta[store.MetaIndexedAt], 10, 64); err == nil && ns > 0 {
		r.IndexedAt = time.Unix(0, ns).UTC()
	}
	return r
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// truncateQuery keeps log lines short.
func truncateQuery(q string) string {
	if len(q) > 80 {
		return q[:80] + "..."
	}
	return q
}
