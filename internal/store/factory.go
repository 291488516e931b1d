package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/coderecall/internal/config"
	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
)

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendHNSW   = "hnsw"
	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"
)

// Backends lists every supported backend name.
func Backends() []string {
	return []string{BackendMemory, BackendHNSW, BackendSQLite, BackendQdrant}
}

// New instantiates the configured backend. Callers only see VectorStore.
func New(cfg config.VectorStoreConfig) (VectorStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendHNSW, "":
		return NewHNSWStore(cfg.Path, HNSWConfig{})
	case BackendSQLite:
		return NewSQLiteStore(cfg.Path)
	case BackendQdrant:
		qc := QdrantConfig{
			Host:    cfg.Qdrant.Host,
			Port:    cfg.Qdrant.Port,
			APIKey:  cfg.Qdrant.APIKey(),
			UseTLS:  cfg.Qdrant.UseTLS,
			Timeout: cfg.Timeout,
		}
		slog.Debug("qdrant_store_configured", slog.String("addr", qdrantAddr(qc)), slog.Bool("tls", qc.UseTLS))
		return NewQdrantStore(qc)
	default:
		return nil, crerrors.New(crerrors.ErrCodeUnknownBackend,
			fmt.Sprintf("unknown vector store backend %q", cfg.Backend), nil).
			WithSuggestion("Use one of: " + strings.Join(Backends(), ", "))
	}
}

// WriteOptions bounds the retry and fan-out of batched writes.
type WriteOptions struct {
	BatchSize   int
	Concurrency int
	MaxRetries  int
	// InitialDelay overrides the first retry delay; zero keeps the default.
	InitialDelay time.Duration
}

// UpsertBatches splits records into batches and upserts them with bounded
// concurrency, retrying BackendUnavailable with backoff.
func UpsertBatches(ctx context.Context, vs VectorStore, collection string, records []Record, opts WriteOptions) error {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for start := 0; start < len(records); start += opts.BatchSize {
		batch := records[start:min(start+opts.BatchSize, len(records))]
		g.Go(func() error {
			return withRetry(gctx, opts, func() error {
				return vs.Upsert(gctx, collection, batch)
			})
		})
	}
	return g.Wait()
}

// DeleteBatches deletes ids in batches, retrying BackendUnavailable.
func DeleteBatches(ctx context.Context, vs VectorStore, collection string, ids []string, opts WriteOptions) error {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 256
	}
	for start := 0; start < len(ids); start += opts.BatchSize {
		batch := ids[start:min(start+opts.BatchSize, len(ids))]
		if err := withRetry(ctx, opts, func() error {
			return vs.Delete(ctx, collection, batch)
		}); err != nil {
			return err
		}
	}
	return nil
}

func withRetry(ctx context.Context, opts WriteOptions, fn func() error) error {
	cfg := crerrors.BackendRetryConfig(opts.MaxRetries)
	if opts.InitialDelay > 0 {
		cfg.InitialDelay = opts.InitialDelay
	}
	return crerrors.Retry(ctx, cfg, fn)
}
