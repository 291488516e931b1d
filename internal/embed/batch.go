package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
)

var tracer = otel.Tracer("github.com/Aman-CERP/coderecall/internal/embed")

// BatchConfig controls batching and retries.
type BatchConfig struct {
	// BatchSize is the maximum number of texts per provider call.
	BatchSize int

	// MaxBatchTokens is the maximum estimated tokens per provider call.
	MaxBatchTokens int

	// MaxAttempts is the retry ceiling for transient failures.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// RequestTimeout bounds each provider call.
	RequestTimeout time.Duration
}

// DefaultBatchConfig returns sensible defaults.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize:      DefaultBatchSize,
		MaxBatchTokens: DefaultMaxBatchTokens,
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		RequestTimeout: DefaultRequestTimeout,
	}
}

// Option configures a BatchEmbedder.
type Option func(*BatchEmbedder)

// WithLimiter routes every provider call through l.
func WithLimiter(l *Limiter) Option {
	return func(b *BatchEmbedder) { b.limiter = l }
}

// WithBreaker short-circuits to fallback vectors while cb is open.
func WithBreaker(cb *crerrors.CircuitBreaker) Option {
	return func(b *BatchEmbedder) { b.breaker = cb }
}

// WithCache keeps up to size real vectors keyed by model and text.
func WithCache(size int) Option {
	return func(b *BatchEmbedder) { b.cache = newVectorCache(size) }
}

// BatchEmbedder wraps a Provider with batching, rate limiting, retries
// and hash fallback. A nil provider yields fallback vectors for every text.
type BatchEmbedder struct {
	provider Provider
	fallback *HashProvider
	limiter  *Limiter
	breaker  *crerrors.CircuitBreaker
	cache    *vectorCache
	cfg      BatchConfig
	dims     int

	calls     atomic.Int64
	fallbacks atomic.Int64
}

var _ Embedder = (*BatchEmbedder)(nil)

// NewBatchEmbedder creates a batch embedder producing dims-sized vectors.
func NewBatchEmbedder(provider Provider, dims int, cfg BatchConfig, opts ...Option) *BatchEmbedder {
	def := DefaultBatchConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.MaxBatchTokens <= 0 {
		cfg.MaxBatchTokens = def.MaxBatchTokens
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if dims <= 0 {
		if provider != nil {
			dims = provider.Dimensions()
		} else {
			dims = DefaultDimensions
		}
	}

	b := &BatchEmbedder{
		provider: provider,
		fallback: NewHashProvider(dims),
		cfg:      cfg,
		dims:     dims,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dimensions returns the output vector size.
func (b *BatchEmbedder) Dimensions() int { return b.dims }

// ProviderAvailable reports whether the next batch would be sent to the
// provider instead of going straight to fallback vectors.
func (b *BatchEmbedder) ProviderAvailable() bool {
	if b.provider == nil {
		return false
	}
	return b.breaker == nil || b.breaker.State() != crerrors.StateOpen
}

// ModelName returns "<provider>/<model>", or "fallback/hash" with no provider.
func (b *BatchEmbedder) ModelName() string {
	if b.provider == nil {
		return "fallback/hash"
	}
	return b.provider.Name() + "/" + b.provider.Model()
}

// Calls returns the number of provider calls made, including retries.
func (b *BatchEmbedder) Calls() int64 { return b.calls.Load() }

// Fallbacks returns the number of fallback vectors produced.
func (b *BatchEmbedder) Fallbacks() int64 { return b.fallbacks.Load() }

// EmbedBatch returns one vector per text, preserving order. Transient
// failures are retried and then degrade to fallback vectors. Rate limit
// exhaustion, provider rejection and dimension mismatches are returned.
func (b *BatchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	var pending []int

	for i, text := range texts {
		if v, ok := b.cache.get(b.ModelName(), text); ok {
			out[i] = Vector{Values: v}
			continue
		}
		pending = append(pending, i)
	}

	for _, group := range b.split(texts, pending) {
		batch := make([]string, len(group))
		for j, idx := range group {
			batch[j] = texts[idx]
		}

		vecs, err := b.embedGroup(ctx, batch)
		if err != nil {
			return nil, err
		}
		for j, idx := range group {
			out[idx] = vecs[j]
			if !vecs[j].Fallback {
				b.cache.add(b.ModelName(), texts[idx], vecs[j].Values)
			}
		}
	}
	return out, nil
}

// split groups pending indices into batches bounded by count and tokens.
// A single text above the token cap forms its own batch.
func (b *BatchEmbedder) split(texts []string, pending []int) [][]int {
	var groups [][]int
	var cur []int
	tokens := 0

	for _, idx := range pending {
		t := estimateTokens(texts[idx])
		if len(cur) > 0 && (len(cur) >= b.cfg.BatchSize || tokens+t > b.cfg.MaxBatchTokens) {
			groups = append(groups, cur)
			cur, tokens = nil, 0
		}
		cur = append(cur, idx)
		tokens += t
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

func (b *BatchEmbedder) embedGroup(ctx context.Context, texts []string) ([]Vector, error) {
	ctx, span := tracer.Start(ctx, "embed.batch", trace.WithAttributes(
		attribute.Int("batch.size", len(texts)),
		attribute.String("embed.model", b.ModelName()),
	))
	defer span.End()

	if b.provider == nil {
		return b.fallbackVectors(ctx, span, texts, "no_provider", nil)
	}
	if b.breaker != nil && !b.breaker.Allow() {
		return b.fallbackVectors(ctx, span, texts, "circuit_open", crerrors.ErrCircuitOpen)
	}

	tokens := 0
	for _, t := range texts {
		tokens += estimateTokens(t)
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx, tokens); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "rate limited")
				return nil, err
			}
		}

		vecs, err := b.call(ctx, texts)
		switch classify(err) {
		case outcomeSuccess:
			if b.breaker != nil {
				b.breaker.RecordSuccess()
			}
			span.SetAttributes(attribute.Int("embed.attempts", attempt))
			return b.accept(vecs, len(texts))

		case outcomeFatal:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "provider unavailable")
			return nil, crerrors.New(crerrors.ErrCodeProviderUnavailable,
				"embedding provider rejected the request", err).
				WithDetail("provider", b.provider.Name())
		}

		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Warn("embedding_batch_failed",
			slog.String("provider", b.provider.Name()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", b.cfg.MaxAttempts),
			slog.Int("batch_size", len(texts)),
			slog.String("error", err.Error()))

		if attempt >= b.cfg.MaxAttempts {
			break
		}
		if err := sleepCtx(ctx, b.backoff(attempt)); err != nil {
			return nil, err
		}
	}

	if b.breaker != nil {
		b.breaker.RecordFailure()
	}
	return b.fallbackVectors(ctx, span, texts, "retries_exhausted", lastErr)
}

func (b *BatchEmbedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
	defer cancel()

	b.calls.Add(1)
	return b.provider.Embed(callCtx, texts)
}

// accept validates provider output. Vectors are never padded or truncated.
func (b *BatchEmbedder) accept(vecs [][]float32, n int) ([]Vector, error) {
	if len(vecs) != n {
		return nil, crerrors.New(crerrors.ErrCodeProviderUnavailable,
			fmt.Sprintf("provider returned %d vectors for %d texts", len(vecs), n), nil)
	}
	out := make([]Vector, n)
	for i, v := range vecs {
		if len(v) != b.dims {
			return nil, crerrors.DimensionMismatchError(b.dims, len(v))
		}
		out[i] = Vector{Values: normalizeVector(v)}
	}
	return out, nil
}

func (b *BatchEmbedder) fallbackVectors(ctx context.Context, span trace.Span, texts []string, reason string, cause error) ([]Vector, error) {
	vecs, err := b.fallback.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	attrs := []any{slog.String("reason", reason), slog.Int("batch_size", len(texts))}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	if reason == "no_provider" {
		slog.Debug("embedding_fallback", attrs...)
	} else {
		slog.Warn("embedding_fallback", attrs...)
	}
	span.SetAttributes(attribute.Bool("embed.fallback", true), attribute.String("embed.fallback_reason", reason))

	b.fallbacks.Add(int64(len(texts)))
	out := make([]Vector, len(vecs))
	for i, v := range vecs {
		out[i] = Vector{Values: v, Fallback: true}
	}
	return out, nil
}

// backoff returns the delay after the given failed attempt.
func (b *BatchEmbedder) backoff(attempt int) time.Duration {
	d := b.cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.cfg.MaxBackoff {
			return b.cfg.MaxBackoff
		}
	}
	return d
}

// pinger is implemented by providers with a cheap reachability check.
type pinger interface {
	Ping(ctx context.Context) error
}

// Probe embeds a trivial string through the provider without fallback.
// Providers that can be pinged are pinged first.
func (b *BatchEmbedder) Probe(ctx context.Context) error {
	if b.provider == nil {
		return crerrors.New(crerrors.ErrCodeProviderUnavailable, "no embedding provider configured", nil)
	}
	if p, ok := b.provider.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx, 1); err != nil {
			return err
		}
	}
	vecs, err := b.call(ctx, []string{"health check"})
	if err != nil {
		return err
	}
	_, err = b.accept(vecs, 1)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
