package embed

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/coderecall/internal/config"
	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOllama uses the Ollama HTTP API (default).
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses an OpenAI-compatible /embeddings endpoint.
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic uses deterministic hash embeddings.
	ProviderStatic ProviderType = "static"

	// ProviderNone disables the provider; every vector is a fallback.
	ProviderNone ProviderType = "none"
)

// NewProvider builds the configured provider. ProviderNone returns nil.
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	switch ProviderType(strings.ToLower(cfg.Provider)) {
	case ProviderOllama, "":
		return NewOllamaProvider(OllamaConfig{
			Host:       cfg.Endpoint,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		}), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(OpenAIConfig{
			Endpoint:   cfg.Endpoint,
			APIKey:     cfg.APIKey(),
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		}), nil
	case ProviderStatic:
		return NewHashProvider(cfg.Dimensions), nil
	case ProviderNone:
		return nil, nil
	default:
		return nil, crerrors.ConfigError(fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil).
			WithSuggestion("Use one of: ollama, openai, static, none")
	}
}

// New builds the batch embedder described by cfg: provider, rate limiter,
// circuit breaker and cache.
func New(cfg config.EmbeddingConfig) (*BatchEmbedder, error) {
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithLimiter(NewLimiter(cfg.RequestsPerMinute, cfg.TokensPerMinute, cfg.MaxWait)),
		WithCache(cfg.CacheSize),
	}
	if provider != nil {
		opts = append(opts, WithBreaker(crerrors.NewCircuitBreaker(provider.Name(),
			crerrors.WithMaxFailures(cfg.BreakerFailures),
			crerrors.WithResetTimeout(cfg.BreakerReset))))
	}

	b := NewBatchEmbedder(provider, cfg.Dimensions, BatchConfig{
		BatchSize:      cfg.BatchSize,
		MaxBatchTokens: cfg.MaxBatchTokens,
		MaxAttempts:    cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		RequestTimeout: cfg.RequestTimeout,
	}, opts...)

	slog.Debug("embedder_created",
		slog.String("model", b.ModelName()),
		slog.Int("dimensions", b.Dimensions()),
		slog.Int("cache_size", cfg.CacheSize))
	return b, nil
}
