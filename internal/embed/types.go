package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants
const (
	// DefaultBatchSize is the default number of texts per provider call.
	DefaultBatchSize = 32

	// MaxBatchSize is the maximum allowed batch size.
	MaxBatchSize = 256

	// DefaultMaxBatchTokens bounds the estimated tokens per provider call.
	DefaultMaxBatchTokens = 8000

	// DefaultDimensions is the embedding dimension used when none is configured.
	DefaultDimensions = 768

	// DefaultRequestTimeout bounds a single provider call.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultMaxAttempts is the retry ceiling for transient provider failures.
	DefaultMaxAttempts = 3
)

// Provider converts text to vectors. Implementations return exactly one
// vector per input text, in order, or an error. Errors should be
// *ProviderError so the batch embedder can tell transient from fatal.
type Provider interface {
	// Name identifies the provider ("ollama", "openai", "static").
	Name() string

	// Model returns the model identifier.
	Model() string

	// Dimensions returns the declared vector size.
	Dimensions() int

	// Embed generates one vector per text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Vector is one embedding result. Fallback marks a deterministic hash
// vector produced when the provider could not serve the request.
type Vector struct {
	Values   []float32
	Fallback bool
}

// Embedder is what the orchestrator and search engine depend on.
type Embedder interface {
	// EmbedBatch returns one vector per text, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([]Vector, error)

	// Dimensions returns the fixed output dimension.
	Dimensions() int

	// ModelName returns the model identifier used for indexing.
	ModelName() string
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

// estimateTokens approximates the token count of text (~4 bytes per token).
func estimateTokens(text string) int {
	return len(text)/4 + 1
}
