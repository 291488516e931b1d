package embed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crerrors "github.com/Aman-CERP/coderecall/internal/errors"
)

func fastConfig() BatchConfig {
	return BatchConfig{
		BatchSize:      2,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		RequestTimeout: time.Second,
	}
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("func handler%d() {}", i)
	}
	return out
}

func TestBatchEmbedder_PreservesOrderAndBatches(t *testing.T) {
	// Given a provider and batch size 2
	p := newScripted(16)
	b := NewBatchEmbedder(p, 16, fastConfig())
	in := texts(5)

	// When embedding five texts
	vecs, err := b.EmbedBatch(context.Background(), in)

	// Then there are three calls and vectors match input order
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	assert.Equal(t, []int{2, 2, 1}, p.batchSizes())
	assert.Equal(t, int64(3), b.Calls())

	want, _ := NewHashProvider(16).Embed(context.Background(), in)
	for i := range in {
		assert.Equal(t, want[i], vecs[i].Values)
		assert.False(t, vecs[i].Fallback)
	}
}

func TestBatchEmbedder_SplitsByTokens(t *testing.T) {
	p := newScripted(8)
	cfg := fastConfig()
	cfg.BatchSize = 10
	cfg.MaxBatchTokens = 30
	b := NewBatchEmbedder(p, 8, cfg)

	long := string(make([]byte, 100)) // ~26 tokens
	_, err := b.EmbedBatch(context.Background(), []string{long, "a", long})

	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, p.batchSizes())
}

func TestBatchEmbedder_RetriesTransientErrors(t *testing.T) {
	// Given a provider failing once with a 503
	p := newScripted(8, statusError("scripted", 503, "overloaded"))
	b := NewBatchEmbedder(p, 8, fastConfig())

	// When embedding
	vecs, err := b.EmbedBatch(context.Background(), []string{"x"})

	// Then the retry succeeds with a real vector
	require.NoError(t, err)
	assert.False(t, vecs[0].Fallback)
	assert.Equal(t, int64(2), b.Calls())
}

func TestBatchEmbedder_FallbackAfterRetriesExhausted(t *testing.T) {
	// Given a provider that always times out
	timeout := transportError("scripted", context.DeadlineExceeded)
	p := newScripted(8, timeout, timeout, timeout)
	b := NewBatchEmbedder(p, 8, fastConfig())

	// When embedding
	vecs, err := b.EmbedBatch(context.Background(), []string{"x", "y"})

	// Then three attempts are made and fallback vectors are flagged
	require.NoError(t, err)
	assert.Equal(t, int64(3), b.Calls())
	require.Len(t, vecs, 2)
	for _, v := range vecs {
		assert.True(t, v.Fallback)
		assert.Len(t, v.Values, 8)
	}
	assert.Equal(t, int64(2), b.Fallbacks())

	// And fallback vectors are deterministic
	again := NewBatchEmbedder(nil, 8, fastConfig())
	vecs2, err := again.EmbedBatch(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, vecs[0].Values, vecs2[0].Values)
}

func TestBatchEmbedder_FatalErrorFailsImmediately(t *testing.T) {
	p := newScripted(8, statusError("scripted", 401, "bad key"))
	b := NewBatchEmbedder(p, 8, fastConfig())

	_, err := b.EmbedBatch(context.Background(), []string{"x"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, crerrors.ErrProviderUnavailable))
	assert.Equal(t, int64(1), b.Calls())
}

func TestBatchEmbedder_DimensionMismatch(t *testing.T) {
	p := newScripted(8)
	p.outDims = 4
	b := NewBatchEmbedder(p, 8, fastConfig())

	_, err := b.EmbedBatch(context.Background(), []string{"x"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, crerrors.ErrDimensionMismatch))
	assert.True(t, crerrors.IsFatal(err))
}

func TestBatchEmbedder_NoProvider(t *testing.T) {
	b := NewBatchEmbedder(nil, 32, fastConfig())

	vecs, err := b.EmbedBatch(context.Background(), texts(3))

	require.NoError(t, err)
	for _, v := range vecs {
		assert.True(t, v.Fallback)
		assert.Len(t, v.Values, 32)
	}
	assert.Equal(t, int64(0), b.Calls())
	assert.Equal(t, "fallback/hash", b.ModelName())
}

func TestBatchEmbedder_OpenBreakerSkipsProvider(t *testing.T) {
	// Given a breaker that opens after one exhausted batch
	timeout := transportError("scripted", context.DeadlineExceeded)
	p := newScripted(8, timeout)
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	cb := crerrors.NewCircuitBreaker("scripted", crerrors.WithMaxFailures(1), crerrors.WithResetTimeout(time.Hour))
	b := NewBatchEmbedder(p, 8, cfg, WithBreaker(cb))

	_, err := b.EmbedBatch(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Equal(t, crerrors.StateOpen, cb.State())

	// When embedding again
	vecs, err := b.EmbedBatch(context.Background(), []string{"y"})

	// Then the provider is not called and fallback is used
	require.NoError(t, err)
	assert.True(t, vecs[0].Fallback)
	assert.Equal(t, int64(1), b.Calls())
}

func TestBatchEmbedder_ProviderAvailable(t *testing.T) {
	// Given no provider
	assert.False(t, NewBatchEmbedder(nil, 8, fastConfig()).ProviderAvailable())

	// Given a provider behind a closed breaker
	p := newScripted(8, transportError("scripted", context.DeadlineExceeded))
	cfg := fastConfig()
	cfg.MaxAttempts = 1
	cb := crerrors.NewCircuitBreaker("scripted", crerrors.WithMaxFailures(1), crerrors.WithResetTimeout(time.Hour))
	b := NewBatchEmbedder(p, 8, cfg, WithBreaker(cb))
	assert.True(t, b.ProviderAvailable())

	// When one batch exhausts its attempts
	_, err := b.EmbedBatch(context.Background(), []string{"x"})
	require.NoError(t, err)

	// Then the open breaker makes the provider unavailable
	assert.False(t, b.ProviderAvailable())
}

func TestBatchEmbedder_CacheSkipsProvider(t *testing.T) {
	p := newScripted(8)
	b := NewBatchEmbedder(p, 8, fastConfig(), WithCache(10))

	first, err := b.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	second, err := b.EmbedBatch(context.Background(), []string{"b", "a", "c"})
	require.NoError(t, err)

	assert.Equal(t, first[0].Values, second[1].Values)
	assert.Equal(t, []int{2, 1}, p.batchSizes())
	assert.Equal(t, 3, b.cache.len())
}

func TestBatchEmbedder_RateLimitExceeded(t *testing.T) {
	// Given one request per minute and no tolerance for waiting
	p := newScripted(8)
	b := NewBatchEmbedder(p, 8, fastConfig(), WithLimiter(NewLimiter(1, 0, 10*time.Millisecond)))

	_, err := b.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)

	// When a second call needs budget
	_, err = b.EmbedBatch(context.Background(), []string{"b"})

	// Then it fails with RateLimitExceeded and the provider is not called
	require.Error(t, err)
	assert.True(t, errors.Is(err, crerrors.ErrRateLimitExceeded))
	assert.Equal(t, int64(1), b.Calls())
}

func TestBatchEmbedder_CanceledContext(t *testing.T) {
	timeout := transportError("scripted", context.DeadlineExceeded)
	p := newScripted(8, timeout, timeout, timeout)
	cfg := fastConfig()
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour
	b := NewBatchEmbedder(p, 8, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.EmbedBatch(ctx, []string{"a"})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBatchEmbedder_Probe(t *testing.T) {
	assert.NoError(t, NewBatchEmbedder(newScripted(8), 8, fastConfig()).Probe(context.Background()))
	assert.Error(t, NewBatchEmbedder(nil, 8, fastConfig()).Probe(context.Background()))
	assert.Error(t, NewBatchEmbedder(newScripted(8, statusError("scripted", 500, "x")), 8, fastConfig()).Probe(context.Background()))
}

func TestBatchEmbedder_Backoff(t *testing.T) {
	b := NewBatchEmbedder(nil, 8, BatchConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond})

	assert.Equal(t, 100*time.Millisecond, b.backoff(1))
	assert.Equal(t, 200*time.Millisecond, b.backoff(2))
	assert.Equal(t, 300*time.Millisecond, b.backoff(3))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want outcome
	}{
		{"nil", nil, outcomeSuccess},
		{"429", statusError("p", 429, ""), outcomeRetryable},
		{"500", statusError("p", 500, ""), outcomeRetryable},
		{"400", statusError("p", 400, ""), outcomeFatal},
		{"401", statusError("p", 401, ""), outcomeFatal},
		{"transport", transportError("p", errors.New("refused")), outcomeRetryable},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), outcomeRetryable},
		{"plain", errors.New("boom"), outcomeFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestBatchEmbedder_ProbePingsFirst(t *testing.T) {
	// Given: a provider whose ping reports a missing model
	p := &pingingProvider{scriptedProvider: newScripted(8), pingErr: errors.New("model not pulled")}
	b := NewBatchEmbedder(p, 8, fastConfig())

	// When: probing
	err := b.Probe(context.Background())

	// Then: the ping error is returned and no embedding call is made
	require.ErrorContains(t, err, "model not pulled")
	assert.Equal(t, 1, p.pings)
	assert.Empty(t, p.batchSizes())

	// And: a healthy ping proceeds to the embedding call
	p.pingErr = nil
	require.NoError(t, b.Probe(context.Background()))
	assert.Equal(t, []int{1}, p.batchSizes())
}
