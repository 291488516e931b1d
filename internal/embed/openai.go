package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Aman-CERP/coderecall/pkg/version"
)

// DefaultOpenAIEndpoint is the OpenAI-compatible API base URL.
const DefaultOpenAIEndpoint = "https://api.openai.com/v1"

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	Endpoint   string
	APIKey     string
	Model      string
	Dimensions int
}

type openAIRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// OpenAIProvider calls POST {endpoint}/embeddings.
type OpenAIProvider struct {
	client *http.Client
	config OpenAIConfig
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a provider. A missing API key is reported on
// the first call as a non-retryable error.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultOpenAIEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 1536
	}
	return &OpenAIProvider{client: &http.Client{}, config: cfg}
}

func (p *OpenAIProvider) Name() string    { return "openai" }
func (p *OpenAIProvider) Model() string   { return p.config.Model }
func (p *OpenAIProvider) Dimensions() int { return p.config.Dimensions }

func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if p.config.APIKey == "" {
		return nil, &ProviderError{Provider: p.Name(), Message: "API key is not set"}
	}

	body, err := json.Marshal(openAIRequest{
		Model:      p.config.Model,
		Input:      texts,
		Dimensions: p.config.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Message: "invalid request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, transportError(p.Name(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(p.Name(), resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Message: "failed to decode response", Retryable: true, Cause: err}
	}
	if len(result.Data) != len(texts) {
		return nil, &ProviderError{
			Provider: p.Name(),
			Message:  fmt.Sprintf("returned %d embeddings for %d inputs", len(result.Data), len(texts)),
		}
	}

	out := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, &ProviderError{Provider: p.Name(), Message: fmt.Sprintf("embedding index %d out of range", d.Index)}
		}
		out[d.Index] = normalizeVector(d.Embedding)
	}
	return out, nil
}
