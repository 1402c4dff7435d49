package ranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"jobpilot/internal/resilience"
)

const (
	defaultOpenAIEmbeddingModel = "text-embedding-3-small"
	openAIEmbeddingsURL         = "https://api.openai.com/v1/embeddings"
)

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	apiKey     string
	model      string
	dims       int
	endpoint   string
	httpClient *http.Client
}

// NewOpenAIEmbedder returns an embedder for apiKey.
func NewOpenAIEmbedder(apiKey, model string, dims int, timeout time.Duration) *OpenAIEmbedder {
	if model == "" {
		model = defaultOpenAIEmbeddingModel
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OpenAIEmbedder{
		apiKey:     apiKey,
		model:      model,
		dims:       dims,
		endpoint:   openAIEmbeddingsURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Version implements Embedder.
func (o *OpenAIEmbedder) Version() string { return fmt.Sprintf("openai-%s-d%d", o.model, o.dims) }

type openAIEmbeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Embedder.
func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(openAIEmbeddingRequest{Model: o.model, Input: text, Dimensions: o.dims})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &resilience.StatusError{Provider: "openai", Code: resp.StatusCode, Body: string(snippet)}
	}
	var parsed openAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode openai embedding: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai returned no embedding")
	}
	return parsed.Data[0].Embedding, nil
}
