package ranker

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"jobpilot/internal/errors"
)

const defaultGeminiEmbeddingModel = "text-embedding-004"

// GeminiEmbedder calls the Gemini embedding API.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
	dims   int32
}

// NewGeminiEmbedder creates a client for apiKey.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dims int) (*GeminiEmbedder, error) {
	if model == "" {
		model = defaultGeminiEmbeddingModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.NewUpstreamError(errors.ErrCodeEmbedderFailed, "Failed to create Gemini client", err)
	}
	return &GeminiEmbedder{client: client, model: model, dims: int32(dims)}, nil
}

// Version implements Embedder.
func (g *GeminiEmbedder) Version() string { return fmt.Sprintf("gemini-%s-d%d", g.model, g.dims) }

// Embed implements Embedder.
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	dims := g.dims
	resp, err := g.client.Models.EmbedContent(ctx, g.model, genai.Text(text), &genai.EmbedContentConfig{
		TaskType:             "SEMANTIC_SIMILARITY",
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("gemini returned no embedding")
	}
	values := resp.Embeddings[0].Values
	vec := make([]float64, len(values))
	for i, v := range values {
		vec[i] = float64(v)
	}
	if len(vec) != int(g.dims) {
		return nil, fmt.Errorf("gemini returned %d dimensions, want %d", len(vec), g.dims)
	}
	return vec, nil
}
