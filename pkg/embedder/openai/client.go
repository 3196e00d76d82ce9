// Package openai implements the embedder.Provider interface on top of
// the OpenAI Embeddings API. Any OpenAI-compatible endpoint works by
// overriding the base URL.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultDimensions is the vector width of the default model.
const DefaultDimensions = 1536

// Client calls the OpenAI Embeddings API.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// Config configures the OpenAI embedding client.
type Config struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// Model selects the embedding model. Defaults to
	// text-embedding-3-small.
	Model string

	// BaseURL overrides the API endpoint, for OpenAI-compatible
	// providers and proxies.
	BaseURL string

	// Dimensions declares the vector width the model emits. Defaults
	// to DefaultDimensions.
	Dimensions int
}

// NewClient creates an OpenAI embedding client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embedder: api key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	model := openai.EmbeddingModel(cfg.Model)
	if cfg.Model == "" {
		model = openai.SmallEmbedding3
	}

	dimensions := cfg.Dimensions
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}

	return &Client{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed converts one text into its embedding vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embedder: no embedding returned")
	}
	return toFloat64(resp.Data[0].Embedding), nil
}

// EmbedBatch converts several texts in one request. The result holds
// one vector per input, in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: got %d embeddings for %d inputs",
			len(resp.Data), len(texts))
	}

	embeddings := make([][]float64, len(resp.Data))
	for i, data := range resp.Data {
		embeddings[i] = toFloat64(data.Embedding)
	}
	return embeddings, nil
}

// Dimensions returns the configured vector width.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op; the underlying HTTP client needs no teardown.
func (c *Client) Close() error {
	return nil
}

// toFloat64 widens the API's float32 vectors.
func toFloat64(embedding []float32) []float64 {
	widened := make([]float64, len(embedding))
	for i, v := range embedding {
		widened[i] = float64(v)
	}
	return widened
}
