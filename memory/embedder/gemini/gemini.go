// Package gemini embeds text with the Gemini embedding API.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// DefaultModel is the Gemini text embedding model.
const DefaultModel = "text-embedding-004"

// DefaultDimensions is the vector size of DefaultModel.
const DefaultDimensions = 768

// Embedder implements memory.Embedder on top of a genai client.
type Embedder struct {
	client *genai.Client
	model  string
	dims   int
}

// Config configures an Embedder.
type Config struct {
	APIKey     string
	Model      string
	Dimensions int

	// BaseURL overrides the API endpoint.
	BaseURL string
}

// New creates a Gemini API client and wraps it.
func New(ctx context.Context, cfg Config) (*Embedder, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return NewFromClient(client, cfg.Model, cfg.Dimensions), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *genai.Client, model string, dims int) *Embedder {
	if model == "" {
		model = DefaultModel
	}
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Embedder{client: client, model: model, dims: dims}
}

// Embed returns the embedding for text. Blank text yields an empty vector
// without a request.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return []float32{}, nil
	}
	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, errors.New("embed content: empty response")
	}
	return resp.Embeddings[0].Values, nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dims
}
