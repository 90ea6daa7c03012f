// Package ollama provides an embedding service adapter using Ollama.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/custodia-labs/folio/internal/adapters/driven/ai/providerhttp"
	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
)

// Ensure EmbeddingService implements the interface.
var _ driven.EmbeddingService = (*EmbeddingService)(nil)

// Default configuration values.
const (
	DefaultBaseURL    = "http://localhost:11434"
	DefaultModel      = "nomic-embed-text"
	DefaultTimeout    = 60 * time.Second
	DefaultDimensions = 768 // nomic-embed-text default
	DefaultBatchSize  = 32
)

// Config holds configuration for the Ollama embedding service.
type Config struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the embedding model to use (default: nomic-embed-text).
	Model string

	// Timeout is the request timeout (default: 60s).
	Timeout time.Duration

	// Dimensions is the embedding vector size (model-dependent).
	Dimensions int

	// BatchSize caps inputs per request (default: 32).
	BatchSize int
}

// EmbeddingService generates embeddings using Ollama.
type EmbeddingService struct {
	client     *http.Client
	baseURL    string
	model      string
	dimensions int
	batchSize  int
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewEmbeddingService creates a new Ollama embedding service.
func NewEmbeddingService(cfg Config) *EmbeddingService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = domain.EmbeddingDimensions()[cfg.Model]
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	return &EmbeddingService{
		client:     &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
	}
}

// Embed generates a vector embedding for the given text.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		var batchErr *domain.BatchError
		if errors.As(err, &batchErr) {
			return nil, batchErr.Failed[0]
		}
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch embeds texts through the /api/embed endpoint. Vectors missing
// from the response or of the wrong size are reported through a
// *domain.BatchError alongside the ones that arrived.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > s.batchSize {
		return nil, domain.NewValidationError(
			fmt.Sprintf("ollama: batch of %d exceeds limit %d", len(texts), s.batchSize), nil)
	}

	resp, err := providerhttp.PostJSON(ctx, s.client, "ollama embed", s.baseURL+"/api/embed", nil,
		embedRequest{Model: s.model, Input: texts})
	if err != nil {
		return nil, err
	}
	var embedResp embedResponse
	if err := providerhttp.DecodeJSON("ollama embed", resp, &embedResp); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(texts))
	failed := make(map[int]error)
	for i := range texts {
		if i >= len(embedResp.Embeddings) || len(embedResp.Embeddings[i]) == 0 {
			failed[i] = domain.NewProviderError("ollama embed", fmt.Errorf("no embedding for input %d", i), 0)
			continue
		}
		vec := embedResp.Embeddings[i]
		if len(vec) != s.dimensions {
			failed[i] = domain.NewProviderFatalError("ollama embed",
				fmt.Errorf("input %d: got %d dimensions, want %d", i, len(vec), s.dimensions))
			continue
		}
		embeddings[i] = vec
	}
	if len(failed) > 0 {
		return embeddings, &domain.BatchError{Failed: failed}
	}
	return embeddings, nil
}

// Dimensions returns the embedding vector size.
func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

// ModelName returns the name of the embedding model being used.
func (s *EmbeddingService) ModelName() string {
	return s.model
}

// MaxBatchSize returns the configured inputs per request.
func (s *EmbeddingService) MaxBatchSize() int {
	return s.batchSize
}

// Ping checks the server is reachable via /api/tags without loading a model.
func (s *EmbeddingService) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return fmt.Errorf("ollama: create ping request: %w", err)
	}
	resp, err := providerhttp.Do(s.client, "ollama ping", req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Close releases resources.
func (s *EmbeddingService) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
