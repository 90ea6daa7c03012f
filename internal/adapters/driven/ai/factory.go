// Package ai builds the embedding and LLM adapters from provider settings
// and wraps them in per-provider throttles.
package ai

import (
	"context"
	"fmt"
	"time"

	ollamaembed "github.com/custodia-labs/folio/internal/adapters/driven/embedding/ollama"
	openaiembed "github.com/custodia-labs/folio/internal/adapters/driven/embedding/openai"
	anthropicllm "github.com/custodia-labs/folio/internal/adapters/driven/llm/anthropic"
	ollamallm "github.com/custodia-labs/folio/internal/adapters/driven/llm/ollama"
	openaillm "github.com/custodia-labs/folio/internal/adapters/driven/llm/openai"
	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
	"github.com/custodia-labs/folio/internal/logger"
)

// pingTimeout is the maximum time to wait for service connectivity validation.
const pingTimeout = 5 * time.Second

// Options selects and configures the AI services.
type Options struct {
	Embedding domain.ProviderSettings
	LLM       domain.ProviderSettings

	// Throttles holds per-provider limits. Missing providers use the defaults.
	Throttles map[domain.AIProvider]domain.ThrottleSettings

	// Metrics receives one observation per provider call. May be nil.
	Metrics driven.MetricsRecorder

	// Ping checks connectivity before returning. An unreachable provider
	// is dropped with a warning instead of failing startup.
	Ping bool
}

// InitResult contains the result of AI service initialisation.
type InitResult struct {
	// EmbeddingService is nil when embeddings are not configured.
	EmbeddingService driven.EmbeddingService

	// LLMService is nil when generation is not configured.
	LLMService driven.LLMService

	// Warnings lists non-fatal issues that disabled a service.
	Warnings []string
}

// Close releases all resources held by InitResult.
func (r *InitResult) Close() {
	if r.EmbeddingService != nil {
		_ = r.EmbeddingService.Close()
	}
	if r.LLMService != nil {
		_ = r.LLMService.Close()
	}
}

// Init creates the configured services. Both roles share one throttle when
// they use the same provider, since they draw on the same quota.
func Init(ctx context.Context, opts Options) (*InitResult, error) {
	result := &InitResult{}
	throttles := make(map[domain.AIProvider]*Throttle)
	throttleFor := func(p domain.AIProvider) *Throttle {
		if t, ok := throttles[p]; ok {
			return t
		}
		t := NewThrottle(p, opts.Throttles[p], opts.Metrics)
		throttles[p] = t
		return t
	}

	embedder, err := CreateEmbeddingService(opts.Embedding)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
	}
	if embedder != nil {
		if opts.Ping {
			if err := ping(ctx, embedder.Ping); err != nil {
				_ = embedder.Close()
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("embedding provider %s unreachable: %v", opts.Embedding.Provider, err))
				embedder = nil
			}
		}
		if embedder != nil {
			result.EmbeddingService = NewThrottledEmbedding(embedder, throttleFor(opts.Embedding.Provider))
		}
	}

	llm, err := CreateLLMService(opts.LLM)
	if err != nil {
		result.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrLLMUnavailable, err)
	}
	if llm != nil {
		if opts.Ping {
			if err := ping(ctx, llm.Ping); err != nil {
				_ = llm.Close()
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("LLM provider %s unreachable: %v", opts.LLM.Provider, err))
				llm = nil
			}
		}
		if llm != nil {
			result.LLMService = NewThrottledLLM(llm, throttleFor(opts.LLM.Provider))
		}
	}

	for _, w := range result.Warnings {
		logger.Warn("ai: %s", w)
	}
	return result, nil
}

func ping(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return fn(ctx)
}

// CreateEmbeddingService creates the appropriate embedding service based on settings.
// Returns nil if the provider is not configured.
func CreateEmbeddingService(settings domain.ProviderSettings) (driven.EmbeddingService, error) {
	if !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOllama:
		return ollamaembed.NewEmbeddingService(ollamaembed.Config{
			BaseURL:    settings.BaseURL,
			Model:      settings.Model,
			Dimensions: domain.EmbeddingDimensions()[settings.Model],
			BatchSize:  settings.BatchSize,
		}), nil

	case domain.AIProviderOpenAI:
		svc, err := openaiembed.NewEmbeddingService(openaiembed.Config{
			APIKey:     settings.APIKey,
			BaseURL:    settings.BaseURL,
			Model:      settings.Model,
			Dimensions: domain.EmbeddingDimensions()[settings.Model],
			BatchSize:  settings.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		return svc, nil

	case domain.AIProviderAnthropic:
		return nil, fmt.Errorf("%w: anthropic does not support embeddings, use ollama or openai",
			domain.ErrUnsupportedType)

	default:
		return nil, fmt.Errorf("%w: embedding provider %q", domain.ErrUnsupportedType, settings.Provider)
	}
}

// CreateLLMService creates the appropriate LLM service based on settings.
// Returns nil if the provider is not configured.
func CreateLLMService(settings domain.ProviderSettings) (driven.LLMService, error) {
	if !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOllama:
		return ollamallm.NewLLMService(ollamallm.LLMConfig{
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
		}), nil

	case domain.AIProviderOpenAI:
		svc, err := openaillm.NewLLMService(openaillm.LLMConfig{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
		})
		if err != nil {
			return nil, err
		}
		return svc, nil

	case domain.AIProviderAnthropic:
		svc, err := anthropicllm.NewLLMService(anthropicllm.Config{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
		})
		if err != nil {
			return nil, err
		}
		return svc, nil

	default:
		return nil, fmt.Errorf("%w: LLM provider %q", domain.ErrUnsupportedType, settings.Provider)
	}
}
