package ai

import (
	"context"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// CheckResult is the outcome of probing one configured provider.
type CheckResult struct {
	Role     string
	Provider domain.AIProvider
	Model    string

	// Configured is false when the role has no usable settings.
	Configured bool

	// Err is nil when the provider answered the ping.
	Err error
}

// Check builds each configured service and pings it. Used by
// `folio config check` to validate credentials without starting anything.
func Check(ctx context.Context, embedding, llm domain.ProviderSettings) []CheckResult {
	results := []CheckResult{
		{Role: "embedding", Provider: embedding.Provider, Model: embedding.Model, Configured: embedding.IsConfigured()},
		{Role: "llm", Provider: llm.Provider, Model: llm.Model, Configured: llm.IsConfigured()},
	}

	if results[0].Configured {
		svc, err := CreateEmbeddingService(embedding)
		if err == nil {
			err = ping(ctx, svc.Ping)
			_ = svc.Close()
		}
		results[0].Err = err
	}
	if results[1].Configured {
		svc, err := CreateLLMService(llm)
		if err == nil {
			err = ping(ctx, svc.Ping)
			_ = svc.Close()
		}
		results[1].Err = err
	}
	return results
}
