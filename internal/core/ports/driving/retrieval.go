package driving

import (
	"context"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// RetrievalService finds the chunks most similar to a query.
type RetrievalService interface {
	// Query returns at most TopK hits above the threshold, best first.
	// No hits is an empty result, not an error.
	Query(ctx context.Context, q domain.RetrievalQuery) ([]domain.ScoredChunk, error)

	// QueryBatch runs one query per text with a single embedding call.
	// base supplies scope, TopK, threshold and filter for every query.
	QueryBatch(ctx context.Context, base domain.RetrievalQuery, texts []string) ([][]domain.ScoredChunk, error)
}
