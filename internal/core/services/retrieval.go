package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
	"github.com/custodia-labs/folio/internal/core/ports/driving"
	"github.com/custodia-labs/folio/internal/logger"
)

// Ensure RetrievalService implements the interface.
var _ driving.RetrievalService = (*RetrievalService)(nil)

// BatchSearchPayload is the payload of a batch_search job.
type BatchSearchPayload struct {
	Query   domain.RetrievalQuery `json:"query"`
	Queries []string              `json:"queries"`
}

// BatchSearchResult is one query's hits in a batch_search job result.
type BatchSearchResult struct {
	Query string               `json:"query"`
	Hits  []domain.ScoredChunk `json:"hits"`
}

// RetrievalService ranks stored chunks against a query.
type RetrievalService struct {
	chunks   driven.ChunkStore
	docs     driven.DocumentStore
	embedder driven.EmbeddingService
	config   domain.RetrievalConfig
}

// NewRetrievalService creates a retriever. embedder may be nil, in which
// case only vector queries are accepted.
func NewRetrievalService(
	chunks driven.ChunkStore,
	docs driven.DocumentStore,
	embedder driven.EmbeddingService,
	config domain.RetrievalConfig,
) *RetrievalService {
	if config.TopK <= 0 {
		config.TopK = domain.DefaultTopK
	}
	return &RetrievalService{chunks: chunks, docs: docs, embedder: embedder, config: config}
}

// Query returns the best chunks for one query.
func (s *RetrievalService) Query(ctx context.Context, q domain.RetrievalQuery) ([]domain.ScoredChunk, error) {
	logger.Section("Retrieval")
	if err := domain.ValidateStruct(&q); err != nil {
		return nil, err
	}

	vector := q.Vector
	if len(vector) == 0 {
		text := strings.TrimSpace(q.Text)
		if text == "" {
			return nil, domain.NewValidationError("query needs text or a vector", map[string]string{"text": "is required"})
		}
		if s.embedder == nil {
			return nil, domain.ErrEmbeddingUnavailable
		}
		v, err := s.embedder.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		vector = v
	}

	return s.search(ctx, q, vector)
}

// QueryBatch embeds every text in one provider call and runs one search each.
func (s *RetrievalService) QueryBatch(ctx context.Context, base domain.RetrievalQuery, texts []string) ([][]domain.ScoredChunk, error) {
	logger.Section("Batch Retrieval")
	base.Text, base.Vector = "", nil
	if err := domain.ValidateStruct(&base); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]domain.ScoredChunk{}, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, domain.NewValidationError(fmt.Sprintf("query %d is empty", i), map[string]string{fmt.Sprintf("queries[%d]", i): "is required"})
		}
	}
	if s.embedder == nil {
		return nil, domain.ErrEmbeddingUnavailable
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed queries: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, domain.NewProviderError("embed queries", fmt.Errorf("got %d vectors for %d queries", len(vectors), len(texts)), 0)
	}

	results := make([][]domain.ScoredChunk, len(texts))
	for i, v := range vectors {
		q := base
		q.Text = texts[i]
		hits, err := s.search(ctx, q, v)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		results[i] = hits
	}
	return results, nil
}

// HandleBatchSearch runs a batch_search job.
func (s *RetrievalService) HandleBatchSearch(ctx context.Context, job *domain.Job) (any, error) {
	var p BatchSearchPayload
	if err := job.DecodePayload(&p); err != nil {
		return nil, err
	}
	if p.Query.NotebookID == "" {
		p.Query.NotebookID = job.NotebookID
	}
	hits, err := s.QueryBatch(ctx, p.Query, p.Queries)
	if err != nil {
		return nil, err
	}
	out := make([]BatchSearchResult, len(hits))
	for i := range hits {
		out[i] = BatchSearchResult{Query: p.Queries[i], Hits: hits[i]}
	}
	return out, nil
}

func (s *RetrievalService) search(ctx context.Context, q domain.RetrievalQuery, vector []float32) ([]domain.ScoredChunk, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = s.config.TopK
	}
	topK = min(topK, domain.MaxTopK)
	threshold := s.config.Threshold
	if q.Threshold != nil {
		threshold = *q.Threshold
	}

	model := ""
	if s.embedder != nil {
		model = s.embedder.ModelName()
	}
	logger.Debug("retrieval: notebook=%s model=%s top_k=%d threshold=%.3f", q.NotebookID, model, topK, threshold)

	hits, err := s.chunks.SearchSimilar(ctx, domain.SimilarityQuery{
		NotebookID:  q.NotebookID,
		Model:       model,
		Vector:      domain.Normalize(vector),
		Limit:       topK,
		MinScore:    threshold,
		Filter:      q.Filter,
		DocumentIDs: q.DocumentIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	// Stores may over-fetch or round scores; the final cut is made here.
	kept := hits[:0]
	for _, h := range hits {
		if h.Score >= threshold {
			kept = append(kept, h)
		}
	}
	domain.SortHits(kept)
	if len(kept) > topK {
		kept = kept[:topK]
	}

	s.hydrateTitles(ctx, kept)
	logger.Debug("retrieval: %d hits", len(kept))
	if kept == nil {
		kept = []domain.ScoredChunk{}
	}
	return kept, nil
}

// hydrateTitles fills DocumentTitle where the store left it empty.
func (s *RetrievalService) hydrateTitles(ctx context.Context, hits []domain.ScoredChunk) {
	if s.docs == nil {
		return
	}
	titles := make(map[string]string)
	for i := range hits {
		if hits[i].DocumentTitle != "" {
			continue
		}
		id := hits[i].Chunk.DocumentID
		title, ok := titles[id]
		if !ok {
			if doc, err := s.docs.GetDocument(ctx, id); err == nil {
				title = doc.Title
			}
			titles[id] = title
		}
		hits[i].DocumentTitle = title
	}
}
