package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/folio/internal/core/domain"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *EmbeddingService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	svc, err := NewEmbeddingService(Config{APIKey: "sk-test", BaseURL: server.URL, BatchSize: 4})
	require.NoError(t, err)
	return svc
}

func vector(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestNewEmbeddingService_RequiresKey(t *testing.T) {
	_, err := NewEmbeddingService(Config{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestNewEmbeddingService_Defaults(t *testing.T) {
	svc, err := NewEmbeddingService(Config{APIKey: "k", Model: "text-embedding-3-large"})
	require.NoError(t, err)

	assert.Equal(t, 3072, svc.Dimensions())
	assert.Equal(t, DefaultBatchSize, svc.MaxBatchSize())
	assert.Equal(t, DefaultBaseURL, svc.baseURL)
}

func TestEmbedBatch_OrdersByIndex(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req embeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.Input)
		assert.Equal(t, 1536, req.Dimensions)

		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
			{"index": 1, "embedding": vector(1536, 0.2)},
			{"index": 0, "embedding": vector(1536, 0.1)},
		}})
	})

	vecs, err := svc.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.InDelta(t, 0.1, vecs[0][0], 1e-6)
	assert.InDelta(t, 0.2, vecs[1][0], 1e-6)
}

func TestEmbedBatch_MissingItemIsBatchError(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
			{"index": 0, "embedding": vector(1536, 0.1)},
			{"index": 2, "embedding": vector(3, 0.1)},
		}})
	})

	vecs, err := svc.EmbedBatch(context.Background(), []string{"a", "b", "c"})

	var batchErr *domain.BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Len(t, batchErr.Failed, 2)
	assert.True(t, domain.IsRetryable(batchErr.Failed[1]))
	assert.ErrorIs(t, batchErr.Failed[2], domain.ErrProviderFatal)
	assert.NotNil(t, vecs[0])
	assert.Nil(t, vecs[1])
	assert.Nil(t, vecs[2])
}

func TestEmbedBatch_RejectsOversizedBatch(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := svc.EmbedBatch(context.Background(), []string{"1", "2", "3", "4", "5"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestEmbed_RateLimited(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached"}}`))
	})

	_, err := svc.Embed(context.Background(), "a")
	require.ErrorIs(t, err, domain.ErrProvider)
	assert.Equal(t, "7s", domain.RetryAfterOf(err).String())
}

func TestPing_InvalidKeyIsFatal(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.WriteHeader(http.StatusUnauthorized)
	})

	assert.ErrorIs(t, svc.Ping(context.Background()), domain.ErrProviderFatal)
}
