package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/folio/internal/core/domain"
)

func TestCheck_ReportsEachRole(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[]}`))
		case "/models":
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	results := Check(context.Background(),
		domain.ProviderSettings{Provider: domain.AIProviderOllama, BaseURL: server.URL},
		domain.ProviderSettings{Provider: domain.AIProviderOpenAI, APIKey: "k", BaseURL: server.URL},
	)
	require.Len(t, results, 2)

	assert.Equal(t, "embedding", results[0].Role)
	assert.True(t, results[0].Configured)
	assert.NoError(t, results[0].Err)

	assert.Equal(t, "llm", results[1].Role)
	require.Error(t, results[1].Err)
	assert.ErrorIs(t, results[1].Err, domain.ErrProviderFatal)
	assert.Contains(t, results[1].Err.Error(), "bad key")
}

func TestCheck_UnconfiguredSkipsPing(t *testing.T) {
	results := Check(context.Background(), domain.ProviderSettings{}, domain.ProviderSettings{Provider: domain.AIProviderAnthropic})

	for _, r := range results {
		assert.False(t, r.Configured)
		assert.NoError(t, r.Err)
	}
}
