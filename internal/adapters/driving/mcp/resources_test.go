package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/folio/internal/core/domain"
)

func TestExtractNotebookID(t *testing.T) {
	tests := []struct {
		name     string
		uri      string
		expected string
	}{
		{name: "valid notebook documents URI", uri: "folio://notebooks/nb-123/documents", expected: "nb-123"},
		{name: "invalid prefix", uri: "file://notebooks/nb-123/documents", expected: ""},
		{name: "missing documents suffix", uri: "folio://notebooks/nb-123", expected: ""},
		{name: "empty URI", uri: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractNotebookID(tt.uri))
		})
	}
}

func TestExtractDocumentID(t *testing.T) {
	assert.Equal(t, "doc-456", extractDocumentID("folio://documents/doc-456"))
	assert.Equal(t, "", extractDocumentID("file://documents/doc-456"))
	assert.Equal(t, "", extractDocumentID(""))
}

// Helper to create a ReadResourceRequest with the given URI.
func makeReadResourceRequest(uri string) *mcp.ReadResourceRequest {
	return &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestServer_handleNotebooksResource(t *testing.T) {
	ctx := context.Background()

	t.Run("lists notebooks with fields", func(t *testing.T) {
		notebooks := &mockNotebookService{notebooks: []domain.Notebook{{
			ID:   "nb-1",
			Name: "Contracts",
			MetadataSchema: domain.MetadataSchema{Fields: []domain.FieldSpec{
				{Name: "party", Type: domain.FieldString},
			}},
		}}}
		server, err := NewServer(&Ports{Retrieval: &mockRetrievalService{}, Notebooks: notebooks})
		require.NoError(t, err)

		result, err := server.handleNotebooksResource(ctx, makeReadResourceRequest("folio://notebooks"))

		require.NoError(t, err)
		require.Len(t, result.Contents, 1)
		assert.Contains(t, result.Contents[0].Text, "nb-1")
		assert.Contains(t, result.Contents[0].Text, "party")
		assert.Equal(t, "application/json", result.Contents[0].MIMEType)
	})

	t.Run("returns error on list failure", func(t *testing.T) {
		notebooks := &mockNotebookService{err: errors.New("database error")}
		server, err := NewServer(&Ports{Retrieval: &mockRetrievalService{}, Notebooks: notebooks})
		require.NoError(t, err)

		_, err = server.handleNotebooksResource(ctx, makeReadResourceRequest("folio://notebooks"))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "listing notebooks")
	})
}

func TestServer_handleDocumentsResource(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid URI returns not found", func(t *testing.T) {
		server, err := NewServer(&Ports{Retrieval: &mockRetrievalService{}, Documents: &mockDocumentService{}})
		require.NoError(t, err)

		_, err = server.handleDocumentsResource(ctx, makeReadResourceRequest("folio://invalid/uri"))

		require.Error(t, err)
	})

	t.Run("returns documents with metadata", func(t *testing.T) {
		docs := &mockDocumentService{documents: []domain.Document{
			{ID: "doc-1", Title: "lease.pdf", Metadata: map[string]any{"party": "Acme"}},
			{ID: "doc-2", Title: "nda.md"},
		}}
		server, err := NewServer(&Ports{Retrieval: &mockRetrievalService{}, Documents: docs})
		require.NoError(t, err)

		result, err := server.handleDocumentsResource(ctx, makeReadResourceRequest("folio://notebooks/nb-1/documents"))

		require.NoError(t, err)
		require.Len(t, result.Contents, 1)
		assert.Contains(t, result.Contents[0].Text, "lease.pdf")
		assert.Contains(t, result.Contents[0].Text, "Acme")
		assert.Contains(t, result.Contents[0].Text, "doc-2")
	})

	t.Run("handles empty document list", func(t *testing.T) {
		server, err := NewServer(&Ports{
			Retrieval: &mockRetrievalService{},
			Documents: &mockDocumentService{documents: []domain.Document{}},
		})
		require.NoError(t, err)

		result, err := server.handleDocumentsResource(ctx, makeReadResourceRequest("folio://notebooks/nb-1/documents"))

		require.NoError(t, err)
		assert.Equal(t, "[]", result.Contents[0].Text)
	})
}

func TestServer_handleDocumentContentResource(t *testing.T) {
	ctx := context.Background()

	t.Run("returns stored content", func(t *testing.T) {
		docs := &mockDocumentService{document: &domain.Document{ID: "doc-1", Content: "# Hello World"}}
		server, err := NewServer(&Ports{Retrieval: &mockRetrievalService{}, Documents: docs})
		require.NoError(t, err)

		result, err := server.handleDocumentContentResource(ctx, makeReadResourceRequest("folio://documents/doc-1"))

		require.NoError(t, err)
		assert.Equal(t, "# Hello World", result.Contents[0].Text)
		assert.Equal(t, "text/plain", result.Contents[0].MIMEType)
	})

	t.Run("falls back to chunk text", func(t *testing.T) {
		docs := &mockDocumentService{
			document: &domain.Document{ID: "doc-1"},
			chunks:   []domain.Chunk{{Text: "first"}, {Text: "second"}},
		}
		server, err := NewServer(&Ports{Retrieval: &mockRetrievalService{}, Documents: docs})
		require.NoError(t, err)

		result, err := server.handleDocumentContentResource(ctx, makeReadResourceRequest("folio://documents/doc-1"))

		require.NoError(t, err)
		assert.Equal(t, "first\n\nsecond", result.Contents[0].Text)
	})

	t.Run("returns error on get failure", func(t *testing.T) {
		docs := &mockDocumentService{err: errors.New("content not found")}
		server, err := NewServer(&Ports{Retrieval: &mockRetrievalService{}, Documents: docs})
		require.NoError(t, err)

		_, err = server.handleDocumentContentResource(ctx, makeReadResourceRequest("folio://documents/doc-1"))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "getting document")
	})
}
