package services

import (
	"context"
	"fmt"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
	"github.com/custodia-labs/folio/internal/core/ports/driving"
	"github.com/custodia-labs/folio/internal/logger"
)

// Ensure DocumentService implements the interface.
var _ driving.DocumentService = (*DocumentService)(nil)

// DocumentService exposes stored documents and their chunks.
type DocumentService struct {
	docs   driven.DocumentStore
	chunks driven.ChunkStore
}

// NewDocumentService creates a document service.
func NewDocumentService(docs driven.DocumentStore, chunks driven.ChunkStore) *DocumentService {
	return &DocumentService{docs: docs, chunks: chunks}
}

// Get returns a document.
func (s *DocumentService) Get(ctx context.Context, id string) (*domain.Document, error) {
	return s.docs.GetDocument(ctx, id)
}

// List returns a notebook's documents.
func (s *DocumentService) List(ctx context.Context, notebookID string) ([]domain.Document, error) {
	return s.docs.ListDocuments(ctx, notebookID)
}

// Chunks returns a document's chunks in order.
func (s *DocumentService) Chunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	if _, err := s.docs.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return s.chunks.GetChunks(ctx, documentID)
}

// Delete removes a document. Citations already stored on reports and chat
// messages keep their snapshot and are not touched.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	if err := s.docs.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	logger.Debug("documents: deleted %s", id)
	return nil
}
