package driving

import (
	"context"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// IngestRequest is one uploaded document.
type IngestRequest struct {
	NotebookID string `json:"notebook_id" validate:"required"`
	Filename   string `json:"filename"`
	MIMEType   string `json:"mime_type"`
	Content    []byte `json:"-" validate:"required"`
}

// IngestReceipt identifies the work started by a submission.
type IngestReceipt struct {
	JobID        string `json:"job_id"`
	DocumentID   string `json:"document_id"`
	Deduplicated bool   `json:"deduplicated"`
}

// IngestService accepts documents for background processing.
type IngestService interface {
	// Submit stores the upload and enqueues an ingest job.
	// It returns as soon as the job is queued.
	Submit(ctx context.Context, req IngestRequest) (*IngestReceipt, error)
}

// DocumentService exposes stored documents.
type DocumentService interface {
	// Get returns domain.ErrNotFound if the document does not exist.
	Get(ctx context.Context, id string) (*domain.Document, error)

	// List returns a notebook's documents without raw bytes.
	List(ctx context.Context, notebookID string) ([]domain.Document, error)

	// Chunks returns a document's chunks ordered by ordinal.
	Chunks(ctx context.Context, documentID string) ([]domain.Chunk, error)

	// Delete removes a document, its chunks and its embeddings.
	Delete(ctx context.Context, id string) error
}
