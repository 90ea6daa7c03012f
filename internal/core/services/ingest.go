package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
	"github.com/custodia-labs/folio/internal/core/ports/driving"
	"github.com/custodia-labs/folio/internal/logger"
)

// Ensure IngestService implements the interface.
var _ driving.IngestService = (*IngestService)(nil)

// IngestPayload is the payload of an ingest job.
type IngestPayload struct {
	DocumentID string `json:"document_id"`
}

// IngestResult is the result of an ingest job.
type IngestResult struct {
	DocumentID       string   `json:"document_id"`
	Title            string   `json:"title"`
	Chunks           int      `json:"chunks"`
	EmbedJobID       string   `json:"embed_job_id"`
	MetadataFields   int      `json:"metadata_fields"`
	MetadataWarnings []string `json:"metadata_warnings,omitempty"`
}

// IngestService stores uploads and runs the normalise, chunk and
// metadata steps of the pipeline as ingest jobs.
type IngestService struct {
	notebooks driven.NotebookStore
	docs      driven.DocumentStore
	chunks    driven.ChunkStore
	registry  driven.NormaliserRegistry
	pipeline  driven.PostProcessorPipeline
	extractor *MetadataExtractor
	jobs      driving.JobService
	now       func() time.Time
}

// NewIngestService creates an ingest service.
func NewIngestService(
	notebooks driven.NotebookStore,
	docs driven.DocumentStore,
	chunks driven.ChunkStore,
	registry driven.NormaliserRegistry,
	pipeline driven.PostProcessorPipeline,
	extractor *MetadataExtractor,
	jobs driving.JobService,
) *IngestService {
	return &IngestService{
		notebooks: notebooks,
		docs:      docs,
		chunks:    chunks,
		registry:  registry,
		pipeline:  pipeline,
		extractor: extractor,
		jobs:      jobs,
		now:       time.Now,
	}
}

// Submit stores the upload and enqueues its ingest job.
func (s *IngestService) Submit(ctx context.Context, req driving.IngestRequest) (*driving.IngestReceipt, error) {
	if err := domain.ValidateStruct(&req); err != nil {
		return nil, err
	}
	nb, err := s.notebooks.GetNotebook(ctx, req.NotebookID)
	if err != nil {
		return nil, fmt.Errorf("get notebook: %w", err)
	}

	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = s.registry.DetectMIMEType(req.Filename, req.Content)
	}
	if _, err := s.registry.Get(mimeType); err != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("unsupported content type %q", mimeType),
			map[string]string{"mime_type": "supported: " + strings.Join(s.registry.SupportedMIMETypes(), ", ")})
	}

	hash := domain.ContentHash(req.Content)
	if nb.DedupPolicy == domain.DedupContentHash {
		existing, err := s.docs.FindByContentHash(ctx, nb.ID, hash)
		switch {
		case err == nil:
			logger.Info("ingest: %s duplicates document %s", req.Filename, existing.ID)
			return &driving.IngestReceipt{DocumentID: existing.ID, Deduplicated: true}, nil
		case !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("find duplicate: %w", err)
		}
	}

	now := s.now().UTC()
	doc := &domain.Document{
		ID:          uuid.NewString(),
		NotebookID:  nb.ID,
		Title:       titleFromFilename(req.Filename),
		URI:         req.Filename,
		MIMEType:    mimeType,
		Raw:         req.Content,
		ContentHash: hash,
		IngestedAt:  now,
		UpdatedAt:   now,
	}
	if err := s.docs.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}

	job, err := s.jobs.Enqueue(ctx, domain.JobKindIngest, nb.ID, IngestPayload{DocumentID: doc.ID})
	if err != nil {
		return nil, fmt.Errorf("enqueue ingest: %w", err)
	}
	logger.Info("ingest: queued %s as document %s (job %s)", doc.URI, doc.ID, job.ID)
	return &driving.IngestReceipt{JobID: job.ID, DocumentID: doc.ID}, nil
}

// Handle runs an ingest job: normalise, chunk, commit chunks, enqueue the
// embed job, then extract metadata while embedding proceeds elsewhere.
func (s *IngestService) Handle(ctx context.Context, job *domain.Job) (any, error) {
	var p IngestPayload
	if err := job.DecodePayload(&p); err != nil {
		return nil, err
	}

	doc, err := s.docs.GetDocument(ctx, p.DocumentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewConsistencyError("ingest", "document "+p.DocumentID+" no longer exists")
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	nb, err := s.notebooks.GetNotebook(ctx, doc.NotebookID)
	if err != nil {
		return nil, fmt.Errorf("get notebook: %w", err)
	}

	logger.Section("Ingest " + doc.URI)

	normalised, err := s.registry.Normalise(ctx, &domain.RawDocument{
		URI:      doc.URI,
		MIMEType: doc.MIMEType,
		Content:  doc.Raw,
	})
	if err != nil {
		return nil, fmt.Errorf("normalise: %w", err)
	}
	doc.Content = normalised.Content
	if normalised.Title != "" {
		doc.Title = normalised.Title
	}
	doc.UpdatedAt = s.now().UTC()
	if err := s.docs.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}

	chunks, err := s.pipeline.Process(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("chunk: %w", err)
	}
	if err := s.chunks.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return nil, fmt.Errorf("store chunks: %w", err)
	}
	logger.Debug("ingest: %s produced %d chunks", doc.ID, len(chunks))

	result := &IngestResult{DocumentID: doc.ID, Title: doc.Title, Chunks: len(chunks)}
	if len(chunks) > 0 {
		embedJob, err := s.jobs.Enqueue(ctx, domain.JobKindEmbed, doc.NotebookID, EmbedPayload{DocumentID: doc.ID})
		if err != nil {
			return nil, fmt.Errorf("enqueue embed: %w", err)
		}
		result.EmbedJobID = embedJob.ID
	}

	if s.extractor != nil && !nb.MetadataSchema.IsEmpty() {
		metadata, warnings := s.extractor.Extract(ctx, doc.Content, nb.MetadataSchema, normalised.Metadata)
		if err := s.docs.UpdateMetadata(ctx, doc.ID, metadata, warnings); err != nil {
			// Metadata never fails ingestion; keep the document without it.
			metadata = nil
			warnings = append(warnings, fmt.Sprintf("metadata not stored: %v", err))
			if err := s.docs.UpdateMetadata(ctx, doc.ID, nil, warnings); err != nil {
				logger.Warn("ingest: %s: recording metadata warnings: %v", doc.ID, err)
			}
		}
		for _, w := range warnings {
			logger.Warn("ingest: %s: %s", doc.ID, w)
		}
		result.MetadataFields = len(metadata)
		result.MetadataWarnings = warnings
	}

	return result, nil
}

// titleFromFilename turns "q3_board-report.pdf" into "q3 board report".
func titleFromFilename(name string) string {
	base := filepath.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(base))
}
