package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
	"github.com/custodia-labs/folio/internal/core/ports/driving"
)

// Ensure NotebookService implements the interface.
var _ driving.NotebookService = (*NotebookService)(nil)

// NotebookService manages notebooks.
type NotebookService struct {
	store driven.NotebookStore
	now   func() time.Time
}

// NewNotebookService creates a notebook service.
func NewNotebookService(store driven.NotebookStore) *NotebookService {
	return &NotebookService{store: store, now: time.Now}
}

// Create validates and stores a new notebook.
func (s *NotebookService) Create(ctx context.Context, name string, schema domain.MetadataSchema, dedup domain.DedupPolicy) (*domain.Notebook, error) {
	if dedup == "" {
		dedup = domain.DedupNone
	}
	if !dedup.IsValid() {
		return nil, domain.NewValidationError(fmt.Sprintf("unknown dedup policy %q", dedup),
			map[string]string{"dedup_policy": "must be one of: none content_hash"})
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	nb := &domain.Notebook{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(name),
		MetadataSchema: schema,
		DedupPolicy:    dedup,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := domain.ValidateStruct(nb); err != nil {
		return nil, err
	}
	if err := s.store.SaveNotebook(ctx, nb); err != nil {
		return nil, fmt.Errorf("save notebook: %w", err)
	}
	return nb, nil
}

// Get returns a notebook.
func (s *NotebookService) Get(ctx context.Context, id string) (*domain.Notebook, error) {
	return s.store.GetNotebook(ctx, id)
}

// List returns all notebooks.
func (s *NotebookService) List(ctx context.Context) ([]domain.Notebook, error) {
	return s.store.ListNotebooks(ctx)
}

// SetSchema replaces a notebook's metadata schema.
func (s *NotebookService) SetSchema(ctx context.Context, id string, schema domain.MetadataSchema) (*domain.Notebook, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	nb, err := s.store.GetNotebook(ctx, id)
	if err != nil {
		return nil, err
	}
	nb.MetadataSchema = schema
	nb.UpdatedAt = s.now().UTC()
	if err := s.store.SaveNotebook(ctx, nb); err != nil {
		return nil, fmt.Errorf("save notebook: %w", err)
	}
	return nb, nil
}
