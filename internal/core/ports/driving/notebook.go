package driving

import (
	"context"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// NotebookService manages notebooks and their metadata schemas.
type NotebookService interface {
	// Create validates and stores a new notebook.
	Create(ctx context.Context, name string, schema domain.MetadataSchema, dedup domain.DedupPolicy) (*domain.Notebook, error)

	// Get returns domain.ErrNotFound if the notebook does not exist.
	Get(ctx context.Context, id string) (*domain.Notebook, error)

	// List returns all notebooks.
	List(ctx context.Context) ([]domain.Notebook, error)

	// SetSchema replaces a notebook's metadata schema. Existing documents keep
	// the metadata extracted under the previous schema.
	SetSchema(ctx context.Context, id string, schema domain.MetadataSchema) (*domain.Notebook, error)
}
