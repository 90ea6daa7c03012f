package driving

import (
	"context"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// ReportService generates multi-section reports from templates.
type ReportService interface {
	// SaveTemplate validates and stores a template, assigning an ID if empty.
	SaveTemplate(ctx context.Context, tmpl *domain.ReportTemplate) (*domain.ReportTemplate, error)

	// GetTemplate returns domain.ErrNotFound if the template does not exist.
	GetTemplate(ctx context.Context, id string) (*domain.ReportTemplate, error)

	// ListTemplates returns all templates.
	ListTemplates(ctx context.Context) ([]domain.ReportTemplate, error)

	// Start creates a generation run and enqueues one job per section.
	Start(ctx context.Context, templateID, notebookID string, params map[string]string) (*domain.ReportGeneration, error)

	// Get returns the run with its sections.
	Get(ctx context.Context, id string) (*domain.ReportGeneration, error)

	// RetrySection re-runs one section; the others are untouched.
	RetrySection(ctx context.Context, generationID string, index int) (*domain.ReportGeneration, error)

	// Assemble renders the run as a markdown document in template order.
	Assemble(ctx context.Context, generationID string) (string, error)
}
