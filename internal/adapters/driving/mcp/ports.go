package mcp

import (
	"github.com/custodia-labs/folio/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// Tools and resources backed by a nil port are not registered.
type Ports struct {
	// Retrieval answers search and batch_search.
	Retrieval driving.RetrievalService

	// Ingest accepts documents for submit_document.
	Ingest driving.IngestService

	// Jobs reports job_status.
	Jobs driving.JobService

	// Reports starts and tracks report runs.
	Reports driving.ReportService

	// Notebooks lists notebooks as resources.
	Notebooks driving.NotebookService

	// Documents lists documents and chunks as resources.
	Documents driving.DocumentService
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p.Retrieval == nil {
		return ErrMissingRetrievalService
	}
	return nil
}
