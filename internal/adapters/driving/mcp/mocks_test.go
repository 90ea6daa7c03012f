package mcp

import (
	"context"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driving"
)

// mockRetrievalService is a mock implementation of driving.RetrievalService.
type mockRetrievalService struct {
	hits  []domain.ScoredChunk
	batch [][]domain.ScoredChunk
	err   error

	query domain.RetrievalQuery
	texts []string
}

var _ driving.RetrievalService = (*mockRetrievalService)(nil)

func (m *mockRetrievalService) Query(_ context.Context, q domain.RetrievalQuery) ([]domain.ScoredChunk, error) {
	m.query = q
	return m.hits, m.err
}

func (m *mockRetrievalService) QueryBatch(
	_ context.Context,
	base domain.RetrievalQuery,
	texts []string,
) ([][]domain.ScoredChunk, error) {
	m.query = base
	m.texts = texts
	return m.batch, m.err
}

// mockIngestService is a mock implementation of driving.IngestService.
type mockIngestService struct {
	receipt *driving.IngestReceipt
	err     error
	got     driving.IngestRequest
}

var _ driving.IngestService = (*mockIngestService)(nil)

func (m *mockIngestService) Submit(_ context.Context, req driving.IngestRequest) (*driving.IngestReceipt, error) {
	m.got = req
	return m.receipt, m.err
}

// mockJobService is a mock implementation of driving.JobService.
type mockJobService struct {
	job *domain.Job
	err error
}

var _ driving.JobService = (*mockJobService)(nil)

func (m *mockJobService) Enqueue(_ context.Context, _ domain.JobKind, _ string, _ any) (*domain.Job, error) {
	return m.job, m.err
}

func (m *mockJobService) Status(_ context.Context, _ string) (*domain.Job, error) {
	return m.job, m.err
}

func (m *mockJobService) List(_ context.Context, _ domain.JobFilter) ([]domain.Job, error) {
	return nil, m.err
}

func (m *mockJobService) Cancel(_ context.Context, _ string) (*domain.Job, error) {
	return m.job, m.err
}

func (m *mockJobService) Retry(_ context.Context, _ string) (*domain.Job, error) {
	return m.job, m.err
}

// mockReportService is a mock implementation of driving.ReportService.
type mockReportService struct {
	generation *domain.ReportGeneration
	document   string
	err        error
	params     map[string]string
}

var _ driving.ReportService = (*mockReportService)(nil)

func (m *mockReportService) SaveTemplate(_ context.Context, t *domain.ReportTemplate) (*domain.ReportTemplate, error) {
	return t, m.err
}

func (m *mockReportService) GetTemplate(_ context.Context, _ string) (*domain.ReportTemplate, error) {
	return nil, m.err
}

func (m *mockReportService) ListTemplates(_ context.Context) ([]domain.ReportTemplate, error) {
	return nil, m.err
}

func (m *mockReportService) Start(
	_ context.Context,
	_, _ string,
	params map[string]string,
) (*domain.ReportGeneration, error) {
	m.params = params
	return m.generation, m.err
}

func (m *mockReportService) Get(_ context.Context, _ string) (*domain.ReportGeneration, error) {
	return m.generation, m.err
}

func (m *mockReportService) RetrySection(_ context.Context, _ string, _ int) (*domain.ReportGeneration, error) {
	return m.generation, m.err
}

func (m *mockReportService) Assemble(_ context.Context, _ string) (string, error) {
	return m.document, m.err
}

// mockNotebookService is a mock implementation of driving.NotebookService.
type mockNotebookService struct {
	notebooks []domain.Notebook
	err       error
}

var _ driving.NotebookService = (*mockNotebookService)(nil)

func (m *mockNotebookService) Create(
	_ context.Context,
	_ string,
	_ domain.MetadataSchema,
	_ domain.DedupPolicy,
) (*domain.Notebook, error) {
	return nil, m.err
}

func (m *mockNotebookService) Get(_ context.Context, _ string) (*domain.Notebook, error) {
	return nil, m.err
}

func (m *mockNotebookService) List(_ context.Context) ([]domain.Notebook, error) {
	return m.notebooks, m.err
}

func (m *mockNotebookService) SetSchema(_ context.Context, _ string, _ domain.MetadataSchema) (*domain.Notebook, error) {
	return nil, m.err
}

// mockDocumentService is a mock implementation of driving.DocumentService.
type mockDocumentService struct {
	documents []domain.Document
	document  *domain.Document
	chunks    []domain.Chunk
	err       error
}

var _ driving.DocumentService = (*mockDocumentService)(nil)

func (m *mockDocumentService) Get(_ context.Context, _ string) (*domain.Document, error) {
	return m.document, m.err
}

func (m *mockDocumentService) List(_ context.Context, _ string) ([]domain.Document, error) {
	return m.documents, m.err
}

func (m *mockDocumentService) Chunks(_ context.Context, _ string) ([]domain.Chunk, error) {
	return m.chunks, m.err
}

func (m *mockDocumentService) Delete(_ context.Context, _ string) error {
	return m.err
}
