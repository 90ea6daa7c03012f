package cli

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driving"
)

// Ensure mocks implement the interfaces.
var (
	_ driving.NotebookService  = (*mockNotebookService)(nil)
	_ driving.DocumentService  = (*mockDocumentService)(nil)
	_ driving.IngestService    = (*mockIngestService)(nil)
	_ driving.JobService       = (*mockJobService)(nil)
	_ driving.RetrievalService = (*mockRetrievalService)(nil)
	_ driving.ReportService    = (*mockReportService)(nil)
	_ driving.ChatService      = (*mockChatService)(nil)
	_ driving.ChatStream       = (*mockChatStream)(nil)
	_ driving.WorkerService    = (*mockWorkerService)(nil)
)

var testTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// ==================== Notebooks ====================

type mockNotebookService struct {
	created   []string
	notebooks []domain.Notebook
}

func (m *mockNotebookService) Create(_ context.Context, name string, schema domain.MetadataSchema, dedup domain.DedupPolicy) (*domain.Notebook, error) {
	m.created = append(m.created, name)
	return &domain.Notebook{ID: "nb-new", Name: name, MetadataSchema: schema, DedupPolicy: dedup, CreatedAt: testTime}, nil
}

func (m *mockNotebookService) Get(_ context.Context, id string) (*domain.Notebook, error) {
	for i := range m.notebooks {
		if m.notebooks[i].ID == id {
			return &m.notebooks[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockNotebookService) List(_ context.Context) ([]domain.Notebook, error) {
	return m.notebooks, nil
}

func (m *mockNotebookService) SetSchema(ctx context.Context, id string, schema domain.MetadataSchema) (*domain.Notebook, error) {
	nb, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	nb.MetadataSchema = schema
	return nb, nil
}

// ==================== Documents ====================

type mockDocumentService struct {
	deleted []string
}

func (m *mockDocumentService) Get(_ context.Context, id string) (*domain.Document, error) {
	if id != "doc-1" {
		return nil, domain.ErrNotFound
	}
	return &domain.Document{
		ID:         "doc-1",
		NotebookID: "nb-1",
		Title:      "Lease agreement",
		URI:        "lease.md",
		MIMEType:   "text/markdown",
		Content:    "The tenant shall pay rent monthly.",
		Metadata:   map[string]any{"party": "ACME"},
		IngestedAt: testTime,
	}, nil
}

func (m *mockDocumentService) List(_ context.Context, notebookID string) ([]domain.Document, error) {
	if notebookID != "nb-1" {
		return nil, nil
	}
	return []domain.Document{{ID: "doc-1", NotebookID: "nb-1", Title: "Lease agreement", URI: "lease.md"}}, nil
}

func (m *mockDocumentService) Chunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	return []domain.Chunk{
		{ID: "c0", DocumentID: documentID, Ordinal: 0, Text: "The tenant shall pay rent monthly.", Section: "Rent"},
	}, nil
}

func (m *mockDocumentService) Delete(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

// ==================== Ingest ====================

type mockIngestService struct {
	requests []driving.IngestRequest
}

func (m *mockIngestService) Submit(_ context.Context, req driving.IngestRequest) (*driving.IngestReceipt, error) {
	m.requests = append(m.requests, req)
	return &driving.IngestReceipt{JobID: "job-1", DocumentID: "doc-1"}, nil
}

// ==================== Jobs ====================

type mockJobService struct {
	jobs    []domain.Job
	filters []domain.JobFilter
}

func (m *mockJobService) Enqueue(_ context.Context, kind domain.JobKind, notebookID string, _ any) (*domain.Job, error) {
	return &domain.Job{ID: "job-new", Kind: kind, NotebookID: notebookID, State: domain.JobQueued}, nil
}

func (m *mockJobService) Status(_ context.Context, id string) (*domain.Job, error) {
	for i := range m.jobs {
		if m.jobs[i].ID == id {
			return &m.jobs[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockJobService) List(_ context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	m.filters = append(m.filters, filter)
	return m.jobs, nil
}

func (m *mockJobService) Cancel(ctx context.Context, id string) (*domain.Job, error) {
	job, err := m.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	switch job.State {
	case domain.JobRunning:
		job.CancelRequested = true
	case domain.JobQueued, domain.JobFailed:
		job.State = domain.JobFailedFinal
	}
	return job, nil
}

func (m *mockJobService) Retry(ctx context.Context, id string) (*domain.Job, error) {
	job, err := m.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	copied := *job
	copied.ID = id + "-retry"
	copied.State = domain.JobQueued
	return &copied, nil
}

// ==================== Retrieval ====================

type mockRetrievalService struct {
	queries []domain.RetrievalQuery
	texts   []string
}

func (m *mockRetrievalService) Query(_ context.Context, q domain.RetrievalQuery) ([]domain.ScoredChunk, error) {
	m.queries = append(m.queries, q)
	return []domain.ScoredChunk{{
		Chunk:         domain.Chunk{ID: "c0", DocumentID: "doc-1", Text: "The tenant shall pay rent monthly.", Section: "Rent"},
		Score:         0.91,
		DocumentTitle: "Lease agreement",
	}}, nil
}

func (m *mockRetrievalService) QueryBatch(ctx context.Context, base domain.RetrievalQuery, texts []string) ([][]domain.ScoredChunk, error) {
	m.texts = append(m.texts, texts...)
	out := make([][]domain.ScoredChunk, len(texts))
	for i := range texts {
		hits, _ := m.Query(ctx, base)
		out[i] = hits
	}
	return out, nil
}

// ==================== Reports ====================

type mockReportService struct {
	templates []domain.ReportTemplate
	params    map[string]string
	retried   []int
}

func (m *mockReportService) SaveTemplate(_ context.Context, tmpl *domain.ReportTemplate) (*domain.ReportTemplate, error) {
	saved := *tmpl
	saved.ID = "tmpl-1"
	m.templates = append(m.templates, saved)
	return &saved, nil
}

func (m *mockReportService) GetTemplate(_ context.Context, id string) (*domain.ReportTemplate, error) {
	for i := range m.templates {
		if m.templates[i].ID == id {
			return &m.templates[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockReportService) ListTemplates(_ context.Context) ([]domain.ReportTemplate, error) {
	return m.templates, nil
}

func (m *mockReportService) Start(_ context.Context, templateID, notebookID string, params map[string]string) (*domain.ReportGeneration, error) {
	m.params = params
	return &domain.ReportGeneration{
		ID:         "gen-1",
		TemplateID: templateID,
		NotebookID: notebookID,
		Status:     domain.ReportRunning,
		Sections:   []domain.ReportSection{{Index: 0, Name: "Background", Status: domain.SectionPending}},
	}, nil
}

func (m *mockReportService) Get(_ context.Context, id string) (*domain.ReportGeneration, error) {
	return &domain.ReportGeneration{
		ID:       id,
		Template: domain.ReportTemplate{Name: "Literature review"},
		Status:   domain.ReportPartial,
		Sections: []domain.ReportSection{
			{Index: 0, Name: "Background", Status: domain.SectionSucceeded, Attempts: 1},
			{Index: 1, Name: "Methods", Status: domain.SectionFailed, Attempts: 2,
				Error: &domain.JobError{Kind: "provider", Message: "provider unavailable"}},
		},
	}, nil
}

func (m *mockReportService) RetrySection(ctx context.Context, generationID string, index int) (*domain.ReportGeneration, error) {
	m.retried = append(m.retried, index)
	return m.Get(ctx, generationID)
}

func (m *mockReportService) Assemble(_ context.Context, _ string) (string, error) {
	return "# Literature review\n\n## Background\n\nPrior work.\n", nil
}

// ==================== Chat ====================

type mockChatService struct {
	questions []string
	parts     []string
	streams   []*mockChatStream
}

func (m *mockChatService) StartSession(_ context.Context, notebookID, title string) (*domain.ChatSession, error) {
	return &domain.ChatSession{ID: "sess-1", NotebookID: notebookID, Title: title}, nil
}

func (m *mockChatService) GetSession(_ context.Context, id string) (*domain.ChatSession, error) {
	return &domain.ChatSession{ID: id, NotebookID: "nb-1"}, nil
}

func (m *mockChatService) ListSessions(_ context.Context, notebookID string) ([]domain.ChatSession, error) {
	return []domain.ChatSession{{ID: "sess-1", NotebookID: notebookID, Title: "Rent questions", UpdatedAt: testTime}}, nil
}

func (m *mockChatService) History(_ context.Context, sessionID string) ([]domain.ChatMessage, error) {
	return []domain.ChatMessage{
		{SessionID: sessionID, Seq: 0, Role: domain.RoleUser, Content: "When is rent due?"},
		{SessionID: sessionID, Seq: 1, Role: domain.RoleAssistant, Content: "Monthly.",
			Citations: []domain.Citation{{ChunkID: "c0", DocumentID: "doc-1", Score: 0.9}}},
	}, nil
}

func (m *mockChatService) Send(_ context.Context, _ string, text string) (driving.ChatStream, error) {
	m.questions = append(m.questions, text)
	stream := &mockChatStream{
		parts:     m.parts,
		citations: []domain.Citation{{ChunkID: "c0", DocumentID: "doc-1", Ordinal: 0, Score: 0.9}},
	}
	m.streams = append(m.streams, stream)
	return stream, nil
}

type mockChatStream struct {
	parts     []string
	next      int
	citations []domain.Citation
	cancelled bool
}

func (s *mockChatStream) Recv() (string, error) {
	if s.next >= len(s.parts) {
		return "", io.EOF
	}
	part := s.parts[s.next]
	s.next++
	return part, nil
}

func (s *mockChatStream) Cancel() { s.cancelled = true }

func (s *mockChatStream) Citations() []domain.Citation { return s.citations }

func (s *mockChatStream) Message() *domain.ChatMessage { return nil }

// ==================== Worker ====================

type mockWorkerService struct {
	started bool
}

func (m *mockWorkerService) Start(_ context.Context) error {
	m.started = true
	return nil
}

func (m *mockWorkerService) Stop() error    { return nil }
func (m *mockWorkerService) IsRunning() bool { return m.started }

// ==================== Helpers ====================

type testServices struct {
	notebooks *mockNotebookService
	documents *mockDocumentService
	ingest    *mockIngestService
	jobs      *mockJobService
	retrieval *mockRetrievalService
	reports   *mockReportService
	chat      *mockChatService
	worker    *mockWorkerService
}

// setupTestServices assigns mocks to every service and returns a cleanup
// that clears them and resets flag state shared between executions.
func setupTestServices() (*testServices, func()) {
	ts := &testServices{
		notebooks: &mockNotebookService{notebooks: []domain.Notebook{{ID: "nb-1", Name: "Contracts", CreatedAt: testTime}}},
		documents: &mockDocumentService{},
		ingest:    &mockIngestService{},
		jobs:      &mockJobService{},
		retrieval: &mockRetrievalService{},
		reports:   &mockReportService{},
		chat:      &mockChatService{parts: []string{"Rent is ", "due monthly."}},
		worker:    &mockWorkerService{},
	}
	setServices(Services{
		Notebooks: ts.notebooks,
		Documents: ts.documents,
		Ingest:    ts.ingest,
		Jobs:      ts.jobs,
		Retrieval: ts.retrieval,
		Reports:   ts.reports,
		Chat:      ts.chat,
		Worker:    ts.worker,
	})
	return ts, func() {
		setServices(Services{})
		resetFlags()
	}
}

// resetFlags restores flag variables that persist across Execute calls.
func resetFlags() {
	jobsKind, jobsState, jobsNotebook, jobsLimit, jobsJSON = "", "", "", 50, false
	searchTopK, searchThreshold, searchWhere, searchDocuments = 0, 0, nil, nil
	searchBatch, searchJSON = false, false
	searchCmd.Flags().Lookup("threshold").Changed = false
	reportParams, reportOutput, reportJSON = nil, "", false
	ingestMIMEType, ingestWait, ingestTimeout = "", false, 10*time.Minute
	notebookSchemaFile, notebookDedup, notebookJSON = "", string(domain.DedupNone), false
	chatTitle = ""
	migrateSteps = 0
	rootCmd.SetIn(nil)
}

// execute runs the root command with args and returns its combined output.
func execute(args ...string) (string, error) {
	return executeWithInput(nil, args...)
}

func executeWithInput(in io.Reader, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	if in != nil {
		rootCmd.SetIn(in)
	}
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return buf.String(), err
}
