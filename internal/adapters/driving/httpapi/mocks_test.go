package httpapi

import (
	"context"
	"io"
	"sync"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driving"
)

// mockNotebooks implements driving.NotebookService.
type mockNotebooks struct {
	notebook  *domain.Notebook
	notebooks []domain.Notebook
	err       error

	createdName string
	schema      domain.MetadataSchema
}

var _ driving.NotebookService = (*mockNotebooks)(nil)

func (m *mockNotebooks) Create(_ context.Context, name string, schema domain.MetadataSchema, dedup domain.DedupPolicy) (*domain.Notebook, error) {
	m.createdName = name
	m.schema = schema
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Notebook{ID: "nb-1", Name: name, MetadataSchema: schema, DedupPolicy: dedup}, nil
}

func (m *mockNotebooks) Get(_ context.Context, _ string) (*domain.Notebook, error) {
	return m.notebook, m.err
}

func (m *mockNotebooks) List(_ context.Context) ([]domain.Notebook, error) {
	return m.notebooks, m.err
}

func (m *mockNotebooks) SetSchema(_ context.Context, id string, schema domain.MetadataSchema) (*domain.Notebook, error) {
	m.schema = schema
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Notebook{ID: id, MetadataSchema: schema}, nil
}

// mockDocuments implements driving.DocumentService.
type mockDocuments struct {
	document  *domain.Document
	documents []domain.Document
	err       error
	deleted   string
}

var _ driving.DocumentService = (*mockDocuments)(nil)

func (m *mockDocuments) Get(_ context.Context, _ string) (*domain.Document, error) {
	return m.document, m.err
}

func (m *mockDocuments) List(_ context.Context, _ string) ([]domain.Document, error) {
	return m.documents, m.err
}

func (m *mockDocuments) Chunks(_ context.Context, _ string) ([]domain.Chunk, error) {
	return nil, m.err
}

func (m *mockDocuments) Delete(_ context.Context, id string) error {
	m.deleted = id
	return m.err
}

// mockIngest implements driving.IngestService.
type mockIngest struct {
	got driving.IngestRequest
	err error
}

var _ driving.IngestService = (*mockIngest)(nil)

func (m *mockIngest) Submit(_ context.Context, req driving.IngestRequest) (*driving.IngestReceipt, error) {
	m.got = req
	if m.err != nil {
		return nil, m.err
	}
	return &driving.IngestReceipt{JobID: "job-1", DocumentID: "doc-1"}, nil
}

// mockJobs implements driving.JobService.
type mockJobs struct {
	job    *domain.Job
	jobs   []domain.Job
	err    error
	filter domain.JobFilter
}

var _ driving.JobService = (*mockJobs)(nil)

func (m *mockJobs) Enqueue(_ context.Context, _ domain.JobKind, _ string, _ any) (*domain.Job, error) {
	return m.job, m.err
}

func (m *mockJobs) Status(_ context.Context, _ string) (*domain.Job, error) {
	return m.job, m.err
}

func (m *mockJobs) List(_ context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	m.filter = filter
	return m.jobs, m.err
}

func (m *mockJobs) Cancel(_ context.Context, _ string) (*domain.Job, error) {
	return m.job, m.err
}

func (m *mockJobs) Retry(_ context.Context, _ string) (*domain.Job, error) {
	return m.job, m.err
}

// mockRetrieval implements driving.RetrievalService.
type mockRetrieval struct {
	hits  []domain.ScoredChunk
	batch [][]domain.ScoredChunk
	err   error

	query domain.RetrievalQuery
	texts []string
}

var _ driving.RetrievalService = (*mockRetrieval)(nil)

func (m *mockRetrieval) Query(_ context.Context, q domain.RetrievalQuery) ([]domain.ScoredChunk, error) {
	m.query = q
	return m.hits, m.err
}

func (m *mockRetrieval) QueryBatch(_ context.Context, base domain.RetrievalQuery, texts []string) ([][]domain.ScoredChunk, error) {
	m.query = base
	m.texts = texts
	return m.batch, m.err
}

// mockReports implements driving.ReportService.
type mockReports struct {
	template   *domain.ReportTemplate
	generation *domain.ReportGeneration
	document   string
	err        error

	saved        *domain.ReportTemplate
	retriedIndex int
}

var _ driving.ReportService = (*mockReports)(nil)

func (m *mockReports) SaveTemplate(_ context.Context, tmpl *domain.ReportTemplate) (*domain.ReportTemplate, error) {
	m.saved = tmpl
	if m.err != nil {
		return nil, m.err
	}
	return tmpl, nil
}

func (m *mockReports) GetTemplate(_ context.Context, _ string) (*domain.ReportTemplate, error) {
	return m.template, m.err
}

func (m *mockReports) ListTemplates(_ context.Context) ([]domain.ReportTemplate, error) {
	if m.template == nil {
		return nil, m.err
	}
	return []domain.ReportTemplate{*m.template}, m.err
}

func (m *mockReports) Start(_ context.Context, _, _ string, _ map[string]string) (*domain.ReportGeneration, error) {
	return m.generation, m.err
}

func (m *mockReports) Get(_ context.Context, _ string) (*domain.ReportGeneration, error) {
	return m.generation, m.err
}

func (m *mockReports) RetrySection(_ context.Context, _ string, index int) (*domain.ReportGeneration, error) {
	m.retriedIndex = index
	return m.generation, m.err
}

func (m *mockReports) Assemble(_ context.Context, _ string) (string, error) {
	return m.document, m.err
}

// mockChat implements driving.ChatService.
type mockChat struct {
	session *domain.ChatSession
	history []domain.ChatMessage
	stream  *mockChatStream
	err     error
}

var _ driving.ChatService = (*mockChat)(nil)

func (m *mockChat) StartSession(_ context.Context, notebookID, title string) (*domain.ChatSession, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &domain.ChatSession{ID: "s-1", NotebookID: notebookID, Title: title}, nil
}

func (m *mockChat) GetSession(_ context.Context, _ string) (*domain.ChatSession, error) {
	return m.session, m.err
}

func (m *mockChat) ListSessions(_ context.Context, _ string) ([]domain.ChatSession, error) {
	return nil, m.err
}

func (m *mockChat) History(_ context.Context, _ string) ([]domain.ChatMessage, error) {
	return m.history, m.err
}

func (m *mockChat) Send(_ context.Context, _, _ string) (driving.ChatStream, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

// mockChatStream replays fixed fragments, then returns err or io.EOF.
type mockChatStream struct {
	mu        sync.Mutex
	parts     []string
	err       error
	citations []domain.Citation
	message   *domain.ChatMessage
	cancelled bool
}

var _ driving.ChatStream = (*mockChatStream)(nil)

func (s *mockChatStream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.parts) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	part := s.parts[0]
	s.parts = s.parts[1:]
	return part, nil
}

func (s *mockChatStream) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

func (s *mockChatStream) Citations() []domain.Citation { return s.citations }
func (s *mockChatStream) Message() *domain.ChatMessage { return s.message }

// mockEvents is an EventSource fed by the test.
type mockEvents struct {
	ch       chan domain.Event
	filter   func(domain.Event) bool
	released chan struct{}
}

func newMockEvents() *mockEvents {
	return &mockEvents{ch: make(chan domain.Event, 8), released: make(chan struct{})}
}

func (m *mockEvents) Subscribe(_ context.Context, filter func(domain.Event) bool) (<-chan domain.Event, func()) {
	m.filter = filter
	out := make(chan domain.Event, 8)
	go func() {
		for e := range m.ch {
			if filter(e) {
				out <- e
			}
		}
		close(out)
	}()
	var once sync.Once
	return out, func() { once.Do(func() { close(m.released) }) }
}
