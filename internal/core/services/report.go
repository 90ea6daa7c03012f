package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
	"github.com/custodia-labs/folio/internal/core/ports/driving"
	"github.com/custodia-labs/folio/internal/logger"
)

// Ensure ReportService implements the interface.
var _ driving.ReportService = (*ReportService)(nil)

// noPassagesText is written for sections whose retrieval found nothing.
const noPassagesText = "_No supporting passages were found in the notebook._"

// ReportSectionPayload is the payload of a report_section job.
type ReportSectionPayload struct {
	GenerationID string `json:"generation_id"`
	Index        int    `json:"index"`
}

// ReportSectionResult is the result of a report_section job.
type ReportSectionResult struct {
	GenerationID string `json:"generation_id"`
	Index        int    `json:"index"`
	Citations    int    `json:"citations"`
	Superseded   bool   `json:"superseded,omitempty"`
}

// ReportService runs report generations: one job per section, each section
// failing or succeeding on its own.
type ReportService struct {
	store     driven.ReportStore
	notebooks driven.NotebookStore
	docs      driven.DocumentStore
	retriever driving.RetrievalService
	llm       driven.LLMService
	prompts   driven.PromptStore
	jobs      driving.JobService
	notifier  *Notifier
	now       func() time.Time
}

// NewReportService creates a report service.
func NewReportService(
	store driven.ReportStore,
	notebooks driven.NotebookStore,
	docs driven.DocumentStore,
	retriever driving.RetrievalService,
	llm driven.LLMService,
	prompts driven.PromptStore,
	jobs driving.JobService,
	notifier *Notifier,
) *ReportService {
	return &ReportService{
		store:     store,
		notebooks: notebooks,
		docs:      docs,
		retriever: retriever,
		llm:       llm,
		prompts:   prompts,
		jobs:      jobs,
		notifier:  notifier,
		now:       time.Now,
	}
}

// SaveTemplate validates and stores a template.
func (s *ReportService) SaveTemplate(ctx context.Context, tmpl *domain.ReportTemplate) (*domain.ReportTemplate, error) {
	if tmpl == nil {
		return nil, domain.NewValidationError("template is required", nil)
	}
	if err := domain.ValidateStruct(tmpl); err != nil {
		return nil, err
	}
	problems := make(map[string]string)
	for i, sec := range tmpl.Sections {
		if _, err := parseQueryTemplate(sec.QueryTemplate); err != nil {
			problems[fmt.Sprintf("sections[%d].query_template", i)] = err.Error()
		}
	}
	if len(problems) > 0 {
		return nil, domain.NewValidationError("invalid query template", problems)
	}

	saved := *tmpl
	if saved.ID == "" {
		saved.ID = uuid.NewString()
	}
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = s.now().UTC()
	}
	if err := s.store.SaveTemplate(ctx, &saved); err != nil {
		return nil, fmt.Errorf("save template: %w", err)
	}
	return &saved, nil
}

// GetTemplate returns a template.
func (s *ReportService) GetTemplate(ctx context.Context, id string) (*domain.ReportTemplate, error) {
	return s.store.GetTemplate(ctx, id)
}

// ListTemplates returns all templates.
func (s *ReportService) ListTemplates(ctx context.Context) ([]domain.ReportTemplate, error) {
	return s.store.ListTemplates(ctx)
}

// Start snapshots the template and enqueues one job per section.
func (s *ReportService) Start(ctx context.Context, templateID, notebookID string, params map[string]string) (*domain.ReportGeneration, error) {
	tmpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if _, err := s.notebooks.GetNotebook(ctx, notebookID); err != nil {
		return nil, fmt.Errorf("get notebook: %w", err)
	}

	now := s.now().UTC()
	gen := &domain.ReportGeneration{
		ID:         uuid.NewString(),
		TemplateID: tmpl.ID,
		NotebookID: notebookID,
		Params:     params,
		Template:   *tmpl,
		Status:     domain.ReportRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i, sec := range tmpl.Sections {
		gen.Sections = append(gen.Sections, domain.ReportSection{
			GenerationID: gen.ID,
			Index:        i,
			Name:         sec.Name,
			Status:       domain.SectionPending,
			UpdatedAt:    now,
		})
	}
	if err := s.store.CreateGeneration(ctx, gen); err != nil {
		return nil, fmt.Errorf("create generation: %w", err)
	}

	failed := 0
	for i := range gen.Sections {
		if err := s.enqueueSection(ctx, gen, i); err != nil {
			if err := s.failUnqueued(ctx, gen, i, err); err != nil {
				return nil, err
			}
			failed++
		}
	}
	logger.Info("report: started %s (%d sections) from template %q", gen.ID, len(gen.Sections), tmpl.Name)
	if failed > 0 {
		return s.refreshStatus(ctx, gen.ID)
	}
	return gen, nil
}

// failUnqueued marks a section whose job could not be enqueued as failed,
// so the run can finish and the section can be retried.
func (s *ReportService) failUnqueued(ctx context.Context, gen *domain.ReportGeneration, index int, enqueueErr error) error {
	logger.Warn("report: %s section %d not queued: %v", gen.ID, index, enqueueErr)
	sec := &gen.Sections[index]
	sec.Status = domain.SectionFailed
	sec.Error = domain.NewJobError(enqueueErr)
	sec.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateSection(ctx, sec); err != nil {
		return errors.Join(enqueueErr, fmt.Errorf("update section: %w", err))
	}
	s.notifier.SectionCompleted(ctx, gen, sec)
	return nil
}

// Get returns a generation. Sections whose latest job ended without the
// handler recording an outcome (cancelled while queued, lease exhausted)
// are marked failed here.
func (s *ReportService) Get(ctx context.Context, id string) (*domain.ReportGeneration, error) {
	gen, err := s.store.GetGeneration(ctx, id)
	if err != nil {
		return nil, err
	}
	if gen.Status != domain.ReportRunning {
		return gen, nil
	}

	latest, err := s.sectionJobs(ctx, gen)
	if err != nil {
		return nil, err
	}
	changed := false
	for i := range gen.Sections {
		sec := &gen.Sections[i]
		job, ok := latest[sec.Index]
		if sec.Status.IsTerminal() || !ok || job.State != domain.JobFailedFinal {
			continue
		}
		sec.Status = domain.SectionFailed
		sec.JobID = job.ID
		sec.Error = job.Error
		sec.UpdatedAt = s.now().UTC()
		if err := s.store.UpdateSection(ctx, sec); err != nil {
			return nil, fmt.Errorf("update section: %w", err)
		}
		s.notifier.SectionCompleted(ctx, gen, sec)
		changed = true
	}
	if changed {
		return s.refreshStatus(ctx, id)
	}
	return gen, nil
}

// sectionJobs returns the most recent report_section job per section index.
func (s *ReportService) sectionJobs(ctx context.Context, gen *domain.ReportGeneration) (map[int]*domain.Job, error) {
	jobs, err := s.jobs.List(ctx, domain.JobFilter{Kind: domain.JobKindReportSection, NotebookID: gen.NotebookID})
	if err != nil {
		return nil, fmt.Errorf("list section jobs: %w", err)
	}
	latest := make(map[int]*domain.Job)
	for i := range jobs {
		job := &jobs[i]
		var p ReportSectionPayload
		if job.DecodePayload(&p) != nil || p.GenerationID != gen.ID {
			continue
		}
		if prev, ok := latest[p.Index]; !ok || job.CreatedAt.After(prev.CreatedAt) {
			latest[p.Index] = job
		}
	}
	return latest, nil
}

// RetrySection resets one finished section and enqueues a fresh job for it.
func (s *ReportService) RetrySection(ctx context.Context, generationID string, index int) (*domain.ReportGeneration, error) {
	gen, err := s.Get(ctx, generationID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(gen.Sections) {
		return nil, domain.NewValidationError(fmt.Sprintf("section %d does not exist", index),
			map[string]string{"index": fmt.Sprintf("must be between 0 and %d", len(gen.Sections)-1)})
	}
	sec := &gen.Sections[index]
	if !sec.Status.IsTerminal() {
		return nil, domain.NewValidationError(fmt.Sprintf("section %d is still %s", index, sec.Status),
			map[string]string{"status": string(sec.Status)})
	}

	sec.Status = domain.SectionPending
	sec.Text = ""
	sec.Citations = nil
	sec.Error = nil
	sec.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateSection(ctx, sec); err != nil {
		return nil, fmt.Errorf("update section: %w", err)
	}
	if err := s.store.UpdateGenerationStatus(ctx, gen.ID, domain.ReportRunning, time.Time{}); err != nil {
		return nil, fmt.Errorf("update generation: %w", err)
	}
	if err := s.enqueueSection(ctx, gen, sec.Index); err != nil {
		if ferr := s.failUnqueued(ctx, gen, sec.Index, err); ferr != nil {
			return nil, ferr
		}
		if _, ferr := s.refreshStatus(ctx, gen.ID); ferr != nil {
			return nil, errors.Join(err, ferr)
		}
		return nil, err
	}
	logger.Info("report: retrying section %d of %s", index, gen.ID)
	return s.store.GetGeneration(ctx, gen.ID)
}

// HandleSection runs a report_section job.
func (s *ReportService) HandleSection(ctx context.Context, job *domain.Job) (any, error) {
	var p ReportSectionPayload
	if err := job.DecodePayload(&p); err != nil {
		return nil, err
	}
	gen, err := s.store.GetGeneration(ctx, p.GenerationID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewConsistencyError("report section", "generation "+p.GenerationID+" no longer exists")
	}
	if err != nil {
		return nil, fmt.Errorf("get generation: %w", err)
	}
	if p.Index < 0 || p.Index >= len(gen.Sections) {
		return nil, domain.NewConsistencyError("report section", fmt.Sprintf("generation %s has no section %d", gen.ID, p.Index))
	}

	sec := gen.Sections[p.Index]
	result := ReportSectionResult{GenerationID: gen.ID, Index: p.Index}
	if s.superseded(ctx, &sec, job) {
		result.Superseded = true
		return result, nil
	}
	sec.JobID = job.ID

	sec.Status = domain.SectionRunning
	sec.Attempts++
	sec.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateSection(ctx, &sec); err != nil {
		return nil, fmt.Errorf("update section: %w", err)
	}

	text, citations, runErr := s.generateSection(ctx, gen, gen.Template.Sections[p.Index])
	if runErr != nil {
		willRetry := domain.IsRetryable(runErr) && job.Attempts < job.MaxAttempts
		sec.Error = domain.NewJobError(runErr)
		sec.Status = domain.SectionFailed
		if willRetry {
			sec.Status = domain.SectionPending
		}
		if err := s.finishSection(ctx, gen, &sec); err != nil {
			return nil, errors.Join(runErr, err)
		}
		logger.Warn("report: %s section %d failed: %v", gen.ID, p.Index, runErr)
		return nil, runErr
	}

	sec.Status = domain.SectionSucceeded
	sec.Text = text
	sec.Citations = citations
	sec.Error = nil
	if err := s.finishSection(ctx, gen, &sec); err != nil {
		return nil, err
	}
	result.Citations = len(citations)
	return result, nil
}

// Assemble renders a generation as markdown in template order, followed by
// the sources every section cited.
func (s *ReportService) Assemble(ctx context.Context, generationID string) (string, error) {
	gen, err := s.Get(ctx, generationID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", gen.Template.Name)
	if gen.Status != domain.ReportSucceeded {
		fmt.Fprintf(&b, "> Status: %s\n\n", gen.Status)
	}

	sources := newSourceList()
	for _, sec := range gen.Sections {
		fmt.Fprintf(&b, "## %s\n\n", sec.Name)
		switch sec.Status {
		case domain.SectionSucceeded:
			b.WriteString(strings.TrimSpace(sec.Text))
			refs := make([]string, 0, len(sec.Citations))
			for _, c := range sec.Citations {
				refs = append(refs, fmt.Sprintf("[%d]", sources.add(c)))
			}
			if len(refs) > 0 {
				fmt.Fprintf(&b, "\n\nSources: %s", strings.Join(refs, " "))
			}
		case domain.SectionFailed:
			msg := "unknown error"
			if sec.Error != nil {
				msg = sec.Error.Message
			}
			fmt.Fprintf(&b, "_This section could not be generated: %s_", msg)
		default:
			fmt.Fprintf(&b, "_This section is %s._", sec.Status)
		}
		b.WriteString("\n\n")
	}

	if len(sources.order) > 0 {
		b.WriteString("## Sources\n\n")
		titles := make(map[string]string)
		for i, c := range sources.order {
			title, ok := titles[c.DocumentID]
			if !ok {
				title = "(deleted document)"
				if doc, err := s.docs.GetDocument(ctx, c.DocumentID); err == nil {
					title = doc.Title
				}
				titles[c.DocumentID] = title
			}
			fmt.Fprintf(&b, "%d. %s, passage %d (`%s`)\n", i+1, title, c.Ordinal+1, shortHash(c.TextHash))
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n", nil
}

// superseded reports whether a newer job has already taken over the section.
func (s *ReportService) superseded(ctx context.Context, sec *domain.ReportSection, job *domain.Job) bool {
	if sec.JobID == "" || sec.JobID == job.ID {
		return false
	}
	recorded, err := s.jobs.Status(ctx, sec.JobID)
	if err != nil {
		return false
	}
	return recorded.CreatedAt.After(job.CreatedAt)
}

// enqueueSection queues a job for one section. The handler records its job
// ID on the section when it starts.
func (s *ReportService) enqueueSection(ctx context.Context, gen *domain.ReportGeneration, index int) error {
	_, err := s.jobs.Enqueue(ctx, domain.JobKindReportSection, gen.NotebookID, ReportSectionPayload{
		GenerationID: gen.ID,
		Index:        index,
	})
	if err != nil {
		return fmt.Errorf("enqueue section %d: %w", index, err)
	}
	return nil
}

// generateSection retrieves context for one section and writes its text.
func (s *ReportService) generateSection(ctx context.Context, gen *domain.ReportGeneration, spec domain.SectionSpec) (string, []domain.Citation, error) {
	query, err := renderQuery(spec.QueryTemplate, gen.Params)
	if err != nil {
		return "", nil, err
	}
	hits, err := s.retriever.Query(ctx, domain.RetrievalQuery{
		NotebookID: gen.NotebookID,
		Text:       query,
		TopK:       spec.TopK,
		Threshold:  spec.Threshold,
	})
	if err != nil {
		return "", nil, fmt.Errorf("retrieve: %w", err)
	}
	if len(hits) == 0 {
		return noPassagesText, nil, nil
	}
	if s.llm == nil {
		return "", nil, domain.ErrLLMUnavailable
	}

	tmpl, err := s.prompts.Load(driven.PromptReportSection)
	if err != nil {
		return "", nil, fmt.Errorf("load prompt: %w", err)
	}
	prompt := fmt.Sprintf(tmpl, spec.Name, spec.Instructions, formatPassages(hits))

	stream, err := s.llm.Stream(ctx, []driven.ChatMessage{{Role: domain.RoleUser, Content: prompt}}, driven.ChatOptions{})
	if err != nil {
		return "", nil, err
	}
	text, err := collectStream(stream)
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSpace(text), citationsFor(hits), nil
}

// finishSection stores a section outcome and recomputes the run status.
func (s *ReportService) finishSection(ctx context.Context, gen *domain.ReportGeneration, sec *domain.ReportSection) error {
	sec.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateSection(ctx, sec); err != nil {
		return fmt.Errorf("update section: %w", err)
	}
	if sec.Status.IsTerminal() {
		s.notifier.SectionCompleted(ctx, gen, sec)
	}
	_, err := s.refreshStatus(ctx, gen.ID)
	return err
}

// refreshStatus re-reads every section and stores the derived run status.
// Each writer updates its own section before reading, so the last section
// to finish always sees the others.
func (s *ReportService) refreshStatus(ctx context.Context, id string) (*domain.ReportGeneration, error) {
	gen, err := s.store.GetGeneration(ctx, id)
	if err != nil {
		return nil, err
	}
	status := domain.ComputeReportStatus(gen.Sections)
	if status == gen.Status {
		return gen, nil
	}
	var finishedAt time.Time
	if status != domain.ReportRunning {
		finishedAt = s.now().UTC()
		logger.Info("report: %s finished %s", gen.ID, status)
	}
	if err := s.store.UpdateGenerationStatus(ctx, id, status, finishedAt); err != nil {
		return nil, fmt.Errorf("update generation: %w", err)
	}
	gen.Status = status
	gen.FinishedAt = finishedAt
	return gen, nil
}

func parseQueryTemplate(text string) (*template.Template, error) {
	return template.New("query").Option("missingkey=error").Parse(text)
}

// renderQuery fills a section query template with the run parameters.
func renderQuery(text string, params map[string]string) (string, error) {
	tmpl, err := parseQueryTemplate(text)
	if err != nil {
		return "", &domain.Error{Kind: domain.KindValidation, Op: "render query", Err: err}
	}
	if params == nil {
		params = map[string]string{}
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, params); err != nil {
		return "", &domain.Error{Kind: domain.KindValidation, Op: "render query", Err: err}
	}
	return b.String(), nil
}

// collectStream reads a stream to the end.
func collectStream(stream driven.TextStream) (string, error) {
	defer stream.Close()
	var b strings.Builder
	for {
		part, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(part)
	}
}

// sourceList numbers citations by first appearance, one entry per chunk.
type sourceList struct {
	index map[string]int
	order []domain.Citation
}

func newSourceList() *sourceList {
	return &sourceList{index: make(map[string]int)}
}

func (l *sourceList) add(c domain.Citation) int {
	if n, ok := l.index[c.ChunkID]; ok {
		return n
	}
	l.order = append(l.order, c)
	l.index[c.ChunkID] = len(l.order)
	return len(l.order)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
