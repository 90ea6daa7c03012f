package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driving"
)

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	NotebookID  string         `json:"notebook_id" jsonschema:"the notebook to search"`
	Query       string         `json:"query" jsonschema:"the text to find similar passages for"`
	TopK        int            `json:"top_k,omitempty" jsonschema:"maximum number of passages to return (default 8)"`
	Threshold   *float64       `json:"threshold,omitempty" jsonschema:"minimum cosine similarity between -1 and 1"`
	Filter      map[string]any `json:"filter,omitempty" jsonschema:"metadata fields that must equal the given values"`
	DocumentIDs []string       `json:"document_ids,omitempty" jsonschema:"restrict the search to these documents"`
}

// SearchHit is one retrieved passage.
type SearchHit struct {
	ChunkID       string  `json:"chunk_id"`
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title,omitempty"`
	Ordinal       int     `json:"ordinal"`
	Section       string  `json:"section,omitempty"`
	Score         float64 `json:"score"`
	Text          string  `json:"text"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Results []SearchHit `json:"results"`
	Count   int         `json:"count"`
}

// BatchSearchInput is the input schema for the batch_search tool.
type BatchSearchInput struct {
	NotebookID string   `json:"notebook_id" jsonschema:"the notebook to search"`
	Queries    []string `json:"queries" jsonschema:"the query texts, embedded in one call"`
	TopK       int      `json:"top_k,omitempty" jsonschema:"maximum passages per query (default 8)"`
	Threshold  *float64 `json:"threshold,omitempty" jsonschema:"minimum cosine similarity between -1 and 1"`
}

// QueryHits pairs a batch query with its passages.
type QueryHits struct {
	Query string      `json:"query"`
	Hits  []SearchHit `json:"hits"`
}

// BatchSearchOutput is the output schema for the batch_search tool.
type BatchSearchOutput struct {
	Results []QueryHits `json:"results"`
}

// SubmitDocumentInput is the input schema for the submit_document tool.
type SubmitDocumentInput struct {
	NotebookID string `json:"notebook_id" jsonschema:"the notebook receiving the document"`
	Filename   string `json:"filename" jsonschema:"file name, used as title and for type detection"`
	MIMEType   string `json:"mime_type,omitempty" jsonschema:"content type such as text/markdown or text/html"`
	Content    string `json:"content" jsonschema:"the document text"`
}

// SubmitDocumentOutput is the output schema for the submit_document tool.
type SubmitDocumentOutput struct {
	JobID        string `json:"job_id"`
	DocumentID   string `json:"document_id"`
	Deduplicated bool   `json:"deduplicated"`
}

// JobStatusInput is the input schema for the job_status tool.
type JobStatusInput struct {
	JobID string `json:"job_id" jsonschema:"the job to inspect"`
}

// JobStatusOutput is the output schema for the job_status tool.
type JobStatusOutput struct {
	ID          string           `json:"id"`
	Kind        domain.JobKind   `json:"kind"`
	State       domain.JobState  `json:"state"`
	Attempts    int              `json:"attempts"`
	MaxAttempts int              `json:"max_attempts"`
	Error       *domain.JobError `json:"error,omitempty"`
	Result      any              `json:"result,omitempty"`
}

// StartReportInput is the input schema for the start_report tool.
type StartReportInput struct {
	TemplateID string            `json:"template_id" jsonschema:"the report template to run"`
	NotebookID string            `json:"notebook_id" jsonschema:"the notebook the report draws on"`
	Params     map[string]string `json:"params,omitempty" jsonschema:"values substituted into section queries"`
}

// ReportStatusInput is the input schema for the report_status tool.
type ReportStatusInput struct {
	GenerationID    string `json:"generation_id" jsonschema:"the report run to inspect"`
	IncludeDocument bool   `json:"include_document,omitempty" jsonschema:"also return the assembled markdown"`
}

// SectionOutput summarises one report section.
type SectionOutput struct {
	Index  int                  `json:"index"`
	Name   string               `json:"name"`
	Status domain.SectionStatus `json:"status"`
	Error  string               `json:"error,omitempty"`
}

// ReportStatusOutput is the output schema for start_report and report_status.
type ReportStatusOutput struct {
	GenerationID string              `json:"generation_id"`
	Status       domain.ReportStatus `json:"status"`
	Sections     []SectionOutput     `json:"sections"`
	Document     string              `json:"document,omitempty"`
}

// registerTools registers the tool handlers whose ports are available.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search",
		Description: "Find the passages of a notebook most similar to a query",
	}, s.handleSearch)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "batch_search",
		Description: "Run several similarity searches over a notebook at once",
	}, s.handleBatchSearch)

	if s.ports.Ingest != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "submit_document",
			Description: "Add a text document to a notebook; processing continues in the background",
		}, s.handleSubmitDocument)
	}
	if s.ports.Jobs != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "job_status",
			Description: "Report the state, attempts and outcome of a background job",
		}, s.handleJobStatus)
	}
	if s.ports.Reports != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "start_report",
			Description: "Start generating a report from a template over a notebook",
		}, s.handleStartReport)
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "report_status",
			Description: "Report per-section progress of a report run, optionally with the assembled document",
		}, s.handleReportStatus)
	}
}

func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	q := domain.RetrievalQuery{
		NotebookID:  input.NotebookID,
		Text:        input.Query,
		TopK:        input.TopK,
		Threshold:   input.Threshold,
		Filter:      domain.MetadataFilter{Equals: input.Filter},
		DocumentIDs: input.DocumentIDs,
	}
	hits, err := s.ports.Retrieval.Query(ctx, q)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	results := toHits(hits)
	return nil, SearchOutput{Results: results, Count: len(results)}, nil
}

func (s *Server) handleBatchSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input BatchSearchInput,
) (*mcp.CallToolResult, BatchSearchOutput, error) {
	base := domain.RetrievalQuery{
		NotebookID: input.NotebookID,
		TopK:       input.TopK,
		Threshold:  input.Threshold,
	}
	batches, err := s.ports.Retrieval.QueryBatch(ctx, base, input.Queries)
	if err != nil {
		return nil, BatchSearchOutput{}, err
	}
	out := BatchSearchOutput{Results: make([]QueryHits, len(batches))}
	for i, hits := range batches {
		out.Results[i] = QueryHits{Query: input.Queries[i], Hits: toHits(hits)}
	}
	return nil, out, nil
}

func (s *Server) handleSubmitDocument(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SubmitDocumentInput,
) (*mcp.CallToolResult, SubmitDocumentOutput, error) {
	receipt, err := s.ports.Ingest.Submit(ctx, driving.IngestRequest{
		NotebookID: input.NotebookID,
		Filename:   input.Filename,
		MIMEType:   input.MIMEType,
		Content:    []byte(input.Content),
	})
	if err != nil {
		return nil, SubmitDocumentOutput{}, err
	}
	return nil, SubmitDocumentOutput{
		JobID:        receipt.JobID,
		DocumentID:   receipt.DocumentID,
		Deduplicated: receipt.Deduplicated,
	}, nil
}

func (s *Server) handleJobStatus(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input JobStatusInput,
) (*mcp.CallToolResult, JobStatusOutput, error) {
	job, err := s.ports.Jobs.Status(ctx, input.JobID)
	if err != nil {
		return nil, JobStatusOutput{}, err
	}
	out := JobStatusOutput{
		ID:          job.ID,
		Kind:        job.Kind,
		State:       job.State,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Error:       job.Error,
	}
	if len(job.Result) > 0 {
		var result any
		if err := json.Unmarshal(job.Result, &result); err == nil {
			out.Result = result
		}
	}
	return nil, out, nil
}

func (s *Server) handleStartReport(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input StartReportInput,
) (*mcp.CallToolResult, ReportStatusOutput, error) {
	gen, err := s.ports.Reports.Start(ctx, input.TemplateID, input.NotebookID, input.Params)
	if err != nil {
		return nil, ReportStatusOutput{}, err
	}
	return nil, toReportStatus(gen), nil
}

func (s *Server) handleReportStatus(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ReportStatusInput,
) (*mcp.CallToolResult, ReportStatusOutput, error) {
	gen, err := s.ports.Reports.Get(ctx, input.GenerationID)
	if err != nil {
		return nil, ReportStatusOutput{}, err
	}
	out := toReportStatus(gen)
	if input.IncludeDocument {
		doc, err := s.ports.Reports.Assemble(ctx, gen.ID)
		if err != nil {
			return nil, ReportStatusOutput{}, err
		}
		out.Document = doc
	}
	return nil, out, nil
}

func toHits(hits []domain.ScoredChunk) []SearchHit {
	out := make([]SearchHit, len(hits))
	for i := range hits {
		out[i] = SearchHit{
			ChunkID:       hits[i].Chunk.ID,
			DocumentID:    hits[i].Chunk.DocumentID,
			DocumentTitle: hits[i].DocumentTitle,
			Ordinal:       hits[i].Chunk.Ordinal,
			Section:       hits[i].Chunk.Section,
			Score:         hits[i].Score,
			Text:          hits[i].Chunk.Text,
		}
	}
	return out
}

func toReportStatus(gen *domain.ReportGeneration) ReportStatusOutput {
	out := ReportStatusOutput{
		GenerationID: gen.ID,
		Status:       gen.Status,
		Sections:     make([]SectionOutput, len(gen.Sections)),
	}
	for i, sec := range gen.Sections {
		out.Sections[i] = SectionOutput{Index: sec.Index, Name: sec.Name, Status: sec.Status}
		if sec.Error != nil {
			out.Sections[i].Error = sec.Error.Message
		}
	}
	return out
}
