package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// uriScheme is the custom URI scheme for Folio resources.
const uriScheme = "folio://"

// registerResources registers the resource handlers whose ports are available.
func (s *Server) registerResources() {
	if s.ports.Notebooks != nil {
		s.server.AddResource(&mcp.Resource{
			URI:         uriScheme + "notebooks",
			Name:        "notebooks",
			Description: "All notebooks with their metadata schemas",
			MIMEType:    "application/json",
		}, s.handleNotebooksResource)
	}
	if s.ports.Documents != nil {
		s.server.AddResourceTemplate(&mcp.ResourceTemplate{
			URITemplate: uriScheme + "notebooks/{notebookId}/documents",
			Name:        "notebook-documents",
			Description: "Documents stored in a notebook, with extracted metadata",
			MIMEType:    "application/json",
		}, s.handleDocumentsResource)

		s.server.AddResourceTemplate(&mcp.ResourceTemplate{
			URITemplate: uriScheme + "documents/{documentId}",
			Name:        "document-content",
			Description: "Normalised text of a document",
			MIMEType:    "text/plain",
		}, s.handleDocumentContentResource)
	}
}

func (s *Server) handleNotebooksResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	notebooks, err := s.ports.Notebooks.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing notebooks: %w", err)
	}

	type notebookInfo struct {
		ID     string   `json:"id"`
		Name   string   `json:"name"`
		Fields []string `json:"fields,omitempty"`
	}
	infos := make([]notebookInfo, len(notebooks))
	for i, nb := range notebooks {
		infos[i] = notebookInfo{ID: nb.ID, Name: nb.Name}
		for _, f := range nb.MetadataSchema.Fields {
			infos[i].Fields = append(infos[i].Fields, f.Name)
		}
	}
	return jsonResource(req.Params.URI, infos)
}

func (s *Server) handleDocumentsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	notebookID := extractNotebookID(req.Params.URI)
	if notebookID == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	docs, err := s.ports.Documents.List(ctx, notebookID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	type docInfo struct {
		ID       string         `json:"id"`
		Title    string         `json:"title"`
		URI      string         `json:"uri,omitempty"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}
	infos := make([]docInfo, len(docs))
	for i := range docs {
		infos[i] = docInfo{
			ID:       docs[i].ID,
			Title:    docs[i].Title,
			URI:      docs[i].URI,
			Metadata: docs[i].Metadata,
		}
	}
	return jsonResource(req.Params.URI, infos)
}

func (s *Server) handleDocumentContentResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	docID := extractDocumentID(req.Params.URI)
	if docID == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	doc, err := s.ports.Documents.Get(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	content := doc.Content
	if content == "" {
		chunks, err := s.ports.Documents.Chunks(ctx, docID)
		if err != nil {
			return nil, fmt.Errorf("getting chunks: %w", err)
		}
		texts := make([]string, len(chunks))
		for i := range chunks {
			texts[i] = chunks[i].Text
		}
		content = strings.Join(texts, "\n\n")
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     content,
		}},
	}, nil
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractNotebookID extracts the ID from folio://notebooks/{notebookId}/documents.
func extractNotebookID(uri string) string {
	const prefix = uriScheme + "notebooks/"
	const suffix = "/documents"

	if !strings.HasPrefix(uri, prefix) {
		return ""
	}
	uri = strings.TrimPrefix(uri, prefix)
	if !strings.HasSuffix(uri, suffix) {
		return ""
	}
	return strings.TrimSuffix(uri, suffix)
}

// extractDocumentID extracts the ID from folio://documents/{documentId}.
func extractDocumentID(uri string) string {
	const prefix = uriScheme + "documents/"

	if !strings.HasPrefix(uri, prefix) {
		return ""
	}
	return strings.TrimPrefix(uri, prefix)
}
