package httpapi

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driving"
)

type createNotebookRequest struct {
	Name           string                `json:"name" validate:"required,max=200"`
	MetadataSchema domain.MetadataSchema `json:"metadata_schema"`
	DedupPolicy    domain.DedupPolicy    `json:"dedup_policy"`
}

// bindJSON decodes the body and validates its tags.
func bindJSON(c echo.Context, out any) error {
	if err := c.Bind(out); err != nil {
		return badRequest("malformed request body", nil)
	}
	return domain.ValidateStruct(out)
}

func (s *Server) createNotebook(c echo.Context) error {
	var req createNotebookRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	nb, err := s.services.Notebooks.Create(c.Request().Context(), req.Name, req.MetadataSchema, req.DedupPolicy)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, nb)
}

func (s *Server) listNotebooks(c echo.Context) error {
	nbs, err := s.services.Notebooks.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"notebooks": nbs})
}

func (s *Server) getNotebook(c echo.Context) error {
	nb, err := s.services.Notebooks.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nb)
}

func (s *Server) setSchema(c echo.Context) error {
	var schema domain.MetadataSchema
	if err := bindJSON(c, &schema); err != nil {
		return err
	}
	nb, err := s.services.Notebooks.SetSchema(c.Request().Context(), c.Param("id"), schema)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nb)
}

// uploadDocument accepts a multipart "file" field or a raw body. For a raw
// body the filename comes from the "filename" query parameter.
func (s *Server) uploadDocument(c echo.Context) error {
	req := driving.IngestRequest{NotebookID: c.Param("id")}

	mediaType, _, _ := mime.ParseMediaType(c.Request().Header.Get(echo.HeaderContentType))
	if mediaType == echo.MIMEMultipartForm {
		fh, err := c.FormFile("file")
		if err != nil {
			return badRequest("multipart upload needs a file field", map[string]string{"file": "is required"})
		}
		f, err := fh.Open()
		if err != nil {
			return err
		}
		defer f.Close()
		if req.Content, err = io.ReadAll(f); err != nil {
			return err
		}
		req.Filename = fh.Filename
		req.MIMEType = fh.Header.Get(echo.HeaderContentType)
	} else {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		req.Content = body
		req.Filename = c.QueryParam("filename")
		req.MIMEType = mediaType
	}
	if mt := c.QueryParam("mime_type"); mt != "" {
		req.MIMEType = mt
	}

	receipt, err := s.services.Ingest.Submit(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, receipt)
}

func (s *Server) listDocuments(c echo.Context) error {
	docs, err := s.services.Documents.List(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) getDocument(c echo.Context) error {
	doc, err := s.services.Documents.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) deleteDocument(c echo.Context) error {
	if err := s.services.Documents.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listJobs(c echo.Context) error {
	filter := domain.JobFilter{
		Kind:       domain.JobKind(c.QueryParam("kind")),
		State:      domain.JobState(c.QueryParam("state")),
		NotebookID: c.QueryParam("notebook_id"),
		Limit:      100,
	}
	if filter.Kind != "" && !filter.Kind.IsValid() {
		return badRequest("unknown job kind", map[string]string{"kind": string(filter.Kind)})
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxJobListResults {
			return badRequest("invalid limit", map[string]string{"limit": "must be between 1 and " + strconv.Itoa(maxJobListResults)})
		}
		filter.Limit = n
	}
	jobs, err := s.services.Jobs.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(c echo.Context) error {
	job, err := s.services.Jobs.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) cancelJob(c echo.Context) error {
	job, err := s.services.Jobs.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) retryJob(c echo.Context) error {
	job, err := s.services.Jobs.Retry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, job)
}

func (s *Server) retrieve(c echo.Context) error {
	var q domain.RetrievalQuery
	if err := bindJSON(c, &q); err != nil {
		return err
	}
	hits, err := s.services.Retrieval.Query(c.Request().Context(), q)
	if err != nil {
		return err
	}
	if hits == nil {
		hits = []domain.ScoredChunk{}
	}
	return c.JSON(http.StatusOK, map[string]any{"results": hits})
}

type batchRetrieveRequest struct {
	domain.RetrievalQuery
	Queries []string `json:"queries" validate:"required,min=1,max=100,dive,required"`
}

func (s *Server) retrieveBatch(c echo.Context) error {
	var req batchRetrieveRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	results, err := s.services.Retrieval.QueryBatch(c.Request().Context(), req.RetrievalQuery, req.Queries)
	if err != nil {
		return err
	}
	for i := range results {
		if results[i] == nil {
			results[i] = []domain.ScoredChunk{}
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}

func (s *Server) saveTemplate(c echo.Context) error {
	var tmpl domain.ReportTemplate
	mediaType, _, _ := mime.ParseMediaType(c.Request().Header.Get(echo.HeaderContentType))
	if strings.Contains(mediaType, "yaml") {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		parsed, err := domain.ParseReportTemplateYAML(body)
		if err != nil {
			return err
		}
		tmpl = *parsed
	} else if err := c.Bind(&tmpl); err != nil {
		return badRequest("malformed request body", nil)
	}

	saved, err := s.services.Reports.SaveTemplate(c.Request().Context(), &tmpl)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, saved)
}

func (s *Server) listTemplates(c echo.Context) error {
	tmpls, err := s.services.Reports.ListTemplates(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"templates": tmpls})
}

func (s *Server) getTemplate(c echo.Context) error {
	tmpl, err := s.services.Reports.GetTemplate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tmpl)
}

type startReportRequest struct {
	TemplateID string            `json:"template_id" validate:"required"`
	NotebookID string            `json:"notebook_id" validate:"required"`
	Params     map[string]string `json:"params"`
}

func (s *Server) startReport(c echo.Context) error {
	var req startReportRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	gen, err := s.services.Reports.Start(c.Request().Context(), req.TemplateID, req.NotebookID, req.Params)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, gen)
}

func (s *Server) getReport(c echo.Context) error {
	gen, err := s.services.Reports.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, gen)
}

func (s *Server) retrySection(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		return badRequest("invalid section index", map[string]string{"index": "must be a non-negative integer"})
	}
	gen, err := s.services.Reports.RetrySection(c.Request().Context(), c.Param("id"), index)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, gen)
}

func (s *Server) reportDocument(c echo.Context) error {
	doc, err := s.services.Reports.Assemble(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(doc))
}

type startSessionRequest struct {
	NotebookID string `json:"notebook_id" validate:"required"`
	Title      string `json:"title"`
}

func (s *Server) startSession(c echo.Context) error {
	var req startSessionRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	session, err := s.services.Chat.StartSession(c.Request().Context(), req.NotebookID, req.Title)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, session)
}

func (s *Server) getSession(c echo.Context) error {
	session, err := s.services.Chat.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, session)
}

func (s *Server) history(c echo.Context) error {
	msgs, err := s.services.Chat.History(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": msgs})
}
