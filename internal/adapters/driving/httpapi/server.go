// Package httpapi exposes the core services over HTTP with echo: document
// ingestion, jobs, retrieval, reports, streamed chat answers and a
// server-sent event feed.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driving"
	"github.com/custodia-labs/folio/internal/logger"
)

// Defaults.
const (
	DefaultBodyLimit  = "64M"
	DefaultKeepAlive  = 15 * time.Second
	shutdownTimeout   = 10 * time.Second
	maxJobListResults = 500
)

// EventSource supplies live events to SSE clients.
type EventSource interface {
	Subscribe(ctx context.Context, filter func(domain.Event) bool) (<-chan domain.Event, func())
}

// Services are the driving ports the API is built on. Events and Metrics
// are optional; their routes are omitted when nil.
type Services struct {
	Notebooks driving.NotebookService
	Documents driving.DocumentService
	Ingest    driving.IngestService
	Jobs      driving.JobService
	Retrieval driving.RetrievalService
	Reports   driving.ReportService
	Chat      driving.ChatService
	Events    EventSource
	Metrics   http.Handler
}

// Server is the HTTP API.
type Server struct {
	echo      *echo.Echo
	services  Services
	keepAlive time.Duration
}

// New builds the router.
func New(services Services) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, services: services, keepAlive: DefaultKeepAlive}
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(DefaultBodyLimit))
	e.Use(requestLogger())
	s.routes()
	return s
}

// Handler returns the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http: listening on %s", addr)
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if s.services.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.services.Metrics))
	}

	api := e.Group("/api")

	api.POST("/notebooks", s.createNotebook)
	api.GET("/notebooks", s.listNotebooks)
	api.GET("/notebooks/:id", s.getNotebook)
	api.PUT("/notebooks/:id/schema", s.setSchema)
	api.POST("/notebooks/:id/documents", s.uploadDocument)
	api.GET("/notebooks/:id/documents", s.listDocuments)

	api.GET("/documents/:id", s.getDocument)
	api.DELETE("/documents/:id", s.deleteDocument)

	api.GET("/jobs", s.listJobs)
	api.GET("/jobs/:id", s.getJob)
	api.POST("/jobs/:id/cancel", s.cancelJob)
	api.POST("/jobs/:id/retry", s.retryJob)

	api.POST("/retrieve", s.retrieve)
	api.POST("/retrieve/batch", s.retrieveBatch)

	api.POST("/report-templates", s.saveTemplate)
	api.GET("/report-templates", s.listTemplates)
	api.GET("/report-templates/:id", s.getTemplate)
	api.POST("/reports", s.startReport)
	api.GET("/reports/:id", s.getReport)
	api.POST("/reports/:id/sections/:index/retry", s.retrySection)
	api.GET("/reports/:id/document", s.reportDocument)

	api.POST("/chat/sessions", s.startSession)
	api.GET("/chat/sessions/:id", s.getSession)
	api.GET("/chat/sessions/:id/messages", s.history)
	api.POST("/chat/sessions/:id/messages", s.sendMessage)

	if s.services.Events != nil {
		api.GET("/events", s.streamEvents)
	}
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			logger.With(
				zap.String("method", req.Method),
				zap.String("path", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("took", time.Since(start)),
			).Debug("http request")
			return nil
		}
	}
}
