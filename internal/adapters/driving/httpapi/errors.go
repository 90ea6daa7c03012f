package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/logger"
)

// errorBody is the JSON error payload of every failed request.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
	Details map[string]any   `json:"details,omitempty"`
}

// statusFor maps an error to its HTTP status and payload.
func statusFor(err error) (int, errorDetail) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		kind := domain.KindInternal
		switch {
		case he.Code == http.StatusNotFound:
			kind = domain.KindNotFound
		case he.Code >= 400 && he.Code < 500:
			kind = domain.KindValidation
		}
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		return he.Code, errorDetail{Kind: kind, Message: msg}
	}

	detail := errorDetail{Kind: domain.KindOf(err), Message: err.Error()}
	var de *domain.Error
	if errors.As(err, &de) {
		detail.Details = de.Details
		if de.Message != "" && de.Kind == domain.KindValidation {
			detail.Message = de.Message
		}
	}
	var pf *domain.PartialFailure
	if errors.As(err, &pf) {
		detail.Details = map[string]any{"succeeded": pf.Succeeded, "failed": pf.Failed}
	}

	switch {
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrInvalidTransition):
		detail.Kind = domain.KindConsistency
		return http.StatusConflict, detail
	case errors.Is(err, domain.ErrLLMUnavailable), errors.Is(err, domain.ErrEmbeddingUnavailable):
		detail.Kind = domain.KindProviderFatal
		return http.StatusServiceUnavailable, detail
	}

	switch detail.Kind {
	case domain.KindValidation:
		return http.StatusBadRequest, detail
	case domain.KindNotFound:
		return http.StatusNotFound, detail
	case domain.KindConsistency:
		return http.StatusConflict, detail
	case domain.KindProvider:
		return http.StatusBadGateway, detail
	case domain.KindProviderFatal:
		return http.StatusServiceUnavailable, detail
	default:
		return http.StatusInternalServerError, detail
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, detail := statusFor(err)
	if code >= 500 {
		logger.Error("http: %s %s: %v", c.Request().Method, c.Path(), err)
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, errorBody{Error: detail})
}

func badRequest(message string, fields map[string]string) error {
	return domain.NewValidationError(message, fields)
}
