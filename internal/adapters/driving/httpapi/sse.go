package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/logger"
)

// sseWriter writes server-sent events to an echo response.
type sseWriter struct {
	resp    *echo.Response
	flusher http.Flusher
}

func startSSE(c echo.Context) (*sseWriter, error) {
	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{resp: resp, flusher: flusher}, nil
}

func (w *sseWriter) send(event, id string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if id != "" {
		if _, err := fmt.Fprintf(w.resp, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w.resp, "event: %s\ndata: %s\n\n", event, raw); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) ping() error {
	if _, err := io.WriteString(w.resp, ": ping\n\n"); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

type sendMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

type chatDone struct {
	Message   *domain.ChatMessage `json:"message"`
	Citations []domain.Citation   `json:"citations"`
}

// sendMessage streams an answer as SSE: "citations" first, then "delta"
// events, then "done" with the stored message. Failures after the stream
// has started arrive as an "error" event. A client disconnect cancels
// generation and the partial answer is stored as incomplete.
func (s *Server) sendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	stream, err := s.services.Chat.Send(ctx, c.Param("id"), req.Text)
	if err != nil {
		return err
	}

	w, err := startSSE(c)
	if err != nil {
		stream.Cancel()
		return err
	}
	citations := stream.Citations()
	if citations == nil {
		citations = []domain.Citation{}
	}
	if err := w.send("citations", "", citations); err != nil {
		stream.Cancel()
		return nil
	}

	for {
		part, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			_ = w.send("done", "", chatDone{Message: stream.Message(), Citations: citations})
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			_, detail := statusFor(err)
			_ = w.send("error", "", errorBody{Error: detail})
			return nil
		}
		if err := w.send("delta", "", map[string]string{"text": part}); err != nil {
			logger.Debug("http: chat client went away: %v", err)
			stream.Cancel()
			return nil
		}
	}
}

// streamEvents relays broker events as SSE. Query parameters job_id,
// generation_id and notebook_id narrow the feed.
func (s *Server) streamEvents(c echo.Context) error {
	jobID := c.QueryParam("job_id")
	genID := c.QueryParam("generation_id")
	notebookID := c.QueryParam("notebook_id")
	filter := func(e domain.Event) bool {
		if jobID != "" && e.JobID != jobID {
			return false
		}
		if genID != "" && e.GenerationID != genID {
			return false
		}
		if notebookID != "" && e.NotebookID != notebookID {
			return false
		}
		return true
	}

	ctx := c.Request().Context()
	events, cancel := s.services.Events.Subscribe(ctx, filter)
	defer cancel()

	w, err := startSSE(c)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := w.send(string(event.Type), event.ID, event); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := w.ping(); err != nil {
				return nil
			}
		}
	}
}
