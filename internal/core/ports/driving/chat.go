package driving

import (
	"context"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// ChatService runs grounded conversations over a notebook.
type ChatService interface {
	// StartSession creates an empty session bound to a notebook.
	StartSession(ctx context.Context, notebookID, title string) (*domain.ChatSession, error)

	// GetSession returns domain.ErrNotFound if the session does not exist.
	GetSession(ctx context.Context, id string) (*domain.ChatSession, error)

	// ListSessions returns a notebook's sessions, newest first.
	ListSessions(ctx context.Context, notebookID string) ([]domain.ChatSession, error)

	// History returns every message of a session in order.
	History(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)

	// Send stores the user message, retrieves context and starts streaming
	// the answer. Cancelling ctx has the same effect as ChatStream.Cancel.
	Send(ctx context.Context, sessionID, text string) (ChatStream, error)
}

// ChatStream is a lazily pulled answer. It is finite and cannot be restarted.
type ChatStream interface {
	// Recv returns the next text fragment, or io.EOF once the answer is complete
	// and stored.
	Recv() (string, error)

	// Cancel stops generation. Text received so far is stored as an
	// incomplete assistant message.
	Cancel()

	// Citations returns the passages the answer is grounded on.
	Citations() []domain.Citation

	// Message returns the stored assistant message once the stream has ended.
	Message() *domain.ChatMessage
}
