package domain

import "time"

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatSession is an ordered conversation scoped to a notebook.
type ChatSession struct {
	ID         string    `json:"id"`
	NotebookID string    `json:"notebook_id" validate:"required"`
	Title      string    `json:"title,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ChatMessage is one turn of a session.
type ChatMessage struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`

	// Seq orders messages within the session.
	Seq int `json:"seq"`

	Role    string `json:"role"`
	Content string `json:"content"`

	// Citations record the chunks used as retrieval context.
	Citations []Citation `json:"citations,omitempty"`

	// Incomplete marks an assistant reply cut short by cancellation or error.
	Incomplete bool `json:"incomplete,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
