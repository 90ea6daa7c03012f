package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/folio/internal/core/domain"
)

type sessionRow struct {
	ID         string    `db:"id"`
	NotebookID string    `db:"notebook_id"`
	Title      string    `db:"title"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r sessionRow) toDomain() domain.ChatSession {
	return domain.ChatSession{
		ID:         r.ID,
		NotebookID: r.NotebookID,
		Title:      r.Title,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

type messageRow struct {
	ID         string    `db:"id"`
	SessionID  string    `db:"session_id"`
	Seq        int       `db:"seq"`
	Role       string    `db:"role"`
	Content    string    `db:"content"`
	Citations  []byte    `db:"citations"`
	Incomplete bool      `db:"incomplete"`
	CreatedAt  time.Time `db:"created_at"`
}

// CreateSession stores a new session.
func (s *Store) CreateSession(ctx context.Context, session *domain.ChatSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, notebook_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, session.ID, session.NotebookID, session.Title, session.CreatedAt.UTC(), session.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.ChatSession, error) {
	var row sessionRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM chat_sessions WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	session := row.toDomain()
	return &session, nil
}

// ListSessions returns a notebook's sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, notebookID string) ([]domain.ChatSession, error) {
	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM chat_sessions WHERE notebook_id = $1 ORDER BY created_at DESC, id
	`, notebookID); err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	sessions := make([]domain.ChatSession, len(rows))
	for i, r := range rows {
		sessions[i] = r.toDomain()
	}
	return sessions, nil
}

// AppendMessage assigns the next sequence number and stores the message.
// The session row is locked so concurrent appends are serialised.
func (s *Store) AppendMessage(ctx context.Context, msg *domain.ChatMessage) error {
	citations, err := jsonValue(msg.Citations)
	if err != nil {
		return fmt.Errorf("marshalling citations: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `UPDATE chat_sessions SET updated_at = $1 WHERE id = $2`,
		msg.CreatedAt.UTC(), msg.SessionID)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	if err := tx.GetContext(ctx, &msg.Seq, `
		INSERT INTO chat_messages (id, session_id, seq, role, content, citations, incomplete, created_at)
		SELECT $1::text, $2::text, COALESCE(MAX(seq), 0) + 1, $3::text, $4::text, $5::jsonb, $6::boolean, $7::timestamptz
		FROM chat_messages WHERE session_id = $2::text
		RETURNING seq
	`, msg.ID, msg.SessionID, msg.Role, msg.Content, citations, msg.Incomplete, msg.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("appending message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ListMessages returns the most recent limit messages in order.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM (
			SELECT * FROM chat_messages WHERE session_id = $1 ORDER BY seq DESC LIMIT $2
		) recent ORDER BY seq
	`, sessionID, lim); err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	messages := make([]domain.ChatMessage, 0, len(rows))
	for _, r := range rows {
		msg := domain.ChatMessage{
			ID:         r.ID,
			SessionID:  r.SessionID,
			Seq:        r.Seq,
			Role:       r.Role,
			Content:    r.Content,
			Incomplete: r.Incomplete,
			CreatedAt:  r.CreatedAt.UTC(),
		}
		if err := decodeJSON(r.Citations, &msg.Citations); err != nil {
			return nil, fmt.Errorf("unmarshalling citations: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
