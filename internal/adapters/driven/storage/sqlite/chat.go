package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// CreateSession stores a new session.
func (s *Store) CreateSession(ctx context.Context, session *domain.ChatSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, notebook_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, session.ID, session.NotebookID, session.Title, session.CreatedAt.UnixMilli(), session.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, notebook_id, title, created_at, updated_at FROM chat_sessions WHERE id = ?
	`, id)
	return scanSession(row)
}

// ListSessions returns a notebook's sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, notebookID string) ([]domain.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, notebook_id, title, created_at, updated_at FROM chat_sessions
		WHERE notebook_id = ? ORDER BY created_at DESC, id
	`, notebookID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.ChatSession //nolint:prealloc // size unknown from query
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

func scanSession(row scanner) (*domain.ChatSession, error) {
	var session domain.ChatSession
	var createdAt, updatedAt int64
	if err := row.Scan(&session.ID, &session.NotebookID, &session.Title, &createdAt, &updatedAt); err != nil {
		if err = notFound(err); err == domain.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	session.CreatedAt = millis(createdAt)
	session.UpdatedAt = millis(updatedAt)
	return &session, nil
}

// AppendMessage assigns the next sequence number and stores the message.
// The sequence is computed inside the INSERT so concurrent appends cannot collide.
func (s *Store) AppendMessage(ctx context.Context, msg *domain.ChatMessage) error {
	citationsJSON, err := toJSON(msg.Citations)
	if err != nil {
		return fmt.Errorf("marshalling citations: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, "UPDATE chat_sessions SET updated_at = ? WHERE id = ?",
		msg.CreatedAt.UnixMilli(), msg.SessionID)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO chat_messages (id, session_id, seq, role, content, citations, incomplete, created_at)
		SELECT ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?
		FROM chat_messages WHERE session_id = ?
		RETURNING seq
	`, msg.ID, msg.SessionID, msg.Role, msg.Content, citationsJSON, msg.Incomplete,
		msg.CreatedAt.UnixMilli(), msg.SessionID).Scan(&msg.Seq)
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ListMessages returns the most recent limit messages in order.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, seq, role, content, citations, incomplete, created_at FROM (
			SELECT * FROM chat_messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []domain.ChatMessage{}
	for rows.Next() {
		var msg domain.ChatMessage
		var citationsJSON sql.NullString
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Seq, &msg.Role, &msg.Content,
			&citationsJSON, &msg.Incomplete, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if err := fromJSON(citationsJSON, &msg.Citations); err != nil {
			return nil, fmt.Errorf("unmarshalling citations: %w", err)
		}
		msg.CreatedAt = millis(createdAt)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}
