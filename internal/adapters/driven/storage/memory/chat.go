package memory

import (
	"context"
	"sort"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// CreateSession stores a new session.
func (s *Store) CreateSession(_ context.Context, session *domain.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	return nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(_ context.Context, id string) (*domain.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &session, nil
}

// ListSessions returns a notebook's sessions, newest first.
func (s *Store) ListSessions(_ context.Context, notebookID string) ([]domain.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.ChatSession
	for _, session := range s.sessions {
		if session.NotebookID == notebookID {
			result = append(result, session)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

// AppendMessage assigns the next sequence number and stores the message.
func (s *Store) AppendMessage(_ context.Context, msg *domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[msg.SessionID]
	if !ok {
		return domain.ErrNotFound
	}
	msg.Seq = len(s.messages[msg.SessionID]) + 1
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], *msg)
	session.UpdatedAt = msg.CreatedAt
	s.sessions[session.ID] = session
	return nil
}

// ListMessages returns the most recent limit messages in order.
func (s *Store) ListMessages(_ context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	result := make([]domain.ChatMessage, len(all))
	copy(result, all)
	return result, nil
}
