package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
	"github.com/custodia-labs/folio/internal/core/ports/driving"
	"github.com/custodia-labs/folio/internal/logger"
)

// Ensure ChatService implements the interface.
var _ driving.ChatService = (*ChatService)(nil)

// ChatConfig tunes grounded chat.
type ChatConfig struct {
	// HistoryMessages is how many earlier messages are sent with each turn.
	HistoryMessages int

	// RewriteQueries turns follow-up questions into standalone retrieval
	// queries using the recent history.
	RewriteQueries bool

	// TopK is the number of passages retrieved per turn. Zero uses the retriever default.
	TopK int
}

// DefaultChatConfig returns the chat defaults.
func DefaultChatConfig() ChatConfig {
	return ChatConfig{HistoryMessages: 6, RewriteQueries: true}
}

// ChatService answers questions over a notebook, one streamed turn at a time.
type ChatService struct {
	store     driven.ChatStore
	notebooks driven.NotebookStore
	retriever driving.RetrievalService
	llm       driven.LLMService
	prompts   driven.PromptStore
	config    ChatConfig
	now       func() time.Time
}

// NewChatService creates a chat service.
func NewChatService(
	store driven.ChatStore,
	notebooks driven.NotebookStore,
	retriever driving.RetrievalService,
	llm driven.LLMService,
	prompts driven.PromptStore,
	config ChatConfig,
) *ChatService {
	if config.HistoryMessages < 0 {
		config.HistoryMessages = 0
	}
	return &ChatService{
		store:     store,
		notebooks: notebooks,
		retriever: retriever,
		llm:       llm,
		prompts:   prompts,
		config:    config,
		now:       time.Now,
	}
}

// StartSession creates an empty session.
func (s *ChatService) StartSession(ctx context.Context, notebookID, title string) (*domain.ChatSession, error) {
	if _, err := s.notebooks.GetNotebook(ctx, notebookID); err != nil {
		return nil, fmt.Errorf("get notebook: %w", err)
	}
	now := s.now().UTC()
	session := &domain.ChatSession{
		ID:         uuid.NewString(),
		NotebookID: notebookID,
		Title:      strings.TrimSpace(title),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetSession returns a session.
func (s *ChatService) GetSession(ctx context.Context, id string) (*domain.ChatSession, error) {
	return s.store.GetSession(ctx, id)
}

// ListSessions returns a notebook's sessions.
func (s *ChatService) ListSessions(ctx context.Context, notebookID string) ([]domain.ChatSession, error) {
	return s.store.ListSessions(ctx, notebookID)
}

// History returns a session's messages in order.
func (s *ChatService) History(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, sessionID, 0)
}

// Send stores the question, retrieves context and starts the answer stream.
func (s *ChatService) Send(ctx context.Context, sessionID, text string) (driving.ChatStream, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.NewValidationError("message is empty", map[string]string{"text": "is required"})
	}
	if s.llm == nil {
		return nil, domain.ErrLLMUnavailable
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var history []domain.ChatMessage
	if s.config.HistoryMessages > 0 {
		if history, err = s.store.ListMessages(ctx, sessionID, s.config.HistoryMessages); err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
	}

	userMsg := &domain.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Content:   text,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}

	query := s.rewriteQuery(ctx, history, text)
	hits, err := s.retriever.Query(ctx, domain.RetrievalQuery{
		NotebookID: session.NotebookID,
		Text:       query,
		TopK:       s.config.TopK,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	messages, opts, err := s.buildPrompt(history, text, hits)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := s.llm.Stream(streamCtx, messages, opts)
	if err != nil {
		cancel()
		return nil, err
	}
	logger.Debug("chat: session %s streaming with %d passages", sessionID, len(hits))

	return &chatStream{
		svc:       s,
		ctx:       streamCtx,
		cancel:    cancel,
		stream:    stream,
		sessionID: sessionID,
		citations: citationsFor(hits),
	}, nil
}

// rewriteQuery resolves references in a follow-up question. Any failure
// falls back to the question as asked.
func (s *ChatService) rewriteQuery(ctx context.Context, history []domain.ChatMessage, question string) string {
	if !s.config.RewriteQueries || len(history) == 0 {
		return question
	}
	tmpl, err := s.prompts.Load(driven.PromptQueryRewrite)
	if err != nil {
		return question
	}
	prompt := fmt.Sprintf(tmpl, formatHistory(history), question)
	rewritten, err := s.llm.Generate(ctx, prompt, driven.GenerateOptions{Temperature: 0, MaxTokens: 200})
	if err != nil {
		logger.Debug("chat: query rewrite failed: %v", err)
		return question
	}
	rewritten = strings.Trim(strings.TrimSpace(rewritten), `"`)
	if rewritten == "" {
		return question
	}
	logger.Debug("chat: rewrote %q as %q", question, rewritten)
	return rewritten
}

func (s *ChatService) buildPrompt(history []domain.ChatMessage, question string, hits []domain.ScoredChunk) ([]driven.ChatMessage, driven.ChatOptions, error) {
	system, err := s.prompts.Load(driven.PromptChatSystem)
	if err != nil {
		return nil, driven.ChatOptions{}, fmt.Errorf("load prompt: %w", err)
	}
	contextTmpl, err := s.prompts.Load(driven.PromptChatContext)
	if err != nil {
		return nil, driven.ChatOptions{}, fmt.Errorf("load prompt: %w", err)
	}

	messages := make([]driven.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		messages = append(messages, driven.ChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, driven.ChatMessage{
		Role:    domain.RoleUser,
		Content: fmt.Sprintf(contextTmpl, formatPassages(hits), question),
	})
	return messages, driven.ChatOptions{System: system}, nil
}

func formatHistory(history []domain.ChatMessage) string {
	var b strings.Builder
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// chatStream buffers the answer as it is pulled and stores it once the
// provider stream ends, fails or is cancelled.
type chatStream struct {
	svc       *ChatService
	ctx       context.Context
	cancel    context.CancelFunc
	stream    driven.TextStream
	sessionID string
	citations []domain.Citation

	mu        sync.Mutex
	buf       strings.Builder
	done      bool
	cancelled bool
	err       error
	msg       *domain.ChatMessage
}

// Recv returns the next fragment.
func (c *chatStream) Recv() (string, error) {
	c.mu.Lock()
	if c.done {
		err := c.err
		c.mu.Unlock()
		return "", err
	}
	c.mu.Unlock()

	part, err := c.stream.Recv()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return "", c.err
	}
	switch {
	case err == nil:
		c.buf.WriteString(part)
		return part, nil
	case errors.Is(err, io.EOF):
		c.finishLocked(false, io.EOF)
	case c.cancelled || c.ctx.Err() != nil:
		c.finishLocked(true, &domain.Error{Kind: domain.KindCancelled, Op: "chat", Message: "answer cancelled", Err: err})
	default:
		c.finishLocked(true, err)
	}
	return "", c.err
}

// Cancel stops generation and stores what was received so far.
func (c *chatStream) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.cancelled = true
	c.finishLocked(true, &domain.Error{Kind: domain.KindCancelled, Op: "chat", Message: "answer cancelled"})
}

// Citations returns the passages the answer is grounded on.
func (c *chatStream) Citations() []domain.Citation {
	return c.citations
}

// Message returns the stored assistant message, or nil while streaming.
func (c *chatStream) Message() *domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msg
}

// finishLocked ends the stream and persists the reply. Caller holds mu.
func (c *chatStream) finishLocked(incomplete bool, err error) {
	c.done = true
	c.err = err
	c.cancel()
	if closeErr := c.stream.Close(); closeErr != nil {
		logger.Debug("chat: close stream: %v", closeErr)
	}

	msg := &domain.ChatMessage{
		ID:         uuid.NewString(),
		SessionID:  c.sessionID,
		Role:       domain.RoleAssistant,
		Content:    c.buf.String(),
		Citations:  c.citations,
		Incomplete: incomplete,
		CreatedAt:  c.svc.now().UTC(),
	}
	// The caller's context may already be cancelled.
	if storeErr := c.svc.store.AppendMessage(context.WithoutCancel(c.ctx), msg); storeErr != nil {
		logger.Error("chat: store reply for session %s: %v", c.sessionID, storeErr)
		if errors.Is(err, io.EOF) {
			c.err = fmt.Errorf("store reply: %w", storeErr)
		}
		return
	}
	c.msg = msg
	if incomplete {
		logger.Info("chat: session %s reply stored incomplete (%d bytes)", c.sessionID, len(msg.Content))
	}
}
