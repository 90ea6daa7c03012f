package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
)

// mockEmbedder implements driven.EmbeddingService for testing.
// Vectors come from a keyword table so tests can reason about scores.
type mockEmbedder struct {
	mu       sync.Mutex
	model    string
	maxBatch int
	calls    [][]string

	// batchFn, when set, replaces the default behaviour for EmbedBatch.
	batchFn func(call int, texts []string) ([][]float32, error)
}

var _ driven.EmbeddingService = (*mockEmbedder)(nil)

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{model: "test-embed", maxBatch: 100}
}

// keywordVector maps text onto four axes: cats, dogs, taxes, weather.
func keywordVector(text string) []float32 {
	t := strings.ToLower(text)
	v := []float32{0.01, 0.01, 0.01, 0.01}
	for i, kw := range []string{"cat", "dog", "tax", "weather"} {
		v[i] += float32(strings.Count(t, kw))
	}
	return v
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls = append(m.calls, []string{text})
	m.mu.Unlock()
	return keywordVector(text), nil
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	call := len(m.calls)
	m.calls = append(m.calls, append([]string(nil), texts...))
	fn := m.batchFn
	m.mu.Unlock()

	if fn != nil {
		return fn(call, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = keywordVector(t)
	}
	return out, nil
}

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockEmbedder) call(i int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i]
}

func (m *mockEmbedder) Dimensions() int              { return 4 }
func (m *mockEmbedder) ModelName() string            { return m.model }
func (m *mockEmbedder) MaxBatchSize() int            { return m.maxBatch }
func (m *mockEmbedder) Ping(_ context.Context) error { return nil }
func (m *mockEmbedder) Close() error                 { return nil }

// mockLLM implements driven.LLMService for testing.
type mockLLM struct {
	mu        sync.Mutex
	prompts   []string
	messages  [][]driven.ChatMessage
	generate  func(prompt string, opts driven.GenerateOptions) (string, error)
	streamFn  func(messages []driven.ChatMessage) ([]string, error)
	holdAfter bool
}

var _ driven.LLMService = (*mockLLM)(nil)

func (m *mockLLM) Generate(_ context.Context, prompt string, opts driven.GenerateOptions) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	fn := m.generate
	m.mu.Unlock()
	if fn == nil {
		return "", errors.New("generate not configured")
	}
	return fn(prompt, opts)
}

func (m *mockLLM) Stream(ctx context.Context, messages []driven.ChatMessage, _ driven.ChatOptions) (driven.TextStream, error) {
	m.mu.Lock()
	m.messages = append(m.messages, messages)
	fn := m.streamFn
	hold := m.holdAfter
	m.mu.Unlock()

	parts := []string{"ok"}
	if fn != nil {
		var err error
		if parts, err = fn(messages); err != nil {
			return nil, err
		}
	}
	return &mockStream{ctx: ctx, parts: parts, hold: hold}, nil
}

func (m *mockLLM) streamCalls() [][]driven.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages
}

func (m *mockLLM) ModelName() string            { return "test-llm" }
func (m *mockLLM) Ping(_ context.Context) error { return nil }
func (m *mockLLM) Close() error                 { return nil }

// mockStream yields parts, then io.EOF. With hold set it blocks after the
// last part until its context is cancelled.
type mockStream struct {
	ctx    context.Context
	parts  []string
	hold   bool
	mu     sync.Mutex
	next   int
	closed bool
}

func (s *mockStream) Recv() (string, error) {
	s.mu.Lock()
	if s.next < len(s.parts) {
		part := s.parts[s.next]
		s.next++
		s.mu.Unlock()
		return part, nil
	}
	hold := s.hold
	s.mu.Unlock()

	if hold {
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	return "", io.EOF
}

func (s *mockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// staticPrompts implements driven.PromptStore with minimal templates.
type staticPrompts struct{}

var _ driven.PromptStore = staticPrompts{}

func (staticPrompts) Load(name string) (string, error) {
	switch name {
	case driven.PromptMetadataExtract:
		return "SCHEMA:\n%s\nTEXT:\n%s", nil
	case driven.PromptQueryRewrite:
		return "HISTORY:\n%s\nQUESTION: %s", nil
	case driven.PromptChatSystem:
		return "Answer from the passages.", nil
	case driven.PromptChatContext:
		return "PASSAGES:\n%s\nQUESTION: %s", nil
	case driven.PromptReportSection:
		return "SECTION %s\nINSTRUCTIONS %s\nPASSAGES:\n%s", nil
	default:
		return "", fmt.Errorf("prompt %q: %w", name, domain.ErrNotFound)
	}
}

func (staticPrompts) Reload() {}
