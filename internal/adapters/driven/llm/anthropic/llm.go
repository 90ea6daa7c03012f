// Package anthropic provides an LLM service adapter using Anthropic API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/custodia-labs/folio/internal/adapters/driven/ai/providerhttp"
	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
)

// Ensure LLMService implements the interface.
var _ driven.LLMService = (*LLMService)(nil)

// Default configuration values.
const (
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultModel     = "claude-3-5-sonnet-latest"
	DefaultTimeout   = 120 * time.Second
	DefaultMaxTokens = 1024

	// anthropicVersion is the required API version header.
	anthropicVersion = "2023-06-01"
)

// Config holds configuration for the Anthropic LLM service.
type Config struct {
	// APIKey is the Anthropic API key (required).
	APIKey string

	// BaseURL is the API base URL (default: https://api.anthropic.com).
	BaseURL string

	// Model is the LLM model to use (default: claude-3-5-sonnet-latest).
	Model string

	// Timeout bounds a non-streaming request (default: 120s).
	Timeout time.Duration
}

// LLMService provides LLM operations using Anthropic API.
type LLMService struct {
	client       *http.Client
	streamClient *http.Client
	baseURL      string
	apiKey       string
	model        string
}

type messagesRequest struct {
	Model       string            `json:"model"`
	Messages    []messagesMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens"`
	System      string            `json:"system,omitempty"`
	Temperature float64           `json:"temperature"`
	StopSeqs    []string          `json:"stop_sequences,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
}

type messagesMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// streamEvent is the data payload of one SSE event.
type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewLLMService creates a new Anthropic LLM service.
func NewLLMService(cfg Config) (*LLMService, error) {
	if cfg.APIKey == "" {
		return nil, domain.NewValidationError("anthropic: API key is required", map[string]string{"api_key": "is required"})
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &LLMService{
		client:       &http.Client{Timeout: cfg.Timeout},
		streamClient: &http.Client{},
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
	}, nil
}

// Generate produces text completion from a prompt. Anthropic has no JSON
// mode, so opts.JSON only adds an instruction to the system prompt.
func (s *LLMService) Generate(ctx context.Context, prompt string, opts driven.GenerateOptions) (string, error) {
	system := opts.System
	if opts.JSON {
		system = strings.TrimSpace(system + "\nRespond with a single JSON object and nothing else.")
	}
	req := s.request(system, []driven.ChatMessage{{Role: domain.RoleUser, Content: prompt}}, opts.MaxTokens, opts.Temperature)
	req.StopSeqs = opts.StopWords

	resp, err := providerhttp.PostJSON(ctx, s.client, "anthropic generate", s.baseURL+"/v1/messages", s.headers(), req)
	if err != nil {
		return "", err
	}
	var msgResp messagesResponse
	if err := providerhttp.DecodeJSON("anthropic generate", resp, &msgResp); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 && len(msgResp.Content) == 0 {
		return "", providerhttp.Malformed("anthropic generate", errors.New("no content returned"))
	}
	return b.String(), nil
}

// Stream starts a streamed /v1/messages call. Text arrives in
// content_block_delta events and the stream ends with message_stop.
func (s *LLMService) Stream(ctx context.Context, messages []driven.ChatMessage, opts driven.ChatOptions) (driven.TextStream, error) {
	// System messages travel in the top-level field, not the message list.
	system := opts.System
	chatMessages := make([]driven.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == domain.RoleSystem {
			system = strings.TrimSpace(system + "\n" + msg.Content)
			continue
		}
		chatMessages = append(chatMessages, msg)
	}
	req := s.request(system, chatMessages, opts.MaxTokens, opts.Temperature)
	req.Stream = true

	streamCtx, cancel := context.WithCancel(ctx)
	resp, err := providerhttp.PostJSON(streamCtx, s.streamClient, "anthropic stream", s.baseURL+"/v1/messages", s.headers(), req)
	if err != nil {
		cancel()
		return nil, err
	}
	return providerhttp.NewLineStream(streamCtx, cancel, "anthropic stream", resp.Body, decodeEvent), nil
}

func decodeEvent(line []byte) (string, bool, error) {
	data, ok := providerhttp.SSEData(line)
	if !ok {
		return "", false, nil
	}
	var event streamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return "", false, providerhttp.Malformed("anthropic stream", err)
	}
	switch event.Type {
	case "content_block_delta":
		if event.Delta.Type == "text_delta" {
			return event.Delta.Text, false, nil
		}
	case "message_stop":
		return "", true, nil
	case "error":
		msg := "stream error"
		if event.Error != nil {
			msg = event.Error.Type + ": " + event.Error.Message
		}
		return "", false, domain.NewProviderError("anthropic stream", errors.New(msg), 0)
	}
	return "", false, nil
}

func (s *LLMService) request(system string, messages []driven.ChatMessage, maxTokens int, temperature float64) messagesRequest {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	msgs := make([]messagesMessage, len(messages))
	for i, msg := range messages {
		msgs[i] = messagesMessage{Role: msg.Role, Content: msg.Content}
	}
	return messagesRequest{
		Model:       s.model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		System:      system,
		Temperature: temperature,
	}
}

func (s *LLMService) headers() map[string]string {
	return map[string]string{
		"x-api-key":         s.apiKey,
		"anthropic-version": anthropicVersion,
	}
}

// ModelName returns the name of the LLM model being used.
func (s *LLMService) ModelName() string {
	return s.model
}

// Ping validates the API key against /v1/models without running inference.
func (s *LLMService) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/models", http.NoBody)
	if err != nil {
		return fmt.Errorf("anthropic: create ping request: %w", err)
	}
	for k, v := range s.headers() {
		req.Header.Set(k, v)
	}
	resp, err := providerhttp.Do(s.client, "anthropic ping", req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Close releases resources.
func (s *LLMService) Close() error {
	s.client.CloseIdleConnections()
	s.streamClient.CloseIdleConnections()
	return nil
}
