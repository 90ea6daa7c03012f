// Package openai provides an LLM service adapter using OpenAI API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/custodia-labs/folio/internal/adapters/driven/ai/providerhttp"
	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
)

// Ensure LLMService implements the interface.
var _ driven.LLMService = (*LLMService)(nil)

// Default configuration values.
const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultLLMModel   = "gpt-4o-mini"
	DefaultLLMTimeout = 120 * time.Second
)

// LLMConfig holds configuration for the OpenAI LLM service.
type LLMConfig struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL is the API base URL (default: https://api.openai.com/v1).
	// Can be changed for Azure OpenAI or compatible APIs.
	BaseURL string

	// Model is the LLM model to use (default: gpt-4o-mini).
	Model string

	// Timeout bounds a non-streaming request (default: 120s). Streams are
	// bounded by their context only.
	Timeout time.Duration
}

// LLMService provides LLM operations using OpenAI API.
type LLMService struct {
	client       *http.Client
	streamClient *http.Client
	baseURL      string
	apiKey       string
	model        string
}

type chatCompletionRequest struct {
	Model          string              `json:"model"`
	Messages       []chatCompletionMsg `json:"messages"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	Temperature    *float64            `json:"temperature,omitempty"`
	Stop           []string            `json:"stop,omitempty"`
	Stream         bool                `json:"stream,omitempty"`
	ResponseFormat *responseFormat     `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewLLMService creates a new OpenAI LLM service.
func NewLLMService(cfg LLMConfig) (*LLMService, error) {
	if cfg.APIKey == "" {
		return nil, domain.NewValidationError("openai: API key is required", map[string]string{"api_key": "is required"})
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultLLMModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultLLMTimeout
	}

	return &LLMService{
		client:       &http.Client{Timeout: cfg.Timeout},
		streamClient: &http.Client{},
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
	}, nil
}

// Generate produces text completion from a prompt.
func (s *LLMService) Generate(ctx context.Context, prompt string, opts driven.GenerateOptions) (string, error) {
	req := s.request(
		[]driven.ChatMessage{{Role: domain.RoleUser, Content: prompt}},
		opts.System, opts.MaxTokens, opts.Temperature)
	req.Stop = opts.StopWords
	if opts.JSON {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	resp, err := providerhttp.PostJSON(ctx, s.client, "openai generate", s.baseURL+"/chat/completions", s.headers(), req)
	if err != nil {
		return "", err
	}
	var chatResp chatCompletionResponse
	if err := providerhttp.DecodeJSON("openai generate", resp, &chatResp); err != nil {
		return "", err
	}
	if len(chatResp.Choices) == 0 {
		return "", providerhttp.Malformed("openai generate", errors.New("no choices returned"))
	}
	return chatResp.Choices[0].Message.Content, nil
}

// Stream starts a streamed chat completion. Fragments arrive as SSE
// "data:" events and the stream ends with "data: [DONE]".
func (s *LLMService) Stream(ctx context.Context, messages []driven.ChatMessage, opts driven.ChatOptions) (driven.TextStream, error) {
	req := s.request(messages, opts.System, opts.MaxTokens, opts.Temperature)
	req.Stream = true

	streamCtx, cancel := context.WithCancel(ctx)
	resp, err := providerhttp.PostJSON(streamCtx, s.streamClient, "openai stream", s.baseURL+"/chat/completions", s.headers(), req)
	if err != nil {
		cancel()
		return nil, err
	}
	return providerhttp.NewLineStream(streamCtx, cancel, "openai stream", resp.Body, decodeChunk), nil
}

func decodeChunk(line []byte) (string, bool, error) {
	data, ok := providerhttp.SSEData(line)
	if !ok {
		return "", false, nil
	}
	if string(data) == "[DONE]" {
		return "", true, nil
	}
	var chunk chatCompletionChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return "", false, providerhttp.Malformed("openai stream", err)
	}
	if chunk.Error != nil {
		return "", false, domain.NewProviderError("openai stream", errors.New(chunk.Error.Message), 0)
	}
	if len(chunk.Choices) == 0 {
		return "", false, nil
	}
	return chunk.Choices[0].Delta.Content, false, nil
}

func (s *LLMService) request(messages []driven.ChatMessage, system string, maxTokens int, temperature float64) chatCompletionRequest {
	chatMessages := make([]chatCompletionMsg, 0, len(messages)+1)
	if system != "" {
		chatMessages = append(chatMessages, chatCompletionMsg{Role: domain.RoleSystem, Content: system})
	}
	for _, msg := range messages {
		chatMessages = append(chatMessages, chatCompletionMsg{Role: msg.Role, Content: msg.Content})
	}
	req := chatCompletionRequest{
		Model:       s.model,
		Messages:    chatMessages,
		Temperature: &temperature,
	}
	if maxTokens > 0 {
		req.MaxTokens = maxTokens
	}
	return req
}

func (s *LLMService) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.apiKey}
}

// ModelName returns the name of the LLM model being used.
func (s *LLMService) ModelName() string {
	return s.model
}

// Ping validates the API key against the /models endpoint without running inference.
func (s *LLMService) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/models", http.NoBody)
	if err != nil {
		return fmt.Errorf("openai: create ping request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := providerhttp.Do(s.client, "openai ping", req)
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
