// Package ollama provides an LLM service adapter using Ollama.
package ollama

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
	DefaultBaseURL    = "http://localhost:11434"
	DefaultLLMModel   = "llama3.2"
	DefaultLLMTimeout = 120 * time.Second
)

// LLMConfig holds configuration for the Ollama LLM service.
type LLMConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the LLM model to use (default: llama3.2).
	Model string

	// Timeout bounds a non-streaming request (default: 120s).
	Timeout time.Duration
}

// LLMService provides LLM operations using Ollama.
type LLMService struct {
	client       *http.Client
	streamClient *http.Client
	baseURL      string
	model        string
}

type generateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	System  string   `json:"system,omitempty"`
	Stream  bool     `json:"stream"`
	Format  string   `json:"format,omitempty"`
	Options *options `json:"options,omitempty"`
}

type options struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *options      `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatChunk is one NDJSON line of a streamed /api/chat response.
type chatChunk struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

// NewLLMService creates a new Ollama LLM service.
func NewLLMService(cfg LLMConfig) *LLMService {
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
		model:        cfg.Model,
	}
}

// Generate produces text completion from a prompt.
func (s *LLMService) Generate(ctx context.Context, prompt string, opts driven.GenerateOptions) (string, error) {
	reqBody := generateRequest{
		Model:  s.model,
		Prompt: prompt,
		System: opts.System,
		Options: &options{
			NumPredict:  opts.MaxTokens,
			Temperature: opts.Temperature,
			Stop:        opts.StopWords,
		},
	}
	if opts.JSON {
		reqBody.Format = "json"
	}

	resp, err := providerhttp.PostJSON(ctx, s.client, "ollama generate", s.baseURL+"/api/generate", nil, reqBody)
	if err != nil {
		return "", err
	}
	var genResp generateResponse
	if err := providerhttp.DecodeJSON("ollama generate", resp, &genResp); err != nil {
		return "", err
	}
	return genResp.Response, nil
}

// Stream starts a streamed /api/chat call. Ollama writes one JSON object per
// line and marks the last with "done": true.
func (s *LLMService) Stream(ctx context.Context, messages []driven.ChatMessage, opts driven.ChatOptions) (driven.TextStream, error) {
	chatMessages := make([]chatMessage, 0, len(messages)+1)
	if opts.System != "" {
		chatMessages = append(chatMessages, chatMessage{Role: domain.RoleSystem, Content: opts.System})
	}
	for _, msg := range messages {
		chatMessages = append(chatMessages, chatMessage{Role: msg.Role, Content: msg.Content})
	}
	reqBody := chatRequest{
		Model:    s.model,
		Messages: chatMessages,
		Stream:   true,
		Options:  &options{NumPredict: opts.MaxTokens, Temperature: opts.Temperature},
	}

	streamCtx, cancel := context.WithCancel(ctx)
	resp, err := providerhttp.PostJSON(streamCtx, s.streamClient, "ollama stream", s.baseURL+"/api/chat", nil, reqBody)
	if err != nil {
		cancel()
		return nil, err
	}
	return providerhttp.NewLineStream(streamCtx, cancel, "ollama stream", resp.Body, decodeChunk), nil
}

func decodeChunk(line []byte) (string, bool, error) {
	var chunk chatChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		return "", false, providerhttp.Malformed("ollama stream", err)
	}
	if chunk.Error != "" {
		return "", false, domain.NewProviderError("ollama stream", errors.New(chunk.Error), 0)
	}
	return chunk.Message.Content, chunk.Done, nil
}

// ModelName returns the name of the LLM model being used.
func (s *LLMService) ModelName() string {
	return s.model
}

// Ping checks the server is reachable via /api/tags without loading a model.
func (s *LLMService) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return fmt.Errorf("ollama: create ping request: %w", err)
	}
	resp, err := providerhttp.Do(s.client, "ollama ping", req)
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
