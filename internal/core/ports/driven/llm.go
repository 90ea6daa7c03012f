package driven

import "context"

// LLMService provides language model generation.
// Implementations: Ollama, OpenAI, Anthropic.
type LLMService interface {
	// Generate produces a completion for a single prompt.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// Stream starts a multi-turn generation and returns its fragments lazily.
	// Cancelling ctx stops the provider call; the stream then reports the error.
	Stream(ctx context.Context, messages []ChatMessage, opts ChatOptions) (TextStream, error)

	// ModelName returns the name of the model being used.
	ModelName() string

	// Ping validates the service is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// TextStream is a finite, non-restartable sequence of generated text fragments.
type TextStream interface {
	// Recv returns the next fragment. It returns io.EOF after the last one.
	Recv() (string, error)

	// Close stops the stream, draining any unread response. Safe to call twice
	// and while another goroutine is blocked in Recv.
	Close() error
}

// GenerateOptions configures single-prompt generation.
type GenerateOptions struct {
	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0.0 = deterministic).
	Temperature float64

	// StopWords halt generation when encountered.
	StopWords []string

	// System carries instructions separate from the prompt.
	System string

	// JSON asks the provider for a JSON object response where supported.
	JSON bool
}

// ChatMessage represents a message in a conversation.
type ChatMessage struct {
	// Role is the message author: "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// ChatOptions configures multi-turn generation.
type ChatOptions struct {
	MaxTokens   int
	Temperature float64

	// System is the system prompt. Providers that take system messages inline
	// receive it as the first message.
	System string
}
