package domain

// AIProvider identifies an embedding or generation backend.
type AIProvider string

// Available AI providers.
const (
	// AIProviderOllama is a local Ollama instance.
	AIProviderOllama AIProvider = "ollama"

	// AIProviderOpenAI is the OpenAI API or a compatible endpoint.
	AIProviderOpenAI AIProvider = "openai"

	// AIProviderAnthropic is the Anthropic API. Generation only.
	AIProviderAnthropic AIProvider = "anthropic"
)

// IsValid returns true if the AI provider is recognised.
func (p AIProvider) IsValid() bool {
	switch p {
	case AIProviderOllama, AIProviderOpenAI, AIProviderAnthropic:
		return true
	default:
		return false
	}
}

// RequiresAPIKey returns true if this provider needs an API key.
func (p AIProvider) RequiresAPIKey() bool {
	return p == AIProviderOpenAI || p == AIProviderAnthropic
}

// SupportsEmbeddings returns true if the provider can produce vectors.
func (p AIProvider) SupportsEmbeddings() bool {
	return p == AIProviderOllama || p == AIProviderOpenAI
}

// ProviderSettings configures one embedding or generation backend.
type ProviderSettings struct {
	Provider AIProvider
	Model    string
	BaseURL  string
	APIKey   string

	// BatchSize caps items per embedding request. Zero uses the provider default.
	BatchSize int
}

// IsConfigured returns true if the provider is set up.
func (s ProviderSettings) IsConfigured() bool {
	if !s.Provider.IsValid() {
		return false
	}
	if s.Provider.RequiresAPIKey() && s.APIKey == "" {
		return false
	}
	return true
}

// ThrottleSettings bounds request rate and concurrency against one provider.
type ThrottleSettings struct {
	RequestsPerSecond float64
	Burst             int
	MaxConcurrency    int
}

// DefaultThrottleSettings returns conservative per-provider limits.
func DefaultThrottleSettings() map[AIProvider]ThrottleSettings {
	return map[AIProvider]ThrottleSettings{
		AIProviderOllama:    {RequestsPerSecond: 20, Burst: 20, MaxConcurrency: 2},
		AIProviderOpenAI:    {RequestsPerSecond: 8, Burst: 10, MaxConcurrency: 8},
		AIProviderAnthropic: {RequestsPerSecond: 4, Burst: 5, MaxConcurrency: 4},
	}
}

// DefaultEmbeddingModels returns default models for each embedding provider.
func DefaultEmbeddingModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama: "nomic-embed-text",
		AIProviderOpenAI: "text-embedding-3-small",
	}
}

// DefaultLLMModels returns default models for each generation provider.
func DefaultLLMModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama:    "llama3.2",
		AIProviderOpenAI:    "gpt-4o-mini",
		AIProviderAnthropic: "claude-3-5-sonnet-latest",
	}
}

// EmbeddingDimensions returns the vector dimensions for known models.
func EmbeddingDimensions() map[string]int {
	return map[string]int{
		"nomic-embed-text":       768,
		"mxbai-embed-large":      1024,
		"all-minilm":             384,
		"text-embedding-3-small": 1536,
		"text-embedding-3-large": 3072,
		"text-embedding-ada-002": 1536,
	}
}
