package driven

import "context"

// EmbeddingService generates vector embeddings for text.
// Implementations: Ollama, OpenAI.
type EmbeddingService interface {
	// Embed generates a vector embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one request.
	// The result is index-aligned with texts. When only some items fail the
	// implementation returns the partial result (nil at failed indexes) together
	// with a *domain.BatchError naming the failed indexes.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the size of embedding vectors.
	Dimensions() int

	// ModelName returns the model identifier stored alongside vectors.
	ModelName() string

	// MaxBatchSize returns the largest batch the provider accepts.
	MaxBatchSize() int

	// Ping validates the service is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
