// Package memory provides in-memory implementations of the storage ports.
// It backs the service tests and the `storage.driver = "memory"` mode used
// for throwaway runs; nothing survives a restart.
package memory

import (
	"sync"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
)

// Ensure Store implements the interfaces.
var (
	_ driven.NotebookStore = (*Store)(nil)
	_ driven.DocumentStore = (*Store)(nil)
	_ driven.ChunkStore    = (*Store)(nil)
	_ driven.JobStore      = (*Store)(nil)
	_ driven.ReportStore   = (*Store)(nil)
	_ driven.ChatStore     = (*Store)(nil)
)

type embeddingKey struct {
	chunkID string
	model   string
}

// Store holds every entity behind one lock so cascades stay consistent.
type Store struct {
	mu sync.RWMutex

	notebooks   map[string]domain.Notebook
	documents   map[string]domain.Document
	chunks      map[string]domain.Chunk
	embeddings  map[embeddingKey]domain.Embedding
	jobs        map[string]domain.Job
	templates   map[string]domain.ReportTemplate
	generations map[string]domain.ReportGeneration
	sessions    map[string]domain.ChatSession
	messages    map[string][]domain.ChatMessage
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		notebooks:   make(map[string]domain.Notebook),
		documents:   make(map[string]domain.Document),
		chunks:      make(map[string]domain.Chunk),
		embeddings:  make(map[embeddingKey]domain.Embedding),
		jobs:        make(map[string]domain.Job),
		templates:   make(map[string]domain.ReportTemplate),
		generations: make(map[string]domain.ReportGeneration),
		sessions:    make(map[string]domain.ChatSession),
		messages:    make(map[string][]domain.ChatMessage),
	}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
