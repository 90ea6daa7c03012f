package memory

import (
	"context"
	"sort"
	"time"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// ==================== Notebooks ====================

// SaveNotebook stores or updates a notebook.
func (s *Store) SaveNotebook(_ context.Context, nb *domain.Notebook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notebooks[nb.ID] = *nb
	return nil
}

// GetNotebook retrieves a notebook by ID.
func (s *Store) GetNotebook(_ context.Context, id string) (*domain.Notebook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nb, ok := s.notebooks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &nb, nil
}

// ListNotebooks returns all notebooks ordered by name.
func (s *Store) ListNotebooks(_ context.Context) ([]domain.Notebook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Notebook, 0, len(s.notebooks))
	for _, nb := range s.notebooks {
		result = append(result, nb)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// ==================== Documents ====================

// SaveDocument stores or updates a document.
func (s *Store) SaveDocument(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = *doc
	return nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &doc, nil
}

// FindByContentHash returns the oldest document in the notebook with the hash.
func (s *Store) FindByContentHash(_ context.Context, notebookID, hash string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *domain.Document
	for _, doc := range s.documents {
		if doc.NotebookID != notebookID || doc.ContentHash != hash {
			continue
		}
		if found == nil || doc.IngestedAt.Before(found.IngestedAt) {
			d := doc
			found = &d
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

// UpdateMetadata writes extracted metadata and warnings.
func (s *Store) UpdateMetadata(_ context.Context, id string, metadata map[string]any, warnings []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return domain.ErrNotFound
	}
	doc.Metadata = metadata
	doc.MetadataWarnings = warnings
	doc.UpdatedAt = time.Now()
	s.documents[id] = doc
	return nil
}

// ListDocuments returns a notebook's documents without raw bytes.
func (s *Store) ListDocuments(_ context.Context, notebookID string) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.Document
	for _, doc := range s.documents {
		if doc.NotebookID != notebookID {
			continue
		}
		doc.Raw = nil
		result = append(result, doc)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].IngestedAt.Equal(result[j].IngestedAt) {
			return result[i].IngestedAt.Before(result[j].IngestedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// DeleteDocument removes a document with its chunks and embeddings.
func (s *Store) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.documents, id)
	for chunkID, chunk := range s.chunks {
		if chunk.DocumentID == id {
			s.deleteChunkLocked(chunkID)
		}
	}
	return nil
}

// ==================== Chunks ====================

func (s *Store) deleteChunkLocked(id string) {
	delete(s.chunks, id)
	for key := range s.embeddings {
		if key.chunkID == id {
			delete(s.embeddings, key)
		}
	}
}

// ReplaceChunks makes chunks the document's complete chunk set.
func (s *Store) ReplaceChunks(_ context.Context, documentID string, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[documentID]; !ok {
		return domain.NewConsistencyError("replace chunks", "document "+documentID+" does not exist")
	}

	keep := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		keep[c.ID] = true
	}
	for id, c := range s.chunks {
		if c.DocumentID == documentID && !keep[id] {
			s.deleteChunkLocked(id)
		}
	}
	for _, c := range chunks {
		c.DocumentID = documentID
		s.chunks[c.ID] = c
	}
	return nil
}

// GetChunks returns a document's chunks ordered by ordinal.
func (s *Store) GetChunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.Chunk
	for _, c := range s.chunks {
		if c.DocumentID == documentID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Ordinal < result[j].Ordinal })
	return result, nil
}

// GetChunksByIDs returns the chunks that exist, in request order.
func (s *Store) GetChunksByIDs(_ context.Context, ids []string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.chunks[id]; ok {
			result = append(result, c)
		}
	}
	return result, nil
}

// EmbeddingHashes returns chunk ID -> stored embedding content hash for the model.
func (s *Store) EmbeddingHashes(_ context.Context, model string, chunkIDs []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]string)
	for _, id := range chunkIDs {
		if e, ok := s.embeddings[embeddingKey{chunkID: id, model: model}]; ok {
			result[id] = e.ContentHash
		}
	}
	return result, nil
}

// SaveEmbeddings upserts embeddings. The write is all or nothing.
func (s *Store) SaveEmbeddings(_ context.Context, embeddings []domain.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range embeddings {
		if _, ok := s.chunks[e.ChunkID]; !ok {
			return domain.NewConsistencyError("save embeddings", "chunk "+e.ChunkID+" does not exist")
		}
	}
	for _, e := range embeddings {
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		e.Vector = vec
		s.embeddings[embeddingKey{chunkID: e.ChunkID, model: e.Model}] = e
	}
	return nil
}

// SearchSimilar scores every embedded chunk in scope by cosine similarity.
func (s *Store) SearchSimilar(_ context.Context, q domain.SimilarityQuery) ([]domain.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var allowed map[string]bool
	if len(q.DocumentIDs) > 0 {
		allowed = make(map[string]bool, len(q.DocumentIDs))
		for _, id := range q.DocumentIDs {
			allowed[id] = true
		}
	}

	var hits []domain.ScoredChunk
	for key, e := range s.embeddings {
		if key.model != q.Model {
			continue
		}
		chunk, ok := s.chunks[key.chunkID]
		if !ok {
			continue
		}
		doc, ok := s.documents[chunk.DocumentID]
		if !ok || doc.NotebookID != q.NotebookID {
			continue
		}
		if allowed != nil && !allowed[doc.ID] {
			continue
		}
		if !q.Filter.Matches(doc.Metadata) {
			continue
		}
		score := domain.CosineSimilarity(q.Vector, e.Vector)
		if score < q.MinScore {
			continue
		}
		hits = append(hits, domain.ScoredChunk{Chunk: chunk, Score: score, DocumentTitle: doc.Title})
	}

	domain.SortHits(hits)
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}
