package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// ==================== Notebook Store ====================

type notebookRow struct {
	ID             string    `db:"id"`
	Name           string    `db:"name"`
	MetadataSchema []byte    `db:"metadata_schema"`
	DedupPolicy    string    `db:"dedup_policy"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r notebookRow) toDomain() (*domain.Notebook, error) {
	nb := &domain.Notebook{
		ID:          r.ID,
		Name:        r.Name,
		DedupPolicy: domain.DedupPolicy(r.DedupPolicy),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if err := decodeJSON(r.MetadataSchema, &nb.MetadataSchema); err != nil {
		return nil, fmt.Errorf("unmarshalling schema: %w", err)
	}
	return nb, nil
}

// SaveNotebook stores or updates a notebook.
func (s *Store) SaveNotebook(ctx context.Context, nb *domain.Notebook) error {
	schema, err := jsonValue(nb.MetadataSchema)
	if err != nil {
		return fmt.Errorf("marshalling schema: %w", err)
	}
	if schema == nil {
		schema = []byte(`{"fields":[]}`)
	}
	policy := nb.DedupPolicy
	if policy == "" {
		policy = domain.DedupNone
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notebooks (id, name, metadata_schema, dedup_policy, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			metadata_schema = EXCLUDED.metadata_schema,
			dedup_policy = EXCLUDED.dedup_policy,
			updated_at = EXCLUDED.updated_at
	`, nb.ID, nb.Name, schema, string(policy), nb.CreatedAt.UTC(), nb.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving notebook: %w", err)
	}
	return nil
}

// GetNotebook retrieves a notebook by ID.
func (s *Store) GetNotebook(ctx context.Context, id string) (*domain.Notebook, error) {
	var row notebookRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM notebooks WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return row.toDomain()
}

// ListNotebooks returns all notebooks ordered by name.
func (s *Store) ListNotebooks(ctx context.Context) ([]domain.Notebook, error) {
	var rows []notebookRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM notebooks ORDER BY name, id`); err != nil {
		return nil, fmt.Errorf("querying notebooks: %w", err)
	}
	notebooks := make([]domain.Notebook, 0, len(rows))
	for _, r := range rows {
		nb, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		notebooks = append(notebooks, *nb)
	}
	return notebooks, nil
}

// ==================== Document Store ====================

const documentColumns = `id, notebook_id, title, uri, mime_type, content, content_hash,
	metadata, metadata_warnings, ingested_at, updated_at`

type documentRow struct {
	ID               string    `db:"id"`
	NotebookID       string    `db:"notebook_id"`
	Title            string    `db:"title"`
	URI              string    `db:"uri"`
	MIMEType         string    `db:"mime_type"`
	Raw              []byte    `db:"raw"`
	Content          string    `db:"content"`
	ContentHash      string    `db:"content_hash"`
	Metadata         []byte    `db:"metadata"`
	MetadataWarnings []byte    `db:"metadata_warnings"`
	IngestedAt       time.Time `db:"ingested_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r documentRow) toDomain() (*domain.Document, error) {
	doc := &domain.Document{
		ID:          r.ID,
		NotebookID:  r.NotebookID,
		Title:       r.Title,
		URI:         r.URI,
		MIMEType:    r.MIMEType,
		Raw:         r.Raw,
		Content:     r.Content,
		ContentHash: r.ContentHash,
		IngestedAt:  r.IngestedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if err := decodeJSON(r.Metadata, &doc.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshalling metadata: %w", err)
	}
	if err := decodeJSON(r.MetadataWarnings, &doc.MetadataWarnings); err != nil {
		return nil, fmt.Errorf("unmarshalling warnings: %w", err)
	}
	return doc, nil
}

// SaveDocument stores or updates a document.
func (s *Store) SaveDocument(ctx context.Context, doc *domain.Document) error {
	metadata, err := jsonValue(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}
	warnings, err := jsonValue(doc.MetadataWarnings)
	if err != nil {
		return fmt.Errorf("marshalling warnings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, notebook_id, title, uri, mime_type, raw, content, content_hash,
			metadata, metadata_warnings, ingested_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			uri = EXCLUDED.uri,
			mime_type = EXCLUDED.mime_type,
			raw = COALESCE(EXCLUDED.raw, documents.raw),
			content = EXCLUDED.content,
			content_hash = EXCLUDED.content_hash,
			metadata = EXCLUDED.metadata,
			metadata_warnings = EXCLUDED.metadata_warnings,
			updated_at = EXCLUDED.updated_at
	`, doc.ID, doc.NotebookID, doc.Title, doc.URI, doc.MIMEType, doc.Raw, doc.Content, doc.ContentHash,
		metadata, warnings, doc.IngestedAt.UTC(), doc.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID, including raw bytes.
func (s *Store) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	var row documentRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+documentColumns+`, raw FROM documents WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return row.toDomain()
}

// FindByContentHash returns the oldest document in the notebook with the hash.
func (s *Store) FindByContentHash(ctx context.Context, notebookID, hash string) (*domain.Document, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+documentColumns+` FROM documents
		WHERE notebook_id = $1 AND content_hash = $2
		ORDER BY ingested_at, id LIMIT 1
	`, notebookID, hash)
	if err != nil {
		return nil, notFound(err)
	}
	return row.toDomain()
}

// UpdateMetadata writes extracted metadata and warnings.
func (s *Store) UpdateMetadata(ctx context.Context, id string, metadata map[string]any, warnings []string) error {
	metadataJSON, err := jsonValue(metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}
	warningsJSON, err := jsonValue(warnings)
	if err != nil {
		return fmt.Errorf("marshalling warnings: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET metadata = $1, metadata_warnings = $2, updated_at = now() WHERE id = $3
	`, metadataJSON, warningsJSON, id)
	if err != nil {
		return fmt.Errorf("updating metadata: %w", err)
	}
	return requireAffected(res)
}

// ListDocuments returns a notebook's documents without raw bytes.
func (s *Store) ListDocuments(ctx context.Context, notebookID string) ([]domain.Document, error) {
	var rows []documentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+documentColumns+` FROM documents WHERE notebook_id = $1 ORDER BY ingested_at, id
	`, notebookID)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	docs := make([]domain.Document, 0, len(rows))
	for _, r := range rows {
		doc, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

// DeleteDocument removes a document. Chunks and embeddings cascade.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return requireAffected(res)
}

// ==================== Chunk Store ====================

const chunkColumns = `c.id, c.document_id, c.ordinal, c.text, c.start_offset, c.end_offset, c.section, c.content_hash`

type chunkRow struct {
	ID          string `db:"id"`
	DocumentID  string `db:"document_id"`
	Ordinal     int    `db:"ordinal"`
	Text        string `db:"text"`
	StartOffset int    `db:"start_offset"`
	EndOffset   int    `db:"end_offset"`
	Section     string `db:"section"`
	ContentHash string `db:"content_hash"`
}

func (r chunkRow) toDomain() domain.Chunk {
	return domain.Chunk{
		ID:          r.ID,
		DocumentID:  r.DocumentID,
		Ordinal:     r.Ordinal,
		Text:        r.Text,
		StartOffset: r.StartOffset,
		EndOffset:   r.EndOffset,
		Section:     r.Section,
		ContentHash: r.ContentHash,
	}
}

// ReplaceChunks makes chunks the document's complete chunk set in one transaction.
func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Lock the document row so concurrent replacements serialise.
	var locked string
	if err := tx.GetContext(ctx, &locked, `SELECT id FROM documents WHERE id = $1 FOR UPDATE`, documentID); err != nil {
		if notFound(err) == domain.ErrNotFound {
			return domain.NewConsistencyError("replace chunks", "document "+documentID+" does not exist")
		}
		return fmt.Errorf("locking document: %w", err)
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chunks WHERE document_id = $1 AND NOT (id = ANY($2))
	`, documentID, pq.Array(ids)); err != nil {
		return fmt.Errorf("deleting stale chunks: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO chunks (id, document_id, ordinal, text, start_offset, end_offset, section, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, documentID, c.Ordinal, c.Text,
			c.StartOffset, c.EndOffset, c.Section, c.ContentHash); err != nil {
			return fmt.Errorf("saving chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetChunks returns a document's chunks ordered by ordinal.
func (s *Store) GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	var rows []chunkRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+chunkColumns+` FROM chunks c WHERE c.document_id = $1 ORDER BY c.ordinal
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	chunks := make([]domain.Chunk, len(rows))
	for i, r := range rows {
		chunks[i] = r.toDomain()
	}
	return chunks, nil
}

// GetChunksByIDs returns the chunks that exist, in request order.
func (s *Store) GetChunksByIDs(ctx context.Context, ids []string) ([]domain.Chunk, error) {
	var rows []chunkRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+chunkColumns+` FROM chunks c WHERE c.id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	byID := make(map[string]domain.Chunk, len(rows))
	for _, r := range rows {
		byID[r.ID] = r.toDomain()
	}
	chunks := make([]domain.Chunk, 0, len(rows))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

// EmbeddingHashes returns chunk ID -> stored embedding content hash for the model.
func (s *Store) EmbeddingHashes(ctx context.Context, model string, chunkIDs []string) (map[string]string, error) {
	var rows []struct {
		ChunkID     string `db:"chunk_id"`
		ContentHash string `db:"content_hash"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT chunk_id, content_hash FROM embeddings WHERE model = $1 AND chunk_id = ANY($2)
	`, model, pq.Array(chunkIDs))
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	result := make(map[string]string, len(rows))
	for _, r := range rows {
		result[r.ChunkID] = r.ContentHash
	}
	return result, nil
}

// SaveEmbeddings upserts embeddings. The write is all or nothing.
func (s *Store) SaveEmbeddings(ctx context.Context, embeddings []domain.Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	ids := make([]string, len(embeddings))
	for i, e := range embeddings {
		ids[i] = e.ChunkID
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var present []string
	if err := tx.SelectContext(ctx, &present, `SELECT id FROM chunks WHERE id = ANY($1) FOR SHARE`, pq.Array(ids)); err != nil {
		return fmt.Errorf("checking chunks: %w", err)
	}
	have := make(map[string]bool, len(present))
	for _, id := range present {
		have[id] = true
	}
	for _, id := range ids {
		if !have[id] {
			return domain.NewConsistencyError("save embeddings", "chunk "+id+" does not exist")
		}
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO embeddings (chunk_id, model, vector, content_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chunk_id, model) DO UPDATE SET
			vector = EXCLUDED.vector,
			content_hash = EXCLUDED.content_hash,
			created_at = EXCLUDED.created_at
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range embeddings {
		created := e.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, e.ChunkID, e.Model, pgvector.NewVector(e.Vector),
			e.ContentHash, created.UTC()); err != nil {
			return fmt.Errorf("saving embedding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type scoredRow struct {
	chunkRow
	Title    string  `db:"title"`
	Metadata []byte  `db:"metadata"`
	Score    float64 `db:"score"`
}

// SearchSimilar ranks chunks by pgvector cosine distance. A metadata filter is
// applied after the query, so the SQL limit is lifted when one is set.
func (s *Store) SearchSimilar(ctx context.Context, q domain.SimilarityQuery) ([]domain.ScoredChunk, error) {
	var docIDs any
	if len(q.DocumentIDs) > 0 {
		docIDs = pq.Array(q.DocumentIDs)
	}
	var limit any
	if q.Limit > 0 && q.Filter.IsEmpty() {
		limit = q.Limit
	}

	var rows []scoredRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+chunkColumns+`, d.title, d.metadata, 1 - (e.vector <=> $1) AS score
		FROM embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE e.model = $2
			AND d.notebook_id = $3
			AND ($4::text[] IS NULL OR d.id = ANY($4::text[]))
			AND 1 - (e.vector <=> $1) >= $5
		ORDER BY e.vector <=> $1, c.ordinal, c.document_id, c.id
		LIMIT $6
	`, pgvector.NewVector(q.Vector), q.Model, q.NotebookID, docIDs, q.MinScore, limit)
	if err != nil {
		return nil, fmt.Errorf("searching embeddings: %w", err)
	}

	hits := make([]domain.ScoredChunk, 0, len(rows))
	for _, r := range rows {
		if !q.Filter.IsEmpty() {
			var metadata map[string]any
			if err := decodeJSON(r.Metadata, &metadata); err != nil {
				return nil, fmt.Errorf("unmarshalling metadata: %w", err)
			}
			if !q.Filter.Matches(metadata) {
				continue
			}
		}
		hits = append(hits, domain.ScoredChunk{Chunk: r.toDomain(), Score: r.Score, DocumentTitle: r.Title})
	}

	domain.SortHits(hits)
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}
