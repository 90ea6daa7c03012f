package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// ==================== Notebook Store ====================

// SaveNotebook stores or updates a notebook.
func (s *Store) SaveNotebook(ctx context.Context, nb *domain.Notebook) error {
	schemaJSON, err := toJSON(nb.MetadataSchema)
	if err != nil {
		return fmt.Errorf("marshalling schema: %w", err)
	}
	if schemaJSON == nil {
		schemaJSON = `{"fields":[]}`
	}
	policy := nb.DedupPolicy
	if policy == "" {
		policy = domain.DedupNone
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notebooks (id, name, metadata_schema, dedup_policy, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			metadata_schema = excluded.metadata_schema,
			dedup_policy = excluded.dedup_policy,
			updated_at = excluded.updated_at
	`, nb.ID, nb.Name, schemaJSON, string(policy), nb.CreatedAt.UnixMilli(), nb.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving notebook: %w", err)
	}
	return nil
}

// GetNotebook retrieves a notebook by ID.
func (s *Store) GetNotebook(ctx context.Context, id string) (*domain.Notebook, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, metadata_schema, dedup_policy, created_at, updated_at
		FROM notebooks WHERE id = ?
	`, id)
	return scanNotebook(row)
}

// ListNotebooks returns all notebooks ordered by name.
func (s *Store) ListNotebooks(ctx context.Context) ([]domain.Notebook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, metadata_schema, dedup_policy, created_at, updated_at
		FROM notebooks ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying notebooks: %w", err)
	}
	defer rows.Close()

	var notebooks []domain.Notebook //nolint:prealloc // size unknown from query
	for rows.Next() {
		nb, err := scanNotebook(rows)
		if err != nil {
			return nil, err
		}
		notebooks = append(notebooks, *nb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notebooks: %w", err)
	}
	return notebooks, nil
}

func scanNotebook(row scanner) (*domain.Notebook, error) {
	var nb domain.Notebook
	var schemaJSON sql.NullString
	var policy string
	var createdAt, updatedAt int64

	if err := row.Scan(&nb.ID, &nb.Name, &schemaJSON, &policy, &createdAt, &updatedAt); err != nil {
		if err = notFound(err); err == domain.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scanning notebook: %w", err)
	}
	if err := fromJSON(schemaJSON, &nb.MetadataSchema); err != nil {
		return nil, fmt.Errorf("unmarshalling schema: %w", err)
	}
	nb.DedupPolicy = domain.DedupPolicy(policy)
	nb.CreatedAt = millis(createdAt)
	nb.UpdatedAt = millis(updatedAt)
	return &nb, nil
}

// ==================== Document Store ====================

const documentColumns = `id, notebook_id, title, uri, mime_type, content, content_hash,
	metadata, metadata_warnings, ingested_at, updated_at`

// SaveDocument stores or updates a document.
func (s *Store) SaveDocument(ctx context.Context, doc *domain.Document) error {
	metadataJSON, err := toJSON(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}
	warningsJSON, err := toJSON(doc.MetadataWarnings)
	if err != nil {
		return fmt.Errorf("marshalling warnings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, notebook_id, title, uri, mime_type, raw, content, content_hash,
			metadata, metadata_warnings, ingested_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			uri = excluded.uri,
			mime_type = excluded.mime_type,
			raw = COALESCE(excluded.raw, documents.raw),
			content = excluded.content,
			content_hash = excluded.content_hash,
			metadata = excluded.metadata,
			metadata_warnings = excluded.metadata_warnings,
			updated_at = excluded.updated_at
	`, doc.ID, doc.NotebookID, doc.Title, doc.URI, doc.MIMEType, doc.Raw, doc.Content, doc.ContentHash,
		metadataJSON, warningsJSON, doc.IngestedAt.UnixMilli(), doc.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID, including raw bytes.
func (s *Store) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+`, raw FROM documents WHERE id = ?`, id)
	return scanDocument(row, true)
}

// FindByContentHash returns the oldest document in the notebook with the hash.
func (s *Store) FindByContentHash(ctx context.Context, notebookID, hash string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE notebook_id = ? AND content_hash = ?
		ORDER BY ingested_at, id LIMIT 1
	`, notebookID, hash)
	return scanDocument(row, false)
}

// UpdateMetadata writes extracted metadata and warnings.
func (s *Store) UpdateMetadata(ctx context.Context, id string, metadata map[string]any, warnings []string) error {
	metadataJSON, err := toJSON(metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}
	warningsJSON, err := toJSON(warnings)
	if err != nil {
		return fmt.Errorf("marshalling warnings: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET metadata = ?, metadata_warnings = ?, updated_at = ? WHERE id = ?
	`, metadataJSON, warningsJSON, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("updating metadata: %w", err)
	}
	return requireAffected(res)
}

// ListDocuments returns a notebook's documents without raw bytes.
func (s *Store) ListDocuments(ctx context.Context, notebookID string) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE notebook_id = ? ORDER BY ingested_at, id
	`, notebookID)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document //nolint:prealloc // size unknown from query
	for rows.Next() {
		doc, err := scanDocument(rows, false)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes a document. Chunks and embeddings cascade.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return requireAffected(res)
}

func scanDocument(row scanner, withRaw bool) (*domain.Document, error) {
	var doc domain.Document
	var metadataJSON, warningsJSON sql.NullString
	var ingestedAt, updatedAt int64

	dest := []any{&doc.ID, &doc.NotebookID, &doc.Title, &doc.URI, &doc.MIMEType, &doc.Content,
		&doc.ContentHash, &metadataJSON, &warningsJSON, &ingestedAt, &updatedAt}
	if withRaw {
		dest = append(dest, &doc.Raw)
	}
	if err := row.Scan(dest...); err != nil {
		if err = notFound(err); err == domain.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	if err := fromJSON(metadataJSON, &doc.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshalling metadata: %w", err)
	}
	if err := fromJSON(warningsJSON, &doc.MetadataWarnings); err != nil {
		return nil, fmt.Errorf("unmarshalling warnings: %w", err)
	}
	doc.IngestedAt = millis(ingestedAt)
	doc.UpdatedAt = millis(updatedAt)
	return &doc, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ==================== Chunk Store ====================

const chunkColumns = `c.id, c.document_id, c.ordinal, c.text, c.start_offset, c.end_offset, c.section, c.content_hash`

// ReplaceChunks makes chunks the document's complete chunk set in one transaction.
func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE id = ?", documentID).Scan(&exists); err != nil {
		return fmt.Errorf("checking document: %w", err)
	}
	if exists == 0 {
		return domain.NewConsistencyError("replace chunks", "document "+documentID+" does not exist")
	}

	keep := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		keep[c.ID] = true
	}

	rows, err := tx.QueryContext(ctx, "SELECT id FROM chunks WHERE document_id = ?", documentID)
	if err != nil {
		return fmt.Errorf("querying chunks: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scanning chunk id: %w", err)
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating chunks: %w", err)
	}

	err = inBatches(stale, func(batch []string) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE id IN ("+placeholders(len(batch))+")", stringArgs(batch)...)
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting stale chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, ordinal, text, start_offset, end_offset, section, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chunkColumns+` FROM chunks c
		WHERE c.document_id = ? ORDER BY c.ordinal
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// GetChunksByIDs returns the chunks that exist, in request order.
func (s *Store) GetChunksByIDs(ctx context.Context, ids []string) ([]domain.Chunk, error) {
	byID := make(map[string]domain.Chunk, len(ids))
	err := inBatches(ids, func(batch []string) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+chunkColumns+` FROM chunks c
			WHERE c.id IN (`+placeholders(len(batch))+`)
		`, stringArgs(batch)...)
		if err != nil {
			return fmt.Errorf("querying chunks: %w", err)
		}
		defer rows.Close()
		chunks, err := scanChunks(rows)
		if err != nil {
			return err
		}
		for _, c := range chunks {
			byID[c.ID] = c
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := make([]domain.Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			result = append(result, c)
		}
	}
	return result, nil
}

func scanChunks(rows *sql.Rows) ([]domain.Chunk, error) {
	var chunks []domain.Chunk //nolint:prealloc // size unknown from query
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text,
			&c.StartOffset, &c.EndOffset, &c.Section, &c.ContentHash); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

// EmbeddingHashes returns chunk ID -> stored embedding content hash for the model.
func (s *Store) EmbeddingHashes(ctx context.Context, model string, chunkIDs []string) (map[string]string, error) {
	result := make(map[string]string, len(chunkIDs))
	err := inBatches(chunkIDs, func(batch []string) error {
		args := append([]any{model}, stringArgs(batch)...)
		rows, err := s.db.QueryContext(ctx, `
			SELECT chunk_id, content_hash FROM embeddings
			WHERE model = ? AND chunk_id IN (`+placeholders(len(batch))+`)
		`, args...)
		if err != nil {
			return fmt.Errorf("querying embeddings: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id, hash string
			if err := rows.Scan(&id, &hash); err != nil {
				return fmt.Errorf("scanning embedding hash: %w", err)
			}
			result[id] = hash
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SaveEmbeddings upserts embeddings. The write is all or nothing.
func (s *Store) SaveEmbeddings(ctx context.Context, embeddings []domain.Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ids := make([]string, len(embeddings))
	for i, e := range embeddings {
		ids[i] = e.ChunkID
	}
	present := make(map[string]bool, len(ids))
	err = inBatches(ids, func(batch []string) error {
		rows, err := tx.QueryContext(ctx, "SELECT id FROM chunks WHERE id IN ("+placeholders(len(batch))+")", stringArgs(batch)...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			present[id] = true
		}
		return rows.Err()
	})
	if err != nil {
		return fmt.Errorf("checking chunks: %w", err)
	}
	for _, id := range ids {
		if !present[id] {
			return domain.NewConsistencyError("save embeddings", "chunk "+id+" does not exist")
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (chunk_id, model, dimensions, vector, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id, model) DO UPDATE SET
			dimensions = excluded.dimensions,
			vector = excluded.vector,
			content_hash = excluded.content_hash,
			created_at = excluded.created_at
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
		if _, err := stmt.ExecContext(ctx, e.ChunkID, e.Model, len(e.Vector),
			float32SliceToBytes(e.Vector), e.ContentHash, created.UnixMilli()); err != nil {
			return fmt.Errorf("saving embedding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// SearchSimilar scores every embedded chunk in scope by cosine similarity.
// Scoping happens in SQL; scoring and metadata filtering happen here.
func (s *Store) SearchSimilar(ctx context.Context, q domain.SimilarityQuery) ([]domain.ScoredChunk, error) {
	query := `
		SELECT ` + chunkColumns + `, e.vector, d.title, d.metadata
		FROM embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE e.model = ? AND d.notebook_id = ?`
	args := []any{q.Model, q.NotebookID}
	if len(q.DocumentIDs) > 0 {
		query += " AND d.id IN (" + placeholders(len(q.DocumentIDs)) + ")"
		args = append(args, stringArgs(q.DocumentIDs)...)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	var hits []domain.ScoredChunk
	for rows.Next() {
		var c domain.Chunk
		var vector []byte
		var title string
		var metadataJSON sql.NullString
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text, &c.StartOffset, &c.EndOffset,
			&c.Section, &c.ContentHash, &vector, &title, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}

		if !q.Filter.IsEmpty() {
			var metadata map[string]any
			if err := fromJSON(metadataJSON, &metadata); err != nil {
				return nil, fmt.Errorf("unmarshalling metadata: %w", err)
			}
			if !q.Filter.Matches(metadata) {
				continue
			}
		}

		score := domain.CosineSimilarity(q.Vector, bytesToFloat32Slice(vector))
		if score < q.MinScore {
			continue
		}
		hits = append(hits, domain.ScoredChunk{Chunk: c, Score: score, DocumentTitle: strings.TrimSpace(title)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating candidates: %w", err)
	}

	domain.SortHits(hits)
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}
