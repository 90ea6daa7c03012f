package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
	"github.com/custodia-labs/folio/internal/logger"
)

// Embedding retry policy per sub-batch.
const (
	DefaultEmbedBatchSize = 100
	embedMaxAttempts      = 3
	embedBackoffBase      = 500 * time.Millisecond
)

// EmbedPayload is the payload of an embed job.
type EmbedPayload struct {
	DocumentID string `json:"document_id"`

	// ChunkIDs limits the job to these chunks. Empty means every chunk of the document.
	ChunkIDs []string `json:"chunk_ids,omitempty"`
}

// FailedChunk is one chunk the generator could not embed.
type FailedChunk struct {
	ChunkID string           `json:"chunk_id"`
	Error   *domain.JobError `json:"error"`
}

// EmbedReport summarises an embedding run.
// Succeeded includes Skipped; Succeeded and Failed partition the distinct input.
type EmbedReport struct {
	Model     string        `json:"model"`
	Succeeded []string      `json:"succeeded"`
	Skipped   []string      `json:"skipped"`
	Failed    []FailedChunk `json:"failed,omitempty"`
}

// AsError returns a *domain.PartialFailure when any chunk failed.
func (r *EmbedReport) AsError() error {
	if len(r.Failed) == 0 {
		return nil
	}
	pf := &domain.PartialFailure{
		Op:        "embed chunks",
		Succeeded: r.Succeeded,
		Failed:    make(map[string]string, len(r.Failed)),
	}
	for _, f := range r.Failed {
		pf.Failed[f.ChunkID] = f.Error.Message
		if f.Error.Kind.Retryable() {
			pf.Retryable = true
		}
	}
	return pf
}

// EmbeddingGenerator computes and stores chunk embeddings for one model.
type EmbeddingGenerator struct {
	embedder  driven.EmbeddingService
	chunks    driven.ChunkStore
	notifier  *Notifier
	batchSize int
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewEmbeddingGenerator creates a generator. batchSize zero uses the
// provider maximum, capped at DefaultEmbedBatchSize.
func NewEmbeddingGenerator(embedder driven.EmbeddingService, chunks driven.ChunkStore, notifier *Notifier, batchSize int) *EmbeddingGenerator {
	if embedder != nil {
		limit := embedder.MaxBatchSize()
		switch {
		case limit <= 0:
		case batchSize <= 0:
			batchSize = min(limit, DefaultEmbedBatchSize)
		case batchSize > limit:
			batchSize = limit
		}
	}
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}
	return &EmbeddingGenerator{
		embedder:  embedder,
		chunks:    chunks,
		notifier:  notifier,
		batchSize: batchSize,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Handle runs an embed job.
func (g *EmbeddingGenerator) Handle(ctx context.Context, job *domain.Job) (any, error) {
	var p EmbedPayload
	if err := job.DecodePayload(&p); err != nil {
		return nil, err
	}
	if p.DocumentID == "" && len(p.ChunkIDs) == 0 {
		return nil, domain.NewValidationError("embed payload needs document_id or chunk_ids", nil)
	}

	ids := p.ChunkIDs
	if len(ids) == 0 {
		chunks, err := g.chunks.GetChunks(ctx, p.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("load chunks: %w", err)
		}
		if len(chunks) == 0 {
			return nil, domain.NewConsistencyError("embed document", "document "+p.DocumentID+" has no chunks")
		}
		for _, c := range chunks {
			ids = append(ids, c.ID)
		}
	}

	report, err := g.EmbedChunks(ctx, ids)
	if err != nil {
		return nil, err
	}
	if err := report.AsError(); err != nil {
		return nil, err
	}
	return report, nil
}

// EmbedChunks embeds the given chunks, skipping those whose stored vector
// was computed from the same text. A non-nil error means nothing was attempted.
func (g *EmbeddingGenerator) EmbedChunks(ctx context.Context, chunkIDs []string) (*EmbedReport, error) {
	if g.embedder == nil {
		return nil, domain.ErrEmbeddingUnavailable
	}
	model := g.embedder.ModelName()
	report := &EmbedReport{Model: model}

	ids := distinct(chunkIDs)
	if len(ids) == 0 {
		return report, nil
	}

	found, err := g.chunks.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	byID := make(map[string]domain.Chunk, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}

	hashes, err := g.chunks.EmbeddingHashes(ctx, model, ids)
	if err != nil {
		return nil, fmt.Errorf("load embedding hashes: %w", err)
	}

	var todo []domain.Chunk
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			report.fail(id, domain.NewConsistencyError("embed chunk", "chunk "+id+" does not exist"))
			continue
		}
		if hashes[id] != "" && hashes[id] == chunkHash(c) {
			report.Succeeded = append(report.Succeeded, id)
			report.Skipped = append(report.Skipped, id)
			continue
		}
		todo = append(todo, c)
	}

	for start := 0; start < len(todo); start += g.batchSize {
		end := min(start+g.batchSize, len(todo))
		if err := ctx.Err(); err != nil {
			for _, c := range todo[start:] {
				report.fail(c.ID, err)
			}
			break
		}
		g.embedBatch(ctx, model, todo[start:end], report)
	}

	written := len(report.Succeeded) - len(report.Skipped)
	if m := g.notifier.Metrics(); m != nil {
		m.EmbeddingsWritten(model, written, len(report.Skipped))
	}
	logger.Debug("embedding: %s wrote %d, skipped %d, failed %d", model, written, len(report.Skipped), len(report.Failed))
	return report, nil
}

// embedBatch runs one sub-batch with retries. Items a provider reports as
// failed are retried on their own; a whole-batch error retries everything left.
func (g *EmbeddingGenerator) embedBatch(ctx context.Context, model string, batch []domain.Chunk, report *EmbedReport) {
	pending := batch
	lastErr := make(map[string]error, len(batch))

	for attempt := 1; attempt <= embedMaxAttempts && len(pending) > 0; attempt++ {
		if attempt > 1 {
			delay := embedBackoffBase << (attempt - 2)
			for _, c := range pending {
				if ra := domain.RetryAfterOf(lastErr[c.ID]); ra > delay {
					delay = ra
				}
			}
			if err := g.sleep(ctx, delay); err != nil {
				for _, c := range pending {
					lastErr[c.ID] = err
				}
				break
			}
		}

		texts := make([]string, len(pending))
		for i, c := range pending {
			texts[i] = c.Text
		}
		vectors, err := g.embedder.EmbedBatch(ctx, texts)

		var batchErr *domain.BatchError
		if err != nil && !errors.As(err, &batchErr) {
			for _, c := range pending {
				lastErr[c.ID] = err
			}
			if !domain.IsRetryable(err) {
				break
			}
			logger.Debug("embedding: batch of %d failed (attempt %d): %v", len(pending), attempt, err)
			continue
		}

		var ok []domain.Embedding
		var retry []domain.Chunk
		now := g.now().UTC()
		for i, c := range pending {
			var itemErr error
			if batchErr != nil {
				itemErr = batchErr.Failed[i]
			}
			if itemErr == nil && (i >= len(vectors) || len(vectors[i]) == 0) {
				itemErr = domain.NewProviderError("embed batch", errors.New("provider returned no vector"), 0)
			}
			if itemErr != nil {
				lastErr[c.ID] = itemErr
				if domain.IsRetryable(itemErr) {
					retry = append(retry, c)
				}
				continue
			}
			ok = append(ok, domain.Embedding{
				ChunkID:     c.ID,
				Model:       model,
				Vector:      domain.Normalize(vectors[i]),
				ContentHash: chunkHash(c),
				CreatedAt:   now,
			})
		}

		saveFailed := g.save(ctx, ok)
		for _, e := range ok {
			if saveErr, bad := saveFailed[e.ChunkID]; bad {
				lastErr[e.ChunkID] = saveErr
				continue
			}
			delete(lastErr, e.ChunkID)
			report.Succeeded = append(report.Succeeded, e.ChunkID)
		}
		pending = retry
	}

	for _, c := range batch {
		if err, failed := lastErr[c.ID]; failed {
			report.fail(c.ID, err)
		}
	}
}

// save stores embeddings in one write, falling back to one write per item
// to isolate chunks deleted while the provider call was in flight.
func (g *EmbeddingGenerator) save(ctx context.Context, embeddings []domain.Embedding) map[string]error {
	if len(embeddings) == 0 {
		return nil
	}
	err := g.chunks.SaveEmbeddings(ctx, embeddings)
	if err == nil {
		return nil
	}
	failed := make(map[string]error)
	if !errors.Is(err, domain.ErrConsistency) {
		for _, e := range embeddings {
			failed[e.ChunkID] = fmt.Errorf("save embeddings: %w", err)
		}
		return failed
	}
	for _, e := range embeddings {
		if err := g.chunks.SaveEmbeddings(ctx, []domain.Embedding{e}); err != nil {
			failed[e.ChunkID] = err
		}
	}
	return failed
}

func (r *EmbedReport) fail(chunkID string, err error) {
	r.Failed = append(r.Failed, FailedChunk{ChunkID: chunkID, Error: domain.NewJobError(err)})
}

func chunkHash(c domain.Chunk) string {
	if c.ContentHash != "" {
		return c.ContentHash
	}
	return domain.TextHash(c.Text)
}

func distinct(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
