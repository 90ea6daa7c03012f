package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
)

func seedDocument(t *testing.T, s *Store, id, notebookID string, metadata map[string]any) {
	t.Helper()
	require.NoError(t, s.SaveDocument(context.Background(), &domain.Document{
		ID: id, NotebookID: notebookID, Title: "doc " + id, Metadata: metadata, IngestedAt: time.Now(),
	}))
}

// ==================== Chunk Tests ====================

func TestStore_ReplaceChunks_DropsStaleChunksAndEmbeddings(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedDocument(t, s, "d1", "nb", nil)

	require.NoError(t, s.ReplaceChunks(ctx, "d1", []domain.Chunk{
		{ID: "c1", Ordinal: 0, Text: "a"},
		{ID: "c2", Ordinal: 1, Text: "b"},
	}))
	require.NoError(t, s.SaveEmbeddings(ctx, []domain.Embedding{
		{ChunkID: "c2", Model: "m", Vector: []float32{1, 0}, ContentHash: "h2"},
	}))

	require.NoError(t, s.ReplaceChunks(ctx, "d1", []domain.Chunk{{ID: "c1", Ordinal: 0, Text: "a"}}))

	chunks, err := s.GetChunks(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	hashes, err := s.EmbeddingHashes(ctx, "m", []string{"c2"})
	require.NoError(t, err)
	assert.Empty(t, hashes)
}

func TestStore_SaveEmbeddings_MissingChunk(t *testing.T) {
	s := New()
	err := s.SaveEmbeddings(context.Background(), []domain.Embedding{{ChunkID: "nope", Model: "m"}})
	assert.ErrorIs(t, err, domain.ErrConsistency)
}

func TestStore_SearchSimilar_ScopesAndFilters(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedDocument(t, s, "d1", "nb", map[string]any{"lang": "en"})
	seedDocument(t, s, "d2", "nb", map[string]any{"lang": "de"})
	seedDocument(t, s, "d3", "other", nil)
	for _, doc := range []string{"d1", "d2", "d3"} {
		require.NoError(t, s.ReplaceChunks(ctx, doc, []domain.Chunk{{ID: doc + "-c", Ordinal: 0}}))
		require.NoError(t, s.SaveEmbeddings(ctx, []domain.Embedding{{ChunkID: doc + "-c", Model: "m", Vector: []float32{1, 0}}}))
	}

	hits, err := s.SearchSimilar(ctx, domain.SimilarityQuery{
		NotebookID: "nb", Model: "m", Vector: []float32{1, 0}, Limit: 10,
		Filter: domain.MetadataFilter{Equals: map[string]any{"lang": "en"}},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d1-c", hits[0].Chunk.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Equal(t, "doc d1", hits[0].DocumentTitle)
}

func TestStore_DeleteDocument_Cascades(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedDocument(t, s, "d1", "nb", nil)
	require.NoError(t, s.ReplaceChunks(ctx, "d1", []domain.Chunk{{ID: "c1"}}))

	require.NoError(t, s.DeleteDocument(ctx, "d1"))

	chunks, err := s.GetChunksByIDs(ctx, []string{"c1"})
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.ErrorIs(t, s.DeleteDocument(ctx, "d1"), domain.ErrNotFound)
}

// ==================== Job Tests ====================

func TestStore_ClaimNext_OldestFirstAndSingleOwner(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	require.NoError(t, s.CreateJob(ctx, &domain.Job{ID: "j2", Kind: domain.JobKindEmbed, State: domain.JobQueued, CreatedAt: now}))
	require.NoError(t, s.CreateJob(ctx, &domain.Job{ID: "j1", Kind: domain.JobKindIngest, State: domain.JobQueued, CreatedAt: now.Add(-time.Second)}))

	job, err := s.ClaimNext(ctx, "w1", nil, time.Minute, now)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "j1", job.ID)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "w1", job.Owner)

	job, err = s.ClaimNext(ctx, "w2", []domain.JobKind{domain.JobKindIngest}, time.Minute, now)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestStore_Transition_RejectsStaleOwner(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	require.NoError(t, s.CreateJob(ctx, &domain.Job{ID: "j1", Kind: domain.JobKindIngest, State: domain.JobQueued, CreatedAt: now}))
	_, err := s.ClaimNext(ctx, "w1", nil, time.Minute, now)
	require.NoError(t, err)

	_, err = s.Transition(ctx, driven.JobTransition{
		ID: "j1", From: domain.JobRunning, To: domain.JobSucceeded, Owner: "w2", At: now,
	})
	assert.ErrorIs(t, err, domain.ErrLeaseLost)

	job, err := s.Transition(ctx, driven.JobTransition{
		ID: "j1", From: domain.JobRunning, To: domain.JobSucceeded, Owner: "w1", At: now,
		Result: []byte(`{"ok":true}`),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobSucceeded, job.State)
	assert.Empty(t, job.Owner)

	_, err = s.Transition(ctx, driven.JobTransition{ID: "j1", From: domain.JobSucceeded, To: domain.JobQueued, At: now})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestStore_Transition_ExpiredBefore(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	require.NoError(t, s.CreateJob(ctx, &domain.Job{ID: "j1", State: domain.JobQueued, CreatedAt: now}))
	_, err := s.ClaimNext(ctx, "w1", nil, time.Minute, now)
	require.NoError(t, err)

	_, err = s.Transition(ctx, driven.JobTransition{
		ID: "j1", From: domain.JobRunning, To: domain.JobQueued, Owner: "w1", ExpiredBefore: now, At: now,
	})
	assert.ErrorIs(t, err, domain.ErrLeaseLost)

	expired, err := s.ListExpired(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
}

// ==================== Chat Tests ====================

func TestStore_AppendMessage_AssignsSeq(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateSession(ctx, &domain.ChatSession{ID: "s1", NotebookID: "nb"}))

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, s.AppendMessage(ctx, &domain.ChatMessage{ID: text, SessionID: "s1", Content: text}))
	}

	msgs, err := s.ListMessages(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 2, msgs[0].Seq)
	assert.Equal(t, "three", msgs[1].Content)
}
