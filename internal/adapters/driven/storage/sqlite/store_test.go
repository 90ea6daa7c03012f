package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "folio-test-*")
	require.NoError(t, err)

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NotNil(t, store)

	cleanup := func() {
		assert.NoError(t, store.Close())
		assert.NoError(t, os.RemoveAll(tempDir))
	}
	return store, cleanup
}

// createTestNotebook creates a notebook to satisfy foreign key constraints.
func createTestNotebook(t *testing.T, store *Store, id string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, store.SaveNotebook(context.Background(), &domain.Notebook{
		ID: id, Name: "Notebook " + id, CreatedAt: now, UpdatedAt: now,
	}))
}

// createTestDocument creates a document in a notebook.
func createTestDocument(t *testing.T, store *Store, docID, notebookID string, metadata map[string]any) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, store.SaveDocument(context.Background(), &domain.Document{
		ID:          docID,
		NotebookID:  notebookID,
		Title:       "Doc " + docID,
		URI:         docID + ".md",
		MIMEType:    "text/markdown",
		Raw:         []byte("raw " + docID),
		ContentHash: domain.ContentHash([]byte("raw " + docID)),
		Metadata:    metadata,
		IngestedAt:  now,
		UpdatedAt:   now,
	}))
}

func testChunk(docID string, ordinal int, text string) domain.Chunk {
	return domain.Chunk{
		ID:          fmt.Sprintf("%s-c%d", docID, ordinal),
		DocumentID:  docID,
		Ordinal:     ordinal,
		Text:        text,
		EndOffset:   len(text),
		ContentHash: domain.TextHash(text),
	}
}

// ==================== Store Creation Tests ====================

func TestNewStore_CreatesDatabaseAndMigrates(t *testing.T) {
	tempDir := t.TempDir()

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tempDir, "folio.db"), store.Path())
	assert.NoError(t, store.Ping(context.Background()))

	version, err := store.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	require.NoError(t, store.Close())

	// Reopening must not re-run applied migrations.
	store, err = NewStore(tempDir)
	require.NoError(t, err)
	version, err = store.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	require.NoError(t, store.Close())
}

// ==================== Notebook Tests ====================

func TestNotebook_RoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	nb := &domain.Notebook{
		ID:   "nb1",
		Name: "Contracts",
		MetadataSchema: domain.MetadataSchema{Fields: []domain.FieldSpec{
			{Name: "party", Type: domain.FieldString, Required: true},
		}},
		DedupPolicy: domain.DedupContentHash,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.SaveNotebook(ctx, nb))
	createTestNotebook(t, store, "nb0")

	got, err := store.GetNotebook(ctx, "nb1")
	require.NoError(t, err)
	assert.Equal(t, "Contracts", got.Name)
	assert.Equal(t, domain.DedupContentHash, got.DedupPolicy)
	require.Len(t, got.MetadataSchema.Fields, 1)
	assert.True(t, got.MetadataSchema.Fields[0].Required)

	list, err := store.ListNotebooks(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Contracts", list[0].Name)

	_, err = store.GetNotebook(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ==================== Document Tests ====================

func TestDocument_SaveGetAndList(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	createTestNotebook(t, store, "nb")
	createTestDocument(t, store, "d1", "nb", map[string]any{"lang": "en"})

	doc, err := store.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, []byte("raw d1"), doc.Raw)
	assert.Equal(t, "en", doc.Metadata["lang"])

	docs, err := store.ListDocuments(ctx, "nb")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Nil(t, docs[0].Raw, "listings omit raw bytes")

	found, err := store.FindByContentHash(ctx, "nb", domain.ContentHash([]byte("raw d1")))
	require.NoError(t, err)
	assert.Equal(t, "d1", found.ID)

	_, err = store.FindByContentHash(ctx, "nb", "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDocument_UpdateMetadata(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	createTestNotebook(t, store, "nb")
	createTestDocument(t, store, "d1", "nb", nil)

	require.NoError(t, store.UpdateMetadata(ctx, "d1",
		map[string]any{"pages": 12}, []string{`missing required field "party"`}))

	doc, err := store.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.EqualValues(t, 12, doc.Metadata["pages"])
	assert.Equal(t, []string{`missing required field "party"`}, doc.MetadataWarnings)

	assert.ErrorIs(t, store.UpdateMetadata(ctx, "missing", nil, nil), domain.ErrNotFound)
}

func TestDocument_DeleteCascades(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	createTestNotebook(t, store, "nb")
	createTestDocument(t, store, "d1", "nb", nil)
	require.NoError(t, store.ReplaceChunks(ctx, "d1", []domain.Chunk{testChunk("d1", 0, "cats")}))
	require.NoError(t, store.SaveEmbeddings(ctx, []domain.Embedding{
		{ChunkID: "d1-c0", Model: "m", Vector: []float32{1, 0}, ContentHash: "h"},
	}))

	require.NoError(t, store.DeleteDocument(ctx, "d1"))

	chunks, err := store.GetChunks(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, chunks)
	hashes, err := store.EmbeddingHashes(ctx, "m", []string{"d1-c0"})
	require.NoError(t, err)
	assert.Empty(t, hashes)

	assert.ErrorIs(t, store.DeleteDocument(ctx, "d1"), domain.ErrNotFound)
}

// ==================== Chunk Tests ====================

func TestReplaceChunks_KeepsUnchangedAndDropsStale(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	createTestNotebook(t, store, "nb")
	createTestDocument(t, store, "d1", "nb", nil)

	first := []domain.Chunk{testChunk("d1", 0, "alpha"), testChunk("d1", 1, "beta")}
	require.NoError(t, store.ReplaceChunks(ctx, "d1", first))
	require.NoError(t, store.SaveEmbeddings(ctx, []domain.Embedding{
		{ChunkID: "d1-c0", Model: "m", Vector: []float32{1, 0}, ContentHash: first[0].ContentHash},
		{ChunkID: "d1-c1", Model: "m", Vector: []float32{0, 1}, ContentHash: first[1].ContentHash},
	}))

	require.NoError(t, store.ReplaceChunks(ctx, "d1", []domain.Chunk{testChunk("d1", 0, "alpha")}))

	chunks, err := store.GetChunks(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "alpha", chunks[0].Text)

	hashes, err := store.EmbeddingHashes(ctx, "m", []string{"d1-c0", "d1-c1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"d1-c0": first[0].ContentHash}, hashes)
}

func TestReplaceChunks_MissingDocument(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	err := store.ReplaceChunks(context.Background(), "ghost", []domain.Chunk{testChunk("ghost", 0, "x")})
	assert.ErrorIs(t, err, domain.ErrConsistency)
}

func TestGetChunksByIDs_RequestOrder(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	createTestNotebook(t, store, "nb")
	createTestDocument(t, store, "d1", "nb", nil)
	require.NoError(t, store.ReplaceChunks(ctx, "d1", []domain.Chunk{
		testChunk("d1", 0, "a"), testChunk("d1", 1, "b"), testChunk("d1", 2, "c"),
	}))

	chunks, err := store.GetChunksByIDs(ctx, []string{"d1-c2", "missing", "d1-c0"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "d1-c2", chunks[0].ID)
	assert.Equal(t, "d1-c0", chunks[1].ID)
}

func TestSaveEmbeddings_MissingChunkWritesNothing(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	createTestNotebook(t, store, "nb")
	createTestDocument(t, store, "d1", "nb", nil)
	require.NoError(t, store.ReplaceChunks(ctx, "d1", []domain.Chunk{testChunk("d1", 0, "a")}))

	err := store.SaveEmbeddings(ctx, []domain.Embedding{
		{ChunkID: "d1-c0", Model: "m", Vector: []float32{1}, ContentHash: "h"},
		{ChunkID: "gone", Model: "m", Vector: []float32{1}, ContentHash: "h"},
	})
	assert.ErrorIs(t, err, domain.ErrConsistency)

	hashes, err := store.EmbeddingHashes(ctx, "m", []string{"d1-c0"})
	require.NoError(t, err)
	assert.Empty(t, hashes)
}

func TestSearchSimilar_ScopesScoresAndFilters(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	createTestNotebook(t, store, "nb")
	createTestNotebook(t, store, "other")
	createTestDocument(t, store, "d1", "nb", map[string]any{"lang": "en", "tags": []string{"pets"}})
	createTestDocument(t, store, "d2", "nb", map[string]any{"lang": "de"})
	createTestDocument(t, store, "d3", "other", nil)

	vectors := map[string][]float32{"d1": {1, 0}, "d2": {0.8, 0.6}, "d3": {1, 0}}
	for doc, vec := range vectors {
		require.NoError(t, store.ReplaceChunks(ctx, doc, []domain.Chunk{testChunk(doc, 0, "text "+doc)}))
		require.NoError(t, store.SaveEmbeddings(ctx, []domain.Embedding{
			{ChunkID: doc + "-c0", Model: "m", Vector: vec, ContentHash: "h"},
			{ChunkID: doc + "-c0", Model: "other-model", Vector: []float32{0, 1}, ContentHash: "h"},
		}))
	}

	hits, err := store.SearchSimilar(ctx, domain.SimilarityQuery{
		NotebookID: "nb", Model: "m", Vector: []float32{1, 0}, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "d1-c0", hits[0].Chunk.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "Doc d1", hits[0].DocumentTitle)
	assert.InDelta(t, 0.8, hits[1].Score, 1e-6)

	hits, err = store.SearchSimilar(ctx, domain.SimilarityQuery{
		NotebookID: "nb", Model: "m", Vector: []float32{1, 0}, MinScore: 0.9,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = store.SearchSimilar(ctx, domain.SimilarityQuery{
		NotebookID: "nb", Model: "m", Vector: []float32{1, 0},
		Filter: domain.MetadataFilter{Equals: map[string]any{"tags": "pets"}},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d1-c0", hits[0].Chunk.ID)

	hits, err = store.SearchSimilar(ctx, domain.SimilarityQuery{
		NotebookID: "nb", Model: "m", Vector: []float32{1, 0}, DocumentIDs: []string{"d2"},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d2-c0", hits[0].Chunk.ID)
}

// ==================== Job Tests ====================

func newTestJob(id string, kind domain.JobKind, created time.Time) *domain.Job {
	return &domain.Job{
		ID:          id,
		Kind:        kind,
		State:       domain.JobQueued,
		NotebookID:  "nb",
		Payload:     json.RawMessage(`{"document_id":"d1"}`),
		MaxAttempts: 3,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestJobs_ClaimOldestRunnable(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	later := newTestJob("j-later", domain.JobKindEmbed, base.Add(time.Second))
	delayed := newTestJob("j-delayed", domain.JobKindIngest, base.Add(-time.Second))
	delayed.RunAfter = base.Add(time.Hour)
	require.NoError(t, store.CreateJob(ctx, newTestJob("j-first", domain.JobKindIngest, base)))
	require.NoError(t, store.CreateJob(ctx, later))
	require.NoError(t, store.CreateJob(ctx, delayed))
	assert.ErrorIs(t, store.CreateJob(ctx, later), domain.ErrAlreadyExists)

	job, err := store.ClaimNext(ctx, "w1", nil, time.Minute, base)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "j-first", job.ID)
	assert.Equal(t, domain.JobRunning, job.State)
	assert.Equal(t, "w1", job.Owner)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, base.Add(time.Minute), job.LeaseExpiresAt)
	assert.JSONEq(t, `{"document_id":"d1"}`, string(job.Payload))

	job, err = store.ClaimNext(ctx, "w1", []domain.JobKind{domain.JobKindIngest}, time.Minute, base)
	require.NoError(t, err)
	assert.Nil(t, job, "only the delayed ingest job remains")

	job, err = store.ClaimNext(ctx, "w1", []domain.JobKind{domain.JobKindEmbed}, time.Minute, base)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "j-later", job.ID)
}

func TestJobs_ConcurrentClaimsNeverShareAJob(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	const jobs = 20
	for i := 0; i < jobs; i++ {
		require.NoError(t, store.CreateJob(ctx, newTestJob(fmt.Sprintf("j%02d", i), domain.JobKindEmbed, base.Add(time.Duration(i)))))
	}

	var mu sync.Mutex
	claimed := make(map[string]string)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			for {
				job, err := store.ClaimNext(ctx, owner, nil, time.Minute, base)
				if !assert.NoError(t, err) || job == nil {
					return
				}
				mu.Lock()
				if prev, ok := claimed[job.ID]; ok {
					t.Errorf("job %s claimed by %s and %s", job.ID, prev, owner)
				}
				claimed[job.ID] = owner
				mu.Unlock()
			}
		}(fmt.Sprintf("w%d", w))
	}
	wg.Wait()
	assert.Len(t, claimed, jobs)
}

func TestJobs_TransitionIsCompareAndSet(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateJob(ctx, newTestJob("j1", domain.JobKindIngest, now)))
	_, err := store.ClaimNext(ctx, "w1", nil, time.Minute, now)
	require.NoError(t, err)

	_, err = store.Transition(ctx, driven.JobTransition{
		ID: "j1", From: domain.JobRunning, To: domain.JobSucceeded, Owner: "w2", At: now,
	})
	assert.ErrorIs(t, err, domain.ErrLeaseLost, "wrong owner")

	_, err = store.Transition(ctx, driven.JobTransition{
		ID: "j1", From: domain.JobSucceeded, To: domain.JobQueued, At: now,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	jobErr := &domain.JobError{Kind: domain.KindProvider, Message: "rate limited"}
	job, err := store.Transition(ctx, driven.JobTransition{
		ID: "j1", From: domain.JobRunning, To: domain.JobFailed, Owner: "w1",
		Error: jobErr, RunAfter: now.Add(time.Minute), At: now,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, job.State)
	assert.Equal(t, jobErr, job.Error)
	assert.Empty(t, job.Owner)
	assert.True(t, job.LeaseExpiresAt.IsZero())

	due, err := store.ListDueRetries(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)
	due, err = store.ListDueRetries(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)

	job, err = store.Transition(ctx, driven.JobTransition{ID: "j1", From: domain.JobFailed, To: domain.JobQueued, At: now})
	require.NoError(t, err)
	assert.Nil(t, job.Error)

	_, err = store.ClaimNext(ctx, "w1", nil, time.Minute, now.Add(time.Minute))
	require.NoError(t, err)
	job, err = store.Transition(ctx, driven.JobTransition{
		ID: "j1", From: domain.JobRunning, To: domain.JobSucceeded, Owner: "w1",
		Result: json.RawMessage(`{"chunks":3}`), At: now.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)
	assert.JSONEq(t, `{"chunks":3}`, string(job.Result))
	assert.Equal(t, now.Add(2*time.Minute), job.FinishedAt)

	_, err = store.Transition(ctx, driven.JobTransition{ID: "missing", From: domain.JobQueued, To: domain.JobRunning})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobs_HeartbeatAndReclaim(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateJob(ctx, newTestJob("j1", domain.JobKindEmbed, now)))
	_, err := store.ClaimNext(ctx, "w1", nil, time.Minute, now)
	require.NoError(t, err)

	job, err := store.Heartbeat(ctx, "j1", "w1", time.Minute, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, now.Add(90*time.Second), job.LeaseExpiresAt)

	_, err = store.Heartbeat(ctx, "j1", "w2", time.Minute, now)
	assert.ErrorIs(t, err, domain.ErrLeaseLost)

	expired, err := store.ListExpired(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, expired)

	reclaimAt := now.Add(2 * time.Minute)
	expired, err = store.ListExpired(ctx, reclaimAt)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	_, err = store.Transition(ctx, driven.JobTransition{
		ID: "j1", From: domain.JobRunning, To: domain.JobQueued, ExpiredBefore: reclaimAt, At: reclaimAt,
	})
	require.NoError(t, err)

	// The old owner's late completion must not land.
	_, err = store.Transition(ctx, driven.JobTransition{
		ID: "j1", From: domain.JobRunning, To: domain.JobSucceeded, Owner: "w1", At: reclaimAt,
	})
	assert.ErrorIs(t, err, domain.ErrLeaseLost)
	_, err = store.Heartbeat(ctx, "j1", "w1", time.Minute, reclaimAt)
	assert.ErrorIs(t, err, domain.ErrLeaseLost)
}

func TestJobs_ListAndCancel(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateJob(ctx, newTestJob("a", domain.JobKindIngest, base)))
	require.NoError(t, store.CreateJob(ctx, newTestJob("b", domain.JobKindEmbed, base.Add(time.Second))))
	other := newTestJob("c", domain.JobKindEmbed, base.Add(2*time.Second))
	other.NotebookID = "other"
	require.NoError(t, store.CreateJob(ctx, other))

	jobs, err := store.ListJobs(ctx, domain.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "c", jobs[0].ID, "newest first")

	jobs, err = store.ListJobs(ctx, domain.JobFilter{Kind: domain.JobKindEmbed, NotebookID: "nb"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "b", jobs[0].ID)

	jobs, err = store.ListJobs(ctx, domain.JobFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	job, err := store.RequestCancel(ctx, "a", base)
	require.NoError(t, err)
	assert.True(t, job.CancelRequested)

	_, err = store.RequestCancel(ctx, "missing", base)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ==================== Report Tests ====================

func TestReports_TemplateAndGeneration(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now().UTC()

	tmpl := &domain.ReportTemplate{
		ID:   "t1",
		Name: "Due diligence",
		Sections: []domain.SectionSpec{
			{Name: "Parties", QueryTemplate: "parties to {{.deal}}", Instructions: "List them."},
			{Name: "Risks", QueryTemplate: "risks", Instructions: "Summarise."},
		},
		CreatedAt: now,
	}
	require.NoError(t, store.SaveTemplate(ctx, tmpl))

	got, err := store.GetTemplate(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, tmpl.Sections, got.Sections)

	templates, err := store.ListTemplates(ctx)
	require.NoError(t, err)
	assert.Len(t, templates, 1)

	gen := &domain.ReportGeneration{
		ID: "g1", TemplateID: "t1", NotebookID: "nb", Params: map[string]string{"deal": "Acme"},
		Template: *tmpl, Status: domain.ReportRunning, CreatedAt: now, UpdatedAt: now,
		Sections: []domain.ReportSection{
			{GenerationID: "g1", Index: 0, Name: "Parties", Status: domain.SectionPending, UpdatedAt: now},
			{GenerationID: "g1", Index: 1, Name: "Risks", Status: domain.SectionPending, UpdatedAt: now},
		},
	}
	require.NoError(t, store.CreateGeneration(ctx, gen))
	assert.ErrorIs(t, store.CreateGeneration(ctx, gen), domain.ErrAlreadyExists)

	require.NoError(t, store.UpdateSection(ctx, &domain.ReportSection{
		GenerationID: "g1", Index: 1, Name: "Risks", Status: domain.SectionFailed,
		Error:    &domain.JobError{Kind: domain.KindProviderFatal, Message: "model refused"},
		JobID:    "job-9",
		Attempts: 1, UpdatedAt: now,
	}))
	require.NoError(t, store.UpdateSection(ctx, &domain.ReportSection{
		GenerationID: "g1", Index: 0, Name: "Parties", Status: domain.SectionSucceeded, Text: "Acme and Beta.",
		Citations: []domain.Citation{{ChunkID: "c1", DocumentID: "d1", TextHash: "abc"}},
		Attempts:  1, UpdatedAt: now,
	}))
	assert.ErrorIs(t, store.UpdateSection(ctx, &domain.ReportSection{GenerationID: "g1", Index: 5}), domain.ErrNotFound)

	require.NoError(t, store.UpdateGenerationStatus(ctx, "g1", domain.ReportPartial, now))

	loaded, err := store.GetGeneration(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReportPartial, loaded.Status)
	assert.Equal(t, "Acme", loaded.Params["deal"])
	assert.Equal(t, "Due diligence", loaded.Template.Name)
	require.Len(t, loaded.Sections, 2)
	assert.Equal(t, "Acme and Beta.", loaded.Sections[0].Text)
	assert.Len(t, loaded.Sections[0].Citations, 1)
	assert.Equal(t, domain.KindProviderFatal, loaded.Sections[1].Error.Kind)
	assert.Equal(t, "job-9", loaded.Sections[1].JobID)

	assert.ErrorIs(t, store.UpdateGenerationStatus(ctx, "missing", domain.ReportPartial, now), domain.ErrNotFound)
}

// ==================== Chat Tests ====================

func TestChat_MessagesAreSequenced(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateSession(ctx, &domain.ChatSession{ID: "s1", NotebookID: "nb", CreatedAt: now, UpdatedAt: now}))

	for i, role := range []string{domain.RoleUser, domain.RoleAssistant, domain.RoleUser} {
		msg := &domain.ChatMessage{
			ID: fmt.Sprintf("m%d", i), SessionID: "s1", Role: role,
			Content: fmt.Sprintf("turn %d", i), CreatedAt: now.Add(time.Duration(i) * time.Second),
		}
		if role == domain.RoleAssistant {
			msg.Citations = []domain.Citation{{ChunkID: "c1"}}
			msg.Incomplete = true
		}
		require.NoError(t, store.AppendMessage(ctx, msg))
		assert.Equal(t, i+1, msg.Seq)
	}

	all, err := store.ListMessages(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[1].Incomplete)
	assert.Len(t, all[1].Citations, 1)

	recent, err := store.ListMessages(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 2, recent[0].Seq)
	assert.Equal(t, 3, recent[1].Seq)

	session, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(2*time.Second).Truncate(time.Millisecond), session.UpdatedAt)

	err = store.AppendMessage(ctx, &domain.ChatMessage{ID: "x", SessionID: "missing", CreatedAt: now})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	sessions, err := store.ListSessions(ctx, "nb")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}
