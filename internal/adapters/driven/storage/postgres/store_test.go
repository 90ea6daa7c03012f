package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
)

var jobColumnNames = []string{
	"id", "kind", "state", "notebook_id", "payload", "result", "error", "attempts", "max_attempts",
	"owner", "lease_expires_at", "run_after", "cancel_requested", "created_at", "started_at", "finished_at", "updated_at",
}

func setupMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func runningJobRow(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(jobColumnNames).AddRow(
		"job-1", "ingest", "running", "nb-1", []byte(`{"document_id":"d1"}`), nil, nil, 1, 3,
		"worker-1", now.Add(time.Minute), nil, false, now.Add(-time.Second), now, nil, now,
	)
}

// ==================== Job Store Tests ====================

func TestClaimNext_ReturnsClaimedJob(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE SKIP LOCKED`)).
		WithArgs("worker-1", now.Add(time.Minute), now, sqlmock.AnyArg()).
		WillReturnRows(runningJobRow(now))

	job, err := store.ClaimNext(context.Background(), "worker-1", []domain.JobKind{domain.JobKindIngest}, time.Minute, now)
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, domain.JobRunning, job.State)
	assert.Equal(t, "worker-1", job.Owner)
	assert.Equal(t, 1, job.Attempts)
	assert.JSONEq(t, `{"document_id":"d1"}`, string(job.Payload))
	assert.True(t, job.FinishedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNext_EmptyQueue(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE jobs SET`)).
		WillReturnRows(sqlmock.NewRows(jobColumnNames))

	job, err := store.ClaimNext(context.Background(), "worker-1", nil, time.Minute, now)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJob_DuplicateID(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO jobs`)).
		WillReturnError(&pq.Error{Code: uniqueViolation})

	err := store.CreateJob(context.Background(), &domain.Job{
		ID: "job-1", Kind: domain.JobKindIngest, State: domain.JobQueued, CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_LeaseLost(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE jobs SET`)).
		WillReturnRows(sqlmock.NewRows(jobColumnNames))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := store.Transition(context.Background(), driven.JobTransition{
		ID: "job-1", From: domain.JobRunning, To: domain.JobSucceeded, Owner: "worker-2", At: now,
	})
	assert.ErrorIs(t, err, domain.ErrLeaseLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_MissingJob(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE jobs SET`)).
		WillReturnRows(sqlmock.NewRows(jobColumnNames))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := store.Transition(context.Background(), driven.JobTransition{
		ID: "missing", From: domain.JobQueued, To: domain.JobRunning, At: time.Now(),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_RejectsInvalidEdge(t *testing.T) {
	store, mock := setupMockStore(t)

	_, err := store.Transition(context.Background(), driven.JobTransition{
		ID: "job-1", From: domain.JobSucceeded, To: domain.JobRunning, At: time.Now(),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_FailedRecordsError(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()
	retryAt := now.Add(2 * time.Second)

	rows := sqlmock.NewRows(jobColumnNames).AddRow(
		"job-1", "ingest", "failed", "nb-1", nil, nil, []byte(`{"kind":"provider","message":"503"}`), 1, 3,
		"", nil, retryAt, false, now, now, nil, now,
	)
	mock.ExpectQuery(regexp.QuoteMeta(`error = $3, run_after = $4`)).
		WithArgs("failed", now, sqlmock.AnyArg(), retryAt, "job-1", "running", "worker-1").
		WillReturnRows(rows)

	job, err := store.Transition(context.Background(), driven.JobTransition{
		ID: "job-1", From: domain.JobRunning, To: domain.JobFailed, Owner: "worker-1",
		Error: &domain.JobError{Kind: domain.KindProvider, Message: "503"}, RunAfter: retryAt, At: now,
	})
	require.NoError(t, err)
	require.NotNil(t, job.Error)
	assert.Equal(t, domain.KindProvider, job.Error.Kind)
	assert.Equal(t, retryAt, job.RunAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHeartbeat_NotOwner(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE jobs SET lease_expires_at`)).
		WithArgs(now.Add(time.Minute), now, "job-1", "worker-2").
		WillReturnRows(sqlmock.NewRows(jobColumnNames))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := store.Heartbeat(context.Background(), "job-1", "worker-2", time.Minute, now)
	assert.ErrorIs(t, err, domain.ErrLeaseLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobs_BuildsFilter(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE state = $1 AND notebook_id = $2 ORDER BY created_at DESC, id DESC LIMIT $3`)).
		WithArgs("running", "nb-1", 5).
		WillReturnRows(runningJobRow(now))

	jobs, err := store.ListJobs(context.Background(), domain.JobFilter{
		State: domain.JobRunning, NotebookID: "nb-1", Limit: 5,
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==================== Content Store Tests ====================

func TestGetNotebook_NotFound(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM notebooks WHERE id = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetNotebook(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEmbeddings_MissingChunkRollsBack(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM chunks WHERE id = ANY($1) FOR SHARE`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c1"))
	mock.ExpectRollback()

	err := store.SaveEmbeddings(context.Background(), []domain.Embedding{
		{ChunkID: "c1", Model: "m", Vector: []float32{1, 0}, ContentHash: "h1"},
		{ChunkID: "c2", Model: "m", Vector: []float32{0, 1}, ContentHash: "h2"},
	})
	assert.ErrorIs(t, err, domain.ErrConsistency)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEmbeddings_Upserts(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM chunks`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c1"))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO embeddings`))
	prep.ExpectExec().
		WithArgs("c1", "m", sqlmock.AnyArg(), "h1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.SaveEmbeddings(context.Background(), []domain.Embedding{
		{ChunkID: "c1", Model: "m", Vector: []float32{1, 0}, ContentHash: "h1"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchSimilar_AppliesMetadataFilter(t *testing.T) {
	store, mock := setupMockStore(t)

	columns := []string{"id", "document_id", "ordinal", "text", "start_offset", "end_offset", "section",
		"content_hash", "title", "metadata", "score"}
	rows := sqlmock.NewRows(columns).
		AddRow("d1-c0", "d1", 0, "cats", 0, 4, "", "h0", "Cats", []byte(`{"tags":["pets"]}`), 0.9).
		AddRow("d2-c0", "d2", 0, "cars", 0, 4, "", "h1", "Cars", []byte(`{"tags":["vehicles"]}`), 0.95)

	mock.ExpectQuery(regexp.QuoteMeta(`e.vector <=> $1`)).
		WithArgs(sqlmock.AnyArg(), "m", "nb-1", nil, 0.5, nil).
		WillReturnRows(rows)

	hits, err := store.SearchSimilar(context.Background(), domain.SimilarityQuery{
		NotebookID: "nb-1",
		Model:      "m",
		Vector:     []float32{1, 0},
		Limit:      5,
		MinScore:   0.5,
		Filter:     domain.MetadataFilter{Equals: map[string]any{"tags": "pets"}},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d1-c0", hits[0].Chunk.ID)
	assert.Equal(t, "Cats", hits[0].DocumentTitle)
	assert.InDelta(t, 0.9, hits[0].Score, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteDocument_NotFound(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM documents WHERE id = $1`)).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, store.DeleteDocument(context.Background(), "missing"), domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==================== Chat Store Tests ====================

func TestAppendMessage_AssignsSequence(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE chat_sessions SET updated_at = $1 WHERE id = $2`)).
		WithArgs(now, "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO chat_messages`)).
		WithArgs("m3", "s1", domain.RoleUser, "hello", nil, false, now).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(3))
	mock.ExpectCommit()

	msg := &domain.ChatMessage{ID: "m3", SessionID: "s1", Role: domain.RoleUser, Content: "hello", CreatedAt: now}
	require.NoError(t, store.AppendMessage(context.Background(), msg))
	assert.Equal(t, 3, msg.Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendMessage_MissingSession(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE chat_sessions`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.AppendMessage(context.Background(), &domain.ChatMessage{
		ID: "m1", SessionID: "missing", Role: domain.RoleUser, Content: "hi", CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==================== Report Store Tests ====================

func TestUpdateSection_MissingIndex(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("gen-1", 7).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	err := store.UpdateSection(context.Background(), &domain.ReportSection{
		GenerationID: "gen-1", Index: 7, Status: domain.SectionSucceeded, UpdatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
