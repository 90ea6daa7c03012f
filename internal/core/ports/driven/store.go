package driven

import (
	"context"
	"encoding/json"
	"time"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// NotebookStore persists notebooks.
type NotebookStore interface {
	// SaveNotebook stores or updates a notebook.
	SaveNotebook(ctx context.Context, nb *domain.Notebook) error

	// GetNotebook returns domain.ErrNotFound if the notebook does not exist.
	GetNotebook(ctx context.Context, id string) (*domain.Notebook, error)

	// ListNotebooks returns all notebooks ordered by name.
	ListNotebooks(ctx context.Context) ([]domain.Notebook, error)
}

// DocumentStore persists documents.
type DocumentStore interface {
	// SaveDocument stores or updates a document, including raw bytes.
	SaveDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument returns domain.ErrNotFound if the document does not exist.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// FindByContentHash returns the oldest document in the notebook with the
	// given raw content hash, or domain.ErrNotFound.
	FindByContentHash(ctx context.Context, notebookID, hash string) (*domain.Document, error)

	// UpdateMetadata writes extracted metadata and warnings.
	UpdateMetadata(ctx context.Context, id string, metadata map[string]any, warnings []string) error

	// ListDocuments returns a notebook's documents without raw bytes.
	ListDocuments(ctx context.Context, notebookID string) ([]domain.Document, error)

	// DeleteDocument removes a document and cascades to its chunks and embeddings.
	DeleteDocument(ctx context.Context, id string) error
}

// ChunkStore persists chunks and their embeddings and answers similarity queries.
type ChunkStore interface {
	// ReplaceChunks makes the given chunks the document's complete chunk set in
	// one transaction. Existing chunks with the same ID are left untouched;
	// chunks no longer present are deleted together with their embeddings.
	ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error

	// GetChunks returns a document's chunks ordered by ordinal.
	GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)

	// GetChunksByIDs returns the chunks that exist; missing IDs are omitted.
	GetChunksByIDs(ctx context.Context, ids []string) ([]domain.Chunk, error)

	// EmbeddingHashes returns chunk ID -> content hash of the stored embedding
	// for the model. Chunks without an embedding are absent.
	EmbeddingHashes(ctx context.Context, model string, chunkIDs []string) (map[string]string, error)

	// SaveEmbeddings upserts embeddings keyed by (chunk, model).
	// A missing chunk yields a domain consistency error.
	SaveEmbeddings(ctx context.Context, embeddings []domain.Embedding) error

	// SearchSimilar returns up to q.Limit chunks scoring at least q.MinScore
	// against q.Vector, scoped to the notebook, documents and metadata filter.
	SearchSimilar(ctx context.Context, q domain.SimilarityQuery) ([]domain.ScoredChunk, error)
}

// JobTransition is a compare-and-set state change on a job.
// The store applies it only if the job is currently in From (and owned by
// Owner when Owner is set, and its lease expired before ExpiredBefore when set).
type JobTransition struct {
	ID    string
	From  domain.JobState
	To    domain.JobState
	Owner string

	// ExpiredBefore, when non-zero, additionally requires lease_expires_at < ExpiredBefore.
	ExpiredBefore time.Time

	Result   json.RawMessage
	Error    *domain.JobError
	RunAfter time.Time
	At       time.Time
}

// JobStore persists jobs with atomic claim semantics.
type JobStore interface {
	// CreateJob inserts a new queued job.
	CreateJob(ctx context.Context, job *domain.Job) error

	// GetJob returns domain.ErrNotFound if the job does not exist.
	GetJob(ctx context.Context, id string) (*domain.Job, error)

	// ListJobs returns jobs matching the filter, newest first.
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error)

	// ClaimNext atomically moves the oldest runnable queued job of one of the
	// kinds (all kinds when empty) to running, owned by owner, incrementing
	// its attempt count. Returns nil, nil when nothing is runnable.
	ClaimNext(ctx context.Context, owner string, kinds []domain.JobKind, lease time.Duration, now time.Time) (*domain.Job, error)

	// Heartbeat extends the lease of a running job held by owner and returns
	// the current record. Returns domain.ErrLeaseLost if owner no longer holds it.
	Heartbeat(ctx context.Context, id, owner string, lease time.Duration, now time.Time) (*domain.Job, error)

	// Transition applies a compare-and-set state change and returns the new record.
	// Returns domain.ErrLeaseLost when the precondition does not hold.
	Transition(ctx context.Context, t JobTransition) (*domain.Job, error)

	// ListExpired returns running jobs whose lease expired before now.
	ListExpired(ctx context.Context, now time.Time) ([]domain.Job, error)

	// ListDueRetries returns failed jobs whose RunAfter is not after now.
	ListDueRetries(ctx context.Context, now time.Time) ([]domain.Job, error)

	// RequestCancel flags a non-terminal job for cancellation.
	RequestCancel(ctx context.Context, id string, now time.Time) (*domain.Job, error)
}

// ReportStore persists templates and generation runs.
type ReportStore interface {
	SaveTemplate(ctx context.Context, tmpl *domain.ReportTemplate) error
	GetTemplate(ctx context.Context, id string) (*domain.ReportTemplate, error)
	ListTemplates(ctx context.Context) ([]domain.ReportTemplate, error)

	// CreateGeneration inserts a run and its sections.
	CreateGeneration(ctx context.Context, gen *domain.ReportGeneration) error

	// GetGeneration returns the run with sections ordered by index.
	GetGeneration(ctx context.Context, id string) (*domain.ReportGeneration, error)

	// UpdateSection writes one section's outcome.
	UpdateSection(ctx context.Context, section *domain.ReportSection) error

	// UpdateGenerationStatus sets the run status; finishedAt may be zero.
	UpdateGenerationStatus(ctx context.Context, id string, status domain.ReportStatus, finishedAt time.Time) error
}

// ChatStore persists chat sessions and messages.
type ChatStore interface {
	CreateSession(ctx context.Context, session *domain.ChatSession) error
	GetSession(ctx context.Context, id string) (*domain.ChatSession, error)
	ListSessions(ctx context.Context, notebookID string) ([]domain.ChatSession, error)

	// AppendMessage assigns the next Seq in the session and stores the message.
	AppendMessage(ctx context.Context, msg *domain.ChatMessage) error

	// ListMessages returns the most recent limit messages in Seq order.
	// A limit of zero returns all messages.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error)
}
