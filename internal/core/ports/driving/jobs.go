package driving

import (
	"context"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// JobService manages background jobs.
type JobService interface {
	// Enqueue creates a queued job whose payload is the JSON encoding of payload.
	Enqueue(ctx context.Context, kind domain.JobKind, notebookID string, payload any) (*domain.Job, error)

	// Status returns the job with its state, attempts and result or error.
	Status(ctx context.Context, id string) (*domain.Job, error)

	// List returns jobs matching the filter, newest first.
	List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error)

	// Cancel stops a job. Queued jobs end immediately in failed_final;
	// running jobs are flagged and stopped by their worker.
	Cancel(ctx context.Context, id string) (*domain.Job, error)

	// Retry re-runs a failed_final job as a new job with the same payload.
	Retry(ctx context.Context, id string) (*domain.Job, error)
}

// WorkerService runs the job worker pool.
type WorkerService interface {
	// Start runs the pool until ctx is cancelled or Stop is called.
	// It blocks and returns when every in-flight job has settled.
	Start(ctx context.Context) error

	// Stop signals the pool to finish.
	Stop() error

	// IsRunning reports whether the pool is active.
	IsRunning() bool
}
