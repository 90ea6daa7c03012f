package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// EventPublisher delivers core notifications (job state changes, completed
// report sections) to whatever transport is configured.
// Publishing is best effort: callers log failures and carry on.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// MetricsRecorder receives measurements from the core.
type MetricsRecorder interface {
	// JobTransitioned counts a job entering a state.
	JobTransitioned(kind domain.JobKind, state domain.JobState)

	// JobFinished observes the run duration of one attempt.
	JobFinished(kind domain.JobKind, state domain.JobState, d time.Duration)

	// ProviderCall observes one provider request.
	ProviderCall(provider, op string, err error, d time.Duration)

	// EmbeddingsWritten counts embeddings stored and skipped as unchanged.
	EmbeddingsWritten(model string, written, skipped int)
}
