package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
	"github.com/custodia-labs/folio/internal/core/ports/driving"
	"github.com/custodia-labs/folio/internal/logger"
)

// Ensure JobService implements the interface.
var _ driving.JobService = (*JobService)(nil)

// JobService creates, inspects and cancels jobs.
// Execution is the Worker's responsibility.
type JobService struct {
	store    driven.JobStore
	config   domain.JobConfig
	notifier *Notifier
	now      func() time.Time
}

// NewJobService creates a job service.
func NewJobService(store driven.JobStore, config domain.JobConfig, notifier *Notifier) *JobService {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = domain.DefaultJobConfig().MaxAttempts
	}
	return &JobService{
		store:    store,
		config:   config,
		notifier: notifier,
		now:      time.Now,
	}
}

// Enqueue creates a queued job.
func (s *JobService) Enqueue(ctx context.Context, kind domain.JobKind, notebookID string, payload any) (*domain.Job, error) {
	if !kind.IsValid() {
		return nil, domain.NewValidationError(fmt.Sprintf("unknown job kind %q", kind), map[string]string{"kind": "invalid"})
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindValidation, Op: "encode job payload", Err: err}
	}

	now := s.now().UTC()
	job := &domain.Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		State:       domain.JobQueued,
		NotebookID:  notebookID,
		Payload:     raw,
		MaxAttempts: s.config.MaxAttempts,
		RunAfter:    now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	logger.Debug("jobs: enqueued %s job %s", kind, job.ID)
	s.notifier.JobChanged(ctx, job)
	return job, nil
}

// Status returns the job record.
func (s *JobService) Status(ctx context.Context, id string) (*domain.Job, error) {
	return s.store.GetJob(ctx, id)
}

// List returns jobs matching the filter.
func (s *JobService) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	return s.store.ListJobs(ctx, filter)
}

// Cancel stops a job. Finished jobs are returned unchanged.
func (s *JobService) Cancel(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	cancelErr := domain.NewJobError(&domain.Error{Kind: domain.KindCancelled, Message: "cancelled by request"})

	// The job may move under us (claimed, retried); re-read and try again.
	for attempt := 0; attempt < 3; attempt++ {
		switch job.State {
		case domain.JobSucceeded, domain.JobFailedFinal:
			return job, nil
		case domain.JobRunning:
			return s.store.RequestCancel(ctx, id, s.now().UTC())
		}

		updated, err := s.store.Transition(ctx, driven.JobTransition{
			ID:    id,
			From:  job.State,
			To:    domain.JobFailedFinal,
			Error: cancelErr,
			At:    s.now().UTC(),
		})
		if err == nil {
			s.notifier.JobChanged(ctx, updated)
			return updated, nil
		}
		if !errors.Is(err, domain.ErrLeaseLost) {
			return nil, fmt.Errorf("cancel job: %w", err)
		}
		if job, err = s.store.GetJob(ctx, id); err != nil {
			return nil, err
		}
	}
	return s.store.RequestCancel(ctx, id, s.now().UTC())
}

// Retry enqueues a copy of a failed_final job. The original keeps its history.
func (s *JobService) Retry(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State != domain.JobFailedFinal {
		return nil, domain.NewValidationError(
			fmt.Sprintf("job %s is %s; only failed_final jobs can be retried", id, job.State),
			map[string]string{"state": string(job.State)},
		)
	}
	return s.Enqueue(ctx, job.Kind, job.NotebookID, job.Payload)
}
