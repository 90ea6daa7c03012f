package memory

import (
	"context"
	"sort"
	"time"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
)

// CreateJob inserts a new job.
func (s *Store) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.jobs[job.ID] = *job
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &job, nil
}

// ListJobs returns jobs matching the filter, newest first.
func (s *Store) ListJobs(_ context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.Job
	for _, job := range s.jobs {
		if filter.Kind != "" && job.Kind != filter.Kind {
			continue
		}
		if filter.State != "" && job.State != filter.State {
			continue
		}
		if filter.NotebookID != "" && job.NotebookID != filter.NotebookID {
			continue
		}
		result = append(result, job)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// ClaimNext moves the oldest runnable queued job to running.
func (s *Store) ClaimNext(_ context.Context, owner string, kinds []domain.JobKind, lease time.Duration, now time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *domain.Job
	for id := range s.jobs {
		job := s.jobs[id]
		if job.State != domain.JobQueued || job.RunAfter.After(now) || !kindAllowed(job.Kind, kinds) {
			continue
		}
		if next == nil || job.CreatedAt.Before(next.CreatedAt) ||
			(job.CreatedAt.Equal(next.CreatedAt) && job.ID < next.ID) {
			j := job
			next = &j
		}
	}
	if next == nil {
		return nil, nil
	}

	next.State = domain.JobRunning
	next.Owner = owner
	next.Attempts++
	next.LeaseExpiresAt = now.Add(lease)
	next.StartedAt = now
	next.UpdatedAt = now
	s.jobs[next.ID] = *next
	claimed := *next
	return &claimed, nil
}

func kindAllowed(kind domain.JobKind, kinds []domain.JobKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Heartbeat extends a held lease.
func (s *Store) Heartbeat(_ context.Context, id, owner string, lease time.Duration, now time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.State != domain.JobRunning || job.Owner != owner {
		return nil, domain.ErrLeaseLost
	}
	job.LeaseExpiresAt = now.Add(lease)
	job.UpdatedAt = now
	s.jobs[id] = job
	return &job, nil
}

// Transition applies a compare-and-set state change.
func (s *Store) Transition(_ context.Context, t driven.JobTransition) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[t.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.State != t.From || (t.Owner != "" && job.Owner != t.Owner) {
		return nil, domain.ErrLeaseLost
	}
	if !t.ExpiredBefore.IsZero() && !job.LeaseExpiresAt.Before(t.ExpiredBefore) {
		return nil, domain.ErrLeaseLost
	}
	if !domain.CanTransition(t.From, t.To) {
		return nil, domain.ErrInvalidTransition
	}

	job.State = t.To
	job.Owner = ""
	job.LeaseExpiresAt = time.Time{}
	job.UpdatedAt = t.At
	switch t.To {
	case domain.JobQueued:
		job.Error = nil
		job.RunAfter = t.RunAfter
	case domain.JobSucceeded:
		job.Result = t.Result
		job.Error = nil
		job.FinishedAt = t.At
	case domain.JobFailed:
		job.Error = t.Error
		job.RunAfter = t.RunAfter
	case domain.JobFailedFinal:
		job.Error = t.Error
		job.FinishedAt = t.At
	}
	s.jobs[t.ID] = job
	return &job, nil
}

// ListExpired returns running jobs whose lease expired before now.
func (s *Store) ListExpired(_ context.Context, now time.Time) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.Job
	for _, job := range s.jobs {
		if job.State == domain.JobRunning && job.LeaseExpiresAt.Before(now) {
			result = append(result, job)
		}
	}
	sortByCreated(result)
	return result, nil
}

// ListDueRetries returns failed jobs ready to be re-queued.
func (s *Store) ListDueRetries(_ context.Context, now time.Time) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.Job
	for _, job := range s.jobs {
		if job.State == domain.JobFailed && !job.RunAfter.After(now) {
			result = append(result, job)
		}
	}
	sortByCreated(result)
	return result, nil
}

// RequestCancel flags a non-terminal job for cancellation.
func (s *Store) RequestCancel(_ context.Context, id string, now time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !job.State.IsTerminal() {
		job.CancelRequested = true
		job.UpdatedAt = now
		s.jobs[id] = job
	}
	return &job, nil
}

func sortByCreated(jobs []domain.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}
