package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
)

const jobColumns = `id, kind, state, notebook_id, payload, result, error, attempts, max_attempts,
	owner, lease_expires_at, run_after, cancel_requested, created_at, started_at, finished_at, updated_at`

// CreateJob inserts a new job.
func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	errJSON, err := toJSON(job.Error)
	if err != nil {
		return fmt.Errorf("marshalling job error: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, string(job.Kind), string(job.State), job.NotebookID, rawJSON(job.Payload), rawJSON(job.Result),
		errJSON, job.Attempts, job.MaxAttempts, job.Owner, toMillis(job.LeaseExpiresAt), toMillis(job.RunAfter),
		job.CancelRequested, job.CreatedAt.UnixMilli(), toMillis(job.StartedAt), toMillis(job.FinishedAt),
		job.UpdatedAt.UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ListJobs returns jobs matching the filter, newest first.
func (s *Store) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	var where []string
	var args []any
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.NotebookID != "" {
		where = append(where, "notebook_id = ?")
		args = append(args, filter.NotebookID)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return s.queryJobs(ctx, query, args...)
}

// ClaimNext moves the oldest runnable queued job to running in one statement.
func (s *Store) ClaimNext(ctx context.Context, owner string, kinds []domain.JobKind, lease time.Duration, now time.Time) (*domain.Job, error) {
	nowMs := now.UnixMilli()
	args := []any{owner, now.Add(lease).UnixMilli(), nowMs, nowMs, nowMs}

	kindClause := ""
	if len(kinds) > 0 {
		kindClause = " AND kind IN (" + placeholders(len(kinds)) + ")"
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET
			state = 'running',
			owner = ?,
			attempts = attempts + 1,
			lease_expires_at = ?,
			started_at = ?,
			updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE state = 'queued' AND COALESCE(run_after, 0) <= ?`+kindClause+`
			ORDER BY created_at, id
			LIMIT 1
		) AND state = 'queued'
		RETURNING `+jobColumns, args...)

	job, err := scanJob(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return job, nil
}

// Heartbeat extends a held lease.
func (s *Store) Heartbeat(ctx context.Context, id, owner string, lease time.Duration, now time.Time) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET lease_expires_at = ?, updated_at = ?
		WHERE id = ? AND state = 'running' AND owner = ?
		RETURNING `+jobColumns, now.Add(lease).UnixMilli(), now.UnixMilli(), id, owner)

	job, err := scanJob(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, s.missingOr(ctx, id, domain.ErrLeaseLost)
	}
	return job, err
}

// Transition applies a compare-and-set state change.
func (s *Store) Transition(ctx context.Context, t driven.JobTransition) (*domain.Job, error) {
	if !domain.CanTransition(t.From, t.To) {
		return nil, domain.ErrInvalidTransition
	}
	errJSON, err := toJSON(t.Error)
	if err != nil {
		return nil, fmt.Errorf("marshalling job error: %w", err)
	}

	set := []string{"state = ?", "owner = ''", "lease_expires_at = NULL", "updated_at = ?"}
	args := []any{string(t.To), t.At.UnixMilli()}
	switch t.To {
	case domain.JobQueued:
		set = append(set, "error = NULL", "run_after = ?")
		args = append(args, toMillis(t.RunAfter))
	case domain.JobSucceeded:
		set = append(set, "result = ?", "error = NULL", "finished_at = ?")
		args = append(args, rawJSON(t.Result), t.At.UnixMilli())
	case domain.JobFailed:
		set = append(set, "error = ?", "run_after = ?")
		args = append(args, errJSON, toMillis(t.RunAfter))
	case domain.JobFailedFinal:
		set = append(set, "error = ?", "finished_at = ?")
		args = append(args, errJSON, t.At.UnixMilli())
	}

	where := []string{"id = ?", "state = ?"}
	args = append(args, t.ID, string(t.From))
	if t.Owner != "" {
		where = append(where, "owner = ?")
		args = append(args, t.Owner)
	}
	if !t.ExpiredBefore.IsZero() {
		where = append(where, "lease_expires_at < ?")
		args = append(args, t.ExpiredBefore.UnixMilli())
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET `+strings.Join(set, ", ")+`
		WHERE `+strings.Join(where, " AND ")+`
		RETURNING `+jobColumns, args...)

	job, err := scanJob(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, s.missingOr(ctx, t.ID, domain.ErrLeaseLost)
	}
	return job, err
}

// ListExpired returns running jobs whose lease expired before now.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]domain.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE state = 'running' AND lease_expires_at < ?
		ORDER BY created_at, id
	`, now.UnixMilli())
}

// ListDueRetries returns failed jobs ready to be re-queued.
func (s *Store) ListDueRetries(ctx context.Context, now time.Time) ([]domain.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE state = 'failed' AND COALESCE(run_after, 0) <= ?
		ORDER BY created_at, id
	`, now.UnixMilli())
}

// RequestCancel flags a non-terminal job for cancellation.
func (s *Store) RequestCancel(ctx context.Context, id string, now time.Time) (*domain.Job, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET cancel_requested = 1, updated_at = ?
		WHERE id = ? AND state NOT IN ('succeeded', 'failed_final')
	`, now.UnixMilli(), id)
	if err != nil {
		return nil, fmt.Errorf("requesting cancel: %w", err)
	}
	return s.GetJob(ctx, id)
}

// missingOr returns domain.ErrNotFound if the job does not exist, otherwise err.
func (s *Store) missingOr(ctx context.Context, id string, err error) error {
	var n int
	if qerr := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs WHERE id = ?", id).Scan(&n); qerr != nil {
		return fmt.Errorf("checking job: %w", qerr)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return err
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job //nolint:prealloc // size unknown from query
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row scanner) (*domain.Job, error) {
	var job domain.Job
	var kind, state string
	var payload, result, errJSON sql.NullString
	var lease, runAfter, startedAt, finishedAt sql.NullInt64
	var createdAt, updatedAt int64

	if err := row.Scan(&job.ID, &kind, &state, &job.NotebookID, &payload, &result, &errJSON,
		&job.Attempts, &job.MaxAttempts, &job.Owner, &lease, &runAfter, &job.CancelRequested,
		&createdAt, &startedAt, &finishedAt, &updatedAt); err != nil {
		if err = notFound(err); err == domain.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scanning job: %w", err)
	}

	job.Kind = domain.JobKind(kind)
	job.State = domain.JobState(state)
	if payload.Valid {
		job.Payload = json.RawMessage(payload.String)
	}
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	if errJSON.Valid {
		job.Error = &domain.JobError{}
		if err := json.Unmarshal([]byte(errJSON.String), job.Error); err != nil {
			return nil, fmt.Errorf("unmarshalling job error: %w", err)
		}
	}
	job.LeaseExpiresAt = fromMillis(lease)
	job.RunAfter = fromMillis(runAfter)
	job.StartedAt = fromMillis(startedAt)
	job.FinishedAt = fromMillis(finishedAt)
	job.CreatedAt = millis(createdAt)
	job.UpdatedAt = millis(updatedAt)
	return &job, nil
}

// rawJSON stores a raw message as text, or NULL when empty.
func rawJSON(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return string(m)
}
