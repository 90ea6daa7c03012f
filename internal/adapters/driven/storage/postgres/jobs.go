package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
)

const jobColumns = `id, kind, state, notebook_id, payload, result, error, attempts, max_attempts,
	owner, lease_expires_at, run_after, cancel_requested, created_at, started_at, finished_at, updated_at`

type jobRow struct {
	ID              string       `db:"id"`
	Kind            string       `db:"kind"`
	State           string       `db:"state"`
	NotebookID      string       `db:"notebook_id"`
	Payload         []byte       `db:"payload"`
	Result          []byte       `db:"result"`
	Error           []byte       `db:"error"`
	Attempts        int          `db:"attempts"`
	MaxAttempts     int          `db:"max_attempts"`
	Owner           string       `db:"owner"`
	LeaseExpiresAt  sql.NullTime `db:"lease_expires_at"`
	RunAfter        sql.NullTime `db:"run_after"`
	CancelRequested bool         `db:"cancel_requested"`
	CreatedAt       time.Time    `db:"created_at"`
	StartedAt       sql.NullTime `db:"started_at"`
	FinishedAt      sql.NullTime `db:"finished_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

func (r jobRow) toDomain() (*domain.Job, error) {
	job := &domain.Job{
		ID:              r.ID,
		Kind:            domain.JobKind(r.Kind),
		State:           domain.JobState(r.State),
		NotebookID:      r.NotebookID,
		Attempts:        r.Attempts,
		MaxAttempts:     r.MaxAttempts,
		Owner:           r.Owner,
		LeaseExpiresAt:  fromNull(r.LeaseExpiresAt),
		RunAfter:        fromNull(r.RunAfter),
		CancelRequested: r.CancelRequested,
		CreatedAt:       r.CreatedAt.UTC(),
		StartedAt:       fromNull(r.StartedAt),
		FinishedAt:      fromNull(r.FinishedAt),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if len(r.Payload) > 0 {
		job.Payload = json.RawMessage(r.Payload)
	}
	if len(r.Result) > 0 {
		job.Result = json.RawMessage(r.Result)
	}
	if len(r.Error) > 0 {
		job.Error = &domain.JobError{}
		if err := json.Unmarshal(r.Error, job.Error); err != nil {
			return nil, fmt.Errorf("unmarshalling job error: %w", err)
		}
	}
	return job, nil
}

// CreateJob inserts a new job.
func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	errJSON, err := jsonValue(job.Error)
	if err != nil {
		return fmt.Errorf("marshalling job error: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, job.ID, string(job.Kind), string(job.State), job.NotebookID, rawValue(job.Payload), rawValue(job.Result),
		errJSON, job.Attempts, job.MaxAttempts, job.Owner, timeOrNull(job.LeaseExpiresAt), timeOrNull(job.RunAfter),
		job.CancelRequested, job.CreatedAt.UTC(), timeOrNull(job.StartedAt), timeOrNull(job.FinishedAt),
		job.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var row jobRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return row.toDomain()
}

// ListJobs returns jobs matching the filter, newest first.
func (s *Store) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	var where []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, clause+" $"+strconv.Itoa(len(args)))
	}
	if filter.Kind != "" {
		add("kind =", string(filter.Kind))
	}
	if filter.State != "" {
		add("state =", string(filter.State))
	}
	if filter.NotebookID != "" {
		add("notebook_id =", filter.NotebookID)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	return s.selectJobs(ctx, query, args...)
}

// ClaimNext moves the oldest runnable queued job to running.
// SKIP LOCKED lets concurrent workers claim different jobs without blocking.
func (s *Store) ClaimNext(ctx context.Context, owner string, kinds []domain.JobKind, lease time.Duration, now time.Time) (*domain.Job, error) {
	var kindFilter any
	if len(kinds) > 0 {
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		kindFilter = pq.Array(names)
	}

	var row jobRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE jobs SET
			state = 'running',
			owner = $1,
			attempts = attempts + 1,
			lease_expires_at = $2,
			started_at = $3,
			updated_at = $3
		WHERE id = (
			SELECT id FROM jobs
			WHERE state = 'queued'
				AND (run_after IS NULL OR run_after <= $3)
				AND ($4::text[] IS NULL OR kind = ANY($4::text[]))
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, owner, now.Add(lease).UTC(), now.UTC(), kindFilter)
	if err != nil {
		if notFound(err) == domain.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return row.toDomain()
}

// Heartbeat extends a held lease.
func (s *Store) Heartbeat(ctx context.Context, id, owner string, lease time.Duration, now time.Time) (*domain.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE jobs SET lease_expires_at = $1, updated_at = $2
		WHERE id = $3 AND state = 'running' AND owner = $4
		RETURNING `+jobColumns, now.Add(lease).UTC(), now.UTC(), id, owner)
	if err != nil {
		if notFound(err) == domain.ErrNotFound {
			return nil, s.missingOr(ctx, id, domain.ErrLeaseLost)
		}
		return nil, fmt.Errorf("heartbeat: %w", err)
	}
	return row.toDomain()
}

// Transition applies a compare-and-set state change.
func (s *Store) Transition(ctx context.Context, t driven.JobTransition) (*domain.Job, error) {
	if !domain.CanTransition(t.From, t.To) {
		return nil, domain.ErrInvalidTransition
	}
	errJSON, err := jsonValue(t.Error)
	if err != nil {
		return nil, fmt.Errorf("marshalling job error: %w", err)
	}

	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	set := []string{
		"state = " + arg(string(t.To)),
		"owner = ''",
		"lease_expires_at = NULL",
		"updated_at = " + arg(t.At.UTC()),
	}
	switch t.To {
	case domain.JobQueued:
		set = append(set, "error = NULL", "run_after = "+arg(timeOrNull(t.RunAfter)))
	case domain.JobSucceeded:
		set = append(set, "result = "+arg(rawValue(t.Result)), "error = NULL", "finished_at = "+arg(t.At.UTC()))
	case domain.JobFailed:
		set = append(set, "error = "+arg(errJSON), "run_after = "+arg(timeOrNull(t.RunAfter)))
	case domain.JobFailedFinal:
		set = append(set, "error = "+arg(errJSON), "finished_at = "+arg(t.At.UTC()))
	}

	where := []string{"id = " + arg(t.ID), "state = " + arg(string(t.From))}
	if t.Owner != "" {
		where = append(where, "owner = "+arg(t.Owner))
	}
	if !t.ExpiredBefore.IsZero() {
		where = append(where, "lease_expires_at < "+arg(t.ExpiredBefore.UTC()))
	}

	var row jobRow
	err = s.db.GetContext(ctx, &row, `
		UPDATE jobs SET `+strings.Join(set, ", ")+`
		WHERE `+strings.Join(where, " AND ")+`
		RETURNING `+jobColumns, args...)
	if err != nil {
		if notFound(err) == domain.ErrNotFound {
			return nil, s.missingOr(ctx, t.ID, domain.ErrLeaseLost)
		}
		return nil, fmt.Errorf("transitioning job: %w", err)
	}
	return row.toDomain()
}

// ListExpired returns running jobs whose lease expired before now.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]domain.Job, error) {
	return s.selectJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE state = 'running' AND lease_expires_at < $1
		ORDER BY created_at, id
	`, now.UTC())
}

// ListDueRetries returns failed jobs ready to be re-queued.
func (s *Store) ListDueRetries(ctx context.Context, now time.Time) ([]domain.Job, error) {
	return s.selectJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE state = 'failed' AND (run_after IS NULL OR run_after <= $1)
		ORDER BY created_at, id
	`, now.UTC())
}

// RequestCancel flags a non-terminal job for cancellation.
func (s *Store) RequestCancel(ctx context.Context, id string, now time.Time) (*domain.Job, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET cancel_requested = TRUE, updated_at = $1
		WHERE id = $2 AND state NOT IN ('succeeded', 'failed_final')
	`, now.UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("requesting cancel: %w", err)
	}
	return s.GetJob(ctx, id)
}

// missingOr returns domain.ErrNotFound if the job does not exist, otherwise err.
func (s *Store) missingOr(ctx context.Context, id string, err error) error {
	var exists bool
	if qerr := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id); qerr != nil {
		return fmt.Errorf("checking job: %w", qerr)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return err
}

func (s *Store) selectJobs(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	jobs := make([]domain.Job, 0, len(rows))
	for _, r := range rows {
		job, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}
