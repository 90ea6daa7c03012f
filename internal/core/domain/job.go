package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// JobKind identifies the handler that executes a job.
type JobKind string

// Job kinds.
const (
	JobKindIngest        JobKind = "ingest"
	JobKindEmbed         JobKind = "embed"
	JobKindReportSection JobKind = "report_section"
	JobKindBatchSearch   JobKind = "batch_search"
)

// IsValid returns true if the kind is recognised.
func (k JobKind) IsValid() bool {
	switch k {
	case JobKindIngest, JobKindEmbed, JobKindReportSection, JobKindBatchSearch:
		return true
	default:
		return false
	}
}

// JobState is a position in the job state machine.
type JobState string

// Job states.
const (
	JobQueued      JobState = "queued"
	JobRunning     JobState = "running"
	JobSucceeded   JobState = "succeeded"
	JobFailed      JobState = "failed"
	JobFailedFinal JobState = "failed_final"
)

// IsTerminal returns true if no further transitions are possible.
func (s JobState) IsTerminal() bool {
	return s == JobSucceeded || s == JobFailedFinal
}

// IsValid returns true if the state is recognised.
func (s JobState) IsValid() bool {
	switch s {
	case JobQueued, JobRunning, JobSucceeded, JobFailed, JobFailedFinal:
		return true
	default:
		return false
	}
}

// jobTransitions lists allowed target states per source state.
// running -> queued is only taken by lease reclaim.
var jobTransitions = map[JobState][]JobState{
	JobQueued:  {JobRunning, JobFailedFinal},
	JobRunning: {JobSucceeded, JobFailed, JobFailedFinal, JobQueued},
	JobFailed:  {JobQueued, JobFailedFinal},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to JobState) bool {
	for _, s := range jobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// JobError is the structured error payload stored on a failed job.
type JobError struct {
	Kind    ErrorKind      `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// NewJobError converts any error into a JobError, keeping details of domain errors.
func NewJobError(err error) *JobError {
	if err == nil {
		return nil
	}
	je := &JobError{Kind: KindOf(err), Message: err.Error()}
	var de *Error
	if errors.As(err, &de) && len(de.Details) > 0 {
		je.Details = de.Details
		return je
	}
	var pf *PartialFailure
	if errors.As(err, &pf) {
		je.Details = map[string]any{
			"succeeded": pf.Succeeded,
			"failed":    pf.Failed,
		}
	}
	return je
}

// Job is a tracked unit of asynchronous work.
type Job struct {
	ID         string          `json:"id"`
	Kind       JobKind         `json:"kind"`
	State      JobState        `json:"state"`
	NotebookID string          `json:"notebook_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`

	// Result is present iff State is succeeded.
	Result json.RawMessage `json:"result,omitempty"`

	// Error is present iff State is failed or failed_final.
	Error *JobError `json:"error,omitempty"`

	// Attempts counts claims, including the current one.
	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`

	// Owner is the worker ID holding the lease while running.
	Owner          string    `json:"owner,omitempty"`
	LeaseExpiresAt time.Time `json:"lease_expires_at,omitempty"`

	// RunAfter delays re-queueing of a failed job.
	RunAfter time.Time `json:"run_after,omitempty"`

	CancelRequested bool `json:"cancel_requested,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DecodePayload unmarshals the job payload into v.
func (j *Job) DecodePayload(v any) error {
	if len(j.Payload) == 0 {
		return NewValidationError("job payload is empty", nil)
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return &Error{Kind: KindValidation, Op: "decode job payload", Err: err}
	}
	return nil
}

// JobFilter narrows job listings. Zero values match everything.
type JobFilter struct {
	Kind       JobKind
	State      JobState
	NotebookID string
	Limit      int
}

// JobConfig holds worker pool and retry settings.
type JobConfig struct {
	// Workers is the number of concurrent job workers.
	Workers int

	// PollInterval is how often idle workers look for queued jobs.
	PollInterval time.Duration

	// Lease is how long a claim stays valid without a heartbeat.
	Lease time.Duration

	// MaxAttempts bounds automatic retries (including the first run).
	MaxAttempts int

	// BackoffBase and BackoffMax shape exponential retry delays.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultJobConfig returns the default worker configuration.
func DefaultJobConfig() JobConfig {
	return JobConfig{
		Workers:      4,
		PollInterval: time.Second,
		Lease:        2 * time.Minute,
		MaxAttempts:  4,
		BackoffBase:  2 * time.Second,
		BackoffMax:   5 * time.Minute,
	}
}

// Backoff returns the delay before re-queueing after the given attempt (1-based).
func (c JobConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if c.BackoffMax > 0 && d >= c.BackoffMax {
			return c.BackoffMax
		}
	}
	if c.BackoffMax > 0 && d > c.BackoffMax {
		return c.BackoffMax
	}
	return d
}
