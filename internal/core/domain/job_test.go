package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to JobState }{
		{JobQueued, JobRunning},
		{JobQueued, JobFailedFinal},
		{JobRunning, JobSucceeded},
		{JobRunning, JobFailed},
		{JobRunning, JobFailedFinal},
		{JobRunning, JobQueued},
		{JobFailed, JobQueued},
		{JobFailed, JobFailedFinal},
	}
	for _, tt := range allowed {
		assert.True(t, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	forbidden := []struct{ from, to JobState }{
		{JobSucceeded, JobQueued},
		{JobSucceeded, JobRunning},
		{JobFailedFinal, JobQueued},
		{JobFailedFinal, JobRunning},
		{JobQueued, JobSucceeded},
		{JobFailed, JobSucceeded},
	}
	for _, tt := range forbidden {
		assert.False(t, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestJobState_IsTerminal(t *testing.T) {
	assert.True(t, JobSucceeded.IsTerminal())
	assert.True(t, JobFailedFinal.IsTerminal())
	assert.False(t, JobFailed.IsTerminal())
	assert.False(t, JobQueued.IsTerminal())
	assert.False(t, JobRunning.IsTerminal())
}

func TestJobConfig_Backoff(t *testing.T) {
	cfg := JobConfig{BackoffBase: time.Second, BackoffMax: 10 * time.Second}

	assert.Equal(t, time.Second, cfg.Backoff(0))
	assert.Equal(t, time.Second, cfg.Backoff(1))
	assert.Equal(t, 2*time.Second, cfg.Backoff(2))
	assert.Equal(t, 4*time.Second, cfg.Backoff(3))
	assert.Equal(t, 8*time.Second, cfg.Backoff(4))
	assert.Equal(t, 10*time.Second, cfg.Backoff(5))
	assert.Equal(t, 10*time.Second, cfg.Backoff(50))
}

func TestNewJobError(t *testing.T) {
	assert.Nil(t, NewJobError(nil))

	je := NewJobError(NewValidationError("bad template", map[string]string{"name": "required"}))
	assert.Equal(t, KindValidation, je.Kind)
	assert.Contains(t, je.Details, "fields")

	je = NewJobError(&PartialFailure{Op: "embed", Succeeded: []string{"a"}, Failed: map[string]string{"b": "x"}})
	assert.Equal(t, KindPartialFailure, je.Kind)
	assert.Equal(t, []string{"a"}, je.Details["succeeded"])

	je = NewJobError(errors.New("boom"))
	assert.Equal(t, KindInternal, je.Kind)
	assert.Equal(t, "boom", je.Message)
}

func TestNewJobError_Wrapped(t *testing.T) {
	pf := &PartialFailure{Op: "embed", Succeeded: []string{"a"}, Failed: map[string]string{"b": "x"}}
	je := NewJobError(fmt.Errorf("embed document: %w", pf))
	assert.Equal(t, KindPartialFailure, je.Kind)
	assert.Equal(t, []string{"a"}, je.Details["succeeded"])
	assert.Equal(t, map[string]string{"b": "x"}, je.Details["failed"])

	joined := errors.Join(
		NewValidationError("bad template", map[string]string{"name": "required"}),
		errors.New("update section: locked"),
	)
	je = NewJobError(joined)
	assert.Equal(t, KindValidation, je.Kind)
	assert.Contains(t, je.Details, "fields")
}

func TestJob_DecodePayload(t *testing.T) {
	job := &Job{Payload: []byte(`{"document_id":"d1"}`)}
	var p struct {
		DocumentID string `json:"document_id"`
	}
	require.NoError(t, job.DecodePayload(&p))
	assert.Equal(t, "d1", p.DocumentID)

	empty := &Job{}
	err := empty.DecodePayload(&p)
	assert.True(t, errors.Is(err, ErrValidation))

	bad := &Job{Payload: []byte(`{`)}
	err = bad.DecodePayload(&p)
	assert.True(t, errors.Is(err, ErrValidation))
}
