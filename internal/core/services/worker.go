package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
	"github.com/custodia-labs/folio/internal/core/ports/driving"
	"github.com/custodia-labs/folio/internal/logger"
)

// Ensure Worker implements the interface.
var _ driving.WorkerService = (*Worker)(nil)

// JobHandler executes one job. The returned value is stored as the job result.
// Handlers must honour ctx: it is cancelled when the job is cancelled or the
// worker loses its lease.
type JobHandler func(ctx context.Context, job *domain.Job) (any, error)

// Worker runs a fixed-size pool that claims and executes queued jobs.
// Every state change goes through compare-and-set on the job store, so any
// number of Worker processes may share one store.
type Worker struct {
	config   domain.JobConfig
	store    driven.JobStore
	notifier *Notifier
	handlers map[domain.JobKind]JobHandler
	instance string
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewWorker creates a worker pool. Register handlers before Start.
func NewWorker(config domain.JobConfig, store driven.JobStore, notifier *Notifier) *Worker {
	defaults := domain.DefaultJobConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.Lease <= 0 {
		config.Lease = defaults.Lease
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = defaults.BackoffBase
	}

	host, _ := os.Hostname()
	return &Worker{
		config:   config,
		store:    store,
		notifier: notifier,
		handlers: make(map[domain.JobKind]JobHandler),
		instance: fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8]),
		now:      time.Now,
	}
}

// Register installs the handler for a job kind.
func (w *Worker) Register(kind domain.JobKind, handler JobHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[kind] = handler
}

// Kinds returns the job kinds this worker can execute.
func (w *Worker) Kinds() []domain.JobKind {
	w.mu.Lock()
	defer w.mu.Unlock()
	kinds := make([]domain.JobKind, 0, len(w.handlers))
	for k := range w.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Start runs the pool and the reaper. This method blocks until ctx is
// cancelled or Stop is called, then waits for in-flight jobs to settle.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil // Already running
	}
	w.running = true
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()

	logger.Info("worker: starting %d workers (lease %s)", w.config.Workers, w.config.Lease)

	// In-flight jobs finish even when the caller's context ends; the lease
	// bounds how long an abandoned job stays invisible.
	jobCtx := context.WithoutCancel(ctx)

	for i := 0; i < w.config.Workers; i++ {
		owner := fmt.Sprintf("%s/%d", w.instance, i)
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loop(ctx, jobCtx, stopCh, owner)
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.reapLoop(ctx, stopCh)
	}()

	select {
	case <-ctx.Done():
	case <-stopCh:
	}
	_ = w.Stop()
	return nil
}

// Stop signals the pool to finish and waits for in-flight jobs.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	logger.Info("worker: stopped")
	return nil
}

// IsRunning reports whether the pool is active.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// loop claims and runs jobs until stopped.
func (w *Worker) loop(ctx, jobCtx context.Context, stopCh <-chan struct{}, owner string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		if w.RunNext(jobCtx, owner) {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-time.After(w.config.PollInterval):
		}
	}
}

// reapLoop periodically reclaims expired leases and re-queues due retries.
func (w *Worker) reapLoop(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if err := w.Reap(ctx); err != nil {
				logger.Warn("worker: reap: %v", err)
			}
		}
	}
}

// Drain runs jobs on the calling goroutine until none is runnable.
// Due retries are re-queued between jobs. Returns the number of jobs run.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	owner := w.instance + "/drain"
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if err := w.Reap(ctx); err != nil {
			return count, err
		}
		if !w.RunNext(ctx, owner) {
			return count, nil
		}
		count++
	}
}

// RunNext claims one job and runs it to completion.
// It returns false when nothing was runnable.
func (w *Worker) RunNext(ctx context.Context, owner string) bool {
	job, err := w.store.ClaimNext(ctx, owner, w.Kinds(), w.config.Lease, w.now().UTC())
	if err != nil {
		logger.Warn("worker: claim: %v", err)
		return false
	}
	if job == nil {
		return false
	}
	w.execute(ctx, job, owner)
	return true
}

// execute runs a claimed job with a heartbeat and records its outcome.
func (w *Worker) execute(ctx context.Context, job *domain.Job, owner string) {
	log := logger.With(zap.String("job", job.ID), zap.String("kind", string(job.Kind)), zap.String("owner", owner))
	log.Debug("claimed", zap.Int("attempt", job.Attempts))
	w.notifier.JobChanged(ctx, job)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var leaseLost, cancelled atomic.Bool
	if job.CancelRequested {
		cancelled.Store(true)
		cancel()
	}

	hbDone := make(chan struct{})
	hbStopped := make(chan struct{})
	go func() {
		defer close(hbStopped)
		w.heartbeat(ctx, job, owner, hbDone, func(lost bool) {
			if lost {
				leaseLost.Store(true)
			} else {
				cancelled.Store(true)
			}
			cancel()
		})
	}()

	started := w.now()
	var result any
	var runErr error
	if !cancelled.Load() {
		result, runErr = w.invoke(runCtx, job)
	}
	close(hbDone)
	<-hbStopped

	if leaseLost.Load() {
		log.Warn("lease lost; discarding outcome")
		return
	}

	if cancelled.Load() {
		runErr = &domain.Error{Kind: domain.KindCancelled, Message: "cancelled by request"}
	}

	var finished *domain.Job
	var err error
	switch {
	case runErr == nil:
		finished, err = w.succeed(ctx, job, owner, result)
	default:
		finished, err = w.fail(ctx, job, owner, runErr)
	}
	if err != nil {
		if errors.Is(err, domain.ErrLeaseLost) {
			log.Warn("lease lost before completion")
			return
		}
		log.Error("record outcome", zap.Error(err))
		return
	}

	if m := w.notifier.Metrics(); m != nil {
		m.JobFinished(job.Kind, finished.State, w.now().Sub(started))
	}
	w.notifier.JobChanged(ctx, finished)
	if finished.Error != nil {
		log.Info("finished", zap.String("state", string(finished.State)), zap.String("error", finished.Error.Message))
	} else {
		log.Debug("finished", zap.String("state", string(finished.State)))
	}
}

// heartbeat renews the lease every lease/3 until done is closed. Cancel
// requests are polled every poll interval in between.
// stop(true) signals a lost lease; stop(false) a cancel request.
func (w *Worker) heartbeat(ctx context.Context, job *domain.Job, owner string, done <-chan struct{}, stop func(lost bool)) {
	interval := w.config.Lease / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var cancelCheck <-chan time.Time
	if poll := w.config.PollInterval; poll > 0 && poll < interval {
		cancelTicker := time.NewTicker(poll)
		defer cancelTicker.Stop()
		cancelCheck = cancelTicker.C
	}

	for {
		select {
		case <-done:
			return
		case <-cancelCheck:
			current, err := w.store.GetJob(ctx, job.ID)
			if err == nil && current.CancelRequested && current.Owner == owner {
				stop(false)
				return
			}
		case <-ticker.C:
			current, err := w.store.Heartbeat(ctx, job.ID, owner, w.config.Lease, w.now().UTC())
			switch {
			case errors.Is(err, domain.ErrLeaseLost), errors.Is(err, domain.ErrNotFound):
				stop(true)
				return
			case err != nil:
				logger.Warn("worker: heartbeat %s: %v", job.ID, err)
			case current.CancelRequested:
				stop(false)
				return
			}
		}
	}
}

// invoke calls the handler, turning a panic into an internal error.
func (w *Worker) invoke(ctx context.Context, job *domain.Job) (result any, err error) {
	w.mu.Lock()
	handler, ok := w.handlers[job.Kind]
	w.mu.Unlock()
	if !ok {
		return nil, domain.NewValidationError(fmt.Sprintf("no handler for job kind %q", job.Kind), nil)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker: job %s panicked: %v\n%s", job.ID, r, debug.Stack())
			err = &domain.Error{Kind: domain.KindInternal, Op: "run " + string(job.Kind), Message: fmt.Sprintf("panic: %v", r)}
		}
	}()

	return handler(ctx, job)
}

func (w *Worker) succeed(ctx context.Context, job *domain.Job, owner string, result any) (*domain.Job, error) {
	var raw json.RawMessage
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return w.fail(ctx, job, owner, &domain.Error{Kind: domain.KindInternal, Op: "encode job result", Err: err})
		}
		raw = encoded
	}
	return w.store.Transition(ctx, driven.JobTransition{
		ID:     job.ID,
		From:   domain.JobRunning,
		To:     domain.JobSucceeded,
		Owner:  owner,
		Result: raw,
		At:     w.now().UTC(),
	})
}

// fail records a failure: retryable errors with attempts left go to failed
// with a backoff, everything else to failed_final.
func (w *Worker) fail(ctx context.Context, job *domain.Job, owner string, runErr error) (*domain.Job, error) {
	now := w.now().UTC()
	t := driven.JobTransition{
		ID:    job.ID,
		From:  domain.JobRunning,
		To:    domain.JobFailedFinal,
		Owner: owner,
		Error: domain.NewJobError(runErr),
		At:    now,
	}
	if domain.IsRetryable(runErr) && job.Attempts < w.maxAttempts(job) {
		delay := w.config.Backoff(job.Attempts)
		if ra := domain.RetryAfterOf(runErr); ra > delay {
			delay = ra
		}
		t.To = domain.JobFailed
		t.RunAfter = now.Add(delay)
	}
	return w.store.Transition(ctx, t)
}

func (w *Worker) maxAttempts(job *domain.Job) int {
	if job.MaxAttempts > 0 {
		return job.MaxAttempts
	}
	return w.config.MaxAttempts
}

// Reap re-queues running jobs whose lease expired and failed jobs whose
// backoff elapsed. Reclaimed jobs out of attempts end in failed_final.
func (w *Worker) Reap(ctx context.Context) error {
	now := w.now().UTC()

	expired, err := w.store.ListExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("list expired jobs: %w", err)
	}
	for i := range expired {
		job := &expired[i]
		t := driven.JobTransition{
			ID:            job.ID,
			From:          domain.JobRunning,
			To:            domain.JobQueued,
			Owner:         job.Owner,
			ExpiredBefore: now,
			RunAfter:      now,
			At:            now,
		}
		switch {
		case job.CancelRequested:
			t.To = domain.JobFailedFinal
			t.Error = domain.NewJobError(&domain.Error{Kind: domain.KindCancelled, Message: "cancelled by request"})
		case job.Attempts >= w.maxAttempts(job):
			t.To = domain.JobFailedFinal
			t.Error = domain.NewJobError(&domain.Error{
				Kind:    domain.KindLeaseExpired,
				Message: fmt.Sprintf("lease expired after %d attempts", job.Attempts),
			})
		}
		updated, err := w.store.Transition(ctx, t)
		if errors.Is(err, domain.ErrLeaseLost) {
			continue // heartbeat or completion won the race
		}
		if err != nil {
			return fmt.Errorf("reclaim job %s: %w", job.ID, err)
		}
		logger.Info("worker: reclaimed job %s from %s -> %s", job.ID, job.Owner, updated.State)
		w.notifier.JobChanged(ctx, updated)
	}

	due, err := w.store.ListDueRetries(ctx, now)
	if err != nil {
		return fmt.Errorf("list due retries: %w", err)
	}
	for i := range due {
		updated, err := w.store.Transition(ctx, driven.JobTransition{
			ID:       due[i].ID,
			From:     domain.JobFailed,
			To:       domain.JobQueued,
			RunAfter: now,
			At:       now,
		})
		if errors.Is(err, domain.ErrLeaseLost) {
			continue
		}
		if err != nil {
			return fmt.Errorf("requeue job %s: %w", due[i].ID, err)
		}
		w.notifier.JobChanged(ctx, updated)
	}
	return nil
}
