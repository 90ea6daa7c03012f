package ai

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
)

// Ensure the decorators implement the interfaces.
var (
	_ driven.EmbeddingService = (*ThrottledEmbedding)(nil)
	_ driven.LLMService       = (*ThrottledLLM)(nil)
	_ driven.TextStream       = (*throttledStream)(nil)
)

// Throttle bounds the requests made to one provider. It combines a
// proactive token bucket, a concurrency cap and a reactive pause set from
// Retry-After hints, so one rate-limited caller slows all of them.
type Throttle struct {
	provider string
	bucket   *rate.Limiter
	slots    chan struct{}
	metrics  driven.MetricsRecorder
	now      func() time.Time

	mu          sync.Mutex
	pausedUntil time.Time
}

// NewThrottle creates a throttle for provider. A nil metrics recorder is allowed.
func NewThrottle(provider domain.AIProvider, settings domain.ThrottleSettings, metrics driven.MetricsRecorder) *Throttle {
	defaults := domain.DefaultThrottleSettings()[provider]
	if settings.RequestsPerSecond <= 0 {
		settings.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if settings.Burst <= 0 {
		settings.Burst = defaults.Burst
	}
	if settings.MaxConcurrency <= 0 {
		settings.MaxConcurrency = defaults.MaxConcurrency
	}
	if settings.MaxConcurrency <= 0 {
		settings.MaxConcurrency = 1
	}
	if settings.Burst <= 0 {
		settings.Burst = 1
	}
	limit := rate.Limit(settings.RequestsPerSecond)
	if settings.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &Throttle{
		provider: string(provider),
		bucket:   rate.NewLimiter(limit, settings.Burst),
		slots:    make(chan struct{}, settings.MaxConcurrency),
		metrics:  metrics,
		now:      time.Now,
	}
}

// acquire waits for a concurrency slot, any active pause and a token.
// The returned release must be called exactly once.
func (t *Throttle) acquire(ctx context.Context) (func(), error) {
	select {
	case t.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	release := func() { once.Do(func() { <-t.slots }) }

	if err := t.waitPause(ctx); err != nil {
		release()
		return nil, err
	}
	if err := t.bucket.Wait(ctx); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

func (t *Throttle) waitPause(ctx context.Context) error {
	t.mu.Lock()
	until := t.pausedUntil
	t.mu.Unlock()

	wait := until.Sub(t.now())
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// observe records a finished call and extends the pause when the provider
// asked callers to back off.
func (t *Throttle) observe(op string, err error, started time.Time) {
	if t.metrics != nil {
		t.metrics.ProviderCall(t.provider, op, err, t.now().Sub(started))
	}
	if ra := domain.RetryAfterOf(err); ra > 0 {
		until := t.now().Add(ra)
		t.mu.Lock()
		if until.After(t.pausedUntil) {
			t.pausedUntil = until
		}
		t.mu.Unlock()
	}
}

// ThrottledEmbedding applies a Throttle to an embedding service.
type ThrottledEmbedding struct {
	driven.EmbeddingService
	throttle *Throttle
}

// NewThrottledEmbedding wraps svc.
func NewThrottledEmbedding(svc driven.EmbeddingService, throttle *Throttle) *ThrottledEmbedding {
	return &ThrottledEmbedding{EmbeddingService: svc, throttle: throttle}
}

// Embed embeds one text under the throttle.
func (e *ThrottledEmbedding) Embed(ctx context.Context, text string) ([]float32, error) {
	release, err := e.throttle.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	started := e.throttle.now()
	vec, err := e.EmbeddingService.Embed(ctx, text)
	e.throttle.observe("embed", err, started)
	return vec, err
}

// EmbedBatch embeds a batch under the throttle. A batch costs one token.
func (e *ThrottledEmbedding) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	release, err := e.throttle.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	started := e.throttle.now()
	vecs, err := e.EmbeddingService.EmbedBatch(ctx, texts)
	e.throttle.observe("embed_batch", err, started)
	return vecs, err
}

// ThrottledLLM applies a Throttle to an LLM service.
type ThrottledLLM struct {
	driven.LLMService
	throttle *Throttle
}

// NewThrottledLLM wraps svc.
func NewThrottledLLM(svc driven.LLMService, throttle *Throttle) *ThrottledLLM {
	return &ThrottledLLM{LLMService: svc, throttle: throttle}
}

// Generate runs one completion under the throttle.
func (l *ThrottledLLM) Generate(ctx context.Context, prompt string, opts driven.GenerateOptions) (string, error) {
	release, err := l.throttle.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	started := l.throttle.now()
	out, err := l.LLMService.Generate(ctx, prompt, opts)
	l.throttle.observe("generate", err, started)
	return out, err
}

// Stream starts a stream under the throttle. The concurrency slot is held
// until the stream ends or is closed.
func (l *ThrottledLLM) Stream(ctx context.Context, messages []driven.ChatMessage, opts driven.ChatOptions) (driven.TextStream, error) {
	release, err := l.throttle.acquire(ctx)
	if err != nil {
		return nil, err
	}

	started := l.throttle.now()
	stream, err := l.LLMService.Stream(ctx, messages, opts)
	if err != nil {
		l.throttle.observe("stream", err, started)
		release()
		return nil, err
	}
	return &throttledStream{TextStream: stream, throttle: l.throttle, release: release, started: started}, nil
}

type throttledStream struct {
	driven.TextStream
	throttle *Throttle
	release  func()
	started  time.Time
	once     sync.Once
}

func (s *throttledStream) Recv() (string, error) {
	part, err := s.TextStream.Recv()
	if err != nil {
		s.finish(err)
	}
	return part, err
}

func (s *throttledStream) Close() error {
	err := s.TextStream.Close()
	s.finish(nil)
	return err
}

func (s *throttledStream) finish(err error) {
	s.once.Do(func() {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		s.throttle.observe("stream", err, s.started)
		s.release()
	})
}
