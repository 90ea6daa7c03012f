// Package redisstream publishes core events to a Redis stream so processes
// outside folio can follow job and report progress.
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
)

var _ driven.EventPublisher = (*Publisher)(nil)

// Defaults.
const (
	DefaultStream = "folio:events"
	DefaultMaxLen = 10000
)

// XAdder is the part of the Redis client the publisher uses.
type XAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Publisher appends events to a Redis stream with XADD. Each entry carries
// the event type in a "type" field and the JSON event in "event".
type Publisher struct {
	client XAdder
	stream string
	maxLen int64
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithMaxLenApprox trims the stream to roughly n entries on each append.
// Zero disables trimming.
func WithMaxLenApprox(n int64) Option {
	return func(p *Publisher) {
		p.maxLen = n
	}
}

// New creates a publisher writing to stream.
func New(client XAdder, stream string, opts ...Option) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	p := &Publisher{client: client, stream: stream, maxLen: DefaultMaxLen}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dial connects to addr and verifies the server answers.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// Publish appends event to the stream.
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{"type": string(event.Type), "event": raw},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}
