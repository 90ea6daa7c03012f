package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
	"github.com/custodia-labs/folio/internal/logger"
)

var _ driven.EventPublisher = (*Broker)(nil)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Broker delivers events to in-process subscribers such as SSE clients.
// A subscriber that falls behind loses events rather than blocking the
// publisher.
type Broker struct {
	mu      sync.RWMutex
	subs    map[int]*subscriber
	nextID  int
	dropped atomic.Int64
}

type subscriber struct {
	ch     chan domain.Event
	filter func(domain.Event) bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]*subscriber)}
}

// Subscribe registers a subscriber. filter may be nil to receive every
// event. The channel is closed when ctx ends or the returned cancel is called.
func (b *Broker) Subscribe(ctx context.Context, filter func(domain.Event) bool) (<-chan domain.Event, func()) {
	sub := &subscriber{ch: make(chan domain.Event, DefaultBuffer), filter: filter}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return sub.ch, cancel
}

// Publish hands the event to every matching subscriber without blocking.
func (b *Broker) Publish(_ context.Context, event domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.filter != nil && !sub.filter(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
			logger.Debug("events: subscriber full, dropped %s", event.Type)
		}
	}
	return nil
}

// Subscribers returns the number of active subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}
