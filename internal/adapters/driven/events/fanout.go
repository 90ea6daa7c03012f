package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
)

var _ driven.EventPublisher = (Fanout)(nil)

// Fanout publishes every event to each of its publishers. All publishers
// are tried even when one fails.
type Fanout []driven.EventPublisher

// Publish delivers event to every publisher and joins their errors.
func (f Fanout) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for i, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("publisher %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
