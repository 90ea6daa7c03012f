package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
	"github.com/custodia-labs/folio/internal/logger"
)

var _ driven.EventPublisher = (*LogPublisher)(nil)

// LogPublisher writes each event to the debug log. It is the fallback when
// no external transport is configured.
type LogPublisher struct{}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

// Publish logs the event.
func (p *LogPublisher) Publish(_ context.Context, event domain.Event) error {
	fields := []zap.Field{zap.String("event", string(event.Type))}
	if event.JobID != "" {
		fields = append(fields, zap.String("job_id", event.JobID), zap.String("state", string(event.State)))
	}
	if event.GenerationID != "" {
		fields = append(fields,
			zap.String("generation_id", event.GenerationID),
			zap.Int("section", event.SectionIndex),
			zap.String("section_status", string(event.SectionStatus)))
	}
	logger.With(fields...).Debug("event published")
	return nil
}
