package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/folio/internal/core/domain"
	"github.com/custodia-labs/folio/internal/core/ports/driven"
	"github.com/custodia-labs/folio/internal/logger"
)

// Notifier publishes events and records metrics for state changes.
// Both sinks are optional; a nil Notifier is valid and does nothing.
type Notifier struct {
	events  driven.EventPublisher
	metrics driven.MetricsRecorder
}

// NewNotifier creates a notifier. Either argument may be nil.
func NewNotifier(events driven.EventPublisher, metrics driven.MetricsRecorder) *Notifier {
	return &Notifier{events: events, metrics: metrics}
}

// Metrics returns the configured recorder, or nil.
func (n *Notifier) Metrics() driven.MetricsRecorder {
	if n == nil {
		return nil
	}
	return n.metrics
}

// JobChanged announces that a job entered its current state.
func (n *Notifier) JobChanged(ctx context.Context, job *domain.Job) {
	if n == nil || job == nil {
		return
	}
	if n.metrics != nil {
		n.metrics.JobTransitioned(job.Kind, job.State)
	}
	n.publish(ctx, domain.Event{
		Type:       domain.EventJobStateChanged,
		JobID:      job.ID,
		JobKind:    job.Kind,
		State:      job.State,
		Attempts:   job.Attempts,
		NotebookID: job.NotebookID,
		Error:      job.Error,
	})
}

// SectionCompleted announces that a report section reached a terminal status.
func (n *Notifier) SectionCompleted(ctx context.Context, gen *domain.ReportGeneration, section *domain.ReportSection) {
	if n == nil || section == nil {
		return
	}
	event := domain.Event{
		Type:          domain.EventSectionCompleted,
		GenerationID:  section.GenerationID,
		SectionIndex:  section.Index,
		SectionStatus: section.Status,
		JobID:         section.JobID,
		Error:         section.Error,
	}
	if gen != nil {
		event.NotebookID = gen.NotebookID
	}
	n.publish(ctx, event)
}

func (n *Notifier) publish(ctx context.Context, event domain.Event) {
	if n.events == nil {
		return
	}
	event.ID = uuid.NewString()
	event.OccurredAt = time.Now().UTC()
	if err := n.events.Publish(ctx, event); err != nil {
		logger.Warn("publish %s: %v", event.Type, err)
	}
}
