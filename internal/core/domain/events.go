package domain

import "time"

// EventType names a notification emitted by the core.
type EventType string

// Event types.
const (
	EventJobStateChanged  EventType = "job.state_changed"
	EventSectionCompleted EventType = "report.section_completed"
)

// Event is a notification delivered through the EventPublisher port.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`

	// Job fields are set for job.state_changed.
	JobID    string   `json:"job_id,omitempty"`
	JobKind  JobKind  `json:"job_kind,omitempty"`
	State    JobState `json:"state,omitempty"`
	Attempts int      `json:"attempts,omitempty"`

	// Report fields are set for report.section_completed.
	GenerationID  string        `json:"generation_id,omitempty"`
	SectionIndex  int           `json:"section_index,omitempty"`
	SectionStatus SectionStatus `json:"section_status,omitempty"`

	NotebookID string    `json:"notebook_id,omitempty"`
	Error      *JobError `json:"error,omitempty"`
}
