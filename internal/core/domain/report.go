package domain

import "time"

// SectionSpec describes how to produce one report section.
type SectionSpec struct {
	// Name is the section heading.
	Name string `json:"name" yaml:"name" validate:"required"`

	// QueryTemplate is rendered with run parameters to build the retrieval query.
	// Uses Go text/template syntax, e.g. "obligations of {{.party}}".
	QueryTemplate string `json:"query_template" yaml:"query_template" validate:"required"`

	// Instructions tell the provider what to write.
	Instructions string `json:"instructions" yaml:"instructions" validate:"required"`

	// TopK overrides the retrieval default when positive.
	TopK int `json:"top_k,omitempty" yaml:"top_k,omitempty" validate:"gte=0,lte=100"`

	// Threshold overrides the retrieval default when set.
	Threshold *float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// ReportTemplate is an ordered sequence of section specifications.
type ReportTemplate struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name" validate:"required"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Sections    []SectionSpec `json:"sections" yaml:"sections" validate:"required,min=1,dive"`
	CreatedAt   time.Time     `json:"created_at" yaml:"-"`
}

// ReportStatus is the overall state of a generation run.
type ReportStatus string

// Report statuses.
const (
	ReportRunning   ReportStatus = "running"
	ReportSucceeded ReportStatus = "succeeded"
	ReportPartial   ReportStatus = "partial"
)

// SectionStatus is the state of one section within a run.
type SectionStatus string

// Section statuses.
const (
	SectionPending   SectionStatus = "pending"
	SectionRunning   SectionStatus = "running"
	SectionSucceeded SectionStatus = "succeeded"
	SectionFailed    SectionStatus = "failed"
)

// IsTerminal returns true once the section has an outcome.
func (s SectionStatus) IsTerminal() bool {
	return s == SectionSucceeded || s == SectionFailed
}

// ReportSection is the result of one section.
type ReportSection struct {
	GenerationID string        `json:"generation_id"`
	Index        int           `json:"index"`
	Name         string        `json:"name"`
	Status       SectionStatus `json:"status"`
	Text         string        `json:"text,omitempty"`
	Citations    []Citation    `json:"citations,omitempty"`
	Error        *JobError     `json:"error,omitempty"`

	// JobID is the most recent job that ran this section.
	JobID     string    `json:"job_id,omitempty"`
	Attempts  int       `json:"attempts"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReportGeneration is one run of a template against a notebook.
type ReportGeneration struct {
	ID         string            `json:"id"`
	TemplateID string            `json:"template_id"`
	NotebookID string            `json:"notebook_id"`
	Params     map[string]string `json:"params,omitempty"`

	// Template is the snapshot the run was started from.
	Template ReportTemplate `json:"template"`

	Status     ReportStatus    `json:"status"`
	Sections   []ReportSection `json:"sections"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
}

// ComputeReportStatus derives the run status from its sections.
// Running until every section is terminal; then succeeded only if all succeeded.
func ComputeReportStatus(sections []ReportSection) ReportStatus {
	if len(sections) == 0 {
		return ReportSucceeded
	}
	allSucceeded := true
	for _, s := range sections {
		if !s.Status.IsTerminal() {
			return ReportRunning
		}
		if s.Status != SectionSucceeded {
			allSucceeded = false
		}
	}
	if allSucceeded {
		return ReportSucceeded
	}
	return ReportPartial
}

// FailedSections returns the indexes of sections that need a retry.
func (g *ReportGeneration) FailedSections() []int {
	var idx []int
	for _, s := range g.Sections {
		if s.Status == SectionFailed {
			idx = append(idx, s.Index)
		}
	}
	return idx
}
