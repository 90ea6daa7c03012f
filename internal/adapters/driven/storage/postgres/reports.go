package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// ==================== Report Templates ====================

type templateRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Sections    []byte    `db:"sections"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r templateRow) toDomain() (*domain.ReportTemplate, error) {
	tmpl := &domain.ReportTemplate{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if err := decodeJSON(r.Sections, &tmpl.Sections); err != nil {
		return nil, fmt.Errorf("unmarshalling sections: %w", err)
	}
	return tmpl, nil
}

// SaveTemplate stores or updates a template.
func (s *Store) SaveTemplate(ctx context.Context, tmpl *domain.ReportTemplate) error {
	sections, err := jsonValue(tmpl.Sections)
	if err != nil {
		return fmt.Errorf("marshalling sections: %w", err)
	}
	if sections == nil {
		sections = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO report_templates (id, name, description, sections, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			sections = EXCLUDED.sections
	`, tmpl.ID, tmpl.Name, tmpl.Description, sections, tmpl.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving template: %w", err)
	}
	return nil
}

// GetTemplate retrieves a template by ID.
func (s *Store) GetTemplate(ctx context.Context, id string) (*domain.ReportTemplate, error) {
	var row templateRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM report_templates WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	return row.toDomain()
}

// ListTemplates returns all templates ordered by name.
func (s *Store) ListTemplates(ctx context.Context) ([]domain.ReportTemplate, error) {
	var rows []templateRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM report_templates ORDER BY name, id`); err != nil {
		return nil, fmt.Errorf("querying templates: %w", err)
	}
	templates := make([]domain.ReportTemplate, 0, len(rows))
	for _, r := range rows {
		tmpl, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		templates = append(templates, *tmpl)
	}
	return templates, nil
}

// ==================== Report Generations ====================

type generationRow struct {
	ID         string       `db:"id"`
	TemplateID string       `db:"template_id"`
	NotebookID string       `db:"notebook_id"`
	Params     []byte       `db:"params"`
	Template   []byte       `db:"template"`
	Status     string       `db:"status"`
	CreatedAt  time.Time    `db:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at"`
	FinishedAt sql.NullTime `db:"finished_at"`
}

type sectionRow struct {
	GenerationID string    `db:"generation_id"`
	Index        int       `db:"idx"`
	Name         string    `db:"name"`
	Status       string    `db:"status"`
	Text         string    `db:"text"`
	Citations    []byte    `db:"citations"`
	Error        []byte    `db:"error"`
	JobID        string    `db:"job_id"`
	Attempts     int       `db:"attempts"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r sectionRow) toDomain() (domain.ReportSection, error) {
	sec := domain.ReportSection{
		GenerationID: r.GenerationID,
		Index:        r.Index,
		Name:         r.Name,
		Status:       domain.SectionStatus(r.Status),
		Text:         r.Text,
		JobID:        r.JobID,
		Attempts:     r.Attempts,
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if err := decodeJSON(r.Citations, &sec.Citations); err != nil {
		return sec, fmt.Errorf("unmarshalling citations: %w", err)
	}
	if len(r.Error) > 0 {
		sec.Error = &domain.JobError{}
		if err := decodeJSON(r.Error, sec.Error); err != nil {
			return sec, fmt.Errorf("unmarshalling section error: %w", err)
		}
	}
	return sec, nil
}

// CreateGeneration inserts a run and its sections in one transaction.
func (s *Store) CreateGeneration(ctx context.Context, gen *domain.ReportGeneration) error {
	params, err := jsonValue(gen.Params)
	if err != nil {
		return fmt.Errorf("marshalling params: %w", err)
	}
	template, err := jsonValue(gen.Template)
	if err != nil {
		return fmt.Errorf("marshalling template: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO report_generations (id, template_id, notebook_id, params, template, status,
			created_at, updated_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, gen.ID, gen.TemplateID, gen.NotebookID, params, template, string(gen.Status),
		gen.CreatedAt.UTC(), gen.UpdatedAt.UTC(), timeOrNull(gen.FinishedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("creating generation: %w", err)
	}

	for i := range gen.Sections {
		if err := upsertSection(ctx, tx, &gen.Sections[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetGeneration returns the run with sections ordered by index.
func (s *Store) GetGeneration(ctx context.Context, id string) (*domain.ReportGeneration, error) {
	var row generationRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM report_generations WHERE id = $1`, id); err != nil {
		return nil, notFound(err)
	}
	gen := &domain.ReportGeneration{
		ID:         row.ID,
		TemplateID: row.TemplateID,
		NotebookID: row.NotebookID,
		Status:     domain.ReportStatus(row.Status),
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
		FinishedAt: fromNull(row.FinishedAt),
	}
	if err := decodeJSON(row.Params, &gen.Params); err != nil {
		return nil, fmt.Errorf("unmarshalling params: %w", err)
	}
	if err := decodeJSON(row.Template, &gen.Template); err != nil {
		return nil, fmt.Errorf("unmarshalling template: %w", err)
	}

	var sections []sectionRow
	if err := s.db.SelectContext(ctx, &sections, `
		SELECT * FROM report_sections WHERE generation_id = $1 ORDER BY idx
	`, id); err != nil {
		return nil, fmt.Errorf("querying sections: %w", err)
	}
	gen.Sections = make([]domain.ReportSection, 0, len(sections))
	for _, r := range sections {
		sec, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		gen.Sections = append(gen.Sections, sec)
	}
	return gen, nil
}

// UpdateSection writes one section's outcome.
func (s *Store) UpdateSection(ctx context.Context, section *domain.ReportSection) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists bool
	if err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM report_sections WHERE generation_id = $1 AND idx = $2)
	`, section.GenerationID, section.Index); err != nil {
		return fmt.Errorf("checking section: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	if err := upsertSection(ctx, tx, section); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE report_generations SET updated_at = $1 WHERE id = $2`,
		section.UpdatedAt.UTC(), section.GenerationID); err != nil {
		return fmt.Errorf("touching generation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// UpdateGenerationStatus sets the run status.
func (s *Store) UpdateGenerationStatus(ctx context.Context, id string, status domain.ReportStatus, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE report_generations SET status = $1, finished_at = $2, updated_at = now() WHERE id = $3
	`, string(status), timeOrNull(finishedAt), id)
	if err != nil {
		return fmt.Errorf("updating generation status: %w", err)
	}
	return requireAffected(res)
}

func upsertSection(ctx context.Context, tx *sqlx.Tx, sec *domain.ReportSection) error {
	citations, err := jsonValue(sec.Citations)
	if err != nil {
		return fmt.Errorf("marshalling citations: %w", err)
	}
	errJSON, err := jsonValue(sec.Error)
	if err != nil {
		return fmt.Errorf("marshalling section error: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO report_sections (generation_id, idx, name, status, text, citations, error,
			job_id, attempts, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (generation_id, idx) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			text = EXCLUDED.text,
			citations = EXCLUDED.citations,
			error = EXCLUDED.error,
			job_id = EXCLUDED.job_id,
			attempts = EXCLUDED.attempts,
			updated_at = EXCLUDED.updated_at
	`, sec.GenerationID, sec.Index, sec.Name, string(sec.Status), sec.Text, citations, errJSON,
		sec.JobID, sec.Attempts, sec.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving section: %w", err)
	}
	return nil
}
