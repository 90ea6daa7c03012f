package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// ==================== Report Templates ====================

// SaveTemplate stores or updates a template.
func (s *Store) SaveTemplate(ctx context.Context, tmpl *domain.ReportTemplate) error {
	sectionsJSON, err := toJSON(tmpl.Sections)
	if err != nil {
		return fmt.Errorf("marshalling sections: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO report_templates (id, name, description, sections, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			sections = excluded.sections
	`, tmpl.ID, tmpl.Name, tmpl.Description, sectionsJSON, tmpl.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving template: %w", err)
	}
	return nil
}

// GetTemplate retrieves a template by ID.
func (s *Store) GetTemplate(ctx context.Context, id string) (*domain.ReportTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, sections, created_at FROM report_templates WHERE id = ?
	`, id)
	return scanTemplate(row)
}

// ListTemplates returns all templates ordered by name.
func (s *Store) ListTemplates(ctx context.Context) ([]domain.ReportTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, sections, created_at FROM report_templates ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying templates: %w", err)
	}
	defer rows.Close()

	var templates []domain.ReportTemplate //nolint:prealloc // size unknown from query
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating templates: %w", err)
	}
	return templates, nil
}

func scanTemplate(row scanner) (*domain.ReportTemplate, error) {
	var tmpl domain.ReportTemplate
	var sectionsJSON sql.NullString
	var createdAt int64
	if err := row.Scan(&tmpl.ID, &tmpl.Name, &tmpl.Description, &sectionsJSON, &createdAt); err != nil {
		if err = notFound(err); err == domain.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scanning template: %w", err)
	}
	if err := fromJSON(sectionsJSON, &tmpl.Sections); err != nil {
		return nil, fmt.Errorf("unmarshalling sections: %w", err)
	}
	tmpl.CreatedAt = millis(createdAt)
	return &tmpl, nil
}

// ==================== Report Generations ====================

// CreateGeneration inserts a run and its sections in one transaction.
func (s *Store) CreateGeneration(ctx context.Context, gen *domain.ReportGeneration) error {
	paramsJSON, err := toJSON(gen.Params)
	if err != nil {
		return fmt.Errorf("marshalling params: %w", err)
	}
	templateJSON, err := toJSON(gen.Template)
	if err != nil {
		return fmt.Errorf("marshalling template: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO report_generations (id, template_id, notebook_id, params, template, status,
			created_at, updated_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, gen.ID, gen.TemplateID, gen.NotebookID, paramsJSON, templateJSON, string(gen.Status),
		gen.CreatedAt.UnixMilli(), gen.UpdatedAt.UnixMilli(), toMillis(gen.FinishedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
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
	var gen domain.ReportGeneration
	var status string
	var paramsJSON, templateJSON sql.NullString
	var createdAt, updatedAt int64
	var finishedAt sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT id, template_id, notebook_id, params, template, status, created_at, updated_at, finished_at
		FROM report_generations WHERE id = ?
	`, id).Scan(&gen.ID, &gen.TemplateID, &gen.NotebookID, &paramsJSON, &templateJSON, &status,
		&createdAt, &updatedAt, &finishedAt)
	if err != nil {
		if err = notFound(err); err == domain.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scanning generation: %w", err)
	}
	if err := fromJSON(paramsJSON, &gen.Params); err != nil {
		return nil, fmt.Errorf("unmarshalling params: %w", err)
	}
	if err := fromJSON(templateJSON, &gen.Template); err != nil {
		return nil, fmt.Errorf("unmarshalling template: %w", err)
	}
	gen.Status = domain.ReportStatus(status)
	gen.CreatedAt = millis(createdAt)
	gen.UpdatedAt = millis(updatedAt)
	gen.FinishedAt = fromMillis(finishedAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT generation_id, idx, name, status, text, citations, error, job_id, attempts, updated_at
		FROM report_sections WHERE generation_id = ? ORDER BY idx
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying sections: %w", err)
	}
	defer rows.Close()

	gen.Sections = []domain.ReportSection{}
	for rows.Next() {
		var sec domain.ReportSection
		var secStatus string
		var citationsJSON, errJSON sql.NullString
		var secUpdated int64
		if err := rows.Scan(&sec.GenerationID, &sec.Index, &sec.Name, &secStatus, &sec.Text,
			&citationsJSON, &errJSON, &sec.JobID, &sec.Attempts, &secUpdated); err != nil {
			return nil, fmt.Errorf("scanning section: %w", err)
		}
		sec.Status = domain.SectionStatus(secStatus)
		if err := fromJSON(citationsJSON, &sec.Citations); err != nil {
			return nil, fmt.Errorf("unmarshalling citations: %w", err)
		}
		if errJSON.Valid {
			sec.Error = &domain.JobError{}
			if err := fromJSON(errJSON, sec.Error); err != nil {
				return nil, fmt.Errorf("unmarshalling section error: %w", err)
			}
		}
		sec.UpdatedAt = millis(secUpdated)
		gen.Sections = append(gen.Sections, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sections: %w", err)
	}
	return &gen, nil
}

// UpdateSection writes one section's outcome.
func (s *Store) UpdateSection(ctx context.Context, section *domain.ReportSection) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var n int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM report_sections WHERE generation_id = ? AND idx = ?
	`, section.GenerationID, section.Index).Scan(&n); err != nil {
		return fmt.Errorf("checking section: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	if err := upsertSection(ctx, tx, section); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE report_generations SET updated_at = ? WHERE id = ?",
		section.UpdatedAt.UnixMilli(), section.GenerationID); err != nil {
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
		UPDATE report_generations SET status = ?, finished_at = ?, updated_at = ? WHERE id = ?
	`, string(status), toMillis(finishedAt), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("updating generation status: %w", err)
	}
	return requireAffected(res)
}

func upsertSection(ctx context.Context, tx *sql.Tx, sec *domain.ReportSection) error {
	citationsJSON, err := toJSON(sec.Citations)
	if err != nil {
		return fmt.Errorf("marshalling citations: %w", err)
	}
	errJSON, err := toJSON(sec.Error)
	if err != nil {
		return fmt.Errorf("marshalling section error: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO report_sections (generation_id, idx, name, status, text, citations, error,
			job_id, attempts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(generation_id, idx) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			text = excluded.text,
			citations = excluded.citations,
			error = excluded.error,
			job_id = excluded.job_id,
			attempts = excluded.attempts,
			updated_at = excluded.updated_at
	`, sec.GenerationID, sec.Index, sec.Name, string(sec.Status), sec.Text, citationsJSON, errJSON,
		sec.JobID, sec.Attempts, sec.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving section: %w", err)
	}
	return nil
}
