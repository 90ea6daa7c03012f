package memory

import (
	"context"
	"sort"
	"time"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// ==================== Report Templates ====================

// SaveTemplate stores or updates a template.
func (s *Store) SaveTemplate(_ context.Context, tmpl *domain.ReportTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tmpl.ID] = *tmpl
	return nil
}

// GetTemplate retrieves a template by ID.
func (s *Store) GetTemplate(_ context.Context, id string) (*domain.ReportTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tmpl, ok := s.templates[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &tmpl, nil
}

// ListTemplates returns all templates ordered by name.
func (s *Store) ListTemplates(_ context.Context) ([]domain.ReportTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.ReportTemplate, 0, len(s.templates))
	for _, t := range s.templates {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// ==================== Report Generations ====================

// CreateGeneration inserts a run and its sections.
func (s *Store) CreateGeneration(_ context.Context, gen *domain.ReportGeneration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.generations[gen.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.generations[gen.ID] = copyGeneration(*gen)
	return nil
}

// GetGeneration returns the run with its sections.
func (s *Store) GetGeneration(_ context.Context, id string) (*domain.ReportGeneration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gen, ok := s.generations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := copyGeneration(gen)
	return &out, nil
}

// UpdateSection writes one section's outcome.
func (s *Store) UpdateSection(_ context.Context, section *domain.ReportSection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.generations[section.GenerationID]
	if !ok {
		return domain.ErrNotFound
	}
	if section.Index < 0 || section.Index >= len(gen.Sections) {
		return domain.ErrNotFound
	}
	gen.Sections[section.Index] = *section
	gen.UpdatedAt = section.UpdatedAt
	s.generations[gen.ID] = gen
	return nil
}

// UpdateGenerationStatus sets the run status.
func (s *Store) UpdateGenerationStatus(_ context.Context, id string, status domain.ReportStatus, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.generations[id]
	if !ok {
		return domain.ErrNotFound
	}
	gen.Status = status
	gen.FinishedAt = finishedAt
	gen.UpdatedAt = time.Now()
	s.generations[id] = gen
	return nil
}

func copyGeneration(gen domain.ReportGeneration) domain.ReportGeneration {
	sections := make([]domain.ReportSection, len(gen.Sections))
	copy(sections, gen.Sections)
	gen.Sections = sections
	return gen
}
