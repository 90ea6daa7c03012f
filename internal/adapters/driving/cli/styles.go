package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// Palette.
var (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorMuted   = lipgloss.Color("#6C7086")
	colorSuccess = lipgloss.Color("#A6E3A1")
	colorWarning = lipgloss.Color("#F9E2AF")
	colorError   = lipgloss.Color("#F38BA8")
	colorInfo    = lipgloss.Color("#06B6D4")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	infoStyle    = lipgloss.NewStyle().Foreground(colorInfo)
)

// stateStyle colours a job, report or section state. The three state
// machines share their value names.
func stateStyle(state string) lipgloss.Style {
	switch state {
	case string(domain.JobSucceeded):
		return successStyle
	case string(domain.JobFailedFinal), string(domain.SectionFailed):
		return errorStyle
	case string(domain.ReportPartial):
		return warningStyle
	case string(domain.JobRunning):
		return infoStyle
	default:
		return mutedStyle
	}
}

// badge renders a state padded to a fixed width so columns line up.
func badge(state string) string {
	return stateStyle(state).Width(12).Render(state)
}
