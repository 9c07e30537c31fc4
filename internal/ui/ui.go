// Package ui holds the terminal output styles shared by the tm
// commands.
package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	// TitleStyle renders section headings.
	TitleStyle = lipgloss.NewStyle().Bold(true)

	// SuccessStyle renders confirmations.
	SuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))

	// ErrorStyle renders failures.
	ErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)

	// WarnStyle renders pending or degraded states.
	WarnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

	// DimStyle renders secondary detail like ids and timestamps.
	DimStyle = lipgloss.NewStyle().Faint(true)

	// AccentStyle renders project names and filter expressions.
	AccentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// Plain reports whether the terminal cannot render styled output, in
// which case callers should emit unstyled text.
func Plain() bool {
	return termenv.EnvColorProfile() == termenv.Ascii
}

// Mark returns the success glyph, falling back to ASCII on terminals
// without color support.
func Mark() string {
	if Plain() {
		return "*"
	}
	return SuccessStyle.Render("✓")
}

// Checkbox renders the completion marker for a task list row.
func Checkbox(completed bool) string {
	if completed {
		return SuccessStyle.Render("[x]")
	}
	return "[ ]"
}

// TaskRow formats one task for list output.
func TaskRow(id, content, project, dueDate string, completed bool) string {
	row := fmt.Sprintf("%s %s", Checkbox(completed), content)
	if dueDate != "" {
		row += " " + WarnStyle.Render("due "+dueDate)
	}
	if project != "" {
		row += " " + AccentStyle.Render("#"+project)
	}
	row += " " + DimStyle.Render("^"+id)
	return row
}
