package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/ldi/taskflow/internal/ui/components"
	"github.com/ldi/taskflow/pkg/models"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Overall returns the mean task percentage of a report as a fraction.
func Overall(entries []models.ProgressEntry) float64 {
	if len(entries) == 0 {
		return 0
	}
	var sum int
	for _, e := range entries {
		sum += e.Percentage
	}
	return float64(sum) / float64(len(entries)) / 100
}

func summary(entries []models.ProgressEntry) string {
	var done, approved int
	for _, e := range entries {
		if e.Status == models.TaskStatusCompleted {
			done++
		}
		if e.Approved {
			approved++
		}
	}
	return fmt.Sprintf("%d/%d completed, %d approved", done, len(entries), approved)
}

func newBar(width int) progress.Model {
	return progress.New(progress.WithDefaultGradient(), progress.WithWidth(max(width-4, 10)))
}

// RenderReport renders a request progress report for one-shot output.
func RenderReport(requestID string, entries []models.ProgressEntry, width int) string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("Request " + requestID))
	s.WriteString("\n")
	s.WriteString(newBar(width).ViewAs(Overall(entries)))
	s.WriteString("\n")
	s.WriteString(mutedStyle.Render(summary(entries)))
	s.WriteString("\n\n")

	board := components.NewTaskBoard(width)
	board.Title = ""
	board.SetEntries(entries)
	s.WriteString(board.View())
	s.WriteString("\n")

	return s.String()
}
