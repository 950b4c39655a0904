package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ldi/taskflow/pkg/models"
)

var (
	doneBoxStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("42")).
			Padding(0, 1)

	activeBoxStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)

	openBoxStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	blockedBoxStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("196")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	subTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	placeholderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Italic(true).
				Padding(0, 1)
)

// TaskBoard renders a progress report grouped by task status.
type TaskBoard struct {
	Entries []models.ProgressEntry
	Width   int
	Title   string
}

func NewTaskBoard(width int) *TaskBoard {
	return &TaskBoard{Width: width, Title: "Tasks"}
}

func (b *TaskBoard) SetEntries(entries []models.ProgressEntry) {
	b.Entries = entries
}

type section struct {
	title  string
	status models.TaskStatus
	style  lipgloss.Style
	icon   string
}

var sections = []section{
	{"In Progress", models.TaskStatusInProgress, activeBoxStyle, "▶"},
	{"Pending", models.TaskStatusPending, openBoxStyle, "○"},
	{"Blocked", models.TaskStatusBlocked, blockedBoxStyle, "✗"},
	{"Completed", models.TaskStatusCompleted, doneBoxStyle, "✓"},
}

func (b *TaskBoard) View() string {
	var boxes []string
	for _, sec := range sections {
		var entries []models.ProgressEntry
		for _, e := range b.Entries {
			if e.Status == sec.status {
				entries = append(entries, e)
			}
		}
		if len(entries) > 0 {
			boxes = append(boxes, b.renderBox(sec, entries))
		}
	}

	var content string
	if len(boxes) == 0 {
		content = placeholderStyle.Render("No tasks yet")
	} else {
		content = strings.Join(boxes, "\n")
	}

	if b.Title != "" {
		return headerStyle.Render(b.Title) + "\n" + content
	}
	return content
}

func (b *TaskBoard) renderBox(sec section, entries []models.ProgressEntry) string {
	subTitle := subTitleStyle.Foreground(sec.style.GetForeground()).
		Render(fmt.Sprintf("%s (%d)", sec.title, len(entries)))

	nameWidth := max(b.Width-4-2, 0)

	var lines []string
	for _, e := range entries {
		label := fmt.Sprintf("%s %3d%%", e.Title, e.Percentage)
		if e.Approved {
			label += " approved"
		}
		wrapped := lipgloss.NewStyle().Width(nameWidth).Render(label)
		for i, line := range strings.Split(wrapped, "\n") {
			if i == 0 {
				lines = append(lines, fmt.Sprintf("%s %s", sec.icon, line))
			} else {
				lines = append(lines, fmt.Sprintf("  %s", line))
			}
		}
	}

	// Border excluded from Width.
	return sec.style.Width(max(b.Width-2, 0)).Render(subTitle + "\n" + strings.Join(lines, "\n"))
}
