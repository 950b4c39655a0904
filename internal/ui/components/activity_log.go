package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	outputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	scrollbarTrackStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("236"))

	scrollbarHandleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("241"))
)

// ActivityLog is a scrolling log of task transitions seen by the watch view.
type ActivityLog struct {
	viewport viewport.Model
	lines    []string
	ready    bool
}

func NewActivityLog(width, height int) *ActivityLog {
	l := &ActivityLog{}
	l.SetSize(width, height)
	return l
}

func (l *ActivityLog) SetSize(width, height int) {
	vpWidth := width
	if width > 0 {
		vpWidth = width - 1
	}
	if !l.ready {
		l.viewport = viewport.New(vpWidth, height)
		l.ready = true
	} else {
		l.viewport.Width = vpWidth
		l.viewport.Height = height
	}
	l.updateContent()
}

func (l *ActivityLog) Append(line string) {
	l.lines = append(l.lines, outputStyle.Render(line))
	l.updateContent()
}

func (l *ActivityLog) AppendStatus(status string) {
	l.lines = append(l.lines, statusStyle.Render(fmt.Sprintf("--- %s ---", status)))
	l.updateContent()
}

func (l *ActivityLog) Len() int {
	return len(l.lines)
}

func (l *ActivityLog) Reset() {
	l.lines = nil
	l.updateContent()
}

func (l *ActivityLog) updateContent() {
	content := strings.Join(l.lines, "\n")
	if w := l.viewport.Width; w > 0 {
		content = lipgloss.NewStyle().Width(w).Render(content)
	}
	l.viewport.SetContent(content)
	l.viewport.GotoBottom()
}

func (l *ActivityLog) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	l.viewport, cmd = l.viewport.Update(msg)
	return cmd
}

func (l *ActivityLog) View() string {
	if !l.ready {
		return ""
	}
	if l.viewport.TotalLineCount() <= l.viewport.Height {
		return l.viewport.View()
	}

	h := l.viewport.Height
	handlePos := int(float64(h-1) * l.viewport.ScrollPercent())

	var sb strings.Builder
	for i := 0; i < h; i++ {
		if i == handlePos {
			sb.WriteString(scrollbarHandleStyle.Render("┃"))
		} else {
			sb.WriteString(scrollbarTrackStyle.Render("│"))
		}
		if i < h-1 {
			sb.WriteString("\n")
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, l.viewport.View(), sb.String())
}
