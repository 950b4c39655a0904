package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ldi/taskflow/internal/ui/components"
	"github.com/ldi/taskflow/pkg/models"
)

const (
	defaultWidth  = 80
	logHeight     = 6
	fetchTimeout  = 5 * time.Second
	minimumPeriod = 100 * time.Millisecond
)

// FetchFunc loads the current progress report of the watched request.
type FetchFunc func(ctx context.Context) ([]models.ProgressEntry, error)

type reportMsg struct {
	entries []models.ProgressEntry
	err     error
	at      time.Time
}

// tickMsg carries the poll generation; stale ticks are dropped.
type tickMsg struct{ gen int }

// WatchModel polls a request's progress report and renders it live.
type WatchModel struct {
	requestID string
	fetch     FetchFunc
	interval  time.Duration

	entries     []models.ProgressEntry
	err         error
	loaded      bool
	lastRefresh time.Time
	gen         int

	board    *components.TaskBoard
	activity *components.ActivityLog
	bar      progress.Model
	spinner  spinner.Model
	width    int
	quitting bool
}

func NewWatchModel(requestID string, fetch FetchFunc, interval time.Duration) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot

	return WatchModel{
		requestID: requestID,
		fetch:     fetch,
		interval:  max(interval, minimumPeriod),
		board:     components.NewTaskBoard(defaultWidth),
		activity:  components.NewActivityLog(defaultWidth, logHeight),
		bar:       newBar(defaultWidth),
		spinner:   s,
		width:     defaultWidth,
	}
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.spinner.Tick)
}

func (m WatchModel) refresh() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		entries, err := m.fetch(ctx)
		return reportMsg{entries: entries, err: err, at: time.Now()}
	}
}

func (m *WatchModel) schedule() tea.Cmd {
	m.gen++
	gen := m.gen
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return tickMsg{gen: gen}
	})
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}
		return m, m.activity.Update(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.board.Width = msg.Width
		m.bar.Width = max(msg.Width-4, 10)
		m.activity.SetSize(msg.Width, logHeight)
		return m, nil

	case reportMsg:
		m.lastRefresh = msg.at
		if msg.err != nil {
			if m.err == nil || m.err.Error() != msg.err.Error() {
				m.activity.AppendStatus("refresh failed: " + msg.err.Error())
			}
			m.err = msg.err
			cmd := m.schedule()
			return m, cmd
		}
		m.err = nil
		m.recordChanges(msg.entries)
		m.entries = msg.entries
		m.board.SetEntries(msg.entries)
		cmd := m.schedule()
		return m, cmd

	case tickMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		return m, m.refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// recordChanges appends one activity line per task transition since the last
// report.
func (m *WatchModel) recordChanges(next []models.ProgressEntry) {
	if !m.loaded {
		m.loaded = true
		m.activity.AppendStatus(fmt.Sprintf("watching %d tasks", len(next)))
		return
	}

	prev := make(map[string]models.ProgressEntry, len(m.entries))
	for _, e := range m.entries {
		prev[e.TaskID] = e
	}
	for _, e := range next {
		old, ok := prev[e.TaskID]
		switch {
		case !ok:
			m.activity.Append(fmt.Sprintf("+ %s (%s)", e.Title, e.Status))
		case old.Status != e.Status:
			m.activity.Append(fmt.Sprintf("%s: %s -> %s", e.Title, old.Status, e.Status))
		case !old.Approved && e.Approved:
			m.activity.Append(fmt.Sprintf("%s: approved", e.Title))
		}
	}
}

func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var s strings.Builder

	s.WriteString(titleStyle.Render("Request " + m.requestID))
	s.WriteString(" ")
	s.WriteString(m.spinner.View())
	s.WriteString("\n")

	if !m.loaded && m.err == nil {
		s.WriteString(mutedStyle.Render("loading..."))
		s.WriteString("\n")
		return s.String()
	}

	s.WriteString(m.bar.ViewAs(Overall(m.entries)))
	s.WriteString("\n")
	s.WriteString(mutedStyle.Render(summary(m.entries)))
	if !m.lastRefresh.IsZero() {
		s.WriteString(mutedStyle.Render(" · updated " + m.lastRefresh.Format("15:04:05")))
	}
	s.WriteString("\n\n")

	s.WriteString(m.board.View())
	s.WriteString("\n\n")
	s.WriteString(m.activity.View())
	s.WriteString("\n\n(r to refresh, q to quit)\n")

	return s.String()
}

// RunWatch runs the watch view until the user quits.
func RunWatch(requestID string, fetch FetchFunc, interval time.Duration) error {
	p := tea.NewProgram(NewWatchModel(requestID, fetch, interval))
	_, err := p.Run()
	return err
}
