package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ldi/taskflow/pkg/models"
)

func entries(statuses ...models.TaskStatus) []models.ProgressEntry {
	out := make([]models.ProgressEntry, len(statuses))
	for i, st := range statuses {
		out[i] = models.ProgressEntry{TaskID: string(rune('a' + i)), Title: "task " + string(rune('A'+i)), Status: st}
		if st == models.TaskStatusCompleted {
			out[i].Percentage = 100
		}
	}
	return out
}

func update(t *testing.T, m WatchModel, msg tea.Msg) (WatchModel, tea.Cmd) {
	t.Helper()
	model, cmd := m.Update(msg)
	return model.(WatchModel), cmd
}

func TestWatchModelRefresh(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context) ([]models.ProgressEntry, error) {
		calls++
		return entries(models.TaskStatusPending), nil
	}
	m := NewWatchModel("r1", fetch, time.Second)

	if !strings.Contains(m.View(), "loading") {
		t.Errorf("expected loading state before the first report")
	}

	msg := m.refresh()()
	if calls != 1 {
		t.Fatalf("expected one fetch, got %d", calls)
	}
	m, cmd := update(t, m, msg)
	if cmd == nil {
		t.Error("expected the next poll to be scheduled")
	}
	if len(m.entries) != 1 || !m.loaded {
		t.Fatalf("report not applied: %+v", m.entries)
	}

	view := m.View()
	for _, want := range []string{"Request r1", "0/1 completed", "Pending (1)", "watching 1 tasks"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q", want)
		}
	}
}

func TestWatchModelRecordsTransitions(t *testing.T) {
	m := NewWatchModel("r1", nil, time.Second)

	m, _ = update(t, m, reportMsg{entries: entries(models.TaskStatusPending, models.TaskStatusPending)})
	next := entries(models.TaskStatusInProgress, models.TaskStatusPending, models.TaskStatusPending)
	m, _ = update(t, m, reportMsg{entries: next})

	if m.activity.Len() != 3 {
		t.Fatalf("expected 3 activity lines, got %d", m.activity.Len())
	}
	view := m.activity.View()
	if !strings.Contains(view, "task A: pending -> in_progress") {
		t.Errorf("expected status transition line, got %q", view)
	}
	if !strings.Contains(view, "+ task C (pending)") {
		t.Errorf("expected new task line, got %q", view)
	}

	approved := entries(models.TaskStatusInProgress, models.TaskStatusPending, models.TaskStatusPending)
	approved[0].Approved = true
	m, _ = update(t, m, reportMsg{entries: approved})
	if !strings.Contains(m.activity.View(), "task A: approved") {
		t.Errorf("expected approval line")
	}
}

func TestWatchModelErrors(t *testing.T) {
	m := NewWatchModel("r1", nil, time.Second)

	boom := errors.New("store down")
	m, cmd := update(t, m, reportMsg{err: boom})
	if cmd == nil {
		t.Error("expected polling to continue after an error")
	}
	m, _ = update(t, m, reportMsg{err: boom})
	if m.activity.Len() != 1 {
		t.Errorf("repeated errors should be logged once, got %d lines", m.activity.Len())
	}

	m, _ = update(t, m, reportMsg{entries: entries(models.TaskStatusCompleted)})
	if m.err != nil {
		t.Errorf("successful refresh should clear the error")
	}
}

func TestWatchModelStaleTicks(t *testing.T) {
	m := NewWatchModel("r1", func(context.Context) ([]models.ProgressEntry, error) { return nil, nil }, time.Second)
	m, _ = update(t, m, reportMsg{})
	stale := tickMsg{gen: m.gen - 1}

	if _, cmd := update(t, m, stale); cmd != nil {
		t.Error("stale tick should be ignored")
	}
	if _, cmd := update(t, m, tickMsg{gen: m.gen}); cmd == nil {
		t.Error("current tick should trigger a refresh")
	}
}

func TestWatchModelKeys(t *testing.T) {
	m := NewWatchModel("r1", nil, time.Second)

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if cmd == nil {
		t.Error("expected refresh command after 'r'")
	}

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 40, Height: 20})
	if m.board.Width != 40 {
		t.Errorf("expected board width 40, got %d", m.board.Width)
	}

	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !m.quitting || cmd == nil {
		t.Error("expected quit after 'q'")
	}
	if m.View() != "" {
		t.Error("expected empty view after quitting")
	}
}

func TestRenderReport(t *testing.T) {
	report := entries(models.TaskStatusCompleted, models.TaskStatusPending)
	report[0].Approved = true

	out := RenderReport("r1", report, 60)
	for _, want := range []string{"Request r1", "1/2 completed, 1 approved", "Completed (1)", "Pending (1)"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q", want)
		}
	}

	if got := Overall(report); got != 0.5 {
		t.Errorf("Overall = %v, want 0.5", got)
	}
	if got := Overall(nil); got != 0 {
		t.Errorf("Overall(nil) = %v, want 0", got)
	}
}
