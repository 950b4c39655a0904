package store

import (
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/ldi/taskflow/pkg/models"
)

func TestErrorKinds(t *testing.T) {
	err := NotFoundf("task %s", "abc")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if errors.Is(err, ErrConflict) {
		t.Errorf("did not expect ErrConflict")
	}
	if !strings.Contains(err.Error(), "task abc") {
		t.Errorf("expected message in error, got %q", err.Error())
	}

	wrapped := Wrap(sql.ErrConnDone, "failed to list tasks")
	if !errors.Is(wrapped, ErrStore) {
		t.Errorf("expected ErrStore, got %v", wrapped)
	}
	if !errors.Is(wrapped, sql.ErrConnDone) {
		t.Errorf("expected cause to be preserved")
	}

	if again := Wrap(err, "outer"); again != err {
		t.Errorf("expected kinded error to pass through Wrap unchanged")
	}
	if Wrap(nil, "x") != nil {
		t.Errorf("expected nil for nil error")
	}
	if Kind(wrapped) != ErrStore {
		t.Errorf("expected Kind ErrStore")
	}
	if Kind(errors.New("plain")) != nil {
		t.Errorf("expected nil kind for plain error")
	}
}

func TestConditionCheck(t *testing.T) {
	task := &models.Task{ID: "t1", RequestID: "r1", Status: models.TaskStatusPending, Version: 3}

	if err := (Condition{}).Check(task); err != nil {
		t.Errorf("empty condition should pass, got %v", err)
	}
	if err := (Condition{RequestID: "r2"}).Check(task); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign request, got %v", err)
	}
	if err := (Condition{Status: models.TaskStatusInProgress}).Check(task); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for status mismatch, got %v", err)
	}
	if err := (Condition{Version: 2}).Check(task); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for version mismatch, got %v", err)
	}
	if err := (Condition{RequestID: "r1", Status: models.TaskStatusPending, Version: 3}).Check(task); err != nil {
		t.Errorf("expected match, got %v", err)
	}
}

func TestFilterMatch(t *testing.T) {
	task := &models.Task{
		RequestID:  "r1",
		Status:     models.TaskStatusPending,
		Priority:   models.PriorityHigh,
		AssignedTo: "alice",
		Context: models.TaskContext{
			Repository: "repo",
			Branch:     "main",
			Files:      []string{"a.go", "b.go"},
		},
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"request", Filter{RequestID: "r1"}, true},
		{"other request", Filter{RequestID: "r2"}, false},
		{"status", Filter{Status: models.TaskStatusCompleted}, false},
		{"priority", Filter{Priority: models.PriorityHigh}, true},
		{"repository", Filter{Repository: "other"}, false},
		{"branch", Filter{Branch: "main"}, true},
		{"file", Filter{File: "b.go"}, true},
		{"missing file", Filter{File: "c.go"}, false},
		{"assignee", Filter{AssignedTo: "bob"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(task); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBatch(t *testing.T) {
	b := NewBatch()
	if b.Len() != 0 {
		t.Fatalf("expected empty batch")
	}
	b.Add("t1", Condition{Version: 1}, func(t *models.Task) error { return nil })
	b.Add("t2", Condition{}, func(t *models.Task) error { return nil })
	if b.Len() != 2 {
		t.Fatalf("expected 2 ops, got %d", b.Len())
	}
	if b.Ops()[1].TaskID != "t2" {
		t.Errorf("expected ops in insertion order")
	}
}
