package db

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ldi/taskflow/internal/store"
	"github.com/ldi/taskflow/pkg/models"
)

func TestExportSnapshot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	task := newPendingTask("req-1", "Test Task", models.PriorityHigh)
	task.Progress.Stages = []models.Stage{{Name: "design"}}
	if err := db.CreateTask(ctx, task); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	snapshotPath := filepath.Join(t.TempDir(), "snapshot.jsonl")
	if err := db.ExportSnapshot(ctx, snapshotPath); err != nil {
		t.Fatalf("Failed to export snapshot: %v", err)
	}

	file, err := os.Open(snapshotPath)
	if err != nil {
		t.Fatalf("Failed to open snapshot file: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Scanner error: %v", err)
	}

	if len(lines) != 2 {
		t.Fatalf("Expected meta and task lines, got %d", len(lines))
	}

	var meta map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &meta); err != nil {
		t.Fatalf("Failed to unmarshal meta line: %v", err)
	}
	if meta["record_type"] != "meta" {
		t.Errorf("Expected first line to be meta, got %v", meta["record_type"])
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatalf("Failed to unmarshal task line: %v", err)
	}
	if rec["record_type"] != "task" || rec["id"] != task.ID || rec["title"] != "Test Task" {
		t.Errorf("Unexpected task line: %v", rec)
	}
}

func TestImportSnapshot(t *testing.T) {
	src := newTestDB(t)
	ctx := context.Background()

	done := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newPendingTask("req-1", "A", models.PriorityHigh)
	b := newPendingTask("req-1", "B", models.PriorityLow)
	b.Status = models.TaskStatusCompleted
	b.CompletedAt = &done
	b.Progress.Percentage = 100
	if err := src.CreateTasks(ctx, []*models.Task{a, b}); err != nil {
		t.Fatalf("CreateTasks failed: %v", err)
	}

	snapshotPath := filepath.Join(t.TempDir(), "snapshot.jsonl")
	if err := src.ExportSnapshot(ctx, snapshotPath); err != nil {
		t.Fatalf("Failed to export snapshot: %v", err)
	}

	dst := newTestDB(t)
	n, err := dst.ImportSnapshot(ctx, snapshotPath)
	if err != nil {
		t.Fatalf("Failed to import snapshot: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 imported tasks, got %d", n)
	}

	got, err := dst.GetTask(ctx, "req-1", b.ID)
	if err != nil {
		t.Fatalf("Imported task missing: %v", err)
	}
	if got.Status != models.TaskStatusCompleted || got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Errorf("Imported task lost state: %+v", got)
	}

	// Re-import keeps existing rows.
	n, err = dst.ImportSnapshot(ctx, snapshotPath)
	if err != nil {
		t.Fatalf("Second import failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected nothing imported twice, got %d", n)
	}
	tasks, _ := dst.ListTasks(ctx, store.Filter{})
	if len(tasks) != 2 || tasks[0].ID != a.ID {
		t.Errorf("Unexpected tasks after re-import: %d", len(tasks))
	}
}

func TestImportSnapshotRejectsNewerVersion(t *testing.T) {
	db := newTestDB(t)

	path := filepath.Join(t.TempDir(), "future.jsonl")
	if err := os.WriteFile(path, []byte(`{"record_type":"meta","version":99}`+"\n"), 0644); err != nil {
		t.Fatalf("Failed to write snapshot: %v", err)
	}
	if _, err := db.ImportSnapshot(context.Background(), path); err == nil {
		t.Errorf("Expected error for unsupported version")
	}
}

func TestAutoSnapshot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	snapshotPath := filepath.Join(t.TempDir(), "auto-snapshot.jsonl")
	db.EnableAutoSnapshot(snapshotPath)

	task := newPendingTask("req-1", "Auto Task", models.PriorityMedium)
	if err := db.CreateTask(ctx, task); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	data, err := os.ReadFile(snapshotPath)
	if err != nil {
		t.Fatalf("Snapshot file was not created after CreateTask: %v", err)
	}
	if !json.Valid(firstLine(data)) {
		t.Errorf("Snapshot meta line is not valid JSON")
	}

	if _, err := db.UpdateTask(ctx, task.ID, store.Condition{}, func(t *models.Task) error {
		t.Title = "Renamed Task"
		return nil
	}); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}

	data, err = os.ReadFile(snapshotPath)
	if err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}
	if !containsLine(data, "Renamed Task") {
		t.Errorf("Snapshot was not refreshed after UpdateTask")
	}
}

func firstLine(data []byte) []byte {
	line, _, _ := bytes.Cut(data, []byte("\n"))
	return line
}

func containsLine(data []byte, needle string) bool {
	for _, line := range bytes.Split(data, []byte("\n")) {
		if json.Valid(line) && bytes.Contains(line, []byte(needle)) {
			return true
		}
	}
	return false
}
