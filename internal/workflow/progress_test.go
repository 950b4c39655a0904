package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ldi/taskflow/internal/store"
	"github.com/ldi/taskflow/pkg/models"
)

func TestStagesDriveCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, ids := env.createRequest(t, spec("A", models.PriorityMedium))
	id := ids["A"]

	for _, name := range []string{"s1", "s2"} {
		if _, err := env.svc.AddStage(ctx, id, name, false); err != nil {
			t.Fatalf("AddStage failed: %v", err)
		}
	}

	done := true
	task, err := env.svc.UpdateStage(ctx, id, 0, StageUpdate{Completed: &done})
	if err != nil {
		t.Fatalf("UpdateStage failed: %v", err)
	}
	if task.Progress.Percentage != 50 {
		t.Errorf("expected 50%%, got %d", task.Progress.Percentage)
	}
	if task.Status != models.TaskStatusPending {
		t.Errorf("expected pending, got %s", task.Status)
	}
	if !task.Progress.Stages[0].Timestamp.After(task.Progress.Stages[1].Timestamp) {
		t.Errorf("completing a stage must refresh its timestamp")
	}

	task, err = env.svc.UpdateStage(ctx, id, 1, StageUpdate{Completed: &done})
	if err != nil {
		t.Fatalf("UpdateStage failed: %v", err)
	}
	if task.Progress.Percentage != 100 || task.Status != models.TaskStatusCompleted || task.CompletedAt == nil {
		t.Fatalf("expected completion at 100%%, got %+v", task)
	}
	stamp := *task.CompletedAt

	// Repeating the last update is a no-op for the lifecycle.
	task, err = env.svc.UpdateStage(ctx, id, 1, StageUpdate{Completed: &done})
	if err != nil {
		t.Fatalf("repeat UpdateStage failed: %v", err)
	}
	if !task.CompletedAt.Equal(stamp) || task.Status != models.TaskStatusCompleted {
		t.Errorf("repeat update changed the completion: %+v", task)
	}

	var completed int
	for _, typ := range env.notifier.types() {
		if typ == EventTaskCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Errorf("expected one task.completed event, got %d", completed)
	}
}

func TestStageValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, ids := env.createRequest(t, spec("A", models.PriorityMedium))

	if _, err := env.svc.AddStage(ctx, ids["A"], "  ", false); !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for empty name, got %v", err)
	}
	if _, err := env.svc.UpdateStage(ctx, ids["A"], 0, StageUpdate{}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing stage, got %v", err)
	}
	if _, err := env.svc.AddStage(ctx, "missing", "s1", false); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing task, got %v", err)
	}

	if _, err := env.svc.AddStage(ctx, ids["A"], "s1", false); err != nil {
		t.Fatalf("AddStage failed: %v", err)
	}
	if _, err := env.svc.UpdateStage(ctx, ids["A"], 1, StageUpdate{}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for index past the end, got %v", err)
	}
	if _, err := env.svc.UpdateStage(ctx, ids["A"], -1, StageUpdate{}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for negative index, got %v", err)
	}

	rename := "renamed"
	task, err := env.svc.UpdateStage(ctx, ids["A"], 0, StageUpdate{Name: &rename})
	if err != nil {
		t.Fatalf("UpdateStage failed: %v", err)
	}
	if task.Progress.Stages[0].Name != "renamed" {
		t.Errorf("stage was not renamed")
	}
}

func TestSetPercentage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, ids := env.createRequest(t, spec("A", models.PriorityMedium), spec("B", models.PriorityMedium))

	task, err := env.svc.SetPercentage(ctx, ids["A"], -20)
	if err != nil {
		t.Fatalf("SetPercentage failed: %v", err)
	}
	if task.Progress.Percentage != 0 {
		t.Errorf("expected clamp to 0, got %d", task.Progress.Percentage)
	}

	task, err = env.svc.SetPercentage(ctx, ids["A"], 140)
	if err != nil {
		t.Fatalf("SetPercentage failed: %v", err)
	}
	if task.Progress.Percentage != 100 || task.Status != models.TaskStatusCompleted || task.CompletedAt == nil {
		t.Errorf("expected promotion to completed, got %+v", task)
	}

	if _, err := env.svc.AddStage(ctx, ids["B"], "s1", false); err != nil {
		t.Fatalf("AddStage failed: %v", err)
	}
	if _, err := env.svc.SetPercentage(ctx, ids["B"], 80); !errors.Is(err, store.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState with stages, got %v", err)
	}

	progress, err := env.svc.GetProgress(ctx, ids["B"])
	if err != nil {
		t.Fatalf("GetProgress failed: %v", err)
	}
	if progress.Percentage != 0 || len(progress.Stages) != 1 {
		t.Errorf("unexpected progress: %+v", progress)
	}
}

func TestConcurrentAddStage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, ids := env.createRequest(t, spec("A", models.PriorityMedium))

	const n = 6
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := env.svc.AddStage(ctx, ids["A"], "stage", i%2 == 0); err != nil {
				t.Errorf("AddStage failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	task := env.task(t, ids["A"])
	if len(task.Progress.Stages) != n {
		t.Fatalf("expected %d stages, got %d", n, len(task.Progress.Stages))
	}
	if task.Progress.Percentage != 50 {
		t.Errorf("expected 50%%, got %d", task.Progress.Percentage)
	}
}
