package workflow

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ldi/taskflow/internal/store"
	"github.com/ldi/taskflow/pkg/models"
)

// StageUpdate carries the optional fields of UpdateStage. Nil fields are left
// unchanged.
type StageUpdate struct {
	Name      *string `json:"name,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

// SetPercentage sets the progress of a task without stages. The value is
// clamped to [0,100]; reaching 100 completes the task.
func (s *Service) SetPercentage(ctx context.Context, taskID string, pct int) (*models.Task, error) {
	var promoted bool
	t, err := s.update(ctx, taskID, store.Condition{}, func(t *models.Task) error {
		if len(t.Progress.Stages) > 0 {
			return store.InvalidStatef("task %s tracks progress through stages", t.ID)
		}
		t.Progress.Percentage = clampPercentage(pct)
		promoted = false
		if t.Progress.Percentage == 100 && t.Status != models.TaskStatusCompleted {
			applyStatus(t, models.TaskStatusCompleted, s.timestamp())
			promoted = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if promoted {
		s.emit(ctx, EventTaskCompleted, t.RequestID, t.ID, t.Title)
	}
	return t, nil
}

// AddStage appends a stage and recomputes the task's percentage.
func (s *Service) AddStage(ctx context.Context, taskID, name string, completed bool) (*models.Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, store.InvalidArgumentf("stage name is required")
	}

	return s.mutateStages(ctx, taskID, func(t *models.Task) error {
		t.Progress.Stages = append(t.Progress.Stages, models.Stage{
			Name:      name,
			Completed: completed,
			Timestamp: s.timestamp(),
		})
		return nil
	})
}

// UpdateStage edits the stage at index. Completing a stage refreshes its
// timestamp.
func (s *Service) UpdateStage(ctx context.Context, taskID string, index int, upd StageUpdate) (*models.Task, error) {
	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, store.InvalidArgumentf("stage name must not be empty")
	}

	return s.mutateStages(ctx, taskID, func(t *models.Task) error {
		if index < 0 || index >= len(t.Progress.Stages) {
			return store.NotFoundf("stage %d not found on task %s", index, t.ID)
		}
		stage := &t.Progress.Stages[index]
		if upd.Name != nil {
			stage.Name = strings.TrimSpace(*upd.Name)
		}
		if upd.Completed != nil {
			if *upd.Completed && !stage.Completed {
				stage.Timestamp = s.timestamp()
			}
			stage.Completed = *upd.Completed
		}
		return nil
	})
}

func (s *Service) mutateStages(ctx context.Context, taskID string, edit store.Mutation) (*models.Task, error) {
	var promoted bool
	t, err := s.update(ctx, taskID, store.Condition{}, func(t *models.Task) error {
		if err := edit(t); err != nil {
			return err
		}
		was := t.Status
		recompute(t, s.timestamp())
		promoted = was != models.TaskStatusCompleted && t.Status == models.TaskStatusCompleted
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("stages updated",
		zap.String("task_id", taskID),
		zap.Int("stages", len(t.Progress.Stages)),
		zap.Int("percentage", t.Progress.Percentage),
	)
	if promoted {
		s.emit(ctx, EventTaskCompleted, t.RequestID, t.ID, t.Title)
	}
	return t, nil
}

// GetProgress returns the progress record of a task.
func (s *Service) GetProgress(ctx context.Context, taskID string) (*models.Progress, error) {
	t, err := s.getTask(ctx, "", taskID)
	if err != nil {
		return nil, err
	}
	return &t.Progress, nil
}
