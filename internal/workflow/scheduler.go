package workflow

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ldi/taskflow/internal/store"
	"github.com/ldi/taskflow/pkg/models"
)

// GetNextTask returns the task a worker should be on for requestID. A pending
// task is promoted to in_progress with a conditional write that only succeeds
// while the task is still pending at the version that was read and no other
// task of the request is in progress. A lost race re-runs the selection.
func (s *Service) GetNextTask(ctx context.Context, requestID string) (*models.NextTaskResult, error) {
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		tasks, err := s.requestTasks(ctx, requestID)
		if err != nil {
			return nil, err
		}
		report := models.Report(tasks)

		pick := selectNext(tasks)
		if pick == nil {
			return &models.NextTaskResult{
				AllDone:  true,
				Progress: report,
				Message:  "All tasks completed",
			}, nil
		}

		if pick.Status == models.TaskStatusInProgress {
			return nextTaskResult(pick, report), nil
		}

		claimed, err := s.claim(ctx, pick)
		if errors.Is(err, store.ErrConflict) {
			s.log.Debug("lost race for task",
				zap.String("request_id", requestID),
				zap.String("task_id", pick.ID),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return nil, err
		}

		for i := range report {
			if report[i].TaskID == claimed.ID {
				report[i].Status = claimed.Status
			}
		}

		s.log.Info("task started", zap.String("request_id", requestID), zap.String("task_id", claimed.ID))
		s.emit(ctx, EventTaskStarted, requestID, claimed.ID, claimed.Title)
		return nextTaskResult(claimed, report), nil
	}

	return nil, store.Conflictf("could not claim a task for request %s after %d attempts", requestID, s.maxRetries+1)
}

func (s *Service) claim(ctx context.Context, t *models.Task) (*models.Task, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	cond := store.Condition{
		RequestID:   t.RequestID,
		Status:      models.TaskStatusPending,
		Version:     t.Version,
		RequestIdle: true,
	}
	return s.store.UpdateTask(ctx, t.ID, cond, func(t *models.Task) error {
		t.Status = models.TaskStatusInProgress
		return nil
	})
}

func nextTaskResult(t *models.Task, report []models.ProgressEntry) *models.NextTaskResult {
	taskCtx := t.Context
	return &models.NextTaskResult{
		TaskID:      t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Context:     &taskCtx,
		Progress:    report,
	}
}
