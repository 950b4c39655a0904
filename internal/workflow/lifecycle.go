package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ldi/taskflow/internal/store"
	"github.com/ldi/taskflow/pkg/models"
)

// SetStatus force-assigns a status. Any transition between the four states is
// allowed so operators can correct a task by hand.
func (s *Service) SetStatus(ctx context.Context, taskID string, status models.TaskStatus) (*models.Task, error) {
	if !status.Valid() {
		return nil, store.InvalidArgumentf("invalid status %q", status)
	}

	var prev models.TaskStatus
	t, err := s.update(ctx, taskID, store.Condition{}, func(t *models.Task) error {
		prev = t.Status
		applyStatus(t, status, s.timestamp())
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("task status set",
		zap.String("task_id", taskID),
		zap.String("from", string(prev)),
		zap.String("to", string(status)),
	)
	if status == models.TaskStatusCompleted && prev != models.TaskStatusCompleted {
		s.emit(ctx, EventTaskCompleted, t.RequestID, t.ID, t.Title)
	}
	return t, nil
}

// MarkTaskDone records the completion of a task of requestID and returns the
// request's progress report.
func (s *Service) MarkTaskDone(ctx context.Context, requestID, taskID, details string) (*models.MarkDoneResult, error) {
	if requestID == "" || taskID == "" {
		return nil, store.InvalidArgumentf("requestId and taskId are required")
	}

	t, err := s.update(ctx, taskID, store.Condition{RequestID: requestID}, func(t *models.Task) error {
		markCompleted(t, details, s.timestamp())
		return nil
	})
	if err != nil {
		return nil, err
	}

	report, err := s.report(ctx, requestID)
	if err != nil {
		return nil, err
	}

	s.log.Info("task marked done", zap.String("request_id", requestID), zap.String("task_id", taskID))
	s.emit(ctx, EventTaskCompleted, requestID, t.ID, t.Title)

	return &models.MarkDoneResult{
		TaskID:        t.ID,
		Status:        t.Status,
		Progress:      report,
		Message:       fmt.Sprintf("Task '%s' marked as done", t.Title),
		NeedsApproval: true,
	}, nil
}
