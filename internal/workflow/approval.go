package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ldi/taskflow/internal/store"
	"github.com/ldi/taskflow/pkg/models"
)

// ApprovalError reports a failed request approval together with the tasks
// the store holds as request-approved at the time of the failure. Retrying the
// approval is safe.
type ApprovalError struct {
	RequestID string
	Approved  []string
	Err       error
}

func (e *ApprovalError) Error() string {
	return fmt.Sprintf("failed to approve request %s (%d tasks flagged): %v", e.RequestID, len(e.Approved), e.Err)
}

func (e *ApprovalError) Unwrap() error {
	return e.Err
}

// ApproveTask signs off a completed task. Approving an approved task keeps
// its original approval time.
func (s *Service) ApproveTask(ctx context.Context, requestID, taskID string) (*models.ApproveTaskResult, error) {
	if requestID == "" || taskID == "" {
		return nil, store.InvalidArgumentf("requestId and taskId are required")
	}

	t, err := s.getTask(ctx, requestID, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != models.TaskStatusCompleted {
		return nil, store.InvalidStatef("cannot approve task %s: status is %s, not completed", taskID, t.Status)
	}

	if !t.Metadata.Approved {
		t, err = s.update(ctx, taskID, store.Condition{RequestID: requestID}, func(t *models.Task) error {
			if t.Status != models.TaskStatusCompleted {
				return store.InvalidStatef("cannot approve task %s: status is %s, not completed", t.ID, t.Status)
			}
			withApproval(t, s.timestamp())
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.log.Info("task approved", zap.String("request_id", requestID), zap.String("task_id", taskID))
		s.emit(ctx, EventTaskApproved, requestID, t.ID, t.Title)
	}

	report, err := s.report(ctx, requestID)
	if err != nil {
		return nil, err
	}

	return &models.ApproveTaskResult{
		TaskID:   t.ID,
		Status:   "approved",
		Progress: report,
		Message:  fmt.Sprintf("Task '%s' approved", t.Title),
	}, nil
}

// ApproveRequest flags every task of a fully completed request as approved
// and request-completed, as one batch. Nothing is written while any task is
// not completed.
func (s *Service) ApproveRequest(ctx context.Context, requestID string) (*models.ApproveRequestResult, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		tasks, err := s.requestTasks(ctx, requestID)
		if err != nil {
			return nil, err
		}

		var open []string
		for _, t := range tasks {
			if t.Status != models.TaskStatusCompleted {
				open = append(open, t.ID)
			}
		}
		if len(open) > 0 {
			return nil, store.InvalidStatef("tasks still pending: %s", strings.Join(open, ", "))
		}

		now := s.timestamp()
		batch := store.NewBatch()
		for _, t := range tasks {
			cond := store.Condition{
				RequestID: requestID,
				Status:    models.TaskStatusCompleted,
				Version:   t.Version,
			}
			batch.Add(t.ID, cond, func(t *models.Task) error {
				withApproval(t, now)
				t.Metadata.RequestCompleted = true
				return nil
			})
		}

		updated, err := s.commit(ctx, batch)
		if errors.Is(err, store.ErrConflict) {
			lastErr = err
			s.log.Debug("request approval raced, retrying", zap.String("request_id", requestID), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, s.approvalError(ctx, requestID, err)
		}

		s.log.Info("request approved", zap.String("request_id", requestID), zap.Int("tasks", len(updated)))
		s.emit(ctx, EventRequestApproved, requestID, "", "")

		return &models.ApproveRequestResult{
			RequestID: requestID,
			Status:    string(models.TaskStatusCompleted),
			Progress:  models.Report(updated),
			Message:   "Request completed and approved",
			Completed: true,
		}, nil
	}

	return nil, s.approvalError(ctx, requestID, lastErr)
}

func (s *Service) commit(ctx context.Context, b *store.Batch) ([]*models.Task, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.CommitBatch(ctx, b)
}

// approvalError re-reads the request so the caller learns which tasks are
// flagged after the failed batch.
func (s *Service) approvalError(ctx context.Context, requestID string, cause error) error {
	aerr := &ApprovalError{RequestID: requestID, Err: cause}
	tasks, err := s.listTasks(ctx, store.Filter{RequestID: requestID})
	if err != nil {
		s.log.Warn("failed to read approval state", zap.String("request_id", requestID), zap.Error(err))
		return aerr
	}
	for _, t := range tasks {
		if t.Metadata.RequestCompleted {
			aerr.Approved = append(aerr.Approved, t.ID)
		}
	}
	return aerr
}
