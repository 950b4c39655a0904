package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ldi/taskflow/internal/store"
	"github.com/ldi/taskflow/pkg/models"
)

// ExtraOriginalRequest is the metadata side-table key holding the label the
// request was registered with.
const ExtraOriginalRequest = "originalRequest"

// CreateRequest registers a new request and creates one pending task per
// spec. All tasks are written in one atomic store call.
func (s *Service) CreateRequest(ctx context.Context, label string, specs []models.TaskSpec) (*models.CreateRequestResult, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, store.InvalidArgumentf("originalRequest is required")
	}
	if len(specs) == 0 {
		return nil, store.InvalidArgumentf("at least one task is required")
	}

	requestID := s.newID()
	now := s.timestamp()
	tasks := make([]*models.Task, 0, len(specs))
	for i, spec := range specs {
		t, err := s.newTask(requestID, spec, now)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		t.Metadata.Extra = map[string]string{ExtraOriginalRequest: label}
		tasks = append(tasks, t)
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.CreateTasks(sctx, tasks); err != nil {
		return nil, err
	}

	summaries := make([]models.TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		summaries = append(summaries, models.TaskSummary{TaskID: t.ID, Title: t.Title, Status: t.Status})
	}

	s.log.Info("request created", zap.String("request_id", requestID), zap.Int("tasks", len(tasks)))
	s.emit(ctx, EventRequestCreated, requestID, "", label)

	return &models.CreateRequestResult{
		RequestID: requestID,
		Tasks:     summaries,
		Message:   fmt.Sprintf("Created %d tasks for request '%s'", len(tasks), label),
	}, nil
}

func (s *Service) newTask(requestID string, spec models.TaskSpec, now time.Time) (*models.Task, error) {
	title := strings.TrimSpace(spec.Title)
	if title == "" || strings.TrimSpace(spec.Description) == "" {
		return nil, store.InvalidArgumentf("title and description are required")
	}
	priority := spec.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return nil, store.InvalidArgumentf("invalid priority %q", priority)
	}

	t := &models.Task{
		ID:           s.newID(),
		RequestID:    requestID,
		Title:        title,
		Description:  spec.Description,
		Status:       models.TaskStatusPending,
		Priority:     priority,
		AssignedTo:   spec.AssignedTo,
		Tags:         append([]string(nil), spec.Tags...),
		Dependencies: append([]string(nil), spec.Dependencies...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if spec.Context != nil {
		t.Context = *spec.Context
		t.Context.Files = dedupe(nil, spec.Context.Files)
		t.Context.Commits = dedupe(nil, spec.Context.Commits)
		t.Context.CodeSnippets = append([]models.CodeSnippet(nil), spec.Context.CodeSnippets...)
	}
	return t, nil
}

// GetProgressReport returns one entry per task of the request in store order.
func (s *Service) GetProgressReport(ctx context.Context, requestID string) ([]models.ProgressEntry, error) {
	tasks, err := s.requestTasks(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return models.Report(tasks), nil
}

// CreateTask adds a single task to an existing or new request.
func (s *Service) CreateTask(ctx context.Context, requestID string, spec models.TaskSpec) (*models.Task, error) {
	if requestID == "" {
		return nil, store.InvalidArgumentf("requestId is required")
	}
	t, err := s.newTask(requestID, spec, s.timestamp())
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.CreateTask(sctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	return s.getTask(ctx, "", taskID)
}

func (s *Service) ListTasks(ctx context.Context, filter store.Filter) ([]*models.Task, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, store.InvalidArgumentf("invalid status %q", filter.Status)
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		return nil, store.InvalidArgumentf("invalid priority %q", filter.Priority)
	}
	return s.listTasks(ctx, filter)
}

// TaskUpdate lists the editable descriptive fields of a task. Nil fields are
// left unchanged. Status and progress have their own operations.
type TaskUpdate struct {
	Title        *string          `json:"title,omitempty"`
	Description  *string          `json:"description,omitempty"`
	Priority     *models.Priority `json:"priority,omitempty"`
	AssignedTo   *string          `json:"assignedTo,omitempty"`
	Tags         []string         `json:"tags,omitempty"`
	Dependencies []string         `json:"dependencies,omitempty"`
}

func (s *Service) UpdateTask(ctx context.Context, taskID string, upd TaskUpdate) (*models.Task, error) {
	if upd.Title != nil && strings.TrimSpace(*upd.Title) == "" {
		return nil, store.InvalidArgumentf("title must not be empty")
	}
	if upd.Description != nil && strings.TrimSpace(*upd.Description) == "" {
		return nil, store.InvalidArgumentf("description must not be empty")
	}
	if upd.Priority != nil && !upd.Priority.Valid() {
		return nil, store.InvalidArgumentf("invalid priority %q", *upd.Priority)
	}

	return s.update(ctx, taskID, store.Condition{}, func(t *models.Task) error {
		if upd.Title != nil {
			t.Title = strings.TrimSpace(*upd.Title)
		}
		if upd.Description != nil {
			t.Description = *upd.Description
		}
		if upd.Priority != nil {
			t.Priority = *upd.Priority
		}
		if upd.AssignedTo != nil {
			t.AssignedTo = *upd.AssignedTo
		}
		if upd.Tags != nil {
			t.Tags = dedupe(nil, upd.Tags)
		}
		if upd.Dependencies != nil {
			t.Dependencies = dedupe(nil, upd.Dependencies)
		}
		return nil
	})
}

// DeleteTask removes a task from the store. No lifecycle operation deletes
// tasks on its own.
func (s *Service) DeleteTask(ctx context.Context, taskID string) error {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.DeleteTask(sctx, taskID); err != nil {
		return err
	}
	s.log.Info("task deleted", zap.String("task_id", taskID))
	return nil
}
