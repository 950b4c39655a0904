package workflow

import (
	"math"
	"time"

	"github.com/ldi/taskflow/pkg/models"
)

// stagePercentage is round(100 * completed / total), 0 without stages.
func stagePercentage(p models.Progress) int {
	if len(p.Stages) == 0 {
		return 0
	}
	return int(math.Round(100 * float64(p.CompletedStages()) / float64(len(p.Stages))))
}

func clampPercentage(pct int) int {
	return min(max(pct, 0), 100)
}

// applyStatus assigns status without restricting the source state. Entering
// completed for the first time stamps completedAt and fills the progress bar,
// except that a staged task keeps its stage-derived percentage.
func applyStatus(t *models.Task, status models.TaskStatus, now time.Time) {
	t.Status = status
	if status == models.TaskStatusCompleted && t.CompletedAt == nil {
		t.CompletedAt = &now
		if len(t.Progress.Stages) == 0 {
			t.Progress.Percentage = 100
		}
	}
}

// markCompleted is the explicit completion report: it always restamps
// completedAt.
func markCompleted(t *models.Task, details string, now time.Time) {
	t.Status = models.TaskStatusCompleted
	t.CompletedAt = &now
	if len(t.Progress.Stages) == 0 {
		t.Progress.Percentage = 100
	}
	if details != "" {
		t.Metadata.CompletionDetails = details
	}
}

// recompute derives the percentage from the stages and promotes the task to
// completed once every stage is done. It is a no-op on a completed task with
// unchanged stages.
func recompute(t *models.Task, now time.Time) {
	t.Progress.Percentage = stagePercentage(t.Progress)
	if len(t.Progress.Stages) > 0 &&
		t.Progress.CompletedStages() == len(t.Progress.Stages) &&
		t.Status != models.TaskStatusCompleted {
		t.Status = models.TaskStatusCompleted
		if t.CompletedAt == nil {
			t.CompletedAt = &now
		}
	}
}

// selectNext picks the task to hand out: the earliest in_progress task if
// any, otherwise the highest priority pending task, FIFO within a priority.
// Ties on createdAt keep store order. It returns nil when nothing is active.
func selectNext(tasks []*models.Task) *models.Task {
	var running, next *models.Task
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusInProgress:
			if running == nil || t.CreatedAt.Before(running.CreatedAt) {
				running = t
			}
		case models.TaskStatusPending:
			if next == nil || outranks(t, next) {
				next = t
			}
		}
	}
	if running != nil {
		return running
	}
	return next
}

func outranks(a, b *models.Task) bool {
	ra, rb := a.Priority.Rank(), b.Priority.Rank()
	if ra != rb {
		return ra > rb
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func withApproval(t *models.Task, now time.Time) {
	t.Metadata.Approved = true
	if t.Metadata.ApprovedAt == nil {
		t.Metadata.ApprovedAt = &now
	}
}
