// Package store defines the task store contract used by the workflow engine.
//
// A store keeps Task records keyed by id and grouped by request id. All
// coordination between concurrent callers happens through conditional
// updates: a write only applies when the record still matches the Condition
// it was prepared against, otherwise the store answers ErrConflict.
package store

import (
	"context"
	"slices"

	"github.com/ldi/taskflow/pkg/models"
)

type Store interface {
	// CreateTask inserts t. An empty t.ID is replaced with a new UUID.
	CreateTask(ctx context.Context, t *models.Task) error
	// CreateTasks inserts all tasks or none of them.
	CreateTasks(ctx context.Context, tasks []*models.Task) error
	// GetTask returns ErrNotFound when the task is missing or, with a
	// non-empty requestID, belongs to another request.
	GetTask(ctx context.Context, requestID, id string) (*models.Task, error)
	// ListTasks returns matching tasks in insertion order.
	ListTasks(ctx context.Context, filter Filter) ([]*models.Task, error)
	// UpdateTask reads the current record, checks cond, applies mutate and
	// writes the result back as one atomic step.
	UpdateTask(ctx context.Context, id string, cond Condition, mutate Mutation) (*models.Task, error)
	// CommitBatch applies every staged update or none of them.
	CommitBatch(ctx context.Context, b *Batch) ([]*models.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// Mutation edits a task in place. Returning an error aborts the write.
type Mutation func(t *models.Task) error

// Condition is the predicate a conditional update must satisfy at write
// time. Zero fields are not checked.
type Condition struct {
	RequestID string
	Status    models.TaskStatus
	Version   int64
	// RequestIdle requires that no other task of the same request is
	// in_progress.
	RequestIdle bool
}

// Check validates cur against the condition, ignoring RequestIdle which
// needs a view of the whole request.
func (c Condition) Check(cur *models.Task) error {
	if c.RequestID != "" && cur.RequestID != c.RequestID {
		return NotFoundf("task %s not found in request %s", cur.ID, c.RequestID)
	}
	if c.Status != "" && cur.Status != c.Status {
		return Conflictf("task %s is %s, expected %s", cur.ID, cur.Status, c.Status)
	}
	if c.Version > 0 && cur.Version != c.Version {
		return Conflictf("task %s is at version %d, expected %d", cur.ID, cur.Version, c.Version)
	}
	return nil
}

// Filter narrows ListTasks. Empty fields match everything.
type Filter struct {
	RequestID  string
	Status     models.TaskStatus
	Priority   models.Priority
	Repository string
	Branch     string
	File       string
	AssignedTo string
}

// Match reports whether t passes the filter.
func (f Filter) Match(t *models.Task) bool {
	switch {
	case f.RequestID != "" && t.RequestID != f.RequestID:
		return false
	case f.Status != "" && t.Status != f.Status:
		return false
	case f.Priority != "" && t.Priority != f.Priority:
		return false
	case f.Repository != "" && t.Context.Repository != f.Repository:
		return false
	case f.Branch != "" && t.Context.Branch != f.Branch:
		return false
	case f.AssignedTo != "" && t.AssignedTo != f.AssignedTo:
		return false
	case f.File != "" && !slices.Contains(t.Context.Files, f.File):
		return false
	}
	return true
}

type BatchOp struct {
	TaskID string
	Cond   Condition
	Mutate Mutation
}

// Batch stages conditional updates that must be committed together.
type Batch struct {
	ops []BatchOp
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Add(taskID string, cond Condition, mutate Mutation) {
	b.ops = append(b.ops, BatchOp{TaskID: taskID, Cond: cond, Mutate: mutate})
}

func (b *Batch) Ops() []BatchOp {
	return b.ops
}

func (b *Batch) Len() int {
	return len(b.ops)
}
