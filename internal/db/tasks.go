package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ldi/taskflow/internal/store"
	"github.com/ldi/taskflow/pkg/models"
)

const timeLayout = time.RFC3339Nano

var taskColumns = []string{
	"id", "request_id", "title", "description", "status", "priority", "assigned_to", "tags",
	"context", "percentage", "stages", "dependencies", "metadata",
	"created_at", "updated_at", "completed_at", "version",
}

// CreateTask inserts a new task into the database.
// If t.ID is empty, a new UUID is generated.
func (db *DB) CreateTask(ctx context.Context, t *models.Task) error {
	if err := db.createTask(ctx, db.DB, t); err != nil {
		return err
	}

	db.triggerChange(ctx)
	return nil
}

// GetTask retrieves a task by its ID, scoped to requestID when it is set.
func (db *DB) GetTask(ctx context.Context, requestID, id string) (*models.Task, error) {
	t, err := db.getTask(ctx, db.DB, id)
	if err != nil {
		return nil, err
	}
	if requestID != "" && t.RequestID != requestID {
		return nil, store.NotFoundf("task %s not found in request %s", id, requestID)
	}
	return t, nil
}

func (db *DB) getTask(ctx context.Context, exec executor, id string) (*models.Task, error) {
	query, args, err := db.builder.Select(taskColumns...).From("tasks").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	t, err := scanTask(exec.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFoundf("task %s not found", id)
	}
	if err != nil {
		return nil, store.Wrap(err, "failed to get task")
	}
	return t, nil
}

// ListTasks returns the tasks matching filter in insertion order.
func (db *DB) ListTasks(ctx context.Context, filter store.Filter) ([]*models.Task, error) {
	q := db.builder.Select(taskColumns...).From("tasks")

	if filter.RequestID != "" {
		q = q.Where(sq.Eq{"request_id": filter.RequestID})
	}
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.Priority != "" {
		q = q.Where(sq.Eq{"priority": string(filter.Priority)})
	}
	if filter.Repository != "" {
		q = q.Where(sq.Eq{"repository": filter.Repository})
	}
	if filter.Branch != "" {
		q = q.Where(sq.Eq{"branch": filter.Branch})
	}
	if filter.AssignedTo != "" {
		q = q.Where(sq.Eq{"assigned_to": filter.AssignedTo})
	}
	if filter.File != "" {
		q = q.Where(sq.Expr("EXISTS (SELECT 1 FROM json_each(tasks.context, '$.files') WHERE json_each.value = ?)", filter.File))
	}

	query, args, err := q.OrderBy("rowid").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return db.queryTasks(ctx, db.DB, query, args...)
}

// queryTasks is a helper to execute a query that returns a list of tasks.
func (db *DB) queryTasks(ctx context.Context, exec executor, query string, args ...any) ([]*models.Task, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Wrap(err, "failed to query tasks")
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, store.Wrap(err, "failed to scan task")
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, store.Wrap(err, "rows error")
	}

	return tasks, nil
}

// UpdateTask applies mutate to the current record inside a transaction. The
// write is guarded on the version that was read, so a concurrent writer turns
// it into a conflict instead of a lost update.
func (db *DB) UpdateTask(ctx context.Context, id string, cond store.Condition, mutate store.Mutation) (*models.Task, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	t, err := db.updateTask(ctx, tx, id, cond, mutate)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, store.Wrap(err, "failed to commit task update")
	}

	db.triggerChange(ctx)
	return t, nil
}

func (db *DB) updateTask(ctx context.Context, exec executor, id string, cond store.Condition, mutate store.Mutation) (*models.Task, error) {
	cur, err := db.getTask(ctx, exec, id)
	if err != nil {
		return nil, err
	}
	if err := cond.Check(cur); err != nil {
		return nil, err
	}

	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	next.ID = cur.ID
	next.RequestID = cur.RequestID
	next.CreatedAt = cur.CreatedAt
	next.Version = cur.Version + 1
	next.UpdatedAt = db.now().UTC()

	values, err := columnValues(next)
	if err != nil {
		return nil, err
	}
	delete(values, "id")
	delete(values, "request_id")
	delete(values, "created_at")

	q := db.builder.Update("tasks").
		SetMap(values).
		Where(sq.Eq{"id": id, "version": cur.Version})
	if cond.RequestIdle {
		q = q.Where(sq.Expr(
			"NOT EXISTS (SELECT 1 FROM tasks o WHERE o.request_id = ? AND o.id <> ? AND o.status = ?)",
			cur.RequestID, id, string(models.TaskStatusInProgress),
		))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, store.Wrap(err, "failed to update task")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, store.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		db.log.Debug("conditional update lost", zap.String("task_id", id), zap.Int64("version", cur.Version))
		return nil, store.Conflictf("task %s changed concurrently", id)
	}

	return next, nil
}

// DeleteTask deletes a task by its ID.
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	query, args, err := db.builder.Delete("tasks").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return store.Wrap(err, "failed to delete task")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return store.Wrap(err, "failed to get rows affected")
	}

	if rows == 0 {
		return store.NotFoundf("task %s not found", id)
	}

	db.triggerChange(ctx)
	return nil
}

func (db *DB) createTask(ctx context.Context, exec executor, t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := db.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.Version == 0 {
		t.Version = 1
	}

	values, err := columnValues(t)
	if err != nil {
		return err
	}

	query, args, err := db.builder.Insert("tasks").SetMap(values).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		return store.Wrap(err, "failed to create task")
	}
	return nil
}

func columnValues(t *models.Task) (map[string]any, error) {
	tags, err := marshalJSON(t.Tags, "[]")
	if err != nil {
		return nil, err
	}
	taskCtx, err := marshalJSON(t.Context, "{}")
	if err != nil {
		return nil, err
	}
	stages, err := marshalJSON(t.Progress.Stages, "[]")
	if err != nil {
		return nil, err
	}
	deps, err := marshalJSON(t.Dependencies, "[]")
	if err != nil {
		return nil, err
	}
	meta, err := marshalJSON(t.Metadata, "{}")
	if err != nil {
		return nil, err
	}

	var completedAt any
	if t.CompletedAt != nil {
		completedAt = t.CompletedAt.UTC().Format(timeLayout)
	}

	return map[string]any{
		"id":           t.ID,
		"request_id":   t.RequestID,
		"title":        t.Title,
		"description":  t.Description,
		"status":       string(t.Status),
		"priority":     string(t.Priority),
		"assigned_to":  t.AssignedTo,
		"tags":         tags,
		"repository":   t.Context.Repository,
		"branch":       t.Context.Branch,
		"context":      taskCtx,
		"percentage":   t.Progress.Percentage,
		"stages":       stages,
		"dependencies": deps,
		"metadata":     meta,
		"created_at":   t.CreatedAt.UTC().Format(timeLayout),
		"updated_at":   t.UpdatedAt.UTC().Format(timeLayout),
		"completed_at": completedAt,
		"version":      t.Version,
	}, nil
}

func marshalJSON(v any, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode column: %w", err)
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.Task, error) {
	var (
		t                                 models.Task
		status, priority                  string
		tags, taskCtx, stages, deps, meta string
		createdAt, updatedAt              string
		completedAt                       sql.NullString
	)
	err := row.Scan(
		&t.ID, &t.RequestID, &t.Title, &t.Description, &status, &priority, &t.AssignedTo, &tags,
		&taskCtx, &t.Progress.Percentage, &stages, &deps, &meta,
		&createdAt, &updatedAt, &completedAt, &t.Version,
	)
	if err != nil {
		return nil, err
	}

	t.Status = models.TaskStatus(status)
	t.Priority = models.Priority(priority)

	for _, col := range []struct {
		raw  string
		dest any
	}{
		{tags, &t.Tags},
		{taskCtx, &t.Context},
		{stages, &t.Progress.Stages},
		{deps, &t.Dependencies},
		{meta, &t.Metadata},
	} {
		if err := json.Unmarshal([]byte(col.raw), col.dest); err != nil {
			return nil, fmt.Errorf("failed to decode column: %w", err)
		}
	}

	if t.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if completedAt.Valid {
		ts, err := time.Parse(timeLayout, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at: %w", err)
		}
		t.CompletedAt = &ts
	}

	return &t, nil
}
