package db

import (
	"context"
	"fmt"

	"github.com/ldi/taskflow/internal/store"
	"github.com/ldi/taskflow/pkg/models"
)

// CreateTasks inserts every task in one transaction.
func (db *DB) CreateTasks(ctx context.Context, tasks []*models.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return store.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, t := range tasks {
		if err := db.createTask(ctx, tx, t); err != nil {
			return fmt.Errorf("failed to create task %q: %w", t.Title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return store.Wrap(err, "failed to commit tasks")
	}

	db.triggerChange(ctx)
	return nil
}

// CommitBatch applies the staged updates in order. The first failing
// condition rolls back the whole batch.
func (db *DB) CommitBatch(ctx context.Context, b *store.Batch) ([]*models.Task, error) {
	if b == nil || b.Len() == 0 {
		return nil, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	updated := make([]*models.Task, 0, b.Len())
	for _, op := range b.Ops() {
		t, err := db.updateTask(ctx, tx, op.TaskID, op.Cond, op.Mutate)
		if err != nil {
			return nil, err
		}
		updated = append(updated, t)
	}

	if err := tx.Commit(); err != nil {
		return nil, store.Wrap(err, "failed to commit batch")
	}

	db.triggerChange(ctx)
	return updated, nil
}
