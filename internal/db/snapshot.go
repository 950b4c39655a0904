package db

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ldi/taskflow/internal/store"
	"github.com/ldi/taskflow/pkg/models"
)

const snapshotVersion = 1

type snapshotMeta struct {
	RecordType string    `json:"record_type"`
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	TaskCount  int       `json:"task_count"`
}

type snapshotTask struct {
	RecordType string `json:"record_type"`
	*models.Task
}

// EnableAutoSnapshot sets up a hook that exports a snapshot to path after
// every successful write. Export failures are logged and never fail the write.
func (db *DB) EnableAutoSnapshot(path string) {
	db.SetOnChange(func(ctx context.Context) {
		if err := db.ExportSnapshot(ctx, path); err != nil {
			db.log.Warn("auto snapshot failed", zap.String("path", path), zap.Error(err))
		}
	})
}

// ExportSnapshot writes a meta line followed by one line per task to path,
// atomically through a temporary file.
func (db *DB) ExportSnapshot(ctx context.Context, path string) error {
	tasks, err := db.ListTasks(ctx, store.Filter{})
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "snapshot-*.jsonl")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempFile.Name())
		}
	}()

	w := bufio.NewWriter(tempFile)
	enc := json.NewEncoder(w)

	meta := snapshotMeta{
		RecordType: "meta",
		Version:    snapshotVersion,
		ExportedAt: db.now().UTC(),
		TaskCount:  len(tasks),
	}
	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("failed to write snapshot meta: %w", err)
	}
	for _, t := range tasks {
		if err := enc.Encode(snapshotTask{RecordType: "task", Task: t}); err != nil {
			return fmt.Errorf("failed to write snapshot line: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	filename := tempFile.Name()
	tempFile = nil // Prevent defer from removing it

	if err := os.Rename(filename, path); err != nil {
		os.Remove(filename)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// ImportSnapshot loads tasks from a JSONL snapshot in one transaction. Tasks
// whose id already exists are left untouched. It returns the number of tasks
// inserted.
func (db *DB) ImportSnapshot(ctx context.Context, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, store.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	imported := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var base struct {
			RecordType string `json:"record_type"`
			Version    int    `json:"version"`
		}
		if err := json.Unmarshal(line, &base); err != nil {
			return 0, fmt.Errorf("failed to unmarshal base record: %w", err)
		}

		switch base.RecordType {
		case "meta":
			if base.Version > snapshotVersion {
				return 0, store.InvalidArgumentf("unsupported snapshot version %d", base.Version)
			}
		case "task":
			rec := snapshotTask{Task: &models.Task{}}
			if err := json.Unmarshal(line, &rec); err != nil {
				return 0, fmt.Errorf("failed to unmarshal task: %w", err)
			}
			t := rec.Task
			if t.ID == "" || t.RequestID == "" {
				return 0, store.InvalidArgumentf("snapshot task %q is missing its id or request id", t.Title)
			}
			if t.Version == 0 {
				t.Version = 1
			}

			values, err := columnValues(t)
			if err != nil {
				return 0, err
			}
			query, args, err := db.builder.Insert("tasks").
				SetMap(values).
				Suffix("ON CONFLICT(id) DO NOTHING").
				ToSql()
			if err != nil {
				return 0, fmt.Errorf("failed to build query: %w", err)
			}
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return 0, store.Wrap(err, fmt.Sprintf("failed to import task %s", t.ID))
			}
			if n, err := res.RowsAffected(); err == nil {
				imported += int(n)
			}
		default:
			db.log.Debug("skipping snapshot record", zap.String("record_type", base.RecordType))
		}
	}

	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scanner error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, store.Wrap(err, "failed to commit snapshot import")
	}

	db.triggerChange(ctx)
	return imported, nil
}
