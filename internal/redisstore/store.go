// Package redisstore keeps tasks in Redis as JSON documents. Conditional
// updates use WATCH/MULTI so a write that raced with another client fails
// with store.ErrConflict instead of overwriting it.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ldi/taskflow/internal/store"
	"github.com/ldi/taskflow/pkg/models"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	client redis.UniversalClient
	prefix string
	log    *zap.Logger
	now    func() time.Time
}

type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Dial connects to Redis and pings it.
func Dial(ctx context.Context, opts Options, log *zap.Logger) (*Store, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:           []string{opts.Addr},
		Password:        opts.Password,
		DB:              opts.DB,
		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 1 * time.Second,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        10,
		MinIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, store.Wrap(err, "failed to ping redis")
	}

	return New(client, opts.Prefix, log), nil
}

func New(client redis.UniversalClient, prefix string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		client: client,
		prefix: prefix,
		log:    log,
		now:    time.Now,
	}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return store.Wrap(err, "redis ping failed")
	}
	return nil
}

func (s *Store) taskKey(id string) string {
	return s.prefix + "task:" + id
}

func (s *Store) requestKey(requestID string) string {
	return s.prefix + "request:" + requestID
}

func (s *Store) indexKey() string {
	return s.prefix + "tasks"
}

func (s *Store) CreateTask(ctx context.Context, t *models.Task) error {
	return s.CreateTasks(ctx, []*models.Task{t})
}

// CreateTasks writes all tasks in one MULTI block. It fails with ErrConflict
// when any id is already taken.
func (s *Store) CreateTasks(ctx context.Context, tasks []*models.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	now := s.now().UTC()
	keys := make([]string, 0, len(tasks))
	payloads := make([][]byte, 0, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = t.CreatedAt
		}
		if t.Version == 0 {
			t.Version = 1
		}
		data, err := json.Marshal(t)
		if err != nil {
			return store.Wrap(err, "failed to encode task")
		}
		keys = append(keys, s.taskKey(t.ID))
		payloads = append(payloads, data)
	}

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, keys...).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return store.Conflictf("task id already exists")
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, t := range tasks {
				pipe.Set(ctx, keys[i], payloads[i], 0)
				pipe.RPush(ctx, s.requestKey(t.RequestID), t.ID)
				pipe.RPush(ctx, s.indexKey(), t.ID)
			}
			return nil
		})
		return err
	}, keys...)
	return s.translate(err, "failed to create tasks")
}

func (s *Store) GetTask(ctx context.Context, requestID, id string) (*models.Task, error) {
	t, err := s.getTask(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	if requestID != "" && t.RequestID != requestID {
		return nil, store.NotFoundf("task %s not found in request %s", id, requestID)
	}
	return t, nil
}

func (s *Store) getTask(ctx context.Context, c redis.Cmdable, id string) (*models.Task, error) {
	data, err := c.Get(ctx, s.taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.NotFoundf("task %s not found", id)
	}
	if err != nil {
		return nil, store.Wrap(err, "failed to get task")
	}
	return decodeTask(data)
}

func decodeTask(data []byte) (*models.Task, error) {
	var t models.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, store.Wrap(err, "failed to decode task")
	}
	return &t, nil
}

// ListTasks returns matching tasks in insertion order.
func (s *Store) ListTasks(ctx context.Context, filter store.Filter) ([]*models.Task, error) {
	listKey := s.indexKey()
	if filter.RequestID != "" {
		listKey = s.requestKey(filter.RequestID)
	}

	tasks, err := s.loadList(ctx, s.client, listKey)
	if err != nil {
		return nil, err
	}

	var out []*models.Task
	for _, t := range tasks {
		if filter.Match(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) loadList(ctx context.Context, c redis.Cmdable, listKey string) ([]*models.Task, error) {
	ids, err := c.LRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return nil, store.Wrap(err, "failed to list task ids")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.taskKey(id)
	}
	vals, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, store.Wrap(err, "failed to load tasks")
	}

	tasks := make([]*models.Task, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue // deleted between LRANGE and MGET
		}
		t, err := decodeTask([]byte(raw))
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *Store) UpdateTask(ctx context.Context, id string, cond store.Condition, mutate store.Mutation) (*models.Task, error) {
	b := store.NewBatch()
	b.Add(id, cond, mutate)
	updated, err := s.CommitBatch(ctx, b)
	if err != nil {
		return nil, err
	}
	return updated[0], nil
}

// CommitBatch stages every op against the watched records and writes them in
// a single MULTI block.
func (s *Store) CommitBatch(ctx context.Context, b *store.Batch) ([]*models.Task, error) {
	if b == nil || b.Len() == 0 {
		return nil, nil
	}

	keys := make([]string, 0, b.Len())
	for _, op := range b.Ops() {
		keys = append(keys, s.taskKey(op.TaskID))
	}

	var updated []*models.Task
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		updated = updated[:0]
		staged := make(map[string]*models.Task, b.Len())

		for _, op := range b.Ops() {
			cur, ok := staged[op.TaskID]
			if !ok {
				var err error
				if cur, err = s.getTask(ctx, tx, op.TaskID); err != nil {
					return err
				}
			}
			if err := op.Cond.Check(cur); err != nil {
				return err
			}
			if op.Cond.RequestIdle {
				if err := s.checkRequestIdle(ctx, tx, cur); err != nil {
					return err
				}
			}

			next := cur.Clone()
			if op.Mutate != nil {
				if err := op.Mutate(next); err != nil {
					return err
				}
			}
			next.ID = cur.ID
			next.RequestID = cur.RequestID
			next.CreatedAt = cur.CreatedAt
			next.Version = cur.Version + 1
			next.UpdatedAt = s.now().UTC()

			staged[op.TaskID] = next
			updated = append(updated, next)
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for id, t := range staged {
				data, err := json.Marshal(t)
				if err != nil {
					return err
				}
				pipe.Set(ctx, s.taskKey(id), data, 0)
			}
			return nil
		})
		return err
	}, keys...)
	if err != nil {
		return nil, s.translate(err, "failed to commit batch")
	}
	return updated, nil
}

// checkRequestIdle watches every sibling of t and fails when one of them is
// in progress.
func (s *Store) checkRequestIdle(ctx context.Context, tx *redis.Tx, t *models.Task) error {
	listKey := s.requestKey(t.RequestID)
	if err := tx.Watch(ctx, listKey).Err(); err != nil {
		return err
	}
	ids, err := tx.LRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != t.ID {
			keys = append(keys, s.taskKey(id))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := tx.Watch(ctx, keys...).Err(); err != nil {
		return err
	}

	siblings, err := s.loadList(ctx, tx, listKey)
	if err != nil {
		return err
	}
	for _, sib := range siblings {
		if sib.ID != t.ID && sib.Status == models.TaskStatusInProgress {
			return store.Conflictf("task %s of request %s is already in progress", sib.ID, t.RequestID)
		}
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	key := s.taskKey(id)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		t, err := s.getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.LRem(ctx, s.requestKey(t.RequestID), 0, id)
			pipe.LRem(ctx, s.indexKey(), 0, id)
			return nil
		})
		return err
	}, key)
	return s.translate(err, "failed to delete task")
}

// translate maps a lost WATCH race to ErrConflict and wraps transport errors.
func (s *Store) translate(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.TxFailedErr) {
		s.log.Debug("optimistic transaction aborted", zap.String("op", msg))
		return store.Conflictf("%s: concurrent modification", msg)
	}
	return store.Wrap(err, msg)
}
