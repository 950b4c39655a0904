// Package workflow implements the task lifecycle: request registration,
// next-task scheduling, completion, progress tracking and the two-tier
// approval gate. Every operation is stateless; the store is the only shared
// resource and all coordination goes through its conditional updates.
package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ldi/taskflow/internal/store"
	"github.com/ldi/taskflow/pkg/models"
)

const defaultMaxRetries = 5

type Options struct {
	// NewID generates request and task ids. Defaults to random UUIDs.
	NewID func() string
	Now   func() time.Time
	// MaxRetries bounds how often a lost conditional write is retried.
	MaxRetries int
	// StoreTimeout bounds every store call. Zero leaves only the caller's
	// deadline in place.
	StoreTimeout time.Duration
	Notifier     Notifier
}

type Service struct {
	store        store.Store
	log          *zap.Logger
	newID        func() string
	now          func() time.Time
	maxRetries   int
	storeTimeout time.Duration
	notifier     Notifier
}

func New(st store.Store, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:        st,
		log:          log,
		newID:        opts.NewID,
		now:          opts.Now,
		maxRetries:   opts.MaxRetries,
		storeTimeout: opts.StoreTimeout,
		notifier:     opts.Notifier,
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.maxRetries <= 0 {
		s.maxRetries = defaultMaxRetries
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	return s
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout > 0 {
		return context.WithTimeout(ctx, s.storeTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC()
}

func (s *Service) listTasks(ctx context.Context, filter store.Filter) ([]*models.Task, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.ListTasks(ctx, filter)
}

func (s *Service) getTask(ctx context.Context, requestID, id string) (*models.Task, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.GetTask(ctx, requestID, id)
}

// requestTasks lists the tasks of a request and fails with ErrNotFound when
// there are none.
func (s *Service) requestTasks(ctx context.Context, requestID string) ([]*models.Task, error) {
	if requestID == "" {
		return nil, store.InvalidArgumentf("requestId is required")
	}
	tasks, err := s.listTasks(ctx, store.Filter{RequestID: requestID})
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, store.NotFoundf("no tasks found for request %s", requestID)
	}
	return tasks, nil
}

// update applies mutate to the freshly read task. A lost race is retried
// unless cond pins a version, in which case the caller owns the retry.
func (s *Service) update(ctx context.Context, id string, cond store.Condition, mutate store.Mutation) (*models.Task, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		sctx, cancel := s.storeCtx(ctx)
		t, err := s.store.UpdateTask(sctx, id, cond, mutate)
		cancel()
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, store.ErrConflict) || cond.Version > 0 || cond.Status != "" {
			return nil, err
		}
		lastErr = err
		s.log.Debug("retrying task update", zap.String("task_id", id), zap.Int("attempt", attempt+1))
	}
	return nil, lastErr
}

func (s *Service) report(ctx context.Context, requestID string) ([]models.ProgressEntry, error) {
	tasks, err := s.listTasks(ctx, store.Filter{RequestID: requestID})
	if err != nil {
		return nil, err
	}
	return models.Report(tasks), nil
}
