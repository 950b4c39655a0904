package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ldi/taskflow/internal/db"
	"github.com/ldi/taskflow/pkg/models"
)

// tickClock returns strictly increasing timestamps one millisecond apart.
type tickClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newTickClock() *tickClock {
	return &tickClock{cur: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Millisecond)
	return c.cur
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(_ context.Context, e Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) types() []EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]EventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	db       *db.DB
	svc      *Service
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := newTickClock()
	database, err := db.Open(":memory:", db.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Init(context.Background()); err != nil {
		t.Fatalf("Failed to init database: %v", err)
	}

	var seq int
	var seqMu sync.Mutex
	notifier := &recordingNotifier{}
	svc := New(database, nil, Options{
		NewID: func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("id-%03d", seq)
		},
		Now:      clock.Now,
		Notifier: notifier,
	})
	return &testEnv{db: database, svc: svc, notifier: notifier}
}

// createRequest registers a request and returns its id and task ids by title.
func (e *testEnv) createRequest(t *testing.T, specs ...models.TaskSpec) (string, map[string]string) {
	t.Helper()
	res, err := e.svc.CreateRequest(context.Background(), "test request", specs)
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	ids := make(map[string]string, len(res.Tasks))
	for _, ts := range res.Tasks {
		ids[ts.Title] = ts.TaskID
	}
	return res.RequestID, ids
}

func (e *testEnv) task(t *testing.T, id string) *models.Task {
	t.Helper()
	task, err := e.svc.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTask(%s) failed: %v", id, err)
	}
	return task
}

func spec(title string, priority models.Priority) models.TaskSpec {
	return models.TaskSpec{Title: title, Description: title + " description", Priority: priority}
}
