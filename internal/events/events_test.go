package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ldi/taskflow/internal/workflow"
)

func testEvent() workflow.Event {
	return workflow.Event{
		Type:      workflow.EventTaskStarted,
		RequestID: "req-1",
		TaskID:    "task-1",
		Title:     "Build",
		At:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	if err := n.Notify(context.Background(), testEvent()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	entries := logs.FilterMessage("lifecycle event").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["type"] != "task.started" || fields["task_id"] != "task-1" {
		t.Errorf("unexpected fields: %v", fields)
	}
}

type fakeChannel struct {
	declared  string
	published []amqp.Publishing
	keys      []string
	err       error
	closed    bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.declared = name + "/" + kind
	return nil
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.keys = append(c.keys, exchange+":"+key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newPublisher(ch, "taskflow.events", zap.NewNop())
	if err != nil {
		t.Fatalf("newPublisher failed: %v", err)
	}
	if ch.declared != "taskflow.events/topic" {
		t.Errorf("expected topic exchange declaration, got %q", ch.declared)
	}

	if err := p.Notify(context.Background(), testEvent()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if len(ch.keys) != 1 || ch.keys[0] != "taskflow.events:task.started" {
		t.Fatalf("unexpected routing: %v", ch.keys)
	}

	var got workflow.Event
	if err := json.Unmarshal(ch.published[0].Body, &got); err != nil {
		t.Fatalf("body is not an event: %v", err)
	}
	if got.RequestID != "req-1" || ch.published[0].ContentType != "application/json" {
		t.Errorf("unexpected message: %+v", got)
	}

	ch.err = errors.New("channel closed")
	if err := p.Notify(context.Background(), testEvent()); err == nil {
		t.Errorf("expected publish error")
	}

	if err := p.Close(); err != nil || !ch.closed {
		t.Errorf("expected channel to be closed")
	}
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, workflow.Event) error {
	return errors.New("down")
}

func TestMulti(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	m := Multi{failingNotifier{}, NewLogNotifier(zap.New(core))}

	err := m.Notify(context.Background(), testEvent())
	if err == nil {
		t.Errorf("expected joined error")
	}
	if logs.Len() != 1 {
		t.Errorf("later notifiers must still run, got %d log entries", logs.Len())
	}
}
