package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type EventType string

const (
	EventRequestCreated  EventType = "request.created"
	EventTaskStarted     EventType = "task.started"
	EventTaskCompleted   EventType = "task.completed"
	EventTaskApproved    EventType = "task.approved"
	EventRequestApproved EventType = "request.approved"
)

// Event is emitted after a lifecycle transition has been committed.
type Event struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"requestId"`
	TaskID    string    `json:"taskId,omitempty"`
	Title     string    `json:"title,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier receives committed lifecycle events. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }

func (s *Service) emit(ctx context.Context, typ EventType, requestID, taskID, title string) {
	e := Event{
		Type:      typ,
		RequestID: requestID,
		TaskID:    taskID,
		Title:     title,
		At:        s.timestamp(),
	}
	if err := s.notifier.Notify(ctx, e); err != nil {
		s.log.Warn("failed to deliver event",
			zap.String("type", string(typ)),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}
