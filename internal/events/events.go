// Package events delivers committed workflow lifecycle events to the log and,
// optionally, to an AMQP topic exchange.
package events

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ldi/taskflow/internal/workflow"
)

var (
	_ workflow.Notifier = (*LogNotifier)(nil)
	_ workflow.Notifier = Multi(nil)
)

// LogNotifier writes every event as a structured log line.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, e workflow.Event) error {
	n.log.Info("lifecycle event",
		zap.String("type", string(e.Type)),
		zap.String("request_id", e.RequestID),
		zap.String("task_id", e.TaskID),
		zap.String("title", e.Title),
		zap.Time("at", e.At),
	)
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []workflow.Notifier

func (m Multi) Notify(ctx context.Context, e workflow.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
