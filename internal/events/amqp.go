package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/ldi/taskflow/internal/workflow"
)

const defaultDialAttempts = 5

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends events to a topic exchange, routed by event type.
type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	log      *zap.Logger
}

// Dial connects to the broker, retrying with a growing backoff, and declares
// the exchange.
func Dial(ctx context.Context, url, exchange string, log *zap.Logger) (*Publisher, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	for i := 1; i <= defaultDialAttempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			var ch *amqp.Channel
			ch, err = conn.Channel()
			if err == nil {
				p, err := newPublisher(ch, exchange, log)
				if err != nil {
					conn.Close()
					return nil, err
				}
				p.conn = conn
				return p, nil
			}
			conn.Close()
		}

		log.Warn("failed to connect to broker, retrying",
			zap.Int("attempt", i),
			zap.Int("max_attempts", defaultDialAttempts),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i) * time.Second):
		}
	}

	return nil, fmt.Errorf("failed to connect to broker after %d attempts: %w", defaultDialAttempts, err)
}

func newPublisher(ch channel, exchange string, log *zap.Logger) (*Publisher, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &Publisher{ch: ch, exchange: exchange, log: log}, nil
}

func (p *Publisher) Notify(ctx context.Context, e workflow.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		string(e.Type),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    e.At,
			Type:         string(e.Type),
			Body:         body,
		})
	if err != nil {
		p.log.Error("failed to publish event", zap.String("type", string(e.Type)), zap.Error(err))
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.log.Debug("published event", zap.String("type", string(e.Type)), zap.String("request_id", e.RequestID))
	return nil
}

func (p *Publisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
