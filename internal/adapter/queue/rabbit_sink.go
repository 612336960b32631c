// Package queue bridges the in-process change feed to RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/delelinus/orderledger/internal/feed"
	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultQueueName = "order.events.q"

// RabbitSink fans the order change feed out to a topic exchange so that
// downstream consumers (fulfilment, analytics) see every committed order.
type RabbitSink struct {
	ch         *amqp.Channel
	exchange   string
	routingKey string
	log        *slog.Logger
}

// NewRabbitSink sets up the exchange, queue, and binding once at startup.
func NewRabbitSink(ch *amqp.Channel, exchange, routingKey string, log *slog.Logger) (*RabbitSink, error) {
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		defaultQueueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return nil, fmt.Errorf("queue bind: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}

	return &RabbitSink{ch: ch, exchange: exchange, routingKey: routingKey, log: log}, nil
}

// Run drains the subscription until ctx is cancelled or the feed drops the
// subscriber. Publish failures are logged and the event is skipped; the broker
// is not allowed to stall order commits.
func (s *RabbitSink) Run(ctx context.Context, sub *feed.Subscription) error {
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					return fmt.Errorf("feed subscription dropped: %w", err)
				}
				return nil
			}
			if err := s.publish(ctx, ev); err != nil {
				s.log.Error("rabbit publish failed", "event_id", ev.EventID, "err", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *RabbitSink) publish(ctx context.Context, ev feed.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID,
		Timestamp:    ev.OccurredAt,
		Body:         body,
	}

	if err := s.ch.PublishWithContext(
		ctx,
		s.exchange,
		s.routingKey,
		false, // mandatory
		false, // immediate
		pub,
	); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
