// Package kafka bridges the in-process change feed to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/delelinus/orderledger/internal/feed"
)

// NewSyncProducer builds a sarama producer tuned for at-least-once delivery.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_6_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Net.DialTimeout = 5 * time.Second
	return sarama.NewSyncProducer(brokers, cfg)
}

// Sink forwards order change events to a Kafka topic, keyed by order ID so
// events for the same order land on the same partition in commit order.
type Sink struct {
	producer sarama.SyncProducer
	topic    string
	log      *slog.Logger
}

func NewSink(producer sarama.SyncProducer, topic string, log *slog.Logger) *Sink {
	return &Sink{producer: producer, topic: topic, log: log}
}

// Run drains the subscription until ctx is cancelled or the feed drops the
// subscriber. Produce failures are logged and the event is skipped.
func (s *Sink) Run(ctx context.Context, sub *feed.Subscription) error {
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					return fmt.Errorf("feed subscription dropped: %w", err)
				}
				return nil
			}
			if err := s.produce(ev); err != nil {
				s.log.Error("kafka produce failed", "event_id", ev.EventID, "err", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sink) produce(ev feed.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(ev.OrderID, 10)),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_id"), Value: []byte(ev.EventID)},
		},
		Timestamp: ev.OccurredAt,
	}

	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.producer.Close()
}
