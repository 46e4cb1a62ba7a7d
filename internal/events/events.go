// Package events publishes committed ledger events to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const (
	TopicPurchaseRecorded = "ledger.purchase.recorded"
	TopicSaleRecorded     = "ledger.sale.recorded"
	TopicDueAdded         = "ledger.due.added"
	TopicPaymentRecorded  = "ledger.payment.recorded"
)

// Publisher is called only after a unit of work has committed. Failures never undo it.
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, payload any) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, string, any) error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	prefix string
}

func NewKafkaPublisher(brokers []string, topicPrefix string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteBackoffMin:        50 * time.Millisecond,
		WriteBackoffMax:        500 * time.Millisecond,
		BatchTimeout:           10 * time.Millisecond,
	}
	return &KafkaPublisher{writer: writer, prefix: topicPrefix}
}

// Publish writes payload as JSON keyed by key, so one owner's events stay ordered
// within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	msg := kafka.Message{
		Topic: p.prefix + topic,
		Key:   []byte(key),
		Value: data,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s event: %w", msg.Topic, err)
	}
	log.Debug().Str("topic", msg.Topic).Str("key", key).Msg("event published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
