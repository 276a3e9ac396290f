package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/whalewatch/engine/internal/store"
)

// MessageWriter is the part of kafka.Writer used by KafkaProducer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter constructs a kafka.Writer for the alert topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	return kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Dialer:       dialer,
		BatchTimeout: 200 * time.Millisecond,
		RequiredAcks: int(kafka.RequireOne),
	})
}

// KafkaProducer writes alerts to a topic keyed by asset, so one asset's
// alerts stay ordered within a partition.
type KafkaProducer struct {
	writer MessageWriter
}

// NewKafkaProducer wraps a writer.
func NewKafkaProducer(w MessageWriter) *KafkaProducer {
	return &KafkaProducer{writer: w}
}

func (k *KafkaProducer) Name() string { return "kafka" }

// Publish writes one message with the alert JSON as value.
func (k *KafkaProducer) Publish(ctx context.Context, a store.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(a.Asset),
		Value: data,
		Time:  a.CreatedAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(a.Kind)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaProducer) Close() error {
	return k.writer.Close()
}
