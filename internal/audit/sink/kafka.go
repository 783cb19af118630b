package sink

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"chainlog/internal/audit/models"
)

const sendTimeout = 5 * time.Second

// KafkaWriter publishes audit records to a Kafka topic as JSON, keyed by
// sequence so the partition stream follows chain order.
type KafkaWriter struct {
	client *kgo.Client
	topic  string
}

// NewKafkaWriter connects to the brokers and ensures the topic exists.
func NewKafkaWriter(ctx context.Context, brokers []string, topic string) (*KafkaWriter, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	if err := ensureTopic(ctx, client, topic); err != nil {
		client.Close()
		return nil, err
	}
	return &KafkaWriter{client: client, topic: topic}, nil
}

// ensureTopic creates the audit topic with a single partition; chain order
// is only meaningful as one totally ordered stream.
func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, 1, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("ensure audit topic: %w", err)
	}
	for _, res := range resp {
		if res.Err != nil && !errors.Is(res.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create audit topic %s: %w", res.Topic, res.Err)
		}
	}
	return nil
}

// Send produces one record synchronously.
func (w *KafkaWriter) Send(ctx context.Context, record *models.Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal sink record: %w", err)
	}

	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, record.Sequence)

	msg := &kgo.Record{Topic: w.topic, Key: key, Value: payload}
	if err := w.client.ProduceSync(ctx, msg).FirstErr(); err != nil {
		return fmt.Errorf("produce sink record %d: %w", record.Sequence, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (w *KafkaWriter) Close() error {
	w.client.Close()
	return nil
}
