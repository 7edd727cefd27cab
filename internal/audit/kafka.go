package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaMirror publishes audit entries to a Kafka topic keyed by user.
type KafkaMirror struct {
	w       *kafka.Writer
	timeout time.Duration
}

// NewKafkaMirror creates a mirror writing to topic on brokers.
func NewKafkaMirror(brokers []string, topic string) (*KafkaMirror, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka mirror: no brokers")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka mirror: no topic")
	}
	return &KafkaMirror{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		timeout: 5 * time.Second,
	}, nil
}

// Publish writes e synchronously.
func (k *KafkaMirror) Publish(ctx context.Context, e Entry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(e.User),
		Value:   value,
		Time:    e.Timestamp,
		Headers: []kafka.Header{{Key: "source", Value: []byte("clibridge")}},
	})
}

// Close flushes and closes the writer.
func (k *KafkaMirror) Close() error { return k.w.Close() }
