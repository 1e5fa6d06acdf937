package outbox

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// lifecycleBatchTimeout caps how long a transition waits for batch companions; kafka-go defaults to 1s.
const lifecycleBatchTimeout = 50 * time.Millisecond

// KafkaProducer publishes work session records through one writer shared by all topics.
// Records are hashed on their key, the user id, so each user's transitions stay ordered on one partition.
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer for brokers.
func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		BatchTimeout: lifecycleBatchTimeout,
	}}
}

// WriteMessages addresses msgs to topic and writes them as one batch.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	return p.writer.WriteMessages(ctx, addressed(topic, msgs)...)
}

// Close flushes pending batches and releases broker connections.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// addressed copies msgs with Topic set; the writer has no default topic.
func addressed(topic string, msgs []kafka.Message) []kafka.Message {
	out := make([]kafka.Message, len(msgs))
	for i, msg := range msgs {
		msg.Topic = topic
		out[i] = msg
	}
	return out
}
