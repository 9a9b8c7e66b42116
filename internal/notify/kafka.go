package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message is the payload published to the SMS topic and consumed by the worker.
type Message struct {
	Destination string    `json:"destination"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes messages to a Kafka topic; delivery to the handset is done by the worker.
type KafkaNotifier struct {
	writer messageWriter
	nowF   func() time.Time
}

// NewKafkaNotifier creates a notifier that writes to topic. brokers and topic must be non-empty.
// Call Close when shutting down.
func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("notify: kafka brokers and topic are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaNotifier{writer: writer, nowF: time.Now}, nil
}

// Send publishes one message keyed by destination so messages to the same phone stay ordered.
func (n *KafkaNotifier) Send(ctx context.Context, destination, message string) error {
	payload, err := json.Marshal(Message{
		Destination: destination,
		Body:        message,
		CreatedAt:   n.nowF().UTC(),
	})
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(destination),
		Value: payload,
	})
}

// Close closes the Kafka writer. Safe to call on a nil notifier.
func (n *KafkaNotifier) Close() error {
	if n == nil || n.writer == nil {
		return nil
	}
	return n.writer.Close()
}

// DecodeMessage parses a payload written by KafkaNotifier.
func DecodeMessage(value []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(value, &m); err != nil {
		return Message{}, err
	}
	if m.Destination == "" {
		return Message{}, errors.New("notify: message has no destination")
	}
	return m, nil
}
