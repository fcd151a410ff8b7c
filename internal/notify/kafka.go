package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type securityAlert struct {
	Type string `json:"type"`
	TokenReuseAlert
}

// KafkaNotifier publishes alerts for the mail pipeline, keyed by user ID so
// one user's alerts stay ordered within a partition.
type KafkaNotifier struct {
	writer  MessageWriter
	timeout time.Duration
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return NewKafkaNotifierWithWriter(w)
}

func NewKafkaNotifierWithWriter(w MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: w, timeout: 5 * time.Second}
}

func (n *KafkaNotifier) SendTokenReuseAlert(ctx context.Context, alert TokenReuseAlert) error {
	b, err := json.Marshal(securityAlert{Type: "token_reuse_detected", TokenReuseAlert: alert})
	if err != nil {
		return fmt.Errorf("marshal token reuse alert: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	msg := kafka.Message{
		Key:   []byte(alert.UserID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "alert_type", Value: []byte("token_reuse_detected")},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish token reuse alert: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
