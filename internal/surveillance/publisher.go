package surveillance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// AlertPublisher delivers surfaced alerts downstream.
type AlertPublisher interface {
	Publish(ctx context.Context, alerts []Alert) error
	Close() error
}

// KafkaPublisher writes alerts to a Kafka topic, keyed by alert key so
// one incident stays in one partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPublisher returns a publisher for the given brokers and
// topic.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		logger: logger,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	messages := make([]kafka.Message, 0, len(alerts))
	for _, alert := range alerts {
		value, err := json.Marshal(alert)
		if err != nil {
			return fmt.Errorf("surveillance: marshal alert %s: %w", alert.ID, err)
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(alert.Key),
			Value: value,
		})
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("surveillance: publish alerts: %w", err)
	}
	p.logger.Debug("alerts published", zap.Int("count", len(alerts)))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// MemoryPublisher collects alerts in process. Used when no broker is
// configured.
type MemoryPublisher struct {
	mu     sync.Mutex
	alerts []Alert
}

func (m *MemoryPublisher) Publish(_ context.Context, alerts []Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alerts...)
	return nil
}

func (m *MemoryPublisher) Close() error { return nil }

// Published returns everything delivered so far.
func (m *MemoryPublisher) Published() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	alerts := make([]Alert, len(m.alerts))
	copy(alerts, m.alerts)
	return alerts
}
