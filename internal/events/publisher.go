package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-engine/internal/metrics"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher публикует события мутаций наград в топик.
type KafkaPublisher struct {
	writer  messageWriter
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewKafkaPublisher создаёт публикатор для указанных брокеров и топика.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger, m *metrics.Metrics) *KafkaPublisher {
	return newPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}, logger, m)
}

func newPublisher(w messageWriter, logger *zap.Logger, m *metrics.Metrics) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: w, logger: logger, metrics: m}
}

// PublishRewardEvents публикует события одним батчем. Ключом сообщения служит идентификатор мерчанта.
func (p *KafkaPublisher) PublishRewardEvents(ctx context.Context, events []RewardEvent) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		v, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.MerchantID),
			Value: v,
			Time:  e.OccurredAt,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.metrics.RecordEvent("out", false)
		return fmt.Errorf("write messages: %w", err)
	}
	for range msgs {
		p.metrics.RecordEvent("out", true)
	}

	p.logger.Debug("reward events published", zap.Int("count", len(msgs)))
	return nil
}

// Close закрывает писателя Kafka.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
