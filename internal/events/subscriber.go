package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-engine/internal/metrics"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Invalidator сбрасывает закэшированную доступность награды.
type Invalidator interface {
	InvalidateReward(merchantID, rewardID string) int
}

// KafkaSubscriber читает изменения состояний и сбрасывает кэши сессий.
type KafkaSubscriber struct {
	reader  messageReader
	target  Invalidator
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewKafkaSubscriber создаёт подписчика на топик состояний в группе groupID.
func NewKafkaSubscriber(brokers []string, topic, groupID string, target Invalidator, logger *zap.Logger, m *metrics.Metrics) *KafkaSubscriber {
	return newSubscriber(kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	}), target, logger, m)
}

func newSubscriber(r messageReader, target Invalidator, logger *zap.Logger, m *metrics.Metrics) *KafkaSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSubscriber{reader: r, target: target, logger: logger, metrics: m}
}

// Run читает сообщения до отмены контекста. Нераспознанные сообщения пропускаются.
func (s *KafkaSubscriber) Run(ctx context.Context) error {
	defer s.reader.Close()

	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		s.handle(msg)
	}
}

func (s *KafkaSubscriber) handle(msg kafka.Message) {
	var change StateChange
	if err := json.Unmarshal(msg.Value, &change); err != nil || change.MerchantID == "" || change.RewardID == "" {
		s.metrics.RecordEvent("in", false)
		s.logger.Warn("skip malformed state change",
			zap.Int64("offset", msg.Offset),
			zap.ByteString("value", msg.Value),
		)
		return
	}

	n := s.target.InvalidateReward(change.MerchantID, change.RewardID)
	s.metrics.RecordEvent("in", true)
	s.logger.Debug("reward state changed",
		zap.String("merchantID", change.MerchantID),
		zap.String("rewardID", change.RewardID),
		zap.Int("sessions", n),
	)
}
