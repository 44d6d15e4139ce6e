// Package eligibility подсчитывает, сколько клиентов видят награду и могут её получить.
package eligibility

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/loyalty-engine/internal/metrics"
	"github.com/mmeshcher/loyalty-engine/internal/model"
)

// DefaultFanout задаёт число одновременных запросов состояния по умолчанию.
const DefaultFanout = 8

// Source предоставляет данные для агрегации.
type Source interface {
	ListCustomers(ctx context.Context, merchantID string) ([]model.Customer, error)
	GetReward(ctx context.Context, merchantID, rewardID string) (*model.Reward, error)
	GetRewardState(ctx context.Context, customerID, rewardID string) (model.CustomerRewardState, error)
}

// Stats содержит итог агрегации по одной награде.
type Stats struct {
	RewardID          string                  `json:"rewardId"`
	CanSeeCount       int                     `json:"canSeeCount"`
	CanRedeemCount    int                     `json:"canRedeemCount"`
	TotalCustomers    int                     `json:"totalCustomers"`
	EligibleCustomers []model.CustomerSummary `json:"eligibleCustomers"`
	// FailedLookups считает клиентов, чьё состояние не удалось прочитать; они учтены как недоступные.
	FailedLookups int `json:"failedLookups"`
	// Failed хранит ошибку чтения по идентификатору клиента.
	Failed model.PartialFailure `json:"-"`
}

// Partial сообщает, что часть запросов состояния завершилась ошибкой.
func (s Stats) Partial() bool {
	return s.FailedLookups > 0
}

// Aggregator выполняет агрегацию с ограниченным параллелизмом.
type Aggregator struct {
	src     Source
	limit   int
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewAggregator создаёт агрегатор. limit <= 0 означает DefaultFanout.
func NewAggregator(src Source, limit int, logger *zap.Logger, m *metrics.Metrics) *Aggregator {
	if limit <= 0 {
		limit = DefaultFanout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{src: src, limit: limit, logger: logger, metrics: m}
}

// Aggregate подсчитывает видимость и доступность награды по всем клиентам мерчанта.
// Ошибка чтения состояния отдельного клиента не прерывает агрегацию: клиент считается
// недоступным. Отсутствие самой награды возвращается как ошибка.
func (a *Aggregator) Aggregate(ctx context.Context, merchantID, rewardID string) (Stats, error) {
	start := time.Now()

	if _, err := a.src.GetReward(ctx, merchantID, rewardID); err != nil {
		return Stats{}, fmt.Errorf("aggregate eligibility: %w", err)
	}

	customers, err := a.src.ListCustomers(ctx, merchantID)
	if err != nil {
		return Stats{}, fmt.Errorf("aggregate eligibility: %w", err)
	}

	states := make([]model.CustomerRewardState, len(customers))
	failed := make([]error, len(customers))

	var g errgroup.Group
	g.SetLimit(a.limit)
	for i, c := range customers {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				failed[i] = err
				return nil
			}
			st, err := a.src.GetRewardState(ctx, c.ID, rewardID)
			a.metrics.RecordLookup("eligibility", err == nil)
			if err != nil {
				failed[i] = err
				a.logger.Warn("reward state lookup failed",
					zap.String("merchantID", merchantID),
					zap.String("rewardID", rewardID),
					zap.String("customerID", c.ID),
					zap.Error(err),
				)
				return nil
			}
			states[i] = st
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Stats{}, fmt.Errorf("aggregate eligibility: %w", err)
	}

	stats := Stats{
		RewardID:          rewardID,
		TotalCustomers:    len(customers),
		EligibleCustomers: make([]model.CustomerSummary, 0),
		Failed:            model.PartialFailure{},
	}
	for i, c := range customers {
		if failed[i] != nil {
			stats.Failed[c.ID] = failed[i]
			stats.FailedLookups++
			continue
		}
		if states[i].CanSee() {
			stats.CanSeeCount++
		}
		if states[i].CanRedeem() {
			stats.CanRedeemCount++
			stats.EligibleCustomers = append(stats.EligibleCustomers, c.Summary())
		}
	}

	a.metrics.RecordAggregation(time.Since(start), stats.Partial())
	return stats, nil
}
