package eligibility

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/mmeshcher/loyalty-engine/internal/metrics"
)

// Cache хранит результаты агрегации в пределах одной сессии просмотра.
// Одновременные запросы одной награды разделяют одну агрегацию.
// Результаты с ошибками отдельных запросов не кэшируются.
type Cache struct {
	agg     *Aggregator
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[string]Stats
	gen     map[string]uint64
	group   singleflight.Group
}

// NewCache создаёт пустой кэш поверх агрегатора.
func NewCache(agg *Aggregator, m *metrics.Metrics) *Cache {
	return &Cache{
		agg:     agg,
		metrics: m,
		entries: make(map[string]Stats),
		gen:     make(map[string]uint64),
	}
}

// Get возвращает результат из кэша или выполняет агрегацию.
func (c *Cache) Get(ctx context.Context, merchantID, rewardID string) (Stats, error) {
	c.mu.Lock()
	if st, ok := c.entries[rewardID]; ok {
		c.mu.Unlock()
		c.metrics.RecordCache(true)
		return st, nil
	}
	gen := c.gen[rewardID]
	c.gen[rewardID] = gen
	c.mu.Unlock()
	c.metrics.RecordCache(false)

	// Общая агрегация не зависит от отмены отдельного вызывающего.
	ch := c.group.DoChan(rewardID, func() (any, error) {
		st, err := c.agg.Aggregate(context.WithoutCancel(ctx), merchantID, rewardID)
		if err != nil {
			return Stats{}, err
		}

		c.mu.Lock()
		// Инвалидация во время агрегации делает результат устаревшим.
		if c.gen[rewardID] == gen && !st.Partial() {
			c.entries[rewardID] = st
		}
		c.mu.Unlock()
		return st, nil
	})

	select {
	case <-ctx.Done():
		return Stats{}, fmt.Errorf("eligibility cache: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Stats{}, res.Err
		}
		return res.Val.(Stats), nil
	}
}

// Invalidate удаляет результаты для перечисленных наград.
func (c *Cache) Invalidate(rewardIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range rewardIDs {
		delete(c.entries, id)
		c.gen[id]++
		c.group.Forget(id)
	}
}

// Reset очищает кэш целиком.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Stats)
	for id := range c.gen {
		c.gen[id]++
		c.group.Forget(id)
	}
}

// Len возвращает количество закэшированных наград.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
