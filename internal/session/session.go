// Package session хранит сессии просмотра: накопленный список наград и кэш доступности.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-engine/internal/eligibility"
	"github.com/mmeshcher/loyalty-engine/internal/metrics"
	"github.com/mmeshcher/loyalty-engine/internal/model"
	"github.com/mmeshcher/loyalty-engine/internal/rewards"
)

// DefaultTTL задаёт время жизни неактивной сессии по умолчанию.
const DefaultTTL = 30 * time.Minute

// Session хранит состояние одной сессии просмотра наград мерчанта.
type Session struct {
	ID         string
	MerchantID string
	CreatedAt  time.Time

	cache *eligibility.Cache

	loadMu sync.Mutex

	mu       sync.Mutex
	listing  []model.Reward
	cursor   string
	hasMore  bool
	lastSeen time.Time
}

// Eligibility возвращает кэш доступности сессии.
func (s *Session) Eligibility() *eligibility.Cache {
	return s.cache
}

// Append добавляет загруженную страницу к списку сессии.
func (s *Session) Append(page rewards.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listing = append(s.listing, page.Rewards...)
	s.cursor = page.NextCursor
	s.hasMore = page.HasMore
}

// LoadNext загружает следующую страницу через load и добавляет её к списку.
// Загрузки одной сессии выполняются по очереди, поэтому страница не дублируется.
// Если страниц больше нет, load не вызывается.
func (s *Session) LoadNext(load func(cursor string) (rewards.Page, error)) (string, bool, error) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	cursor, more := s.Cursor()
	if !more {
		return cursor, false, nil
	}
	page, err := load(cursor)
	if err != nil {
		return cursor, more, err
	}
	s.Append(page)
	return page.NextCursor, page.HasMore, nil
}

// Cursor возвращает курсор следующей страницы и признак наличия страниц.
func (s *Session) Cursor() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.hasMore
}

// Listing возвращает копию накопленного списка наград.
func (s *Session) Listing() []model.Reward {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Reward(nil), s.listing...)
}

// Remove убирает награды из списка и кэша сессии.
func (s *Session) Remove(ids ...string) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	s.mu.Lock()
	kept := s.listing[:0]
	for _, r := range s.listing {
		if _, ok := drop[r.ID]; !ok {
			kept = append(kept, r)
		}
	}
	clear(s.listing[len(kept):])
	s.listing = kept
	s.mu.Unlock()

	s.cache.Invalidate(ids...)
}

// SetActive обновляет флаг активности наград в списке сессии и сбрасывает их кэш.
func (s *Session) SetActive(active bool, ids ...string) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	s.mu.Lock()
	for i := range s.listing {
		if _, ok := set[s.listing[i].ID]; ok {
			s.listing[i].IsActive = active
		}
	}
	s.mu.Unlock()

	s.cache.Invalidate(ids...)
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Registry хранит открытые сессии.
type Registry struct {
	agg     *eligibility.Aggregator
	ttl     time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option настраивает реестр.
type Option func(*Registry)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry создаёт реестр. ttl <= 0 означает DefaultTTL.
func NewRegistry(agg *eligibility.Aggregator, ttl time.Duration, logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		agg:      agg,
		ttl:      ttl,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create открывает новую сессию для мерчанта.
func (r *Registry) Create(merchantID string) *Session {
	now := r.now()
	s := &Session{
		ID:         uuid.NewString(),
		MerchantID: merchantID,
		CreatedAt:  now,
		cache:      eligibility.NewCache(r.agg, r.metrics),
		hasMore:    true,
		lastSeen:   now,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()

	r.metrics.SetSessions(n)
	return s
}

// Get возвращает сессию мерчанта и продлевает её жизнь.
func (r *Registry) Get(merchantID, id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok || s.MerchantID != merchantID {
		return nil, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	s.touch(r.now())
	return s, nil
}

// Close закрывает сессию и отбрасывает её кэш.
func (r *Registry) Close(merchantID, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok || s.MerchantID != merchantID {
		r.mu.Unlock()
		return fmt.Errorf("session %s: %w", id, model.ErrNotFound)
	}
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	s.cache.Reset()
	r.metrics.SetSessions(n)
	return nil
}

// InvalidateReward сбрасывает кэш награды во всех сессиях мерчанта.
// Возвращает число затронутых сессий.
func (r *Registry) InvalidateReward(merchantID, rewardID string) int {
	sessions := r.merchantSessions(merchantID)
	for _, s := range sessions {
		s.cache.Invalidate(rewardID)
	}
	return len(sessions)
}

func (r *Registry) merchantSessions(merchantID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []*Session
	for _, s := range r.sessions {
		if s.MerchantID == merchantID {
			res = append(res, s)
		}
	}
	return res
}

// RemoveRewards убирает награды из списков и кэшей всех сессий мерчанта.
func (r *Registry) RemoveRewards(merchantID string, ids ...string) {
	for _, s := range r.merchantSessions(merchantID) {
		s.Remove(ids...)
	}
}

// SetRewardsActive обновляет флаг активности наград во всех сессиях мерчанта.
func (r *Registry) SetRewardsActive(merchantID string, active bool, ids ...string) {
	for _, s := range r.merchantSessions(merchantID) {
		s.SetActive(active, ids...)
	}
}

// Len возвращает количество открытых сессий.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep закрывает сессии, неактивные дольше ttl, и возвращает их количество.
func (r *Registry) Sweep() int {
	deadline := r.now().Add(-r.ttl)

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.idleSince().Before(deadline) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, s := range expired {
		s.cache.Reset()
		r.logger.Info("view session expired", zap.String("sessionID", s.ID), zap.String("merchantID", s.MerchantID))
	}
	if len(expired) > 0 {
		r.metrics.SetSessions(n)
	}
	return len(expired)
}

// StartSweeper запускает фоновое удаление просроченных сессий.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.ttl / 2
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}
