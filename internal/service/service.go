// Package service реализует бизнес-логику движка сегментации и доступности наград.
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-engine/internal/bulk"
	"github.com/mmeshcher/loyalty-engine/internal/cohort"
	"github.com/mmeshcher/loyalty-engine/internal/eligibility"
	"github.com/mmeshcher/loyalty-engine/internal/events"
	"github.com/mmeshcher/loyalty-engine/internal/metrics"
	"github.com/mmeshcher/loyalty-engine/internal/model"
	"github.com/mmeshcher/loyalty-engine/internal/progress"
	"github.com/mmeshcher/loyalty-engine/internal/rewards"
	"github.com/mmeshcher/loyalty-engine/internal/session"
	"github.com/mmeshcher/loyalty-engine/internal/validation"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	ListCustomers(ctx context.Context, merchantID string) ([]model.Customer, error)
	GetCustomer(ctx context.Context, merchantID, customerID string) (*model.Customer, error)
	GetReward(ctx context.Context, merchantID, rewardID string) (*model.Reward, error)
	ListRewardsPage(ctx context.Context, merchantID, cursor string, limit int) ([]model.Reward, string, error)
	ListAllRewards(ctx context.Context, merchantID string) ([]model.Reward, error)
	DeleteReward(ctx context.Context, merchantID, rewardID string) error
	SetRewardActive(ctx context.Context, merchantID, rewardID string, active bool) error
	GetRewardState(ctx context.Context, customerID, rewardID string) (model.CustomerRewardState, error)
	ListPrograms(ctx context.Context, merchantID string) ([]model.Program, error)
	GetProgram(ctx context.Context, merchantID, programID string) (*model.Program, error)
	GetProgramProgress(ctx context.Context, customerID, programID string) (*model.ProgramProgress, error)
	ListRedemptions(ctx context.Context, customerID string) ([]model.Redemption, error)
}

// EventPublisher публикует события мутаций наград.
type EventPublisher interface {
	PublishRewardEvents(ctx context.Context, events []events.RewardEvent) error
}

// Options задаёт параметры сервиса. Нулевые значения заменяются умолчаниями.
type Options struct {
	Fanout     int
	PageSize   int
	SessionTTL time.Duration
	// Redemptions заменяет хранилище фактов как источник записей об использовании наград.
	Redemptions progress.RedemptionSource
	Publisher   EventPublisher
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// Service содержит бизнес-логику движка.
type Service struct {
	repo       Repository
	aggregator *eligibility.Aggregator
	resolver   *progress.Resolver
	loader     *rewards.Loader
	bulk       *bulk.Coordinator
	sessions   *session.Registry
	publisher  EventPublisher
	pageSize   int
	logger     *zap.Logger
	now        func() time.Time
}

// NewService создаёт сервис поверх репозитория.
func NewService(repo Repository, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var redemptions progress.RedemptionSource = repo
	if opts.Redemptions != nil {
		redemptions = opts.Redemptions
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = rewards.DefaultPageSize
	}

	agg := eligibility.NewAggregator(repo, opts.Fanout, logger, opts.Metrics)
	return &Service{
		repo:       repo,
		aggregator: agg,
		resolver:   progress.NewResolver(repo, redemptions, opts.Fanout, logger, opts.Metrics),
		loader:     rewards.NewLoader(repo, pageSize),
		bulk:       bulk.NewCoordinator(opts.Fanout, logger, opts.Metrics),
		sessions:   session.NewRegistry(agg, opts.SessionTTL, logger, opts.Metrics),
		publisher:  opts.Publisher,
		pageSize:   pageSize,
		logger:     logger,
		now:        time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Sessions возвращает реестр сессий просмотра.
func (s *Service) Sessions() *session.Registry {
	return s.sessions
}

func validateIDs(ids ...string) error {
	for _, id := range ids {
		if !validation.IsValidID(id) {
			return fmt.Errorf("%w: invalid id %q", model.ErrInvalidArgument, id)
		}
	}
	return nil
}

// operationFailed помечает ошибку мутации основной сущности, сохраняя исходную причину.
func operationFailed(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", model.ErrOperationFailed, err)
}

// RewardsPage содержит страницу наград после фильтрации и сортировки.
type RewardsPage struct {
	Rewards    []model.Reward
	NextCursor string
	HasMore    bool
}

// ListRewards возвращает награды после курсора. Без фильтра загружается одна страница;
// с фильтром страницы загружаются, пока не наберётся limit совпадений или не кончатся данные.
func (s *Service) ListRewards(ctx context.Context, merchantID, cursor string, limit int, q rewards.Query) (RewardsPage, error) {
	if err := validateIDs(merchantID); err != nil {
		return RewardsPage{}, err
	}
	if limit <= 0 {
		limit = s.pageSize
	}

	if q.Category == "" && q.Search == "" {
		page, err := s.loader.LoadPage(ctx, merchantID, cursor, limit)
		if err != nil {
			return RewardsPage{}, err
		}
		q.Sort.Apply(page.Rewards)
		return RewardsPage{Rewards: page.Rewards, NextCursor: page.NextCursor, HasMore: page.HasMore}, nil
	}

	m, err := s.loader.LoadMatching(ctx, merchantID, cursor, q, limit)
	if err != nil {
		return RewardsPage{}, err
	}
	return RewardsPage{Rewards: m.Rewards, NextCursor: m.NextCursor, HasMore: m.HasMore}, nil
}

// CreateSession открывает сессию просмотра наград мерчанта.
func (s *Service) CreateSession(merchantID string) (*session.Session, error) {
	if err := validateIDs(merchantID); err != nil {
		return nil, err
	}
	return s.sessions.Create(merchantID), nil
}

// CloseSession закрывает сессию и отбрасывает её кэш.
func (s *Service) CloseSession(merchantID, sessionID string) error {
	return s.sessions.Close(merchantID, sessionID)
}

// SessionRewards догружает следующую страницу в сессию и возвращает
// весь накопленный список после фильтрации и сортировки.
func (s *Service) SessionRewards(ctx context.Context, merchantID, sessionID string, limit int, q rewards.Query) (RewardsPage, error) {
	sess, err := s.sessions.Get(merchantID, sessionID)
	if err != nil {
		return RewardsPage{}, err
	}

	cursor, more, err := sess.LoadNext(func(cursor string) (rewards.Page, error) {
		return s.loader.LoadPage(ctx, merchantID, cursor, limit)
	})
	if err != nil {
		return RewardsPage{}, err
	}

	return RewardsPage{Rewards: q.Apply(sess.Listing()), NextCursor: cursor, HasMore: more}, nil
}

// RewardEligibility выполняет агрегацию без кэша.
func (s *Service) RewardEligibility(ctx context.Context, merchantID, rewardID string) (eligibility.Stats, error) {
	if err := validateIDs(merchantID, rewardID); err != nil {
		return eligibility.Stats{}, err
	}
	return s.aggregator.Aggregate(ctx, merchantID, rewardID)
}

// SessionEligibility возвращает агрегацию из кэша сессии.
func (s *Service) SessionEligibility(ctx context.Context, merchantID, sessionID, rewardID string) (eligibility.Stats, error) {
	if err := validateIDs(merchantID, rewardID); err != nil {
		return eligibility.Stats{}, err
	}
	sess, err := s.sessions.Get(merchantID, sessionID)
	if err != nil {
		return eligibility.Stats{}, err
	}
	return sess.Eligibility().Get(ctx, merchantID, rewardID)
}

// BulkDelete удаляет награды независимо друг от друга.
func (s *Service) BulkDelete(ctx context.Context, merchantID string, ids []string) (bulk.Result, error) {
	if err := validateIDs(merchantID); err != nil {
		return bulk.Result{}, err
	}

	res := s.bulk.Run(ctx, "delete", ids, func(ctx context.Context, id string) error {
		return operationFailed(s.repo.DeleteReward(ctx, merchantID, id))
	})
	s.afterMutation(ctx, merchantID, events.RewardDeleted, res.Succeeded)
	return res, nil
}

// SessionBulkDelete удаляет награды в рамках сессии. Из списков сессий мерчанта
// убираются только удалённые награды, неудавшиеся остаются на месте.
func (s *Service) SessionBulkDelete(ctx context.Context, merchantID, sessionID string, ids []string) (bulk.Result, error) {
	if _, err := s.sessions.Get(merchantID, sessionID); err != nil {
		return bulk.Result{}, err
	}
	return s.BulkDelete(ctx, merchantID, ids)
}

// BulkSetActive включает или выключает награды независимо друг от друга.
func (s *Service) BulkSetActive(ctx context.Context, merchantID string, ids []string, active bool) (bulk.Result, error) {
	if err := validateIDs(merchantID); err != nil {
		return bulk.Result{}, err
	}

	name, eventType := "deactivate", events.RewardDeactivated
	if active {
		name, eventType = "activate", events.RewardActivated
	}

	res := s.bulk.Run(ctx, name, ids, func(ctx context.Context, id string) error {
		return operationFailed(s.repo.SetRewardActive(ctx, merchantID, id, active))
	})
	s.afterMutation(ctx, merchantID, eventType, res.Succeeded)
	return res, nil
}

// afterMutation обновляет сессии мерчанта и публикует события по выполненным мутациям.
// Ошибка публикации не отменяет результат мутаций.
func (s *Service) afterMutation(ctx context.Context, merchantID, eventType string, ids []string) {
	if len(ids) == 0 {
		return
	}

	switch eventType {
	case events.RewardDeleted:
		s.sessions.RemoveRewards(merchantID, ids...)
	case events.RewardActivated:
		s.sessions.SetRewardsActive(merchantID, true, ids...)
	case events.RewardDeactivated:
		s.sessions.SetRewardsActive(merchantID, false, ids...)
	}

	if s.publisher == nil {
		return
	}
	now := s.now().UTC()
	evs := make([]events.RewardEvent, 0, len(ids))
	for _, id := range ids {
		evs = append(evs, events.RewardEvent{Type: eventType, MerchantID: merchantID, RewardID: id, OccurredAt: now})
	}
	if err := s.publisher.PublishRewardEvents(ctx, evs); err != nil {
		s.logger.Warn("publish reward events failed",
			zap.String("merchantID", merchantID),
			zap.String("type", eventType),
			zap.Int("count", len(evs)),
			zap.Error(err),
		)
	}
}

// Customers возвращает клиентов мерчанта, попавших во вкладку. Пустая вкладка возвращает всех клиентов.
func (s *Service) Customers(ctx context.Context, merchantID, tab string) ([]model.Customer, error) {
	if err := validateIDs(merchantID); err != nil {
		return nil, err
	}
	if tab != "" && !cohort.IsTab(tab) {
		return nil, fmt.Errorf("%w: unknown tab %q", model.ErrInvalidArgument, tab)
	}

	customers, err := s.repo.ListCustomers(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if tab == "" {
		return customers, nil
	}
	return cohort.Filter(customers, cohort.Label(tab)), nil
}

// CohortCounts содержит количество клиентов по вкладкам.
type CohortCounts struct {
	Total int
	Tabs  map[cohort.Label]int
}

// CohortCounts подсчитывает клиентов мерчанта по вкладкам фильтра.
func (s *Service) CohortCounts(ctx context.Context, merchantID string) (CohortCounts, error) {
	if err := validateIDs(merchantID); err != nil {
		return CohortCounts{}, err
	}
	customers, err := s.repo.ListCustomers(ctx, merchantID)
	if err != nil {
		return CohortCounts{}, err
	}
	return CohortCounts{Total: len(customers), Tabs: cohort.Counts(customers)}, nil
}

// Programs возвращает встроенные и пользовательские программы мерчанта.
func (s *Service) Programs(ctx context.Context, merchantID string) ([]model.Program, error) {
	if err := validateIDs(merchantID); err != nil {
		return nil, err
	}
	return s.repo.ListPrograms(ctx, merchantID)
}

// ProgramSummary возвращает сводку наград встроенных программ.
func (s *Service) ProgramSummary(ctx context.Context, merchantID string) (progress.Summary, error) {
	if err := validateIDs(merchantID); err != nil {
		return progress.Summary{}, err
	}
	return s.resolver.Summarize(ctx, merchantID)
}

// ProgramCustomers возвращает клиентов, взаимодействовавших с программой.
func (s *Service) ProgramCustomers(ctx context.Context, merchantID, programID string) (progress.CustomerTable, error) {
	if err := validateIDs(merchantID, programID); err != nil {
		return progress.CustomerTable{}, err
	}
	return s.resolver.ProgramCustomers(ctx, merchantID, programID)
}

// CustomerProgress возвращает прогресс клиента в программе.
func (s *Service) CustomerProgress(ctx context.Context, merchantID, programID, customerID string) (progress.View, error) {
	if err := validateIDs(merchantID, programID, customerID); err != nil {
		return progress.View{}, err
	}
	return s.resolver.Resolve(ctx, merchantID, customerID, programID)
}

// StartSessionSweeper запускает фоновое закрытие неактивных сессий просмотра.
func (s *Service) StartSessionSweeper(ctx context.Context, interval time.Duration) {
	s.sessions.StartSweeper(ctx, interval)
}
