// Package repository предоставляет типизированный доступ к сущностям хранилища фактов.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/loyalty-engine/internal/factstore"
	"github.com/mmeshcher/loyalty-engine/internal/model"
)

// scanBatch задаёт размер страницы при полном обходе коллекции.
const scanBatch = 500

// Repository отображает пути хранилища фактов на доменные сущности.
type Repository struct {
	store factstore.Store
}

// New создаёт репозиторий поверх хранилища фактов.
func New(store factstore.Store) *Repository {
	return &Repository{store: store}
}

// Close закрывает хранилище.
func (r *Repository) Close() error {
	return r.store.Close()
}

// Store возвращает нижележащее хранилище фактов.
func (r *Repository) Store() factstore.Store {
	return r.store
}

func merchantPath(merchantID string) string {
	return factstore.Join("merchant", merchantID)
}

func customersCollection(merchantID string) string {
	return factstore.Join("merchant", merchantID, "customers")
}

func rewardsCollection(merchantID string) string {
	return factstore.Join("merchant", merchantID, "rewards")
}

func customProgramsCollection(merchantID string) string {
	return factstore.Join("merchant", merchantID, "customPrograms")
}

func rewardStatePath(customerID, rewardID string) string {
	return factstore.Join("customer", customerID, "rewards", rewardID)
}

func progressPath(customerID, programID string) string {
	return factstore.Join("customer", customerID, "programProgress", programID)
}

func redemptionsCollection(customerID string) string {
	return factstore.Join("customer", customerID, "redemptions")
}

// mapErr переводит ошибки хранилища в доменные.
func mapErr(op string, err error) error {
	switch {
	case errors.Is(err, factstore.ErrNotFound):
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	case errors.Is(err, factstore.ErrUnavailable):
		return fmt.Errorf("%s: %w: %v", op, model.ErrUpstreamUnavailable, err)
	case errors.Is(err, factstore.ErrInvalidPath), errors.Is(err, factstore.ErrInvalidCursor):
		return fmt.Errorf("%s: %w: %v", op, model.ErrInvalidArgument, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// scanAll обходит коллекцию по возрастанию времени создания страницами scanBatch.
func (r *Repository) scanAll(ctx context.Context, collection string, fn func(factstore.Record) error) error {
	var after *factstore.Cursor
	for {
		page, err := r.store.List(ctx, collection, factstore.ListOptions{After: after, Limit: scanBatch})
		if err != nil {
			return err
		}
		for _, rec := range page {
			if err := fn(rec); err != nil {
				return err
			}
		}
		if len(page) < scanBatch {
			return nil
		}
		cur := factstore.CursorOf(page[len(page)-1])
		after = &cur
	}
}

// ListCustomers возвращает всех клиентов мерчанта.
func (r *Repository) ListCustomers(ctx context.Context, merchantID string) ([]model.Customer, error) {
	var res []model.Customer
	err := r.scanAll(ctx, customersCollection(merchantID), func(rec factstore.Record) error {
		c, err := decodeCustomer(rec)
		if err != nil {
			return err
		}
		res = append(res, c)
		return nil
	})
	if err != nil {
		return nil, mapErr("list customers", err)
	}
	return res, nil
}

// GetCustomer возвращает клиента мерчанта по идентификатору.
func (r *Repository) GetCustomer(ctx context.Context, merchantID, customerID string) (*model.Customer, error) {
	rec, err := r.store.Get(ctx, factstore.Join(customersCollection(merchantID), customerID))
	if err != nil {
		return nil, mapErr("get customer", err)
	}
	c, err := decodeCustomer(rec)
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &c, nil
}

// GetReward возвращает определение награды.
func (r *Repository) GetReward(ctx context.Context, merchantID, rewardID string) (*model.Reward, error) {
	rec, err := r.store.Get(ctx, factstore.Join(rewardsCollection(merchantID), rewardID))
	if err != nil {
		return nil, mapErr("get reward", err)
	}
	rw, err := decodeReward(rec)
	if err != nil {
		return nil, fmt.Errorf("get reward: %w", err)
	}
	return &rw, nil
}

// ListRewardsPage возвращает не более limit наград по убыванию времени создания,
// начиная после курсора. nextCursor указывает на последнюю возвращённую запись.
func (r *Repository) ListRewardsPage(ctx context.Context, merchantID, cursor string, limit int) ([]model.Reward, string, error) {
	after, err := factstore.DecodeCursor(cursor)
	if err != nil {
		return nil, "", mapErr("list rewards", err)
	}

	page, err := r.store.List(ctx, rewardsCollection(merchantID), factstore.ListOptions{
		Desc:  true,
		After: after,
		Limit: limit,
	})
	if err != nil {
		return nil, "", mapErr("list rewards", err)
	}

	res := make([]model.Reward, 0, len(page))
	for _, rec := range page {
		rw, err := decodeReward(rec)
		if err != nil {
			return nil, "", fmt.Errorf("list rewards: %w", err)
		}
		res = append(res, rw)
	}

	next := cursor
	if len(page) > 0 {
		next = factstore.CursorOf(page[len(page)-1]).Encode()
	}
	return res, next, nil
}

// ListAllRewards возвращает все награды мерчанта по убыванию времени создания.
func (r *Repository) ListAllRewards(ctx context.Context, merchantID string) ([]model.Reward, error) {
	var (
		res    []model.Reward
		cursor string
	)
	for {
		page, next, err := r.ListRewardsPage(ctx, merchantID, cursor, scanBatch)
		if err != nil {
			return nil, err
		}
		res = append(res, page...)
		if len(page) < scanBatch {
			return res, nil
		}
		cursor = next
	}
}

// DeleteReward удаляет определение награды. Для отсутствующей награды возвращается ErrNotFound.
func (r *Repository) DeleteReward(ctx context.Context, merchantID, rewardID string) error {
	if err := r.store.Delete(ctx, factstore.Join(rewardsCollection(merchantID), rewardID)); err != nil {
		return mapErr("delete reward", err)
	}
	return nil
}

// SetRewardActive меняет флаг активности существующей награды.
func (r *Repository) SetRewardActive(ctx context.Context, merchantID, rewardID string, active bool) error {
	path := factstore.Join(rewardsCollection(merchantID), rewardID)
	if _, err := r.store.Get(ctx, path); err != nil {
		return mapErr("set reward active", err)
	}
	if err := r.store.Put(ctx, path, map[string]any{"isActive": active}); err != nil {
		return mapErr("set reward active", err)
	}
	return nil
}

// GetRewardState возвращает состояние награды для клиента.
// Отсутствующая запись означает, что награда не видна и не доступна.
func (r *Repository) GetRewardState(ctx context.Context, customerID, rewardID string) (model.CustomerRewardState, error) {
	rec, err := r.store.Get(ctx, rewardStatePath(customerID, rewardID))
	if err != nil {
		if errors.Is(err, factstore.ErrNotFound) {
			return model.CustomerRewardState{}, nil
		}
		return model.CustomerRewardState{}, mapErr("get reward state", err)
	}
	st, err := decodeRewardState(rec)
	if err != nil {
		return model.CustomerRewardState{}, fmt.Errorf("get reward state: %w", err)
	}
	return st, nil
}

// ListBuiltinPrograms возвращает встроенные программы из записи мерчанта.
// Отсутствующая запись мерчанта означает отсутствие встроенных программ.
func (r *Repository) ListBuiltinPrograms(ctx context.Context, merchantID string) ([]model.Program, error) {
	rec, err := r.store.Get(ctx, merchantPath(merchantID))
	if err != nil {
		if errors.Is(err, factstore.ErrNotFound) {
			return nil, nil
		}
		return nil, mapErr("list builtin programs", err)
	}
	programs, err := decodeBuiltinPrograms(rec)
	if err != nil {
		return nil, fmt.Errorf("list builtin programs: %w", err)
	}
	return programs, nil
}

// ListCustomPrograms возвращает пользовательские программы мерчанта.
func (r *Repository) ListCustomPrograms(ctx context.Context, merchantID string) ([]model.Program, error) {
	var res []model.Program
	err := r.scanAll(ctx, customProgramsCollection(merchantID), func(rec factstore.Record) error {
		p, err := decodeCustomProgram(rec)
		if err != nil {
			return err
		}
		res = append(res, p)
		return nil
	})
	if err != nil {
		return nil, mapErr("list custom programs", err)
	}
	return res, nil
}

// ListPrograms возвращает встроенные и пользовательские программы мерчанта.
func (r *Repository) ListPrograms(ctx context.Context, merchantID string) ([]model.Program, error) {
	builtin, err := r.ListBuiltinPrograms(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	custom, err := r.ListCustomPrograms(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	return append(builtin, custom...), nil
}

// GetProgram ищет программу среди встроенных, затем среди пользовательских.
func (r *Repository) GetProgram(ctx context.Context, merchantID, programID string) (*model.Program, error) {
	builtin, err := r.ListBuiltinPrograms(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	for _, p := range builtin {
		if p.ID == programID {
			return &p, nil
		}
	}

	rec, err := r.store.Get(ctx, factstore.Join(customProgramsCollection(merchantID), programID))
	if err != nil {
		return nil, mapErr("get program", err)
	}
	p, err := decodeCustomProgram(rec)
	if err != nil {
		return nil, fmt.Errorf("get program: %w", err)
	}
	return &p, nil
}

// GetProgramProgress возвращает прогресс клиента в программе или nil, если записи нет.
func (r *Repository) GetProgramProgress(ctx context.Context, customerID, programID string) (*model.ProgramProgress, error) {
	rec, err := r.store.Get(ctx, progressPath(customerID, programID))
	if err != nil {
		if errors.Is(err, factstore.ErrNotFound) {
			return nil, nil
		}
		return nil, mapErr("get program progress", err)
	}
	p, err := decodeProgress(rec)
	if err != nil {
		return nil, fmt.Errorf("get program progress: %w", err)
	}
	return &p, nil
}

// ListRedemptions возвращает записи об использовании наград клиентом.
func (r *Repository) ListRedemptions(ctx context.Context, customerID string) ([]model.Redemption, error) {
	var res []model.Redemption
	err := r.scanAll(ctx, redemptionsCollection(customerID), func(rec factstore.Record) error {
		red, err := decodeRedemption(rec)
		if err != nil {
			return err
		}
		res = append(res, red)
		return nil
	})
	if err != nil {
		return nil, mapErr("list redemptions", err)
	}
	return res, nil
}
