package progress

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/loyalty-engine/internal/model"
)

// RewardSummary описывает награду встроенной программы с именами связанных клиентов.
type RewardSummary struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	RedemptionCount int      `json:"redemptionCount"`
	Unredeemed      bool     `json:"unredeemed"`
	CustomerNames   []string `json:"customerNames"`
}

// TypeSummary содержит сводку по одному типу встроенной программы.
type TypeSummary struct {
	ProgramType       model.ProgramType `json:"programType"`
	TotalRewards      int               `json:"totalRewards"`
	UnredeemedRewards int               `json:"unredeemedRewards"`
	Rewards           []RewardSummary   `json:"rewards"`
}

// Summary содержит сводку наград по всем типам встроенных программ.
type Summary struct {
	Types []TypeSummary
	// Failed содержит клиентов, чьи имена не удалось получить.
	Failed model.PartialFailure
}

// Summarize группирует награды мерчанта по типу встроенной программы.
// Неиспользованной считается награда с redemptionCount == 0.
func (r *Resolver) Summarize(ctx context.Context, merchantID string) (Summary, error) {
	rewards, err := r.src.ListAllRewards(ctx, merchantID)
	if err != nil {
		return Summary{}, fmt.Errorf("reward summary: %w", err)
	}

	var ids []string
	seen := make(map[string]struct{})
	for _, rw := range rewards {
		if !rw.ProgramType.IsBuiltin() {
			continue
		}
		for _, id := range rw.UniqueCustomerIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	names, failed, err := r.resolveNames(ctx, merchantID, ids)
	if err != nil {
		return Summary{}, fmt.Errorf("reward summary: %w", err)
	}

	byType := make(map[model.ProgramType]*TypeSummary, len(model.BuiltinProgramTypes))
	summary := Summary{Failed: failed}
	for _, t := range model.BuiltinProgramTypes {
		summary.Types = append(summary.Types, TypeSummary{ProgramType: t, Rewards: make([]RewardSummary, 0)})
	}
	for i := range summary.Types {
		byType[summary.Types[i].ProgramType] = &summary.Types[i]
	}

	for _, rw := range rewards {
		ts, ok := byType[rw.ProgramType]
		if !ok {
			continue
		}
		rs := RewardSummary{
			ID:              rw.ID,
			Name:            rw.Name,
			RedemptionCount: rw.RedemptionCount,
			Unredeemed:      rw.IsUnredeemed(),
			CustomerNames:   make([]string, 0, len(rw.UniqueCustomerIDs)),
		}
		for _, id := range rw.UniqueCustomerIDs {
			if name, ok := names[id]; ok {
				rs.CustomerNames = append(rs.CustomerNames, name)
			}
		}
		ts.TotalRewards++
		if rs.Unredeemed {
			ts.UnredeemedRewards++
		}
		ts.Rewards = append(ts.Rewards, rs)
	}

	return summary, nil
}

// resolveNames получает отображаемые имена клиентов. Отсутствующие клиенты пропускаются,
// прочие ошибки собираются в PartialFailure.
func (r *Resolver) resolveNames(ctx context.Context, merchantID string, ids []string) (map[string]string, model.PartialFailure, error) {
	names := make([]string, len(ids))
	found := make([]bool, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(r.limit)
	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			c, err := r.src.GetCustomer(ctx, merchantID, id)
			if errors.Is(err, model.ErrNotFound) {
				r.metrics.RecordLookup("customer_name", true)
				return nil
			}
			r.metrics.RecordLookup("customer_name", err == nil)
			if err != nil {
				errs[i] = err
				r.logger.Warn("customer name lookup failed", zap.String("customerID", id), zap.Error(err))
				return nil
			}
			names[i] = c.FullName
			if names[i] == "" {
				names[i] = c.ID
			}
			found[i] = true
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	res := make(map[string]string, len(ids))
	failed := model.PartialFailure{}
	for i, id := range ids {
		switch {
		case errs[i] != nil:
			failed[id] = errs[i]
		case found[i]:
			res[id] = names[i]
		}
	}
	return res, failed, nil
}
