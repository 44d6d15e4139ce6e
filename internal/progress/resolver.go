// Package progress вычисляет прогресс клиентов в программах лояльности.
package progress

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/loyalty-engine/internal/metrics"
	"github.com/mmeshcher/loyalty-engine/internal/model"
)

// DefaultFanout задаёт число одновременных запросов по умолчанию.
const DefaultFanout = 8

// Source отдаёт программы, клиентов и прогресс.
type Source interface {
	GetProgram(ctx context.Context, merchantID, programID string) (*model.Program, error)
	GetProgramProgress(ctx context.Context, customerID, programID string) (*model.ProgramProgress, error)
	ListCustomers(ctx context.Context, merchantID string) ([]model.Customer, error)
	GetCustomer(ctx context.Context, merchantID, customerID string) (*model.Customer, error)
	ListAllRewards(ctx context.Context, merchantID string) ([]model.Reward, error)
}

// RedemptionSource возвращает записи об использовании наград клиентом.
type RedemptionSource interface {
	ListRedemptions(ctx context.Context, customerID string) ([]model.Redemption, error)
}

// View описывает прогресс клиента в программе.
type View struct {
	CustomerID          string     `json:"customerId"`
	ProgramID           string     `json:"programId"`
	RewardsEarned       int        `json:"rewardsEarned"`
	RewardsRedeemed     int        `json:"rewardsRedeemed"`
	TotalRewards        int        `json:"totalRewards"`
	TotalSpend          float64    `json:"totalSpend"`
	TransactionCount    int        `json:"transactionCount"`
	VisitCount          int        `json:"visitCount"`
	LastTransactionDate *time.Time `json:"lastTransactionDate,omitempty"`
	Completion          float64    `json:"completion"`
	IsComplete          bool       `json:"isComplete"`
}

// HasActivity сообщает, что клиент взаимодействовал с программой.
func (v View) HasActivity() bool {
	return v.RewardsEarned > 0 || v.TotalSpend > 0 || v.TransactionCount > 0 || v.VisitCount > 0
}

// Resolver строит представления прогресса.
type Resolver struct {
	src         Source
	redemptions RedemptionSource
	limit       int
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewResolver создаёт резолвер. limit <= 0 означает DefaultFanout.
func NewResolver(src Source, redemptions RedemptionSource, limit int, logger *zap.Logger, m *metrics.Metrics) *Resolver {
	if limit <= 0 {
		limit = DefaultFanout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{src: src, redemptions: redemptions, limit: limit, logger: logger, metrics: m}
}

// Resolve возвращает прогресс клиента в программе. Отсутствующая программа даёт ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, merchantID, customerID, programID string) (View, error) {
	program, err := r.src.GetProgram(ctx, merchantID, programID)
	if err != nil {
		return View{}, fmt.Errorf("resolve progress: %w", err)
	}
	v, err := r.resolveFor(ctx, *program, customerID)
	if err != nil {
		return View{}, fmt.Errorf("resolve progress: %w", err)
	}
	return v, nil
}

func (r *Resolver) resolveFor(ctx context.Context, program model.Program, customerID string) (View, error) {
	total := program.TotalRewards()
	v := View{CustomerID: customerID, ProgramID: program.ID, TotalRewards: total}

	p, err := r.src.GetProgramProgress(ctx, customerID, program.ID)
	if err != nil {
		return View{}, err
	}
	if p == nil {
		return v, nil
	}

	v.RewardsEarned = min(max(p.RewardsEarned, 0), total)
	v.TotalSpend = p.TotalSpend
	v.TransactionCount = p.TransactionCount
	v.VisitCount = p.VisitCount
	v.LastTransactionDate = p.LastTransactionDate

	redeemed, err := r.countRedeemed(ctx, customerID, program.RewardIDSet())
	if err != nil {
		return View{}, err
	}
	v.RewardsRedeemed = redeemed

	v.Completion = completion(v.RewardsEarned, total)
	v.IsComplete = total > 0 && v.RewardsEarned == total
	return v, nil
}

func (r *Resolver) countRedeemed(ctx context.Context, customerID string, rewardIDs map[string]struct{}) (int, error) {
	if r.redemptions == nil || len(rewardIDs) == 0 {
		return 0, nil
	}
	list, err := r.redemptions.ListRedemptions(ctx, customerID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, red := range list {
		if _, ok := rewardIDs[red.RewardID]; ok {
			n++
		}
	}
	return n, nil
}

// completion возвращает долю полученных наград, округлённую до тысячных.
func completion(earned, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(earned)/float64(total)*1000) / 1000
}

// CustomerRow описывает строку таблицы клиентов программы.
type CustomerRow struct {
	Customer model.CustomerSummary `json:"customer"`
	Progress View                  `json:"progress"`
}

// CustomerTable содержит клиентов, взаимодействовавших с программой.
type CustomerTable struct {
	Program model.Program
	Rows    []CustomerRow
	// Failed содержит клиентов, чей прогресс не удалось прочитать.
	Failed model.PartialFailure
}

// ProgramCustomers строит таблицу программы по всем клиентам мерчанта.
// Клиенты без взаимодействия не включаются.
func (r *Resolver) ProgramCustomers(ctx context.Context, merchantID, programID string) (CustomerTable, error) {
	program, err := r.src.GetProgram(ctx, merchantID, programID)
	if err != nil {
		return CustomerTable{}, fmt.Errorf("program customers: %w", err)
	}
	customers, err := r.src.ListCustomers(ctx, merchantID)
	if err != nil {
		return CustomerTable{}, fmt.Errorf("program customers: %w", err)
	}

	views := make([]View, len(customers))
	errs := make([]error, len(customers))

	var g errgroup.Group
	g.SetLimit(r.limit)
	for i, c := range customers {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			v, err := r.resolveFor(ctx, *program, c.ID)
			r.metrics.RecordLookup("progress", err == nil)
			if err != nil {
				errs[i] = err
				r.logger.Warn("program progress lookup failed",
					zap.String("programID", programID),
					zap.String("customerID", c.ID),
					zap.Error(err),
				)
				return nil
			}
			views[i] = v
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return CustomerTable{}, fmt.Errorf("program customers: %w", err)
	}

	table := CustomerTable{Program: *program, Rows: make([]CustomerRow, 0), Failed: model.PartialFailure{}}
	for i, c := range customers {
		if errs[i] != nil {
			table.Failed[c.ID] = errs[i]
			continue
		}
		if !views[i].HasActivity() {
			continue
		}
		table.Rows = append(table.Rows, CustomerRow{Customer: c.Summary(), Progress: views[i]})
	}
	return table, nil
}
