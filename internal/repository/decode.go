package repository

import (
	"fmt"
	"strings"

	"github.com/mmeshcher/loyalty-engine/internal/factstore"
	"github.com/mmeshcher/loyalty-engine/internal/model"
)

// Правила умолчаний для документов хранилища собраны здесь и больше нигде не повторяются:
// отсутствующие счётчики равны 0, отрицательные приводятся к 0; отсутствующие флаги равны
// false, кроме isActive (true); пустая категория означает individual; отрицательные и
// отсутствующие daysSince* считаются неизвестными.

type cohortDoc struct {
	Name         string   `json:"name"`
	DaysInCohort flexInt  `json:"daysInCohort"`
	Since        flexTime `json:"since"`
}

type customerDoc struct {
	FullName  string `json:"fullName"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`

	LifetimeTransactionCount   flexInt   `json:"lifetimeTransactionCount"`
	TotalLifetimeSpend         flexFloat `json:"totalLifetimeSpend"`
	AverageTransactionsPerWeek flexFloat `json:"averageTransactionsPerWeek"`
	AvgTransactionValue        flexFloat `json:"avgTransactionValue"`
	MinTransactionValue        flexFloat `json:"minTransactionValue"`
	MaxTransactionValue        flexFloat `json:"maxTransactionValue"`

	TotalStoreViews flexInt `json:"totalStoreViews"`
	ViewsLast7Days  flexInt `json:"viewsLast7Days"`
	ViewsLast30Days flexInt `json:"viewsLast30Days"`
	ViewsLast90Days flexInt `json:"viewsLast90Days"`

	DaysSinceLastVisit     flexInt `json:"daysSinceLastVisit"`
	DaysSinceFirstPurchase flexInt `json:"daysSinceFirstPurchase"`

	PointsBalance        flexInt   `json:"pointsBalance"`
	RedemptionCount      flexInt   `json:"redemptionCount"`
	RewardRedemptionRate flexFloat `json:"rewardRedemptionRate"`

	CurrentCohort  *cohortDoc `json:"currentCohort"`
	MembershipTier string     `json:"membershipTier"`

	EmailOptIn bool `json:"emailOptIn"`
	SMSOptIn   bool `json:"smsOptIn"`
	PushOptIn  bool `json:"pushOptIn"`
}

func decodeCustomer(rec factstore.Record) (model.Customer, error) {
	var d customerDoc
	if err := rec.Decode(&d); err != nil {
		return model.Customer{}, err
	}

	name := strings.TrimSpace(d.FullName)
	if name == "" {
		name = strings.TrimSpace(d.FirstName + " " + d.LastName)
	}

	c := model.Customer{
		ID:                         rec.ID,
		FullName:                   name,
		LifetimeTransactionCount:   d.LifetimeTransactionCount.NonNegative(),
		TotalLifetimeSpend:         d.TotalLifetimeSpend.NonNegative(),
		AverageTransactionsPerWeek: d.AverageTransactionsPerWeek.NonNegative(),
		AvgTransactionValue:        d.AvgTransactionValue.NonNegative(),
		MinTransactionValue:        d.MinTransactionValue.NonNegative(),
		MaxTransactionValue:        d.MaxTransactionValue.NonNegative(),
		TotalStoreViews:            d.TotalStoreViews.NonNegative(),
		ViewsLast7Days:             d.ViewsLast7Days.NonNegative(),
		ViewsLast30Days:            d.ViewsLast30Days.NonNegative(),
		ViewsLast90Days:            d.ViewsLast90Days.NonNegative(),
		DaysSinceLastVisit:         d.DaysSinceLastVisit.Optional(),
		DaysSinceFirstPurchase:     d.DaysSinceFirstPurchase.Optional(),
		PointsBalance:              d.PointsBalance.NonNegative(),
		RedemptionCount:            d.RedemptionCount.NonNegative(),
		RewardRedemptionRate:       d.RewardRedemptionRate.NonNegative(),
		MembershipTier:             d.MembershipTier,
		EmailOptIn:                 d.EmailOptIn,
		SMSOptIn:                   d.SMSOptIn,
		PushOptIn:                  d.PushOptIn,
	}

	if d.CurrentCohort != nil && d.CurrentCohort.Name != "" {
		c.CurrentCohort = &model.CohortInfo{
			Name:         d.CurrentCohort.Name,
			DaysInCohort: d.CurrentCohort.DaysInCohort.NonNegative(),
			Since:        d.CurrentCohort.Since.Optional(),
		}
	}

	return c, nil
}

type rewardDoc struct {
	Name              string   `json:"name"`
	RewardName        string   `json:"rewardName"`
	Description       string   `json:"description"`
	Type              string   `json:"type"`
	ProgramType       string   `json:"programType"`
	Category          string   `json:"category"`
	PointsCost        flexInt  `json:"pointsCost"`
	RedemptionCount   flexInt  `json:"redemptionCount"`
	IsActive          *bool    `json:"isActive"`
	UpdatedAt         flexTime `json:"updatedAt"`
	LastRedeemedAt    flexTime `json:"lastRedeemedAt"`
	Impressions       flexInt  `json:"impressions"`
	Customers         flexIDs  `json:"customers"`
	UniqueCustomerIDs flexIDs  `json:"uniqueCustomerIds"`
}

func decodeReward(rec factstore.Record) (model.Reward, error) {
	var d rewardDoc
	if err := rec.Decode(&d); err != nil {
		return model.Reward{}, err
	}

	name := d.Name
	if name == "" {
		name = d.RewardName
	}

	category := model.RewardCategory(d.Category)
	if category == "" {
		category = model.CategoryIndividual
	}

	active := true
	if d.IsActive != nil {
		active = *d.IsActive
	}

	return model.Reward{
		ID:                rec.ID,
		Name:              name,
		Description:       d.Description,
		Type:              d.Type,
		ProgramType:       model.ProgramType(strings.ToLower(d.ProgramType)),
		Category:          category,
		PointsCost:        d.PointsCost.NonNegative(),
		RedemptionCount:   d.RedemptionCount.NonNegative(),
		IsActive:          active,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         d.UpdatedAt.Optional(),
		LastRedeemedAt:    d.LastRedeemedAt.Optional(),
		Impressions:       d.Impressions.NonNegative(),
		UniqueCustomerIDs: unionIDs(d.UniqueCustomerIDs, d.Customers),
	}, nil
}

func unionIDs(lists ...flexIDs) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, id := range list {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

type rewardStateDoc struct {
	Visible    bool `json:"visible"`
	Redeemable bool `json:"redeemable"`
}

func decodeRewardState(rec factstore.Record) (model.CustomerRewardState, error) {
	var d rewardStateDoc
	if err := rec.Decode(&d); err != nil {
		return model.CustomerRewardState{}, err
	}
	return model.CustomerRewardState{Visible: d.Visible, Redeemable: d.Redeemable}, nil
}

type builtinProgramDoc struct {
	ID      string                `json:"id"`
	Name    string                `json:"name"`
	PIN     string                `json:"pin"`
	Active  bool                  `json:"active"`
	Rewards []model.ProgramReward `json:"rewards"`
}

type merchantDoc struct {
	CoffeePrograms     []builtinProgramDoc `json:"coffeePrograms"`
	VoucherPrograms    []builtinProgramDoc `json:"voucherPrograms"`
	TransactionRewards []builtinProgramDoc `json:"transactionRewards"`
}

func (d merchantDoc) byType() map[model.ProgramType][]builtinProgramDoc {
	return map[model.ProgramType][]builtinProgramDoc{
		model.ProgramTypeStamp:       d.CoffeePrograms,
		model.ProgramTypeVoucher:     d.VoucherPrograms,
		model.ProgramTypeTransaction: d.TransactionRewards,
	}
}

// BuiltinProgramID формирует идентификатор встроенной программы без собственного id.
func BuiltinProgramID(t model.ProgramType, index int) string {
	return fmt.Sprintf("%s-%d", t, index)
}

func decodeBuiltinPrograms(rec factstore.Record) ([]model.Program, error) {
	var d merchantDoc
	if err := rec.Decode(&d); err != nil {
		return nil, err
	}

	groups := d.byType()
	var res []model.Program
	for _, t := range model.BuiltinProgramTypes {
		for i, p := range groups[t] {
			id := p.ID
			if id == "" {
				id = BuiltinProgramID(t, i)
			}
			res = append(res, model.Program{
				ID:            id,
				Kind:          model.ProgramKindBuiltin,
				Type:          t,
				OriginalIndex: i,
				Name:          p.Name,
				PIN:           p.PIN,
				Active:        p.Active,
				Rewards:       p.Rewards,
			})
		}
	}
	return res, nil
}

type customProgramDoc struct {
	Name    string                `json:"name"`
	PIN     string                `json:"pin"`
	Status  string                `json:"status"`
	Rewards []model.ProgramReward `json:"rewards"`
}

func decodeCustomProgram(rec factstore.Record) (model.Program, error) {
	var d customProgramDoc
	if err := rec.Decode(&d); err != nil {
		return model.Program{}, err
	}
	return model.Program{
		ID:      rec.ID,
		Kind:    model.ProgramKindCustom,
		Name:    d.Name,
		PIN:     d.PIN,
		Active:  strings.EqualFold(d.Status, "active"),
		Rewards: d.Rewards,
	}, nil
}

type progressDoc struct {
	RewardsEarned       flexInt   `json:"rewardsEarned"`
	TotalSpend          flexFloat `json:"totalSpend"`
	TransactionCount    flexInt   `json:"transactionCount"`
	VisitCount          flexInt   `json:"visitCount"`
	LastTransactionDate flexTime  `json:"lastTransactionDate"`
}

func decodeProgress(rec factstore.Record) (model.ProgramProgress, error) {
	var d progressDoc
	if err := rec.Decode(&d); err != nil {
		return model.ProgramProgress{}, err
	}
	return model.ProgramProgress{
		RewardsEarned:       d.RewardsEarned.NonNegative(),
		TotalSpend:          d.TotalSpend.NonNegative(),
		TransactionCount:    d.TransactionCount.NonNegative(),
		VisitCount:          d.VisitCount.NonNegative(),
		LastTransactionDate: d.LastTransactionDate.Optional(),
	}, nil
}

type redemptionDoc struct {
	RewardID   string   `json:"rewardId"`
	RedeemedAt flexTime `json:"redeemedAt"`
}

func decodeRedemption(rec factstore.Record) (model.Redemption, error) {
	var d redemptionDoc
	if err := rec.Decode(&d); err != nil {
		return model.Redemption{}, err
	}
	return model.Redemption{
		ID:         rec.ID,
		RewardID:   d.RewardID,
		RedeemedAt: d.RedeemedAt.Optional(),
	}, nil
}
