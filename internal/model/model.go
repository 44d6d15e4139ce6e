// Package model содержит доменные сущности движка сегментации и доступности наград.
package model

import "time"

// CohortInfo описывает сохранённую когорту клиента, назначенную внешним конвейером.
type CohortInfo struct {
	Name         string
	DaysInCohort int
	Since        *time.Time
}

// Customer представляет клиента мерчанта с производными метриками.
type Customer struct {
	ID       string
	FullName string

	LifetimeTransactionCount   int
	TotalLifetimeSpend         float64
	AverageTransactionsPerWeek float64
	AvgTransactionValue        float64
	MinTransactionValue        float64
	MaxTransactionValue        float64

	TotalStoreViews int
	ViewsLast7Days  int
	ViewsLast30Days int
	ViewsLast90Days int

	// DaysSinceLastVisit и DaysSinceFirstPurchase равны nil, если значение неизвестно.
	DaysSinceLastVisit     *int
	DaysSinceFirstPurchase *int

	PointsBalance        int
	RedemptionCount      int
	RewardRedemptionRate float64

	CurrentCohort  *CohortInfo
	MembershipTier string

	EmailOptIn bool
	SMSOptIn   bool
	PushOptIn  bool
}

// StoredCohortName возвращает имя сохранённой когорты или пустую строку.
func (c Customer) StoredCohortName() string {
	if c.CurrentCohort == nil {
		return ""
	}
	return c.CurrentCohort.Name
}

// CustomerSummary содержит поля клиента, отображаемые в списке доступности награды.
type CustomerSummary struct {
	ID                       string `json:"id"`
	FullName                 string `json:"fullName"`
	CohortName               string `json:"cohort"`
	DaysSinceLastVisit       *int   `json:"daysSinceLastVisit,omitempty"`
	LifetimeTransactionCount int    `json:"lifetimeTransactionCount"`
}

// Summary формирует краткое представление клиента.
func (c Customer) Summary() CustomerSummary {
	return CustomerSummary{
		ID:                       c.ID,
		FullName:                 c.FullName,
		CohortName:               c.StoredCohortName(),
		DaysSinceLastVisit:       c.DaysSinceLastVisit,
		LifetimeTransactionCount: c.LifetimeTransactionCount,
	}
}

// RewardCategory описывает категорию награды.
type RewardCategory string

const (
	CategoryIndividual       RewardCategory = "individual"
	CategoryCustomerSpecific RewardCategory = "customer-specific"
	CategoryProgram          RewardCategory = "program"
	CategoryAgent            RewardCategory = "agent"
)

// ProgramType описывает тип встроенной программы лояльности.
type ProgramType string

const (
	ProgramTypeNone        ProgramType = ""
	ProgramTypeStamp       ProgramType = "coffeeprogramnew"
	ProgramTypeVoucher     ProgramType = "voucherprogramnew"
	ProgramTypeTransaction ProgramType = "transactionrewardsnew"
)

// BuiltinProgramTypes перечисляет типы встроенных программ в фиксированном порядке.
var BuiltinProgramTypes = []ProgramType{ProgramTypeStamp, ProgramTypeVoucher, ProgramTypeTransaction}

// IsBuiltin сообщает, относится ли тип к одной из встроенных программ.
func (t ProgramType) IsBuiltin() bool {
	switch t {
	case ProgramTypeStamp, ProgramTypeVoucher, ProgramTypeTransaction:
		return true
	}
	return false
}

// Reward описывает определение награды мерчанта.
type Reward struct {
	ID                string
	Name              string
	Description       string
	Type              string
	ProgramType       ProgramType
	Category          RewardCategory
	PointsCost        int
	RedemptionCount   int
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         *time.Time
	LastRedeemedAt    *time.Time
	Impressions       int
	UniqueCustomerIDs []string
}

// IsUnredeemed сообщает, что награда ещё ни разу не была использована.
func (r Reward) IsUnredeemed() bool {
	return r.RedemptionCount == 0
}

// CustomerRewardState хранит видимость и доступность награды для клиента.
type CustomerRewardState struct {
	Visible    bool
	Redeemable bool
}

// CanSee сообщает, видит ли клиент награду.
func (s CustomerRewardState) CanSee() bool {
	return s.Visible
}

// CanRedeem требует оба флага: redeemable без visible не даёт права на награду.
func (s CustomerRewardState) CanRedeem() bool {
	return s.Visible && s.Redeemable
}

// ProgramKind различает встроенные и пользовательские программы.
type ProgramKind string

const (
	ProgramKindBuiltin ProgramKind = "builtin"
	ProgramKindCustom  ProgramKind = "custom"
)

// ProgramReward ссылается на награду внутри программы.
type ProgramReward struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Program описывает встроенную или пользовательскую программу лояльности.
type Program struct {
	ID   string
	Kind ProgramKind
	// Type заполнен только для встроенных программ.
	Type ProgramType
	// OriginalIndex хранит позицию элемента в массиве мерчанта, используется для адресации обновлений.
	OriginalIndex int
	Name          string
	PIN           string
	Active        bool
	Rewards       []ProgramReward
}

// TotalRewards возвращает количество наград в программе.
func (p Program) TotalRewards() int {
	return len(p.Rewards)
}

// RewardIDSet возвращает множество идентификаторов наград программы.
func (p Program) RewardIDSet() map[string]struct{} {
	set := make(map[string]struct{}, len(p.Rewards))
	for _, r := range p.Rewards {
		if r.ID != "" {
			set[r.ID] = struct{}{}
		}
	}
	return set
}

// ProgramProgress хранит прогресс клиента в программе.
type ProgramProgress struct {
	RewardsEarned       int
	TotalSpend          float64
	TransactionCount    int
	VisitCount          int
	LastTransactionDate *time.Time
}

// Redemption описывает использование награды клиентом.
type Redemption struct {
	ID         string
	RewardID   string
	RedeemedAt *time.Time
}
