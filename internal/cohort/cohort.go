// Package cohort классифицирует клиентов по поведенческим когортам.
package cohort

import (
	"sort"

	"github.com/mmeshcher/loyalty-engine/internal/model"
)

// Label обозначает когорту или вкладку фильтра.
type Label string

const (
	Active  Label = "active"
	Engaged Label = "engaged"
	AtRisk  Label = "at-risk"
	Dormant Label = "dormant"

	New     Label = "new"
	Loyal   Label = "loyal"
	VIP     Label = "vip"
	Churned Label = "churned"
)

// Ladder перечисляет метки лестницы давности визита в порядке приоритета.
var Ladder = []Label{Active, Engaged, AtRisk, Dormant}

// Tabs перечисляет все вкладки фильтра в порядке отображения.
var Tabs = []Label{Active, Engaged, AtRisk, Dormant, Churned, New, Loyal, VIP}

const (
	activeMaxDays  = 30
	engagedMaxDays = 90
	atRiskMaxDays  = 180

	newMaxDays       = 30
	loyalMinTxnCount = 10
	vipDivisor       = 10
)

// Classify возвращает метку лестницы давности визита. Клиент с неизвестной
// давностью визита относится к dormant.
func Classify(c model.Customer) Label {
	if c.DaysSinceLastVisit == nil {
		return Dormant
	}
	return ClassifyDays(*c.DaysSinceLastVisit)
}

// ClassifyDays применяет лестницу к числу дней с последнего визита.
func ClassifyDays(days int) Label {
	switch {
	case days <= activeMaxDays:
		return Active
	case days <= engagedMaxDays:
		return Engaged
	case days <= atRiskMaxDays:
		return AtRisk
	default:
		return Dormant
	}
}

// IsNew сообщает, что первая покупка была не более 30 дней назад.
func IsNew(c model.Customer) bool {
	return c.DaysSinceFirstPurchase != nil && *c.DaysSinceFirstPurchase <= newMaxDays
}

// IsLoyal сообщает, что у клиента не менее 10 транзакций.
func IsLoyal(c model.Customer) bool {
	return c.LifetimeTransactionCount >= loyalMinTxnCount
}

// VIPThreshold возвращает порог трат для верхних ⌈10%⌉ клиентов.
// ok == false для пустого набора.
func VIPThreshold(customers []model.Customer) (threshold float64, ok bool) {
	n := len(customers)
	if n == 0 {
		return 0, false
	}

	spends := make([]float64, n)
	for i, c := range customers {
		spends[i] = c.TotalLifetimeSpend
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(spends)))

	return spends[vipRank(n)-1], true
}

// vipRank возвращает ⌈n/10⌉ без арифметики с плавающей точкой.
func vipRank(n int) int {
	return (n + vipDivisor - 1) / vipDivisor
}

// VIPSet возвращает идентификаторы клиентов с тратами не ниже порога.
// При равенстве трат на границе в набор попадают все, поэтому он может превышать 10%.
func VIPSet(customers []model.Customer) map[string]struct{} {
	set := make(map[string]struct{})
	threshold, ok := VIPThreshold(customers)
	if !ok {
		return set
	}
	for _, c := range customers {
		if c.TotalLifetimeSpend >= threshold {
			set[c.ID] = struct{}{}
		}
	}
	return set
}

// Segmenter отвечает на вопросы о вкладках для фиксированного набора клиентов мерчанта.
type Segmenter struct {
	vip map[string]struct{}
}

// NewSegmenter вычисляет VIP-набор по всем клиентам мерчанта.
func NewSegmenter(customers []model.Customer) *Segmenter {
	return &Segmenter{vip: VIPSet(customers)}
}

// IsVIP сообщает, входит ли клиент в VIP-набор.
func (s *Segmenter) IsVIP(c model.Customer) bool {
	_, ok := s.vip[c.ID]
	return ok
}

// Matches сообщает, попадает ли клиент во вкладку. Вкладки, не покрытые локальными
// правилами, сравниваются с сохранённой когортой клиента.
func (s *Segmenter) Matches(c model.Customer, tab Label) bool {
	switch tab {
	case Active, Engaged, AtRisk, Dormant:
		return Classify(c) == tab
	case New:
		return IsNew(c)
	case Loyal:
		return IsLoyal(c)
	case VIP:
		return s.IsVIP(c)
	default:
		return c.StoredCohortName() == string(tab)
	}
}

// Filter возвращает клиентов вкладки в исходном порядке.
func Filter(customers []model.Customer, tab Label) []model.Customer {
	s := NewSegmenter(customers)
	res := make([]model.Customer, 0)
	for _, c := range customers {
		if s.Matches(c, tab) {
			res = append(res, c)
		}
	}
	return res
}

// Counts возвращает количество клиентов по каждой вкладке.
func Counts(customers []model.Customer) map[Label]int {
	s := NewSegmenter(customers)
	counts := make(map[Label]int, len(Tabs))
	for _, tab := range Tabs {
		counts[tab] = 0
	}
	for _, c := range customers {
		for _, tab := range Tabs {
			if s.Matches(c, tab) {
				counts[tab]++
			}
		}
	}
	return counts
}

// IsTab сообщает, является ли строка известной вкладкой.
func IsTab(s string) bool {
	for _, tab := range Tabs {
		if string(tab) == s {
			return true
		}
	}
	return false
}
