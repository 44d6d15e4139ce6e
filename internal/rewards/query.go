package rewards

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mmeshcher/loyalty-engine/internal/model"
)

// CategoryPrograms задаёт псевдокатегорию, объединяющая награды встроенных программ.
const CategoryPrograms = "programs"

// SortKey задаёт поле сортировки наград.
type SortKey string

const (
	SortNone         SortKey = ""
	SortName         SortKey = "name"
	SortType         SortKey = "type"
	SortProgramType  SortKey = "programType"
	SortPointsCost   SortKey = "pointsCost"
	SortRedemptions  SortKey = "redemptions"
	SortImpressions  SortKey = "impressions"
	SortCreatedAt    SortKey = "createdAt"
	SortLastRedeemed SortKey = "lastRedeemed"
	SortIsActive     SortKey = "isActive"
)

var sortKeys = map[SortKey]func(a, b model.Reward) int{
	SortName:         func(a, b model.Reward) int { return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)) },
	SortType:         func(a, b model.Reward) int { return strings.Compare(a.Type, b.Type) },
	SortProgramType:  func(a, b model.Reward) int { return strings.Compare(string(a.ProgramType), string(b.ProgramType)) },
	SortPointsCost:   func(a, b model.Reward) int { return cmp.Compare(a.PointsCost, b.PointsCost) },
	SortRedemptions:  func(a, b model.Reward) int { return cmp.Compare(a.RedemptionCount, b.RedemptionCount) },
	SortImpressions:  func(a, b model.Reward) int { return cmp.Compare(a.Impressions, b.Impressions) },
	SortCreatedAt:    func(a, b model.Reward) int { return a.CreatedAt.Compare(b.CreatedAt) },
	SortLastRedeemed: func(a, b model.Reward) int { return compareOptionalTime(a.LastRedeemedAt, b.LastRedeemedAt) },
	SortIsActive:     func(a, b model.Reward) int { return compareBool(a.IsActive, b.IsActive) },
}

// compareOptionalTime считает отсутствующее время меньше любого заданного.
func compareOptionalTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Compare(*b)
	}
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

// Sort задаёт ключ и направление сортировки.
type Sort struct {
	Key  SortKey
	Desc bool
}

// ParseSort разбирает ключ и направление ("asc" или "desc").
func ParseSort(key, order string) (Sort, error) {
	s := Sort{Key: SortKey(key)}
	if s.Key != SortNone {
		if _, ok := sortKeys[s.Key]; !ok {
			return Sort{}, fmt.Errorf("%w: unknown sort key %q", model.ErrInvalidArgument, key)
		}
	}
	switch strings.ToLower(order) {
	case "", "asc":
	case "desc":
		s.Desc = true
	default:
		return Sort{}, fmt.Errorf("%w: unknown sort order %q", model.ErrInvalidArgument, order)
	}
	return s, nil
}

// Apply сортирует награды на месте. Равные элементы сохраняют исходный порядок.
func (s Sort) Apply(list []model.Reward) {
	less, ok := sortKeys[s.Key]
	if !ok {
		return
	}
	slices.SortStableFunc(list, func(a, b model.Reward) int {
		if s.Desc {
			return less(b, a)
		}
		return less(a, b)
	})
}

// Query задаёт фильтр и сортировку для уже загруженных наград.
type Query struct {
	// Category содержит точное значение категории или CategoryPrograms. Пустое значение не фильтрует.
	Category string
	// Search содержит подстроку для поиска в названии и описании без учёта регистра.
	Search string
	Sort   Sort
}

// Match сообщает, проходит ли награда фильтр.
func (q Query) Match(r model.Reward) bool {
	switch q.Category {
	case "":
	case CategoryPrograms:
		if !r.ProgramType.IsBuiltin() {
			return false
		}
	default:
		if string(r.Category) != q.Category {
			return false
		}
	}

	needle := strings.ToLower(q.Search)
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(r.Name), needle) ||
		strings.Contains(strings.ToLower(r.Description), needle)
}

// Filter возвращает подходящие награды в исходном порядке.
func (q Query) Filter(list []model.Reward) []model.Reward {
	res := make([]model.Reward, 0, len(list))
	for _, r := range list {
		if q.Match(r) {
			res = append(res, r)
		}
	}
	return res
}

// Apply фильтрует и сортирует награды, не изменяя исходный срез.
func (q Query) Apply(list []model.Reward) []model.Reward {
	res := q.Filter(list)
	q.Sort.Apply(res)
	return res
}
