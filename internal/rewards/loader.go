// Package rewards реализует постраничную загрузку наград с фильтрацией и сортировкой.
package rewards

import (
	"context"
	"fmt"

	"github.com/mmeshcher/loyalty-engine/internal/model"
)

// DefaultPageSize задаёт размер страницы по умолчанию.
const DefaultPageSize = 20

// MaxPageSize ограничивает размер одной страницы.
const MaxPageSize = 200

// Source возвращает страницу наград по убыванию времени создания.
type Source interface {
	ListRewardsPage(ctx context.Context, merchantID, cursor string, limit int) ([]model.Reward, string, error)
}

// Page содержит одну страницу наград.
type Page struct {
	Rewards    []model.Reward
	NextCursor string
	HasMore    bool
}

// Loader загружает награды страницами.
type Loader struct {
	src      Source
	pageSize int
}

// NewLoader создаёт загрузчик. pageSize <= 0 означает DefaultPageSize.
func NewLoader(src Source, pageSize int) *Loader {
	return &Loader{src: src, pageSize: normalizePageSize(pageSize, DefaultPageSize)}
}

func normalizePageSize(n, def int) int {
	switch {
	case n <= 0:
		return def
	case n > MaxPageSize:
		return MaxPageSize
	default:
		return n
	}
}

// LoadPage возвращает следующую страницу после курсора. Пустой курсор означает первую страницу.
// HasMore становится false, когда страница короче pageSize.
func (l *Loader) LoadPage(ctx context.Context, merchantID, cursor string, pageSize int) (Page, error) {
	size := normalizePageSize(pageSize, l.pageSize)

	list, next, err := l.src.ListRewardsPage(ctx, merchantID, cursor, size)
	if err != nil {
		return Page{}, fmt.Errorf("load rewards page: %w", err)
	}
	if list == nil {
		list = make([]model.Reward, 0)
	}

	return Page{
		Rewards:    list,
		NextCursor: next,
		HasMore:    len(list) == size,
	}, nil
}

// Matches содержит результат LoadMatching.
type Matches struct {
	Rewards    []model.Reward
	NextCursor string
	HasMore    bool
	// Scanned считает просмотренные до фильтрации награды.
	Scanned int
}

// LoadMatching вызывает LoadPage, пока не наберётся want наград, прошедших фильтр,
// или пока не закончатся страницы. Возвращённые награды отсортированы по q.Sort.
// want <= 0 означает загрузку всех подходящих наград.
func (l *Loader) LoadMatching(ctx context.Context, merchantID, cursor string, q Query, want int) (Matches, error) {
	res := Matches{Rewards: make([]model.Reward, 0), NextCursor: cursor, HasMore: true}

	for res.HasMore && (want <= 0 || len(res.Rewards) < want) {
		page, err := l.LoadPage(ctx, merchantID, res.NextCursor, l.pageSize)
		if err != nil {
			return Matches{}, err
		}
		res.Scanned += len(page.Rewards)
		res.Rewards = append(res.Rewards, q.Filter(page.Rewards)...)
		res.NextCursor = page.NextCursor
		res.HasMore = page.HasMore
	}

	q.Sort.Apply(res.Rewards)
	return res, nil
}
