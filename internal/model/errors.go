package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound возвращается, если запрошенная сущность отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrOperationFailed возвращается, если операция над основной сущностью не выполнена.
	ErrOperationFailed = errors.New("operation failed")
	// ErrUpstreamUnavailable возвращается, если хранилище фактов недоступно.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInvalidArgument возвращается при некорректных входных данных.
	ErrInvalidArgument = errors.New("invalid argument")
)

// PartialFailure описывает ошибки отдельных ветвей fan-out при успехе остальных.
type PartialFailure map[string]error

// Error перечисляет идентификаторы, завершившиеся ошибкой, в стабильном порядке.
func (p PartialFailure) Error() string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, p[id]))
	}
	return fmt.Sprintf("partial failure (%d): %s", len(p), strings.Join(parts, "; "))
}

// ErrOrNil возвращает nil для пустого набора ошибок.
func (p PartialFailure) ErrOrNil() error {
	if len(p) == 0 {
		return nil
	}
	return p
}
