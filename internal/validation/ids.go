// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"
)

// MaxIDLength ограничивает длину идентификатора сегмента пути.
const MaxIDLength = 128

// IsValidID проверяет, что идентификатор можно использовать как сегмент пути хранилища.
func IsValidID(id string) bool {
	if id == "" || len(id) > MaxIDLength {
		return false
	}
	if id == "." || id == ".." {
		return false
	}

	for _, ch := range id {
		if ch == '/' || unicode.IsSpace(ch) || unicode.IsControl(ch) {
			return false
		}
	}

	return true
}

// NormalizeIDs убирает пробелы по краям, пустые значения и дубликаты, сохраняя порядок.
func NormalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
