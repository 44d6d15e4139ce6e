// Package factstore предоставляет доступ к документному хранилищу фактов по строковым путям.
//
// Путь документа имеет вид "{collection}/{id}", где collection сама может быть
// составным путём, например "merchant/m1/rewards". Хранилище не интерпретирует поля.
package factstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound возвращается, если документ по пути отсутствует.
	ErrNotFound = errors.New("document not found")
	// ErrUnavailable возвращается, если хранилище недоступно.
	ErrUnavailable = errors.New("fact store unavailable")
	// ErrInvalidPath возвращается для путей, не содержащих коллекции и идентификатора.
	ErrInvalidPath = errors.New("invalid document path")
	// ErrInvalidCursor возвращается, если курсор не удалось разобрать.
	ErrInvalidCursor = errors.New("invalid cursor")
)

// Record описывает документ хранилища.
type Record struct {
	Path      string
	ID        string
	Fields    json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Decode разбирает поля документа в переданную структуру.
func (r Record) Decode(v any) error {
	if len(r.Fields) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Fields, v); err != nil {
		return fmt.Errorf("decode %s: %w", r.Path, err)
	}
	return nil
}

// Cursor указывает на последний возвращённый документ при keyset-пагинации.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorOf возвращает курсор, указывающий на запись.
func CursorOf(r Record) Cursor {
	return Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
}

// Encode кодирует курсор в непрозрачную строку.
func (c Cursor) Encode() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor разбирает строку, полученную из Cursor.Encode.
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return &Cursor{CreatedAt: createdAt, ID: id}, nil
}

// after сообщает, следует ли запись с (createdAt, id) за курсором в заданном порядке.
func (c Cursor) after(createdAt time.Time, id string, desc bool) bool {
	if createdAt.Equal(c.CreatedAt) {
		if desc {
			return id < c.ID
		}
		return id > c.ID
	}
	if desc {
		return createdAt.Before(c.CreatedAt)
	}
	return createdAt.After(c.CreatedAt)
}

// ListOptions задаёт порядок и окно выборки коллекции.
type ListOptions struct {
	// Desc упорядочивает по убыванию времени создания, иначе по возрастанию.
	Desc  bool
	After *Cursor
	Limit int
}

// Store описывает контракт хранилища фактов.
type Store interface {
	Get(ctx context.Context, path string) (Record, error)
	List(ctx context.Context, collection string, opts ListOptions) ([]Record, error)
	Put(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	Close() error
}

// Join собирает путь из сегментов.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// SplitPath разделяет путь документа на коллекцию и идентификатор.
func SplitPath(path string) (collection, id string, err error) {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 || idx == len(path)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return path[:idx], path[idx+1:], nil
}
