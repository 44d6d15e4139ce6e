package factstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memoryDoc struct {
	id        string
	fields    map[string]any
	createdAt time.Time
	updatedAt time.Time
}

// MemoryStore реализует потокобезопасное хранилище фактов в памяти.
// Используется в режиме разработки без DATABASE_URI и в тестах.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*memoryDoc
	now         func() time.Time
}

// MemoryOption настраивает MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock задаёт источник времени для отметок создания документов.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore создаёт пустое хранилище в памяти.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		collections: make(map[string]map[string]*memoryDoc),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get возвращает документ по пути.
func (s *MemoryStore) Get(ctx context.Context, path string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	collection, id, err := SplitPath(path)
	if err != nil {
		return Record{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return toRecord(collection, doc)
}

// List возвращает документы коллекции, упорядоченные по времени создания и идентификатору.
func (s *MemoryStore) List(ctx context.Context, collection string, opts ListOptions) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	docs := make([]*memoryDoc, 0, len(s.collections[collection]))
	for _, d := range s.collections[collection] {
		if opts.After != nil && !opts.After.after(d.createdAt, d.id, opts.Desc) {
			continue
		}
		docs = append(docs, d)
	}

	sort.Slice(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if !a.createdAt.Equal(b.createdAt) {
			if opts.Desc {
				return a.createdAt.After(b.createdAt)
			}
			return a.createdAt.Before(b.createdAt)
		}
		if opts.Desc {
			return a.id > b.id
		}
		return a.id < b.id
	})

	if opts.Limit > 0 && len(docs) > opts.Limit {
		docs = docs[:opts.Limit]
	}

	res := make([]Record, 0, len(docs))
	for _, d := range docs {
		rec, err := toRecord(collection, d)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		res = append(res, rec)
	}
	s.mu.RUnlock()

	return res, nil
}

// Put создаёт документ или объединяет переданные поля с существующими.
func (s *MemoryStore) Put(ctx context.Context, path string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}

	// Поля нормализуются через JSON, чтобы чтение возвращало то же, что вернул бы Postgres.
	normalized, err := normalizeFields(fields)
	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]*memoryDoc)
		s.collections[collection] = docs
	}

	now := s.now()
	doc, ok := docs[id]
	if !ok {
		docs[id] = &memoryDoc{id: id, fields: normalized, createdAt: now, updatedAt: now}
		return nil
	}
	for k, v := range normalized {
		doc.fields[k] = v
	}
	doc.updatedAt = now
	return nil
}

// Delete удаляет документ. Для отсутствующего документа возвращается ErrNotFound.
func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collection][id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	delete(s.collections[collection], id)
	return nil
}

// Close ничего не делает и нужен для соответствия Store.
func (s *MemoryStore) Close() error {
	return nil
}

func toRecord(collection string, d *memoryDoc) (Record, error) {
	raw, err := json.Marshal(d.fields)
	if err != nil {
		return Record{}, fmt.Errorf("marshal %s/%s: %w", collection, d.id, err)
	}
	return Record{
		Path:      Join(collection, d.id),
		ID:        d.id,
		Fields:    raw,
		CreatedAt: d.createdAt,
		UpdatedAt: d.updatedAt,
	}, nil
}

func normalizeFields(fields map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(fields))
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = make(map[string]any)
	}
	return out, nil
}
