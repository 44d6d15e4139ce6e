package factstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tickingClock возвращает время, увеличивающееся на секунду при каждом вызове.
func tickingClock(start time.Time) func() time.Time {
	cur := start
	return func() time.Time {
		cur = cur.Add(time.Second)
		return cur
	}
}

func TestMemoryStore_GetPutMerge(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "merchant/m1/rewards/r1", map[string]any{"name": "Coffee", "pointsCost": 10}))
	require.NoError(t, s.Put(ctx, "merchant/m1/rewards/r1", map[string]any{"isActive": false}))

	rec, err := s.Get(ctx, "merchant/m1/rewards/r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", rec.ID)

	var fields struct {
		Name       string `json:"name"`
		PointsCost int    `json:"pointsCost"`
		IsActive   *bool  `json:"isActive"`
	}
	require.NoError(t, rec.Decode(&fields))
	assert.Equal(t, "Coffee", fields.Name)
	assert.Equal(t, 10, fields.PointsCost)
	require.NotNil(t, fields.IsActive)
	assert.False(t, *fields.IsActive)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Get(context.Background(), "merchant/m1/rewards/nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_DeleteMissing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "merchant/m1/rewards/r1", nil))

	require.NoError(t, s.Delete(ctx, "merchant/m1/rewards/r1"))
	err := s.Delete(ctx, "merchant/m1/rewards/r1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ListKeysetDesc(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(WithClock(tickingClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))))

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.Put(ctx, Join("merchant/m1/rewards", id), map[string]any{"name": id}))
	}

	first, err := s.List(ctx, "merchant/m1/rewards", ListOptions{Desc: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "e", first[0].ID)
	assert.Equal(t, "d", first[1].ID)

	// Запись, добавленная после первой страницы, оказывается перед курсором и не попадает в выдачу.
	require.NoError(t, s.Put(ctx, "merchant/m1/rewards/f", nil))

	cur := CursorOf(first[1])
	rest, err := s.List(ctx, "merchant/m1/rewards", ListOptions{Desc: true, After: &cur})
	require.NoError(t, err)

	ids := make([]string, 0, len(rest))
	for _, r := range rest {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids)
}

func TestMemoryStore_ListTieBrokenByID(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(WithClock(func() time.Time { return fixed }))

	for _, id := range []string{"x", "z", "y"} {
		require.NoError(t, s.Put(ctx, Join("c", id), nil))
	}

	page, err := s.List(ctx, "c", ListOptions{Desc: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "z", page[0].ID)

	cur := CursorOf(page[0])
	rest, err := s.List(ctx, "c", ListOptions{Desc: true, After: &cur})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "y", rest[0].ID)
	assert.Equal(t, "x", rest[1].ID)
}

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{CreatedAt: time.Date(2025, 3, 4, 5, 6, 7, 890, time.UTC), ID: "reward_1"}

	got, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(c.CreatedAt))
	assert.Equal(t, c.ID, got.ID)

	empty, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = DecodeCursor("!!!")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path       string
		collection string
		id         string
		wantErr    bool
	}{
		{path: "merchant/m1", collection: "merchant", id: "m1"},
		{path: "customer/c1/rewards/r1", collection: "customer/c1/rewards", id: "r1"},
		{path: "merchant", wantErr: true},
		{path: "merchant/", wantErr: true},
		{path: "/m1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			collection, id, err := SplitPath(tt.path)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPath) {
					t.Fatalf("err = %v, want ErrInvalidPath", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if collection != tt.collection || id != tt.id {
				t.Fatalf("SplitPath(%q) = (%q, %q), want (%q, %q)", tt.path, collection, id, tt.collection, tt.id)
			}
		})
	}
}

func TestBuildListQuery(t *testing.T) {
	cur := &Cursor{CreatedAt: time.Unix(100, 0), ID: "r9"}

	query, args := buildListQuery("merchant/m1/rewards", ListOptions{Desc: true, After: cur, Limit: 20})

	assert.Contains(t, query, "(created_at, doc_id) < ($2, $3)")
	assert.Contains(t, query, "ORDER BY created_at DESC, doc_id DESC")
	assert.Contains(t, query, "LIMIT $4")
	assert.Len(t, args, 4)

	query, args = buildListQuery("merchant/m1/customers", ListOptions{})
	assert.NotContains(t, query, "LIMIT")
	assert.Contains(t, query, "ORDER BY created_at ASC, doc_id ASC")
	assert.Len(t, args, 1)
}
