package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/cidflow/internal/runtime/crud"
	"github.com/drblury/cidflow/internal/runtime/search"
)

type widget struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

func newStore(t *testing.T) *Store[widget] {
	t.Helper()
	ser, err := crud.NewStructSerializer[widget]()
	require.NoError(t, err)
	return New[widget](ser)
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	created, err := s.Insert(ctx, widget{Name: "anchor"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	_, err = s.Insert(ctx, created)
	assert.ErrorIs(t, err, ErrDuplicateKey)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "anchor", got.Name)

	updated, err := s.Update(ctx, created.ID, widget{Name: "bolt"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)

	require.NoError(t, s.Delete(ctx, created.ID))
	_, err = s.Get(ctx, created.ID)
	assert.ErrorIs(t, err, crud.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, created.ID), crud.ErrNotFound)
	_, err = s.Update(ctx, created.ID, widget{})
	assert.ErrorIs(t, err, crud.ErrNotFound)
}

func TestStoreFindPagesInInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for _, id := range []string{"c", "a", "b", "d"} {
		_, err := s.Insert(ctx, widget{ID: id, Name: "n-" + id})
		require.NoError(t, err)
	}

	tests := []struct {
		name          string
		offset, limit int
		want          []string
	}{
		{name: "first page", offset: 0, limit: 2, want: []string{"c", "a"}},
		{name: "second page", offset: 2, limit: 2, want: []string{"b", "d"}},
		{name: "past the end", offset: 9, limit: 2, want: []string{}},
		{name: "unbounded", offset: 1, limit: -1, want: []string{"a", "b", "d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := s.Find(ctx, nil, tt.offset, tt.limit)
			require.NoError(t, err)
			ids := make([]string, 0, len(items))
			for _, it := range items {
				ids = append(ids, it.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestStoreFilter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for _, w := range []widget{
		{ID: "1", Name: "Annabel", Code: "x"},
		{ID: "2", Name: "Bob", Code: "ann"},
		{ID: "3", Name: "Carl", Code: "bob"},
	} {
		_, err := s.Insert(ctx, w)
		require.NoError(t, err)
	}

	filter, err := search.Spec{Query: "ann", Fields: search.ParseFields("^name", "=code")}.Expr()
	require.NoError(t, err)

	n, err := s.Count(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, s.Len())
}
