// Package memory is an in-process crud.Collection that keeps items in
// insertion order.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/drblury/cidflow/internal/runtime/crud"
	idspkg "github.com/drblury/cidflow/internal/runtime/ids"
	"github.com/drblury/cidflow/internal/runtime/search"
)

// ErrDuplicateKey is returned when inserting an item whose key is taken.
var ErrDuplicateKey = errors.New("memory: duplicate key")

// Codec is the part of a serializer the store needs.
type Codec[T any] interface {
	crud.Keyer[T]
	Serialize(item T) (map[string]any, error)
}

// Store holds items in memory. Items without a key get a ULID on insert.
type Store[T any] struct {
	codec Codec[T]

	mu    sync.RWMutex
	order []string
	items map[string]T
}

// New returns an empty store.
func New[T any](codec Codec[T]) *Store[T] {
	return &Store[T]{codec: codec, items: make(map[string]T)}
}

func (s *Store[T]) Get(_ context.Context, key string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[key]
	if !ok {
		var zero T
		return zero, crud.ErrNotFound
	}
	return item, nil
}

func (s *Store[T]) Count(ctx context.Context, filter search.Expr) (int, error) {
	matches, err := s.match(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

func (s *Store[T]) Find(ctx context.Context, filter search.Expr, offset, limit int) ([]T, error) {
	matches, err := s.match(ctx, filter)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matches) {
		return []T{}, nil
	}
	matches = matches[offset:]
	if limit >= 0 && limit < len(matches) {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *Store[T]) match(ctx context.Context, filter search.Expr) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]T, 0, len(s.order))
	for _, key := range s.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := s.items[key]
		if filter != nil {
			fields, err := s.codec.Serialize(item)
			if err != nil {
				return nil, fmt.Errorf("memory: serialize %q: %w", key, err)
			}
			if !search.Match(filter, func(name string) (any, bool) {
				v, ok := fields[name]
				return v, ok
			}) {
				continue
			}
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *Store[T]) Insert(_ context.Context, item T) (T, error) {
	key := s.codec.Key(item)
	if key == "" {
		key = idspkg.CreateULID()
		if err := s.codec.SetKey(&item, key); err != nil {
			return item, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; ok {
		return item, fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	s.items[key] = item
	s.order = append(s.order, key)
	return item, nil
}

func (s *Store[T]) Update(_ context.Context, key string, item T) (T, error) {
	if err := s.codec.SetKey(&item, key); err != nil {
		return item, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return item, crud.ErrNotFound
	}
	s.items[key] = item
	return item, nil
}

func (s *Store[T]) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return crud.ErrNotFound
	}
	delete(s.items, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of stored items.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
