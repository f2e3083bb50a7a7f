package crud

import (
	"context"

	"github.com/drblury/cidflow/internal/runtime/search"
)

// Collection is the data access capability behind an Adapter. A nil filter
// selects every item. Implementations return ErrNotFound for missing keys.
type Collection[T any] interface {
	Get(ctx context.Context, key string) (T, error)
	Count(ctx context.Context, filter search.Expr) (int, error)
	// Find returns at most limit items matching filter, skipping offset. A
	// negative limit returns every remaining item.
	Find(ctx context.Context, filter search.Expr, offset, limit int) ([]T, error)
	Insert(ctx context.Context, item T) (T, error)
	Update(ctx context.Context, key string, item T) (T, error)
	Delete(ctx context.Context, key string) error
}

// Keyer reads and writes the lookup key of an item.
type Keyer[T any] interface {
	Key(item T) string
	SetKey(item *T, key string) error
}

// Serializer converts between wire field maps and items.
type Serializer[T any] interface {
	Keyer[T]
	// Deserialize builds an item from fields. With base set the result
	// updates base; partial restricts the required checks to the supplied
	// fields.
	Deserialize(fields map[string]any, base *T, partial bool) (T, FieldErrors)
	Serialize(item T) (map[string]any, error)
}
