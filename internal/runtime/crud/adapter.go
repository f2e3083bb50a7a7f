// Package crud exposes a data collection through list, retrieve, create,
// update, delete and search operations. Domain failures are returned as
// *ErrorResponse values so they cross the RPC boundary as data; only
// infrastructure faults are returned as Go errors.
package crud

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/drblury/cidflow/internal/runtime/config"
	errspkg "github.com/drblury/cidflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/cidflow/internal/runtime/logging"
	"github.com/drblury/cidflow/internal/runtime/search"
)

// Op names an adapter operation. The values double as RPC method names.
type Op string

const (
	OpCreate   Op = "create"
	OpList     Op = "list"
	OpRetrieve Op = "retrieve"
	OpUpdate   Op = "update"
	OpDelete   Op = "delete"
	OpSearch   Op = "search"
)

// Ops lists every operation.
var Ops = []Op{OpCreate, OpList, OpRetrieve, OpUpdate, OpDelete, OpSearch}

// HTTPMethod returns the HTTP verb an operation is authorized as.
func (o Op) HTTPMethod(partial bool) string {
	switch o {
	case OpCreate:
		return http.MethodPost
	case OpUpdate:
		if partial {
			return http.MethodPatch
		}
		return http.MethodPut
	case OpDelete:
		return http.MethodDelete
	default:
		return http.MethodGet
	}
}

// DefaultLookupKwarg is the keyword holding the item key.
const DefaultLookupKwarg = "pk"

// Authorizer decides whether token may perform method on view. It returns
// nil to proceed.
type Authorizer interface {
	Check(ctx context.Context, token, view, method string) *ErrorResponse
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, token, view, method string) *ErrorResponse

func (f AuthorizerFunc) Check(ctx context.Context, token, view, method string) *ErrorResponse {
	return f(ctx, token, view, method)
}

// EventDispatcher publishes change events.
type EventDispatcher interface {
	Dispatch(ctx context.Context, name string, payload map[string]any) error
}

// Options configures an Adapter.
type Options struct {
	// View identifies the adapter to the authorizer.
	View string
	// Resource prefixes change event names. Defaults to View.
	Resource     string
	SearchFields []string
	Pagination   config.Pagination
	// Exempt operations skip the authorizer.
	Exempt      []Op
	LookupKwarg string
	// Events receives <resource>_created, _updated and _deleted events when set.
	Events EventDispatcher
	Logger loggingpkg.ServiceLogger
}

// Adapter implements the CRUD and search operations over a Collection.
type Adapter[T any] struct {
	coll   Collection[T]
	ser    Serializer[T]
	gate   Authorizer
	opts   Options
	fields []search.Field
	exempt map[Op]bool
	logger loggingpkg.ServiceLogger
}

// NewAdapter wires coll and ser behind gate.
func NewAdapter[T any](coll Collection[T], ser Serializer[T], gate Authorizer, opts Options) (*Adapter[T], error) {
	if coll == nil {
		return nil, errspkg.ErrCollectionRequired
	}
	if ser == nil {
		return nil, errspkg.ErrSerializerRequired
	}
	if opts.View == "" {
		return nil, errors.New("crud: view name is required")
	}
	if opts.Resource == "" {
		opts.Resource = opts.View
	}
	if opts.LookupKwarg == "" {
		opts.LookupKwarg = DefaultLookupKwarg
	}
	exempt := make(map[Op]bool, len(opts.Exempt))
	for _, op := range opts.Exempt {
		exempt[op] = true
	}
	if gate == nil && len(exempt) < len(Ops) {
		return nil, errspkg.ErrAuthorizerRequired
	}
	logger := opts.Logger
	if logger == nil {
		logger = loggingpkg.Discard()
	}
	return &Adapter[T]{
		coll:   coll,
		ser:    ser,
		gate:   gate,
		opts:   opts,
		fields: search.ParseFields(opts.SearchFields...),
		exempt: exempt,
		logger: logger.With(loggingpkg.LogFields{"view": opts.View}),
	}, nil
}

// View returns the adapter's view name.
func (a *Adapter[T]) View() string {
	return a.opts.View
}

func (a *Adapter[T]) authorize(ctx context.Context, op Op, token string, partial bool) *ErrorResponse {
	if a.exempt[op] {
		return nil
	}
	return a.gate.Check(ctx, token, a.opts.View, op.HTTPMethod(partial))
}

// Create validates fields and inserts the new item.
func (a *Adapter[T]) Create(ctx context.Context, token string, fields map[string]any) (any, error) {
	if denied := a.authorize(ctx, OpCreate, token, false); denied != nil {
		return denied, nil
	}

	item, ferrs := a.ser.Deserialize(fields, nil, false)
	if len(ferrs) > 0 {
		return ValidationFailed(ferrs), nil
	}
	created, err := a.coll.Insert(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", a.opts.View, err)
	}
	out, err := a.ser.Serialize(created)
	if err != nil {
		return nil, err
	}
	a.emit(ctx, "created", a.ser.Key(created))
	return out, nil
}

// List returns one page of the collection.
func (a *Adapter[T]) List(ctx context.Context, token string, req PageRequest) (any, error) {
	if denied := a.authorize(ctx, OpList, token, false); denied != nil {
		return denied, nil
	}
	return a.page(ctx, nil, req)
}

// Retrieve returns the item stored under key.
func (a *Adapter[T]) Retrieve(ctx context.Context, token, key string) (any, error) {
	if denied := a.authorize(ctx, OpRetrieve, token, false); denied != nil {
		return denied, nil
	}

	item, err := a.coll.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return NotFound(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %q: %w", a.opts.View, key, err)
	}
	return a.ser.Serialize(item)
}

// Update validates fields against the item under key and stores the result.
func (a *Adapter[T]) Update(ctx context.Context, token, key string, fields map[string]any, partial bool) (any, error) {
	if denied := a.authorize(ctx, OpUpdate, token, partial); denied != nil {
		return denied, nil
	}

	current, err := a.coll.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return NotFound(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %q: %w", a.opts.View, key, err)
	}

	item, ferrs := a.ser.Deserialize(fields, &current, partial)
	if len(ferrs) > 0 {
		return ValidationFailed(ferrs), nil
	}
	updated, err := a.coll.Update(ctx, key, item)
	if errors.Is(err, ErrNotFound) {
		return NotFound(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("update %s %q: %w", a.opts.View, key, err)
	}
	out, err := a.ser.Serialize(updated)
	if err != nil {
		return nil, err
	}
	a.emit(ctx, "updated", key)
	return out, nil
}

// Delete removes the item under key and returns {"id": key}.
func (a *Adapter[T]) Delete(ctx context.Context, token, key string) (any, error) {
	if denied := a.authorize(ctx, OpDelete, token, false); denied != nil {
		return denied, nil
	}

	item, err := a.coll.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return NotFound(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %q: %w", a.opts.View, key, err)
	}
	id := a.ser.Key(item)
	if id == "" {
		id = key
	}
	if err := a.coll.Delete(ctx, key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return NotFound(), nil
		}
		return nil, fmt.Errorf("delete %s %q: %w", a.opts.View, key, err)
	}
	a.emit(ctx, "deleted", id)
	return map[string]any{"id": id}, nil
}

// Search filters the collection with query over the configured search
// fields and pages the matches like List. An empty query is rejected before
// the collection is touched. Without search fields nothing is filtered.
func (a *Adapter[T]) Search(ctx context.Context, token, query string, req PageRequest) (any, error) {
	if denied := a.authorize(ctx, OpSearch, token, false); denied != nil {
		return denied, nil
	}

	filter, err := search.Spec{Query: query, Fields: a.fields}.Expr()
	if errors.Is(err, search.ErrEmptyQuery) {
		return MissingSearchParam(), nil
	}
	if err != nil {
		return nil, err
	}
	return a.page(ctx, filter, req)
}

func (a *Adapter[T]) page(ctx context.Context, filter search.Expr, req PageRequest) (any, error) {
	if a.opts.Pagination.Disabled {
		items, err := a.coll.Find(ctx, filter, 0, -1)
		if err != nil {
			return nil, fmt.Errorf("find %s: %w", a.opts.View, err)
		}
		return a.serializeAll(items)
	}

	req = req.Normalize(a.opts.Pagination)
	total, err := a.coll.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", a.opts.View, err)
	}
	items, err := a.coll.Find(ctx, filter, req.Offset(), req.PageSize)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", a.opts.View, err)
	}
	results, err := a.serializeAll(items)
	if err != nil {
		return nil, err
	}
	return &Page{Results: results, Meta: NewMeta(req, total)}, nil
}

func (a *Adapter[T]) serializeAll(items []T) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m, err := a.ser.Serialize(item)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (a *Adapter[T]) emit(ctx context.Context, change, key string) {
	if a.opts.Events == nil {
		return
	}
	name := a.opts.Resource + "_" + change
	if err := a.opts.Events.Dispatch(ctx, name, map[string]any{"id": key}); err != nil {
		loggingpkg.WithCorrelation(ctx, a.logger).Error("Failed to dispatch change event", err, loggingpkg.LogFields{
			"event_name": name,
			"id":         key,
		})
	}
}
