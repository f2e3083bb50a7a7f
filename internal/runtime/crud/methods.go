package crud

import (
	"context"
	"fmt"

	"github.com/drblury/cidflow/internal/runtime/rpc"
)

// Reserved keyword arguments of the RPC methods. Everything else is treated
// as item fields.
const (
	KwargToken    = "jwt"
	KwargPartial  = "partial"
	KwargPage     = "page"
	KwargPageSize = "page_size"
	KwargQuery    = "query"
)

// Methods exposes the operations as RPC methods named after Op.
func (a *Adapter[T]) Methods() map[string]rpc.Method {
	return map[string]rpc.Method{
		string(OpCreate):   a.createMethod,
		string(OpList):     a.listMethod,
		string(OpRetrieve): a.retrieveMethod,
		string(OpUpdate):   a.updateMethod,
		string(OpDelete):   a.deleteMethod,
		string(OpSearch):   a.searchMethod,
	}
}

func (a *Adapter[T]) createMethod(ctx context.Context, call *rpc.Call) (any, error) {
	token := call.PopString(KwargToken)
	return a.Create(ctx, token, call.Kwargs)
}

func (a *Adapter[T]) listMethod(ctx context.Context, call *rpc.Call) (any, error) {
	token := call.PopString(KwargToken)
	req, invalid := popPageRequest(call)
	if invalid != nil {
		return invalid, nil
	}
	return a.List(ctx, token, req)
}

func (a *Adapter[T]) retrieveMethod(ctx context.Context, call *rpc.Call) (any, error) {
	token := call.PopString(KwargToken)
	key, err := a.popKey(call)
	if err != nil {
		return nil, err
	}
	return a.Retrieve(ctx, token, key)
}

func (a *Adapter[T]) updateMethod(ctx context.Context, call *rpc.Call) (any, error) {
	token := call.PopString(KwargToken)
	partial, err := call.PopBool(KwargPartial)
	if err != nil {
		return ValidationFailed(FieldErrors{KwargPartial: {"Must be a valid boolean."}}), nil
	}
	key, err := a.popKey(call)
	if err != nil {
		return nil, err
	}
	return a.Update(ctx, token, key, call.Kwargs, partial)
}

func (a *Adapter[T]) deleteMethod(ctx context.Context, call *rpc.Call) (any, error) {
	token := call.PopString(KwargToken)
	key, err := a.popKey(call)
	if err != nil {
		return nil, err
	}
	return a.Delete(ctx, token, key)
}

func (a *Adapter[T]) searchMethod(ctx context.Context, call *rpc.Call) (any, error) {
	token := call.PopString(KwargToken)
	query := call.PopString(KwargQuery)
	req, invalid := popPageRequest(call)
	if invalid != nil {
		return invalid, nil
	}
	return a.Search(ctx, token, query, req)
}

// popKey removes the lookup keyword. Its absence is a caller bug, so it is
// reported as a fault rather than as data.
func (a *Adapter[T]) popKey(call *rpc.Call) (string, error) {
	if _, ok := call.Kwargs[a.opts.LookupKwarg]; !ok {
		return "", fmt.Errorf("crud: expected a keyword argument named %q", a.opts.LookupKwarg)
	}
	key := call.PopString(a.opts.LookupKwarg)
	if key == "" {
		return "", fmt.Errorf("crud: keyword argument %q is empty", a.opts.LookupKwarg)
	}
	return key, nil
}

func popPageRequest(call *rpc.Call) (PageRequest, *ErrorResponse) {
	ferrs := FieldErrors{}
	page, err := call.PopInt(KwargPage, 0)
	if err != nil {
		ferrs.Add(KwargPage, "A valid integer is required.")
	}
	size, err := call.PopInt(KwargPageSize, 0)
	if err != nil {
		ferrs.Add(KwargPageSize, "A valid integer is required.")
	}
	if len(ferrs) > 0 {
		return PageRequest{}, ValidationFailed(ferrs)
	}
	return PageRequest{Page: page, PageSize: size}, nil
}
